package tree

import (
	"slices"
	"time"

	"go.uber.org/zap"
)

type RecordType uint8

const (
	ChildList RecordType = iota + 1
	Attributes
	CharacterData
)

func (t RecordType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	case CharacterData:
		return "characterData"
	default:
		return "unknown"
	}
}

// Record describes one mutation. Added and Removed are only set for
// ChildList records, AttributeName only for Attributes records.
type Record struct {
	Type          RecordType
	Target        Node
	Added         []Node
	Removed       []Node
	AttributeName string
}

// ObserveOptions selects which mutations a subscription receives.
type ObserveOptions struct {
	ChildList     bool
	Attributes    bool
	CharacterData bool
	// Subtree extends the subscription to every descendant of the target.
	Subtree bool
	// AttributeFilter restricts Attributes records to these names. Empty
	// means every attribute.
	AttributeFilter []string
}

// Subscription is a handle on queued deliveries. Cancel discards anything
// still queued; no callback runs after Cancel returns on the flushing
// goroutine.
type Subscription interface {
	Cancel()
}

type subKind uint8

const (
	subMutation subKind = iota
	subIntersection
	subTimer
	subTask
)

type subscription struct {
	doc  *Document
	id   uint64
	kind subKind

	target *Element
	root   Node
	opts   ObserveOptions

	records   []Record
	onRecords func([]Record)
	// removed from under target since the last delivery, still observed
	transient []Node

	intersecting bool
	delivered    bool
	lastReported bool
	onIntersect  func(bool)

	ticks int
	fire  func()
	done  chan struct{}

	queued    bool
	cancelled bool
}

func (s *subscription) Cancel() {
	d := s.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.cancelled {
		return
	}
	s.cancelled = true
	s.records, s.transient = nil, nil
	s.unregisterLocked()
	if s.done != nil {
		close(s.done)
	}
}

func (s *subscription) unregisterLocked() {
	d := s.doc
	if idx := slices.Index(d.subs, s); idx >= 0 {
		d.subs = slices.Delete(d.subs, idx, idx+1)
	}
}

// take returns the delivery for the work queued on s, or nil.
func (s *subscription) take() func() {
	if s.cancelled {
		return nil
	}

	switch s.kind {
	case subMutation:
		s.transient = nil
		if len(s.records) == 0 {
			return nil
		}
		batch := s.records
		s.records = nil
		return func() { s.onRecords(batch) }

	case subIntersection:
		v := s.intersecting
		if s.delivered && v == s.lastReported {
			return nil
		}
		s.delivered, s.lastReported = true, v
		return func() { s.onIntersect(v) }

	case subTimer:
		if s.ticks == 0 {
			return nil
		}
		s.ticks = 0
		return s.fire

	case subTask:
		s.cancelled = true
		return s.fire

	default:
		panic("tree: unknown subscription kind")
	}
}

// Observe subscribes fn to mutation records under target. Invalid options
// (nothing selected) are a programming error and panic.
func (d *Document) Observe(target Node, opts ObserveOptions, fn func([]Record)) Subscription {
	if !opts.ChildList && !opts.Attributes && !opts.CharacterData {
		panic("tree: observe options select no mutation type")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.newSubLocked(subMutation)
	s.target = d.mustElementLocked(target)
	s.opts = opts
	s.opts.AttributeFilter = slices.Clone(opts.AttributeFilter)
	s.onRecords = fn
	d.subs = append(d.subs, s)
	return s
}

// ObserveIntersection subscribes fn to whether target's box overlaps root's
// box (the viewport when root is nil). The initial state is delivered at the
// next flush, then every change after a mutation.
func (d *Document) ObserveIntersection(target, root Node, fn func(bool)) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.newSubLocked(subIntersection)
	s.target = d.mustElementLocked(target)
	if root != nil {
		s.root = d.mustElementLocked(root)
	}
	s.onIntersect = fn
	s.intersecting = d.intersectsLocked(s.target, s.root)
	d.subs = append(d.subs, s)
	d.enqueueLocked(s)
	return s
}

// Every delivers fn every interval of the document clock, through the same
// queue as mutation records. Ticks that pile up between flushes are merged.
// The interval must be positive.
func (d *Document) Every(interval time.Duration, fn func()) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.newSubLocked(subTimer)
	s.fire = fn
	s.done = make(chan struct{})

	ticker := d.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				d.mu.Lock()
				if !s.cancelled {
					s.ticks++
					d.enqueueLocked(s)
				}
				d.mu.Unlock()
			}
		}
	}()
	return s
}

// Post runs fn at the next flush, after anything already queued.
func (d *Document) Post(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.newSubLocked(subTask)
	s.fire = fn
	d.enqueueLocked(s)
}

// Flush delivers queued work until none is left. Each delivery runs without
// the document lock held, so callbacks may read and mutate the tree; work they
// cause is delivered by the same Flush. Nested calls return immediately.
func (d *Document) Flush() {
	d.mu.Lock()
	if d.flushing {
		d.mu.Unlock()
		return
	}
	d.flushing = true
	d.flushRequested = false
	d.mu.Unlock()

	completed := false
	defer func() {
		if !completed {
			d.mu.Lock()
			d.flushing = false
			d.mu.Unlock()
		}
	}()

	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.flushing = false
			d.mu.Unlock()
			completed = true
			return
		}
		s := d.pending[0]
		d.pending = d.pending[1:]
		s.queued = false
		records := len(s.records)
		deliver := s.take()
		d.mu.Unlock()

		if deliver != nil {
			if ce := d.log.Check(zap.DebugLevel, "deliver"); ce != nil {
				ce.Write(zap.Uint64("subscription", s.id), zap.Int("records", records))
			}
			deliver()
		}
	}
}

func (d *Document) newSubLocked(kind subKind) *subscription {
	d.nextID++
	return &subscription{doc: d, id: d.nextID, kind: kind}
}

func (d *Document) enqueueLocked(s *subscription) {
	if s.queued {
		return
	}
	s.queued = true
	d.pending = append(d.pending, s)
	d.requestFlushLocked()
}

func (d *Document) requestFlushLocked() {
	if d.sched == nil || d.flushRequested || d.flushing {
		return
	}
	d.flushRequested = true
	d.sched.Schedule(d.Flush)
}

// recordLocked queues rec on every mutation subscription it concerns.
func (d *Document) recordLocked(rec Record) {
	for _, s := range d.subs {
		if s.kind != subMutation || !s.wants(rec) {
			continue
		}
		if !s.reachesLocked(rec.Target) {
			continue
		}
		s.records = append(s.records, rec)
		d.enqueueLocked(s)
	}
}

// reachesLocked reports whether records targeting n concern s: n is the
// target or, with Subtree, under the target or under a transient node.
func (s *subscription) reachesLocked(n Node) bool {
	if n == Node(s.target) {
		return true
	}
	if !s.opts.Subtree {
		return false
	}
	d := s.doc
	if d.isInclusiveAncestorLocked(s.target, n) {
		return true
	}
	for _, t := range s.transient {
		if d.isInclusiveAncestorLocked(t, n) {
			return true
		}
	}
	return false
}

func (s *subscription) wants(rec Record) bool {
	switch rec.Type {
	case ChildList:
		return s.opts.ChildList
	case CharacterData:
		return s.opts.CharacterData
	case Attributes:
		if !s.opts.Attributes {
			return false
		}
		return len(s.opts.AttributeFilter) == 0 || slices.Contains(s.opts.AttributeFilter, rec.AttributeName)
	default:
		return false
	}
}

// mutatedLocked re-evaluates every intersection subscription after a change
// to the tree or to an attribute.
func (d *Document) mutatedLocked() {
	for _, s := range d.subs {
		if s.kind != subIntersection {
			continue
		}
		v := d.intersectsLocked(s.target, s.root)
		if v == s.intersecting {
			continue
		}
		s.intersecting = v
		d.enqueueLocked(s)
	}
}
