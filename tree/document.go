package tree

import (
	"errors"
	"image"
	"slices"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	ErrNotChild    = errors.New("tree: node is not a child of this element")
	ErrHierarchy   = errors.New("tree: node is an inclusive ancestor of the new parent")
	ErrForeignNode = errors.New("tree: node does not belong to this document")
)

// DefaultViewport is the box of the document root unless WithViewport is given.
var DefaultViewport = image.Rect(0, 0, 1280, 720)

type Option func(*Document)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Document) {
		if logger != nil {
			d.log = logger.Named("tree")
		}
	}
}

// WithScheduler makes the document ask s to run Flush whenever work becomes
// pending. Without a scheduler the owner calls Flush itself.
func WithScheduler(s Scheduler) Option {
	return func(d *Document) { d.sched = s }
}

// WithClock sets the clock driving Every. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(d *Document) { d.clock = c }
}

func WithViewport(r image.Rectangle) Option {
	return func(d *Document) { d.viewport = r }
}

type rule struct {
	class string
	decls map[string]string
}

// Document is an in-memory, externally mutated element tree. It is also the
// mutation source: it queues mutation records, intersection changes, timer
// ticks and posted tasks per subscription and delivers them from Flush, one
// batch per subscription at a time.
type Document struct {
	mu sync.RWMutex

	root     *Element
	viewport image.Rectangle
	rules    []rule

	subs    []*subscription // mutation and intersection observers, creation order
	pending []*subscription // subscriptions with queued work, FIFO
	nextID  uint64

	flushing       bool
	flushRequested bool

	sched Scheduler
	clock clock.Clock
	log   *zap.Logger
}

// NewDocument returns a document whose root is an empty html element.
func NewDocument(opts ...Option) *Document {
	d := newDocument(opts)
	d.root = d.CreateElement("html")
	return d
}

func newDocument(opts []Option) *Document {
	d := &Document{
		viewport: DefaultViewport,
		clock:    clock.New(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the document element.
func (d *Document) Root() *Element {
	return d.root
}

// CreateElement returns a detached element owned by d.
func (d *Document) CreateElement(tag string) *Element {
	return &Element{
		base: base{doc: d},
		tag:  strings.ToLower(tag),
	}
}

// CreateText returns a detached text node owned by d.
func (d *Document) CreateText(data string) *Text {
	return &Text{
		base: base{doc: d},
		data: data,
	}
}

// SetRule sets the declarations applied to every element with the class,
// like a stylesheet rule. Stylesheet edits produce no mutation records and do
// not re-evaluate intersections.
func (d *Document) SetRule(class, declarations string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	decls := parseDeclarations(declarations)
	idx := slices.IndexFunc(d.rules, func(r rule) bool { return r.class == class })
	if idx < 0 {
		d.rules = append(d.rules, rule{class: class, decls: decls})
		return
	}
	d.rules[idx].decls = decls
}

// Intersects reports whether target's box overlaps root's box, or the
// viewport when root is nil.
func (d *Document) Intersects(target, root Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intersectsLocked(d.mustElementLocked(target), root)
}

func (d *Document) baseLocked(n Node) (*base, error) {
	var b *base
	switch n := n.(type) {
	case *Element:
		b = &n.base
	case *Text:
		b = &n.base
	default:
		return nil, ErrForeignNode
	}
	if b.doc != d {
		return nil, ErrForeignNode
	}
	return b, nil
}

func (d *Document) mustElementLocked(n Node) *Element {
	e, ok := n.(*Element)
	if !ok || e.doc != d {
		panic(ErrForeignNode)
	}
	return e
}

func (d *Document) isInclusiveAncestorLocked(a, n Node) bool {
	for n != nil {
		if n == a {
			return true
		}
		b, err := d.baseLocked(n)
		if err != nil || b.parent == nil {
			return false
		}
		n = b.parent
	}
	return false
}

func (d *Document) attachedLocked(n Node) bool {
	return d.isInclusiveAncestorLocked(d.root, n)
}

func (d *Document) detachLocked(parent *Element, child Node) {
	idx := slices.Index(parent.children, child)
	if idx < 0 {
		panic("tree: detaching a node from an element that does not contain it")
	}
	parent.children = slices.Delete(parent.children, idx, idx+1)
	d.orphanLocked(parent, child)
	d.recordLocked(Record{Type: ChildList, Target: parent, Removed: []Node{child}})
}

// orphanLocked clears the parent of child. Subtree subscriptions that saw
// child keep receiving the mutations made under it until their next
// delivery, so a node moved out of a removed subtree is still reported.
func (d *Document) orphanLocked(parent *Element, child Node) {
	for _, s := range d.subs {
		if s.kind != subMutation || !s.opts.Subtree || !s.reachesLocked(parent) {
			continue
		}
		if !slices.Contains(s.transient, child) {
			s.transient = append(s.transient, child)
		}
	}
	b, _ := d.baseLocked(child)
	b.parent = nil
}
