package watch

import (
	"fmt"

	"github.com/delaneyj/nodewatch/tree"
	"go.uber.org/zap"
)

type concern uint8

const (
	concernStructure concern = iota + 1
	concernText
	concernAttr
	concernIntersection
	concernRecheck
)

func (c concern) String() string {
	switch c {
	case concernStructure:
		return "structure"
	case concernText:
		return "text"
	case concernAttr:
		return "attr"
	case concernIntersection:
		return "intersection"
	case concernRecheck:
		return "recheck"
	default:
		return fmt.Sprintf("concern(%d)", uint8(c))
	}
}

// delivery is one notification from the source, addressed to the instance
// that subscribed for it.
type delivery struct {
	in      *instance
	concern concern
	attr    string
	records []tree.Record
	visible bool
}

// dispatch routes every notification the watchers receive. Deliveries for
// instances that have been disconnected in the meantime are dropped.
func (r *Root) dispatch(d delivery) {
	in := d.in
	if !in.connected() {
		if ce := r.log.Check(zap.DebugLevel, "dropped delivery"); ce != nil {
			ce.Write(zap.String("watcher", in.w.name), zap.Stringer("concern", d.concern))
		}
		return
	}

	switch d.concern {
	case concernStructure:
		in.applyStructure(d.records)
	case concernText:
		in.emitText()
	case concernAttr:
		in.emitAttr(d.attr)
	case concernIntersection:
		if in.gate != nil {
			in.gate.intersect(d.visible)
		}
	case concernRecheck:
		if in.gate != nil {
			in.gate.recheck()
		}
	default:
		panic(fmt.Sprintf("watch: impossible concern %d", uint8(d.concern)))
	}
}

func (r *Root) observer(in *instance, c concern, attr string) func([]tree.Record) {
	return func(records []tree.Record) {
		r.dispatch(delivery{in: in, concern: c, attr: attr, records: records})
	}
}

// call runs one consumer callback. A panic is recovered, logged and handed to
// the error handler so the remaining callbacks and matches of the batch
// still run.
func (r *Root) call(w *Watcher, what string, fn func()) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err := fmt.Errorf("%w: %s %s: %v", ErrCallbackPanicked, w.name, what, p)
		r.log.Error("callback failed",
			zap.String("watcher", w.name),
			zap.Uint64("id", w.id),
			zap.Error(err),
		)
		if r.onError != nil {
			r.onError(w, err)
		}
	}()
	fn()
}

func (r *Root) debug(msg string, w *Watcher, n tree.Node) {
	if ce := r.log.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(
			zap.String("watcher", w.name),
			zap.Uint64("id", w.id),
			zap.String("node", tree.Describe(n)),
		)
	}
}
