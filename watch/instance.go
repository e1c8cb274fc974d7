package watch

import (
	"slices"

	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
	"go.uber.org/zap"
)

type kidKey struct {
	w    *Watcher
	node tree.Node
}

// instance is the connection of one watcher to one node. It owns the
// instances of the child watchers found under its node, every subscription
// made for it and the teardowns collected while connecting. Instances are
// used once: a node that comes back gets a new one.
type instance struct {
	w    *Watcher
	node tree.Node
	// visAnc is the box the visibility gate intersects with, the node of
	// the parent connection. nil means the viewport.
	visAnc tree.Node
	done   bool

	teardowns []func()

	kids  map[kidKey]*instance
	order []*instance // kids in connection order

	childSub tree.Subscription
	textSub  tree.Subscription
	attrSubs map[string]tree.Subscription
	gate     *gate
}

func newInstance(w *Watcher) *instance {
	return &instance{w: w}
}

func (in *instance) connected() bool {
	return in.node != nil && !in.done
}

func (in *instance) connect(n, visAnc tree.Node) {
	w, r := in.w, in.w.root
	switch {
	case in.done, in.node == n:
		return
	case in.node != nil:
		r.log.Error("watcher already connected to a different node",
			zap.String("watcher", w.name),
			zap.Uint64("id", w.id),
			zap.String("connected", tree.Describe(in.node)),
			zap.String("node", tree.Describe(n)),
		)
		return
	}

	in.node, in.visAnc = n, visAnc
	w.live.Add(in)
	r.debug("connect", w, n)

	// Registrations made by the callbacks below reach this instance through
	// the watcher already, only the ones present now are applied here.
	lifecycles, children, texts, attrs := w.lifecycles, w.children, w.texts, w.attrs

	for _, lc := range lifecycles {
		in.enter(lc)
	}
	for _, child := range children {
		in.scan(child)
	}
	if len(texts) > 0 {
		v := in.text()
		for _, fn := range texts {
			in.sendText(fn, v)
		}
	}
	for _, h := range attrs {
		in.sendAttr(h, in.attr(h.name))
	}
	if in.connected() {
		in.subscribe()
	}
}

func (in *instance) disconnect() {
	if !in.connected() {
		return
	}
	w, r, n := in.w, in.w.root, in.node
	in.done = true
	w.live.Remove(in)
	r.debug("disconnect", w, n)

	for _, kid := range in.order {
		kid.disconnect()
	}
	in.kids, in.order = nil, nil

	gone := Value{Kind: Gone}
	for _, fn := range w.texts {
		r.call(w, "text", func() { fn(n, gone) })
	}
	for _, h := range w.attrs {
		r.call(w, "attr "+h.name, func() { h.fn(n, gone) })
	}

	if in.gate != nil {
		in.gate.stop()
		in.gate = nil
	}

	if in.childSub != nil {
		in.childSub.Cancel()
		in.childSub = nil
	}
	if in.textSub != nil {
		in.textSub.Cancel()
		in.textSub = nil
	}
	for _, sub := range in.attrSubs {
		sub.Cancel()
	}
	in.attrSubs = nil

	for _, teardown := range in.teardowns {
		r.call(w, "teardown", teardown)
	}
	in.teardowns = nil
	in.node, in.visAnc = nil, nil
}

// subscribe starts the subscriptions the watcher's registrations need and
// that are not running yet.
func (in *instance) subscribe() {
	w, r := in.w, in.w.root

	if in.childSub == nil && len(w.children) > 0 {
		in.childSub = r.src.Observe(in.node,
			tree.ObserveOptions{ChildList: true, Subtree: true},
			r.observer(in, concernStructure, ""),
		)
	}

	// child list too: replacing an element changes the text without any
	// character data record
	if in.textSub == nil && len(w.texts) > 0 {
		in.textSub = r.src.Observe(in.node,
			tree.ObserveOptions{ChildList: true, CharacterData: true, Subtree: true},
			r.observer(in, concernText, ""),
		)
	}

	for _, h := range w.attrs {
		if _, ok := in.attrSubs[h.name]; ok {
			continue
		}
		if in.attrSubs == nil {
			in.attrSubs = map[string]tree.Subscription{}
		}
		in.attrSubs[h.name] = r.src.Observe(in.node,
			tree.ObserveOptions{Attributes: true, AttributeFilter: []string{h.name}},
			r.observer(in, concernAttr, h.name),
		)
	}

	if in.gate == nil && len(w.visibles) > 0 {
		in.gate = newGate(in)
		in.gate.start()
	}
}

func (in *instance) enter(lc lifecycle) {
	if !in.connected() {
		return
	}
	w, r, n := in.w, in.w.root, in.node

	if lc.scope != nil {
		var teardown func()
		r.call(w, "scope", func() { teardown = lc.scope(n) })
		switch {
		case teardown == nil:
		case in.connected():
			in.teardowns = append(in.teardowns, teardown)
		default:
			// disconnected from inside the scope
			r.call(w, "teardown", teardown)
		}
		return
	}

	if lc.removed != nil {
		in.teardowns = append(in.teardowns, func() { lc.removed(n) })
	}
	if lc.created != nil {
		r.call(w, "created", func() { lc.created(n) })
	}
}

// scan connects child to the matches already present under the node.
func (in *instance) scan(child *Watcher) {
	if !in.connected() {
		return
	}
	for _, m := range pattern.MatchingDescendants(in.node, child.pattern) {
		if !in.connected() {
			return
		}
		in.attach(child, m)
	}
}

func (in *instance) attach(child *Watcher, n tree.Node) {
	key := kidKey{w: child, node: n}
	if _, ok := in.kids[key]; ok {
		return
	}
	if in.kids == nil {
		in.kids = map[kidKey]*instance{}
	}
	kid := newInstance(child)
	in.kids[key] = kid
	in.order = append(in.order, kid)
	kid.connect(n, in.node)
}

func (in *instance) detach(child *Watcher, n tree.Node) {
	key := kidKey{w: child, node: n}
	kid, ok := in.kids[key]
	if !ok {
		return
	}
	delete(in.kids, key)
	in.order = slices.DeleteFunc(in.order, func(k *instance) bool { return k == kid })
	kid.disconnect()
}

// applyStructure reconciles the child connections with one batch of child
// list records. A record may be stale by the time it is handled: an added
// node that has since left the subtree, or is now nested in another match,
// is skipped.
func (in *instance) applyStructure(records []tree.Record) {
	children := in.w.children
	for _, rec := range records {
		for _, added := range rec.Added {
			for _, child := range children {
				for _, m := range pattern.SelfOrMatchingDescendants(added, child.pattern) {
					if !in.connected() {
						return
					}
					if !pattern.Outermost(in.node, m, child.pattern) {
						continue
					}
					in.attach(child, m)
				}
			}
		}

		for _, removed := range rec.Removed {
			for _, child := range children {
				for _, m := range pattern.SelfOrMatchingDescendants(removed, child.pattern) {
					if !in.connected() {
						return
					}
					in.detach(child, m)
				}
			}
		}
	}
}

func (in *instance) text() Value {
	if !in.connected() {
		return Value{Kind: Gone}
	}
	return Value{Kind: Present, Data: in.node.TextContent()}
}

func (in *instance) attr(name string) Value {
	if !in.connected() {
		return Value{Kind: Gone}
	}
	if v, ok := in.node.Attr(name); ok {
		return Value{Kind: Present, Data: v}
	}
	return Value{Kind: Absent}
}

func (in *instance) sendText(fn ValueFunc, v Value) {
	if !in.connected() {
		return
	}
	n := in.node
	in.w.root.call(in.w, "text", func() { fn(n, v) })
}

func (in *instance) sendAttr(h attrHandler, v Value) {
	if !in.connected() {
		return
	}
	n := in.node
	in.w.root.call(in.w, "attr "+h.name, func() { h.fn(n, v) })
}

func (in *instance) emitText() {
	v := in.text()
	for _, fn := range in.w.texts {
		in.sendText(fn, v)
	}
}

func (in *instance) emitAttr(name string) {
	v := in.attr(name)
	for _, h := range in.w.attrs {
		if h.name == name {
			in.sendAttr(h, v)
		}
	}
}
