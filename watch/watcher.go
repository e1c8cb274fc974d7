package watch

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
)

// ScopeFunc runs when a node is connected. The returned teardown, if any,
// runs when it is disconnected.
type ScopeFunc func(n tree.Node) (teardown func())

// ValueFunc receives the current text or attribute value of a connected node.
type ValueFunc func(n tree.Node, v Value)

type lifecycle struct {
	scope   ScopeFunc
	created func(tree.Node)
	removed func(tree.Node)
}

type attrHandler struct {
	name string
	fn   ValueFunc
}

// Watcher is a position in a declared path. It is connected once per node
// that currently satisfies the path, and every registration applies to all
// of those connections, present and future.
//
// Registrations are cumulative: registering the same callback twice observes
// twice.
type Watcher struct {
	root   *Root
	name   string
	id     uint64
	parent *Watcher

	// pattern selects the nodes of a descendant watcher under its parent's
	// node. Visible watchers have none and reuse the parent's node.
	pattern pattern.Pattern

	lifecycles []lifecycle
	children   []*Watcher
	visibles   []*Watcher
	texts      []ValueFunc
	attrs      []attrHandler

	live mapset.Set[*instance]
}

func (r *Root) newWatcher(name string, parent *Watcher) *Watcher {
	return &Watcher{
		root:   r,
		name:   name,
		id:     xxhash.Sum64String(name),
		parent: parent,
		live:   mapset.NewThreadUnsafeSet[*instance](),
	}
}

func (w *Watcher) Name() string {
	return w.name
}

// Parent returns the watcher this one was declared on, nil for the root.
func (w *Watcher) Parent() *Watcher {
	return w.parent
}

// Connected reports whether at least one node currently satisfies the path.
func (w *Watcher) Connected() bool {
	return len(w.connections()) > 0
}

// Nodes returns the currently connected nodes in no particular order.
func (w *Watcher) Nodes() []tree.Node {
	conns := w.connections()
	nodes := make([]tree.Node, len(conns))
	for i, in := range conns {
		nodes[i] = in.node
	}
	return nodes
}

// Node returns one of the connected nodes. Calling it on a watcher that is
// not connected is a programming error and panics.
func (w *Watcher) Node() tree.Node {
	conns := w.connections()
	if len(conns) == 0 {
		panic(ErrNotConnected)
	}
	return conns[0].node
}

// connections snapshots the live instances so callbacks may connect and
// disconnect while the caller iterates.
func (w *Watcher) connections() []*instance {
	conns := w.live.ToSlice()
	live := conns[:0]
	for _, in := range conns {
		if in.connected() {
			live = append(live, in)
		}
	}
	return live
}

// Lifecycle registers onCreated, called with every node the watcher connects
// to, and an optional onRemoved, called when that node is disconnected after
// everything nested in it.
func (w *Watcher) Lifecycle(onCreated, onRemoved func(tree.Node)) *Watcher {
	lc := lifecycle{created: onCreated, removed: onRemoved}
	w.lifecycles = append(w.lifecycles, lc)
	for _, in := range w.connections() {
		in.enter(lc)
	}
	return w
}

// Scope registers fn, called with every node the watcher connects to. The
// teardown it returns runs at disconnect, in registration order with the
// other teardowns and onRemoved callbacks.
func (w *Watcher) Scope(fn ScopeFunc) *Watcher {
	lc := lifecycle{scope: fn}
	w.lifecycles = append(w.lifecycles, lc)
	for _, in := range w.connections() {
		in.enter(lc)
	}
	return w
}

// Descendant declares a child watcher connected to every outermost
// descendant matching p of each node this watcher is connected to.
func (w *Watcher) Descendant(p pattern.Pattern) *Watcher {
	if !p.Valid() {
		panic(fmt.Sprintf("watch: impossible pattern kind %d", uint8(p.Kind)))
	}

	child := w.root.newWatcher(w.name+" → "+p.String(), w)
	child.pattern = p
	w.children = append(w.children, child)
	for _, in := range w.connections() {
		in.scan(child)
		if in.connected() {
			in.subscribe()
		}
	}
	return child
}

func (w *Watcher) ID(name string) *Watcher    { return w.Descendant(pattern.ByID(name)) }
func (w *Watcher) Class(name string) *Watcher { return w.Descendant(pattern.ByClass(name)) }
func (w *Watcher) Tag(name string) *Watcher   { return w.Descendant(pattern.ByTag(name)) }

// Visible declares a watcher connected to this watcher's node only while
// that node is visible.
func (w *Watcher) Visible() *Watcher {
	child := w.root.newWatcher(w.name+" (visible)", w)
	w.visibles = append(w.visibles, child)
	for _, in := range w.connections() {
		if in.gate != nil {
			in.gate.admit(child)
		} else {
			in.subscribe()
		}
	}
	return child
}

// Text registers fn for the text content of every connected node. It is
// called right away for nodes already connected, again on every change in
// their subtree, and with Gone on disconnect.
func (w *Watcher) Text(fn ValueFunc) *Watcher {
	w.texts = append(w.texts, fn)
	for _, in := range w.connections() {
		in.sendText(fn, in.text())
		if in.connected() {
			in.subscribe()
		}
	}
	return w
}

// Attr registers fn for the value of the named attribute of every connected
// node: Present with the value, Absent when missing, Gone on disconnect.
func (w *Watcher) Attr(name string, fn ValueFunc) *Watcher {
	h := attrHandler{name: strings.ToLower(name), fn: fn}
	w.attrs = append(w.attrs, h)
	for _, in := range w.connections() {
		in.sendAttr(h, in.attr(h.name))
		if in.connected() {
			in.subscribe()
		}
	}
	return w
}
