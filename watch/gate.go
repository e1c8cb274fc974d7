package watch

import (
	"strconv"

	"github.com/delaneyj/nodewatch/tree"
)

type visibility uint8

const (
	unobserved visibility = iota
	hidden
	shown
)

// gate connects the visible watchers of an instance to its node while the
// node is visible: intersecting the visibility ancestor, and not hidden by
// display, visibility or a zero opacity on itself or any ancestor.
type gate struct {
	in           *instance
	state        visibility
	intersecting bool
	subs         []tree.Subscription
	kids         []*instance
}

func newGate(in *instance) *gate {
	return &gate{in: in}
}

// start subscribes to everything that can change the visibility. The
// current intersection arrives with the next flush, which opens the gate if
// the node is visible already.
func (g *gate) start() {
	in, r := g.in, g.in.w.root
	g.state = hidden

	g.subs = append(g.subs, r.src.ObserveIntersection(in.node, in.visAnc, func(v bool) {
		r.dispatch(delivery{in: in, concern: concernIntersection, visible: v})
	}))

	recheck := r.observer(in, concernRecheck, "")
	styleAttrs := tree.ObserveOptions{Attributes: true, AttributeFilter: []string{"style", "class"}}
	for a := in.node; a != nil; a = a.Parent() {
		g.subs = append(g.subs, r.src.Observe(a, styleAttrs, recheck))
	}

	// Stylesheet edits touch no attribute. Polling is the only way to
	// notice them.
	if r.interval > 0 {
		g.subs = append(g.subs, r.src.Every(r.interval, func() {
			r.dispatch(delivery{in: in, concern: concernRecheck})
		}))
	}
}

func (g *gate) stop() {
	g.close()
	for _, sub := range g.subs {
		sub.Cancel()
	}
	g.subs = nil
	g.state = unobserved
}

func (g *gate) intersect(v bool) {
	g.intersecting = v
	g.evaluate()
}

func (g *gate) recheck() {
	in := g.in
	g.intersecting = in.w.root.src.Intersects(in.node, in.visAnc)
	g.evaluate()
}

func (g *gate) evaluate() {
	in := g.in
	visible := g.intersecting && styleVisible(in.node)

	switch {
	case visible && g.state == hidden:
		g.state = shown
		in.w.root.debug("visible", in.w, in.node)
		for _, w := range in.w.visibles {
			g.admit(w)
		}
	case !visible && g.state == shown:
		g.state = hidden
		in.w.root.debug("hidden", in.w, in.node)
		g.close()
	}
}

// admit connects a visible watcher to the node if the gate is open.
func (g *gate) admit(w *Watcher) {
	in := g.in
	if g.state != shown || !in.connected() {
		return
	}
	kid := newInstance(w)
	g.kids = append(g.kids, kid)
	kid.connect(in.node, in.visAnc)
}

func (g *gate) close() {
	kids := g.kids
	g.kids = nil
	for _, kid := range kids {
		kid.disconnect()
	}
}

func styleVisible(n tree.Node) bool {
	for a := n; a != nil; a = a.Parent() {
		s, ok := a.(tree.Styled)
		if !ok {
			continue
		}
		if s.ComputedStyle("display") == "none" {
			return false
		}
		switch s.ComputedStyle("visibility") {
		case "hidden", "collapse":
			return false
		}
		if o, err := strconv.ParseFloat(s.ComputedStyle("opacity"), 64); err == nil && o == 0 {
			return false
		}
	}
	return true
}
