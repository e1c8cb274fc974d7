package watch

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/nodewatch/tree"
)

type Kind uint8

const (
	// Present carries the current text or attribute value.
	Present Kind = iota + 1
	// Absent means the attribute does not exist on the node.
	Absent
	// Gone is delivered once when the node is disconnected.
	Gone
)

func (k Kind) String() string {
	switch k {
	case Present:
		return "present"
	case Absent:
		return "absent"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

type Value struct {
	Kind Kind
	Data string
}

func (v Value) String() string {
	if v.Kind == Present {
		return v.Data
	}
	return "<" + v.Kind.String() + ">"
}

// One picks an arbitrary node among everything a watcher is connected to
// and calls onChanged whenever the pick changes: with the first node, with
// a replacement when the picked node goes away, and with nil when none is
// left. Register the result with Watcher.Scope.
func One(onChanged func(n tree.Node)) ScopeFunc {
	nodes := mapset.NewThreadUnsafeSet[tree.Node]()
	var current tree.Node

	return func(n tree.Node) func() {
		nodes.Add(n)
		if current == nil {
			current = n
			onChanged(n)
		}

		return func() {
			nodes.Remove(n)
			if current != n {
				return
			}
			current = nil
			nodes.Each(func(other tree.Node) bool {
				current = other
				return true
			})
			onChanged(current)
		}
	}
}

// WhilePresent runs scope while the observed attribute exists and tears it
// down when the attribute is removed or the node disconnected. Register the
// result with Watcher.Attr.
func WhilePresent(scope ScopeFunc) ValueFunc {
	return while(func(v Value) bool { return v.Kind == Present }, scope)
}

// WhileClass runs scope while the node has the class. Register the result
// with Watcher.Attr("class", ...).
func WhileClass(name string, scope ScopeFunc) ValueFunc {
	return while(func(v Value) bool {
		return v.Kind == Present && slices.Contains(strings.Fields(v.Data), name)
	}, scope)
}

func while(active func(Value) bool, scope ScopeFunc) ValueFunc {
	running := map[tree.Node]func(){}

	return func(n tree.Node, v Value) {
		teardown, ok := running[n]
		switch {
		case !ok && active(v):
			teardown = scope(n)
			if teardown == nil {
				teardown = func() {}
			}
			running[n] = teardown
		case ok && !active(v):
			delete(running, n)
			teardown()
		}
	}
}
