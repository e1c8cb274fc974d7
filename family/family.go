// Package family maps parents to the sets of children they own, with
// callbacks on every addition and removal. A child belongs to at most one
// parent at a time.
package family

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrParentExists = errors.New("family: parent has already been added")
	ErrNoParent     = errors.New("family: no such parent has been added")
	ErrChildExists  = errors.New("family: child has already been added")
	ErrChildClaimed = errors.New("family: child has already been added to another parent")
	ErrNoChild      = errors.New("family: no such child has been added")
)

// Handle is what the parent callbacks get to manage the children of one
// parent. It stays usable after the callback returns, until the parent is
// removed.
type Handle[P, C comparable] struct {
	Parent P
	f      *Family[P, C]
}

func (h Handle[P, C]) AddChild(child C) error {
	return h.f.addChild(h.Parent, child)
}

func (h Handle[P, C]) RemoveChild(child C) error {
	return h.f.removeChild(h.Parent, child)
}

// Children returns the current children in no particular order.
func (h Handle[P, C]) Children() []C {
	children, ok := h.f.family[h.Parent]
	if !ok {
		return nil
	}
	return children.ToSlice()
}

type Params[P, C comparable] struct {
	ParentAdded func(h Handle[P, C])
	// ParentRemoved runs before the children it leaves in place are removed.
	ParentRemoved func(h Handle[P, C])
}

type Family[P, C comparable] struct {
	family map[P]mapset.Set[C]
	// every child of every parent, so no child is claimed twice
	allChildren mapset.Set[C]

	parentAdded   func(h Handle[P, C])
	parentRemoved func(h Handle[P, C])
	childAdded    []func(parent P, child C)
	childRemoved  []func(parent P, child C)
}

func New[P, C comparable](params Params[P, C]) *Family[P, C] {
	return &Family[P, C]{
		family:        map[P]mapset.Set[C]{},
		allChildren:   mapset.NewThreadUnsafeSet[C](),
		parentAdded:   params.ParentAdded,
		parentRemoved: params.ParentRemoved,
	}
}

// OnChildAdded registers fn for every child added from now on and calls it
// right away for every existing child, in no particular order.
func (f *Family[P, C]) OnChildAdded(fn func(parent P, child C)) {
	f.childAdded = append(f.childAdded, fn)
	for parent, children := range f.family {
		for _, child := range children.ToSlice() {
			fn(parent, child)
		}
	}
}

func (f *Family[P, C]) OnChildRemoved(fn func(parent P, child C)) {
	f.childRemoved = append(f.childRemoved, fn)
}

func (f *Family[P, C]) AddParent(parent P) error {
	if _, ok := f.family[parent]; ok {
		return fmt.Errorf("%w: %v", ErrParentExists, parent)
	}
	f.family[parent] = mapset.NewThreadUnsafeSet[C]()

	if f.parentAdded != nil {
		f.parentAdded(Handle[P, C]{Parent: parent, f: f})
	}
	return nil
}

// RemoveParent calls the parent removed callback, removes the children it
// left and then the parent.
func (f *Family[P, C]) RemoveParent(parent P) error {
	children, ok := f.family[parent]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoParent, parent)
	}

	if f.parentRemoved != nil {
		f.parentRemoved(Handle[P, C]{Parent: parent, f: f})
	}
	for _, child := range children.ToSlice() {
		if err := f.removeChild(parent, child); err != nil {
			return fmt.Errorf("remove parent %v: %w", parent, err)
		}
	}
	delete(f.family, parent)
	return nil
}

// Parents returns every parent in no particular order.
func (f *Family[P, C]) Parents() []P {
	parents := make([]P, 0, len(f.family))
	for parent := range f.family {
		parents = append(parents, parent)
	}
	return parents
}

// ParentOf returns the parent owning child.
func (f *Family[P, C]) ParentOf(child C) (parent P, ok bool) {
	if !f.allChildren.Contains(child) {
		return parent, false
	}
	for p, children := range f.family {
		if children.Contains(child) {
			return p, true
		}
	}
	panic(fmt.Sprintf("family: child %v is claimed but has no parent", child))
}

func (f *Family[P, C]) addChild(parent P, child C) error {
	children, ok := f.family[parent]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoParent, parent)
	}
	if children.Contains(child) {
		return fmt.Errorf("%w: %v under %v", ErrChildExists, child, parent)
	}
	if f.allChildren.Contains(child) {
		return fmt.Errorf("%w: %v", ErrChildClaimed, child)
	}

	children.Add(child)
	f.allChildren.Add(child)
	for _, fn := range f.childAdded {
		fn(parent, child)
	}
	return nil
}

func (f *Family[P, C]) removeChild(parent P, child C) error {
	children, ok := f.family[parent]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoParent, parent)
	}
	if !children.Contains(child) {
		return fmt.Errorf("%w: %v under %v", ErrNoChild, child, parent)
	}
	if !f.allChildren.Contains(child) {
		panic(fmt.Sprintf("family: child %v of %v is missing from the set of all children", child, parent))
	}

	for _, fn := range f.childRemoved {
		fn(parent, child)
	}
	children.Remove(child)
	f.allChildren.Remove(child)
	return nil
}
