package tree

import (
	"slices"
	"strings"
)

type base struct {
	doc    *Document
	parent *Element
}

// Parent returns the parent element, or nil if n is a root.
func (b *base) Parent() Node {
	b.doc.mu.RLock()
	defer b.doc.mu.RUnlock()
	if b.parent == nil {
		return nil
	}
	return b.parent
}

type attribute struct {
	name, value string
}

// Element is an element node of a Document. All methods are safe for
// concurrent use; mutations are serialized by the owning document.
type Element struct {
	base

	tag      string
	attrs    []attribute
	children []Node

	// inline style cache, keyed by the style attribute it was parsed from
	styleSrc string
	style    map[string]string
}

// Text is a character data node.
type Text struct {
	base

	data string
}

func (e *Element) IsElement() bool { return true }
func (e *Element) Tag() string     { return e.tag }

func (e *Element) ID() string {
	id, _ := e.Attr("id")
	return id
}

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.attrLocked(strings.ToLower(name))
}

func (e *Element) attrLocked(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

func (e *Element) HasClass(name string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.hasClassLocked(name)
}

func (e *Element) hasClassLocked(name string) bool {
	class, _ := e.attrLocked("class")
	return slices.Contains(strings.Fields(class), name)
}

func (e *Element) Children() []Node {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return slices.Clone(e.children)
}

func (e *Element) TextContent() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var sb strings.Builder
	writeText(&sb, e)
	return sb.String()
}

func writeText(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Text:
		sb.WriteString(n.data)
	case *Element:
		for _, c := range n.children {
			writeText(sb, c)
		}
	}
}

// ComputedStyle returns the value of a style property after applying the
// document's class rules and then the inline style attribute.
func (e *Element) ComputedStyle(property string) string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.computedStyleLocked(e, strings.ToLower(property))
}

func (t *Text) IsElement() bool            { return false }
func (t *Text) Tag() string                { return "" }
func (t *Text) ID() string                 { return "" }
func (t *Text) HasClass(string) bool       { return false }
func (t *Text) Attr(string) (string, bool) { return "", false }
func (t *Text) Children() []Node           { return nil }

func (t *Text) TextContent() string {
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()
	return t.data
}

// SetData replaces the text and records a character data mutation.
func (t *Text) SetData(data string) {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	t.data = data
	d.recordLocked(Record{Type: CharacterData, Target: t})
	d.mutatedLocked()
}

// AppendChild moves child to the end of e's children.
func (e *Element) AppendChild(child Node) error {
	return e.InsertBefore(child, nil)
}

// InsertBefore moves child before ref, or to the end if ref is nil. A child
// that is already attached somewhere is removed from its old parent first,
// producing a removal record there.
func (e *Element) InsertBefore(child, ref Node) error {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, err := d.baseLocked(child)
	if err != nil {
		return err
	}
	if c, ok := child.(*Element); ok && d.isInclusiveAncestorLocked(c, e) {
		return ErrHierarchy
	}
	if ref != nil && !slices.Contains(e.children, ref) {
		return ErrNotChild
	}
	if ref == child {
		return nil
	}

	if cb.parent != nil {
		d.detachLocked(cb.parent, child)
	}

	idx := len(e.children)
	if ref != nil {
		idx = slices.Index(e.children, ref)
	}
	e.children = slices.Insert(e.children, idx, child)
	cb.parent = e

	d.recordLocked(Record{Type: ChildList, Target: e, Added: []Node{child}})
	d.mutatedLocked()
	return nil
}

// RemoveChild detaches child from e.
func (e *Element) RemoveChild(child Node) error {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	if !slices.Contains(e.children, child) {
		return ErrNotChild
	}
	d.detachLocked(e, child)
	d.mutatedLocked()
	return nil
}

// Remove detaches e from its parent, if any.
func (e *Element) Remove() {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.parent == nil {
		return
	}
	d.detachLocked(e.parent, e)
	d.mutatedLocked()
}

// ReplaceChildren swaps all children of e for nodes. Nodes that are attached
// somewhere, e included, are removed first with a record of their own; the
// swap itself is a single record with the added nodes and the children that
// were left.
func (e *Element) ReplaceChildren(nodes ...Node) error {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range nodes {
		if _, err := d.baseLocked(n); err != nil {
			return err
		}
		if c, ok := n.(*Element); ok && d.isInclusiveAncestorLocked(c, e) {
			return ErrHierarchy
		}
	}

	for _, n := range nodes {
		b, _ := d.baseLocked(n)
		if b.parent != nil {
			d.detachLocked(b.parent, n)
		}
	}

	removed := e.children
	e.children = nil
	for _, n := range removed {
		d.orphanLocked(e, n)
	}

	for _, n := range nodes {
		b, _ := d.baseLocked(n)
		b.parent = e
		e.children = append(e.children, n)
	}

	if len(removed) > 0 || len(nodes) > 0 {
		d.recordLocked(Record{Type: ChildList, Target: e, Added: slices.Clone(nodes), Removed: removed})
	}
	d.mutatedLocked()
	return nil
}

// SetAttr sets an attribute and records an attribute mutation, even when the
// value does not change.
func (e *Element) SetAttr(name, value string) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	e.setAttrLocked(strings.ToLower(name), value)
	d.mutatedLocked()
}

func (e *Element) setAttrLocked(name, value string) {
	idx := slices.IndexFunc(e.attrs, func(a attribute) bool { return a.name == name })
	if idx < 0 {
		e.attrs = append(e.attrs, attribute{name: name, value: value})
	} else {
		e.attrs[idx].value = value
	}
	e.doc.recordLocked(Record{Type: Attributes, Target: e, AttributeName: name})
}

// RemoveAttr removes an attribute. Removing an absent attribute records nothing.
func (e *Element) RemoveAttr(name string) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToLower(name)
	idx := slices.IndexFunc(e.attrs, func(a attribute) bool { return a.name == name })
	if idx < 0 {
		return
	}
	e.attrs = slices.Delete(e.attrs, idx, idx+1)
	d.recordLocked(Record{Type: Attributes, Target: e, AttributeName: name})
	d.mutatedLocked()
}

// AddClass adds a class to the class attribute if missing.
func (e *Element) AddClass(name string) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.hasClassLocked(name) {
		return
	}
	class, _ := e.attrLocked("class")
	e.setAttrLocked("class", strings.TrimSpace(class+" "+name))
	d.mutatedLocked()
}

// RemoveClass removes a class from the class attribute if present.
func (e *Element) RemoveClass(name string) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	if !e.hasClassLocked(name) {
		return
	}
	class, _ := e.attrLocked("class")
	fields := slices.DeleteFunc(strings.Fields(class), func(c string) bool { return c == name })
	e.setAttrLocked("class", strings.Join(fields, " "))
	d.mutatedLocked()
}
