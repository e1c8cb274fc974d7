package tree

import "strings"

// Container is the structural capability of a node.
type Container interface {
	// Parent returns nil for the document root and for detached subtree roots.
	Parent() Node
	// Children returns a snapshot of the direct children, text nodes included.
	Children() []Node
}

// Attributed exposes the attributes of a node. Non-elements have none.
type Attributed interface {
	Attr(name string) (value string, ok bool)
}

// Texter exposes the concatenated text of a node's subtree.
type Texter interface {
	TextContent() string
}

// Selectable is what a pattern needs to test a node.
type Selectable interface {
	IsElement() bool
	ID() string
	Tag() string
	HasClass(name string) bool
}

// Node is the full capability set the watchers consume. Nothing in this module
// type-tests for concrete node types outside of this package.
type Node interface {
	Container
	Attributed
	Texter
	Selectable
}

// Styled is implemented by nodes that can report a computed style property.
// Properties are lower case, values are trimmed and lower case.
type Styled interface {
	ComputedStyle(property string) string
}

// Contains reports whether n is root or one of its descendants.
func Contains(root, n Node) bool {
	for ; n != nil; n = n.Parent() {
		if n == root {
			return true
		}
	}
	return false
}

// Describe renders a node as tag#id.class.class for logs.
func Describe(n Node) string {
	if n == nil {
		return "<nil>"
	}
	if !n.IsElement() {
		return "#text"
	}

	var sb strings.Builder
	sb.WriteString(n.Tag())
	if id := n.ID(); id != "" {
		sb.WriteByte('#')
		sb.WriteString(id)
	}
	if class, ok := n.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			sb.WriteByte('.')
			sb.WriteString(c)
		}
	}
	return sb.String()
}
