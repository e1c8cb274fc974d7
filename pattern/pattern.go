// Package pattern selects nodes of a tree by id, class or tag name.
package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/delaneyj/nodewatch/tree"
)

type Kind uint8

const (
	ID Kind = iota + 1
	Class
	Tag
)

func (k Kind) String() string {
	switch k {
	case ID:
		return "id"
	case Class:
		return "class"
	case Tag:
		return "tag"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var ErrSyntax = errors.New("pattern: invalid syntax")

// Pattern is an immutable structural test.
type Pattern struct {
	Kind Kind
	Name string
}

func ByID(name string) Pattern    { return Pattern{Kind: ID, Name: name} }
func ByClass(name string) Pattern { return Pattern{Kind: Class, Name: name} }
func ByTag(name string) Pattern   { return Pattern{Kind: Tag, Name: name} }

// Parse reads "#id", ".class" or "tag".
func Parse(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) > 1 && s[0] == '#':
		return ByID(s[1:]), nil
	case len(s) > 1 && s[0] == '.':
		return ByClass(s[1:]), nil
	case s != "" && !strings.ContainsAny(s, "#. \t"):
		return ByTag(s), nil
	default:
		return Pattern{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
}

func (p Pattern) String() string {
	switch p.Kind {
	case ID:
		return "#" + p.Name
	case Class:
		return "." + p.Name
	case Tag:
		return p.Name
	default:
		return fmt.Sprintf("%s:%s", p.Kind, p.Name)
	}
}

// Valid reports whether p has one of the known kinds.
func (p Pattern) Valid() bool {
	switch p.Kind {
	case ID, Class, Tag:
		return true
	default:
		return false
	}
}

// Matches tests a single node. Only elements match. An unknown kind is a
// programming error and panics.
func Matches(n tree.Node, p Pattern) bool {
	if !p.Valid() {
		panic(fmt.Sprintf("pattern: impossible kind %d", uint8(p.Kind)))
	}

	if n == nil || !n.IsElement() {
		return false
	}
	switch p.Kind {
	case ID:
		return n.ID() == p.Name
	case Class:
		return n.HasClass(p.Name)
	default:
		return strings.EqualFold(n.Tag(), p.Name)
	}
}

// MatchingDescendants returns the descendants of root matching p in document
// order, root excluded. Once a node matches, none of its descendants are
// returned, so a pattern that matches both an outer and an inner wrapper
// reports only the outer one.
func MatchingDescendants(root tree.Node, p Pattern) []tree.Node {
	var found []tree.Node
	if root == nil || !root.IsElement() {
		return found
	}
	for _, c := range root.Children() {
		found = collect(found, c, p)
	}
	return found
}

// SelfOrMatchingDescendants returns [n] if n matches, otherwise its matching
// descendants. Used for the root of a freshly added or removed subtree.
func SelfOrMatchingDescendants(n tree.Node, p Pattern) []tree.Node {
	if Matches(n, p) {
		return []tree.Node{n}
	}
	return MatchingDescendants(n, p)
}

func collect(found []tree.Node, n tree.Node, p Pattern) []tree.Node {
	if Matches(n, p) {
		return append(found, n)
	}
	for _, c := range n.Children() {
		found = collect(found, c, p)
	}
	return found
}

// Outermost reports whether n is a match of p with no matching ancestor
// strictly between it and root. Nodes outside root are never outermost.
func Outermost(root, n tree.Node, p Pattern) bool {
	if !Matches(n, p) {
		return false
	}
	for a := n.Parent(); a != nil; a = a.Parent() {
		if a == root {
			return true
		}
		if Matches(a, p) {
			return false
		}
	}
	return false
}
