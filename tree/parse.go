package tree

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse builds a document from an HTML page. The html element becomes the
// document root; comments and doctypes are dropped.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	d := newDocument(opts)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if root, ok := d.convert(c).(*Element); ok {
			d.root = root
			break
		}
	}
	if d.root == nil {
		d.root = d.CreateElement("html")
	}
	return d, nil
}

// ParseFragment parses HTML as if it were the content of a body element and
// returns the detached top-level nodes, ready to be inserted.
func (d *Document) ParseFragment(src string) ([]Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := html.ParseFragment(strings.NewReader(src), context)
	if err != nil {
		return nil, fmt.Errorf("parse html fragment: %w", err)
	}

	nodes := make([]Node, 0, len(parsed))
	for _, p := range parsed {
		if n := d.convert(p); n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// MustFragment is ParseFragment for literals known to be valid. It returns
// the first top-level element.
func (d *Document) MustFragment(src string) *Element {
	nodes, err := d.ParseFragment(src)
	if err != nil {
		panic(err)
	}
	for _, n := range nodes {
		if e, ok := n.(*Element); ok {
			return e
		}
	}
	panic(fmt.Sprintf("tree: fragment has no element: %q", src))
}

func (d *Document) convert(n *html.Node) Node {
	switch n.Type {
	case html.TextNode:
		return d.CreateText(n.Data)

	case html.ElementNode:
		e := d.CreateElement(n.Data)
		for _, a := range n.Attr {
			if a.Namespace != "" {
				continue
			}
			e.attrs = append(e.attrs, attribute{name: strings.ToLower(a.Key), value: a.Val})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			child := d.convert(c)
			if child == nil {
				continue
			}
			switch child := child.(type) {
			case *Element:
				child.parent = e
			case *Text:
				child.parent = e
			}
			e.children = append(e.children, child)
		}
		return e

	default:
		return nil
	}
}
