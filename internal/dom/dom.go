// Package dom holds the small set of tree operations bang needs on top of
// golang.org/x/net/html: attribute and class manipulation, fragment parsing,
// child replacement, text content and serialization.
package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attr returns the value of the attribute key and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets key to val, appending the attribute when absent. It returns
// the previous value and whether there was one.
func SetAttr(n *html.Node, key, val string) (string, bool) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			old := a.Val
			n.Attr[i].Val = val
			return old, true
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	return "", false
}

// RemoveAttr deletes key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// HasClass reports whether the class attribute contains class.
func HasClass(n *html.Node, class string) bool {
	v, _ := Attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass adds class to the class list if missing.
func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	v, _ := Attr(n, "class")
	fields := append(strings.Fields(v), class)
	SetAttr(n, "class", strings.Join(fields, " "))
}

// RemoveClass removes class from the class list.
func RemoveClass(n *html.Node, class string) {
	v, ok := Attr(n, "class")
	if !ok {
		return
	}
	fields := strings.Fields(v)
	out := fields[:0]
	for _, c := range fields {
		if c != class {
			out = append(out, c)
		}
	}
	SetAttr(n, "class", strings.Join(out, " "))
}

// bodyContext is the context element fragments are parsed against.
func bodyContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

// NewFragment returns an empty detached root suitable as a render target.
func NewFragment() *html.Node {
	return &html.Node{Type: html.DocumentNode}
}

// ParseFragment parses markup into a detached fragment root.
func ParseFragment(markup string) (*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext())
	if err != nil {
		return nil, err
	}
	frag := NewFragment()
	for _, n := range nodes {
		frag.AppendChild(n)
	}
	return frag, nil
}

// Children returns a snapshot of n's children.
func Children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// RemoveChildren detaches every child of n.
func RemoveChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// ReplaceChildren detaches n's children and moves the children of frag into n.
func ReplaceChildren(n, frag *html.Node) {
	RemoveChildren(n)
	for _, c := range Children(frag) {
		frag.RemoveChild(c)
		n.AppendChild(c)
	}
}

// Replace puts repl in old's place within old's parent.
func Replace(old, repl *html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	if repl.Parent != nil {
		repl.Parent.RemoveChild(repl)
	}
	parent.InsertBefore(repl, old)
	parent.RemoveChild(old)
}

// TextContent concatenates the text of n and its descendants.
func TextContent(n *html.Node) string {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// OuterHTML renders n and its descendants.
func OuterHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Walk visits n and its descendants in document order. Returning false from
// fn skips the node's descendants.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// FindElement returns the first element named tag under n, or nil.
func FindElement(n *html.Node, tag string) *html.Node {
	var found *html.Node
	Walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.Data == tag {
			found = c
			return false
		}
		return true
	})
	return found
}

// Clone deep-copies n without parent or sibling links.
func Clone(n *html.Node) *html.Node {
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		out.Attr = make([]html.Attribute, len(n.Attr))
		copy(out.Attr, n.Attr)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(Clone(c))
	}
	return out
}
