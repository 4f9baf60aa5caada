package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func TestAttributes(t *testing.T) {
	frag, err := ParseFragment(`<my-card title="Hi"></my-card>`)
	require.NoError(t, err)
	el := frag.FirstChild
	require.NotNil(t, el)

	v, ok := Attr(el, "title")
	assert.True(t, ok)
	assert.Equal(t, "Hi", v)

	old, had := SetAttr(el, "title", "Bye")
	assert.True(t, had)
	assert.Equal(t, "Hi", old)

	_, had = SetAttr(el, "state", "system-key:1")
	assert.False(t, had)

	RemoveAttr(el, "title")
	_, ok = Attr(el, "title")
	assert.False(t, ok)
	v, _ = Attr(el, "state")
	assert.Equal(t, "system-key:1", v)
}

func TestClasses(t *testing.T) {
	frag, err := ParseFragment(`<div class="a b"></div>`)
	require.NoError(t, err)
	el := frag.FirstChild

	AddClass(el, "bang-el")
	AddClass(el, "bang-el")
	assert.True(t, HasClass(el, "bang-el"))
	v, _ := Attr(el, "class")
	assert.Equal(t, "a b bang-el", v)

	RemoveClass(el, "a")
	v, _ = Attr(el, "class")
	assert.Equal(t, "b bang-el", v)

	RemoveClass(el, "missing")
	assert.False(t, HasClass(el, "missing"))
}

func TestParseFragmentKeepsStyle(t *testing.T) {
	frag, err := ParseFragment(`<style>h1 { color: red }</style><h1>Hi</h1>`)
	require.NoError(t, err)

	out, err := InnerHTML(frag)
	require.NoError(t, err)
	assert.Equal(t, `<style>h1 { color: red }</style><h1>Hi</h1>`, out)
}

func TestReplaceChildren(t *testing.T) {
	target := NewFragment()
	old, err := ParseFragment(`<p>old</p>`)
	require.NoError(t, err)
	ReplaceChildren(target, old)

	fresh, err := ParseFragment(`<h1>new</h1><p>text</p>`)
	require.NoError(t, err)
	ReplaceChildren(target, fresh)

	out, err := InnerHTML(target)
	require.NoError(t, err)
	assert.Equal(t, `<h1>new</h1><p>text</p>`, out)
	assert.Nil(t, fresh.FirstChild)
}

func TestReplace(t *testing.T) {
	doc := parse(t, `<body><p>a</p><!--x-y--><p>b</p></body>`)
	body := FindElement(doc, "body")
	require.NotNil(t, body)

	var comment *html.Node
	Walk(body, func(n *html.Node) bool {
		if n.Type == html.CommentNode {
			comment = n
		}
		return true
	})
	require.NotNil(t, comment)

	repl, err := ParseFragment(`<x-y></x-y>`)
	require.NoError(t, err)
	Replace(comment, repl.FirstChild)

	out, err := InnerHTML(body)
	require.NoError(t, err)
	assert.Equal(t, `<p>a</p><x-y></x-y><p>b</p>`, out)
}

func TestTextContentAndOuterHTML(t *testing.T) {
	frag, err := ParseFragment(`<div>Hello <b>world</b></div>`)
	require.NoError(t, err)
	el := frag.FirstChild

	assert.Equal(t, "Hello world", TextContent(el))
	outer, err := OuterHTML(el)
	require.NoError(t, err)
	assert.Equal(t, `<div>Hello <b>world</b></div>`, outer)
}

func TestClone(t *testing.T) {
	frag, err := ParseFragment(`<ul class="x"><li>1</li><li>2</li></ul>`)
	require.NoError(t, err)
	orig := frag.FirstChild

	cp := Clone(orig)
	assert.Nil(t, cp.Parent)
	SetAttr(cp, "class", "y")

	v, _ := Attr(orig, "class")
	assert.Equal(t, "x", v)
	out, err := OuterHTML(cp)
	require.NoError(t, err)
	assert.Equal(t, `<ul class="y"><li>1</li><li>2</li></ul>`, out)
}
