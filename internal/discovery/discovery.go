// Package discovery finds marker comments such as <!--my-widget a=b--> and
// turns each into a real element exactly once.
package discovery

import (
	"fmt"
	"iter"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/bang/internal/dom"
)

// doubleBarrel matches names with a hyphen between word characters. It also
// matches triple and longer names.
var doubleBarrel = regexp.MustCompile(`\w+-\w*`)

// IsComponentName reports whether name is double-barrelled.
func IsComponentName(name string) bool {
	return doubleBarrel.MatchString(name)
}

// Details splits a marker's trimmed text into its name and attribute list.
func Details(n *html.Node) (name, data string) {
	text := strings.TrimSpace(n.Data)
	i := strings.IndexFunc(text, isSpace)
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i+1:])
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
}

// IsMarker reports whether n is a comment whose first token is a component
// name.
func IsMarker(n *html.Node) bool {
	if n == nil || n.Type != html.CommentNode {
		return false
	}
	name, _ := Details(n)
	return IsComponentName(name)
}

// Set is the set of marker nodes already claimed for transformation.
type Set struct {
	mu    sync.Mutex
	nodes map[*html.Node]struct{}
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{nodes: make(map[*html.Node]struct{})}
}

// Claim adds n and reports whether it was absent.
func (s *Set) Claim(n *html.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n]; ok {
		return false
	}
	s.nodes[n] = struct{}{}
	return true
}

// Has reports whether n was claimed.
func (s *Set) Has(n *html.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[n]
	return ok
}

// Len returns the number of claimed nodes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Markers enumerates unclaimed markers under root in document order,
// claiming each as it is yielded. root itself is tested first.
func Markers(root *html.Node, claimed *Set) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		if root == nil {
			return
		}
		if IsMarker(root) && claimed.Claim(root) {
			if !yield(root) {
				return
			}
		}
		stop := false
		for c := root.FirstChild; c != nil && !stop; c = c.NextSibling {
			dom.Walk(c, func(n *html.Node) bool {
				if stop {
					return false
				}
				if IsMarker(n) && claimed.Claim(n) && !yield(n) {
					stop = true
					return false
				}
				return true
			})
		}
	}
}

// Transform replaces marker with the element <name data></name> and returns
// the new element.
func Transform(marker *html.Node) (*html.Node, error) {
	name, data := Details(marker)
	src := "<" + name + "></" + name + ">"
	if data != "" {
		src = "<" + name + " " + data + "></" + name + ">"
	}
	frag, err := dom.ParseFragment(src)
	if err != nil {
		return nil, fmt.Errorf("cannot parse marker %q: %w", marker.Data, err)
	}
	var el *html.Node
	for c := frag.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			el = c
			break
		}
	}
	if el == nil {
		return nil, fmt.Errorf("marker %q does not describe an element", marker.Data)
	}
	frag.RemoveChild(el)
	dom.Replace(marker, el)
	return el, nil
}

// Pipeline scans subtrees and transforms their markers.
type Pipeline struct {
	claimed *Set
	onError func(marker *html.Node, err error)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithErrorHandler sets the callback for markers that fail to transform.
func WithErrorHandler(fn func(marker *html.Node, err error)) PipelineOption {
	return func(p *Pipeline) {
		p.onError = fn
	}
}

// NewPipeline creates a pipeline with its own claimed set.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{claimed: NewSet()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Claimed returns the pipeline's claimed set.
func (p *Pipeline) Claimed() *Set { return p.claimed }

// Scan collects every unclaimed marker under root, then transforms them in
// reverse order. It returns the created elements in document order. The
// caller must hold whatever lock guards the tree.
func (p *Pipeline) Scan(root *html.Node) []*html.Node {
	var found []*html.Node
	for n := range Markers(root, p.claimed) {
		found = append(found, n)
	}

	created := make([]*html.Node, len(found))
	for i := len(found) - 1; i >= 0; i-- {
		el, err := Transform(found[i])
		if err != nil {
			if p.onError != nil {
				p.onError(found[i], err)
			}
			continue
		}
		created[i] = el
	}

	out := created[:0]
	for _, el := range created {
		if el != nil {
			out = append(out, el)
		}
	}
	return out
}
