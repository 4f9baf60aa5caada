package engine

import (
	"bytes"
	"context"
	"io"

	"github.com/a-h/templ"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	bangerrors "github.com/conneroisu/bang/internal/errors"
)

// Render waits for outstanding renders and writes the mounted document.
// Every instance's shadow root is emitted as declarative shadow DOM, the
// first child of its host.
func (e *Engine) Render(ctx context.Context, w io.Writer) error {
	if err := e.Idle(ctx); err != nil {
		return err
	}

	e.domMu.Lock()
	if e.doc == nil {
		e.domMu.Unlock()
		return bangerrors.NewUsageError(bangerrors.ErrCodeValueRequired, "no document mounted")
	}
	out := e.cloneWithShadowsLocked(e.doc)
	e.domMu.Unlock()

	return html.Render(w, out)
}

// RenderString is Render into a string.
func (e *Engine) RenderString(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := e.Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Component exposes the rendered document as a templ component.
func (e *Engine) Component() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return e.Render(ctx, w)
	})
}

func (e *Engine) cloneWithShadowsLocked(n *html.Node) *html.Node {
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

	if inst, ok := e.instances[n]; ok {
		tmpl := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Template,
			Data:     "template",
			Attr:     []html.Attribute{{Key: "shadowrootmode", Val: "open"}},
		}
		for c := inst.shadow.FirstChild; c != nil; c = c.NextSibling {
			tmpl.AppendChild(e.cloneWithShadowsLocked(c))
		}
		out.AppendChild(tmpl)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(e.cloneWithShadowsLocked(c))
	}
	return out
}
