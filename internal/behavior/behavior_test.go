package behavior

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bangerrors "github.com/conneroisu/bang/internal/errors"
)

func TestDefault(t *testing.T) {
	var b Behavior = Default{}
	ctx := context.Background()

	st := map[string]any{"a": 1}
	got, err := b.BeforePrint(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	markup, err := b.AfterPrint(ctx, "<p></p>")
	require.NoError(t, err)
	assert.Equal(t, "<p></p>", markup)
	assert.Nil(t, b.Methods())
}

func TestFuncs(t *testing.T) {
	b := Funcs{
		After: func(_ context.Context, markup string) (string, error) {
			return strings.ToUpper(markup), nil
		},
		MethodNames: []string{"toggle"},
	}
	ctx := context.Background()

	got, err := b.BeforePrint(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "s", got)

	markup, err := b.AfterPrint(ctx, "<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, "<P>X</P>", markup)
	assert.Equal(t, []string{"toggle"}, b.Methods())
}

func TestCompileScript(t *testing.T) {
	src := `{
		methods: ['toggle', 'close'],
		beforePrint(state) {
			return Object.assign({}, state, { shout: state.name.toUpperCase() });
		},
		afterPrint(markup) {
			return '<div class="wrap">' + markup + '</div>';
		}
	};`

	s, err := Compile("my-card", src)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, []string{"toggle", "close"}, s.Methods())

	got, err := s.BeforePrint(ctx, map[string]any{"name": "ada"})
	require.NoError(t, err)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ADA", m["shout"])
	assert.Equal(t, "ada", m["name"])

	markup, err := s.AfterPrint(ctx, "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, `<div class="wrap"><p>hi</p></div>`, markup)
}

func TestCompileScriptPartialHooks(t *testing.T) {
	s, err := Compile("x-y", `({ afterPrint: m => m + '!' })`)
	require.NoError(t, err)
	ctx := context.Background()

	st := &struct{ N int }{N: 1}
	got, err := s.BeforePrint(ctx, st)
	require.NoError(t, err)
	assert.Same(t, st, got)

	markup, err := s.AfterPrint(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok!", markup)
	assert.Nil(t, s.Methods())
}

func TestCompileScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `{ beforePrint( }`},
		{"throws", `(() => { throw new Error('no') })()`},
		{"not an object", `42`},
		{"undefined", `undefined`},
		{"bad methods", `({ methods: 5 })`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("bad-one", tt.src)
			require.Error(t, err)
			var be *bangerrors.BangError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, bangerrors.ErrorTypeScript, be.Type)
			assert.Equal(t, "bad-one", be.Component)
		})
	}
}

func TestScriptHookError(t *testing.T) {
	s, err := Compile("x-y", `({ afterPrint() { throw new Error('broken') } })`)
	require.NoError(t, err)

	_, err = s.AfterPrint(context.Background(), "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestScriptConcurrentCalls(t *testing.T) {
	s, err := Compile("x-y", `({ afterPrint: m => m.length })`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.AfterPrint(context.Background(), "abc")
			assert.NoError(t, err)
			assert.Equal(t, "3", out)
		}()
	}
	wg.Wait()
}
