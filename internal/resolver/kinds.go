package resolver

import (
	"context"
	"sync"

	"github.com/conneroisu/bang/internal/state"
)

// Keyed marks a state object that declares its own key.
type Keyed = state.Keyed

// Pending is a value that settles later. Resolving it awaits the settled
// value and resolves that in turn.
type Pending interface {
	Await(ctx context.Context) (any, error)
}

// AsyncFunc is invoked with the current state; its result is resolved again.
type AsyncFunc func(ctx context.Context, state any) (any, error)

// SyncFunc is invoked with the current state; its result is final.
type SyncFunc func(state any) string

// Collection is an ordered group of values resolved element by element.
type Collection interface {
	Items() []any
}

// Items is the simplest Collection.
type Items []any

// Items implements Collection.
func (i Items) Items() []any { return i }

// Promise is a one-shot Pending that is settled once by Resolve or Reject.
type Promise struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewPromise returns an unsettled promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Go runs fn in a new goroutine and returns a promise for its result.
func Go(fn func() (any, error)) *Promise {
	p := NewPromise()
	go func() {
		v, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Resolved returns a promise already settled with v.
func Resolved(v any) *Promise {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Resolve settles the promise with v. Later calls are ignored.
func (p *Promise) Resolve(v any) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

// Reject settles the promise with err. Later calls are ignored.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
