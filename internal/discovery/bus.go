package discovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// Event reports that the subtree under Root changed.
type Event struct {
	Root      *html.Node
	Timestamp time.Time
}

// Subscriber handles an event in the publisher's goroutine.
type Subscriber func(ctx context.Context, event Event)

// Bus carries subtree-changed events. Subscribers run synchronously in the
// publisher's goroutine; watchers receive events on buffered channels and
// miss events while their buffer is full.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	watchers    []chan Event
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every later event.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish announces that root changed.
func (b *Bus) Publish(ctx context.Context, root *html.Node) {
	event := Event{Root: root, Timestamp: time.Now()}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx, event)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.watchers {
		select {
		case w <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Watch returns a channel that receives events.
func (b *Bus) Watch() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.watchers = append(b.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (b *Bus) UnWatch(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, w := range b.watchers {
		if w == ch {
			close(w)
			b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
			break
		}
	}
}
