// Package redis publishes state snapshots to Redis so other processes can
// follow a page's state.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	bangerrors "github.com/conneroisu/bang/internal/errors"
)

// DefaultPrefix namespaces every key the sink writes.
const DefaultPrefix = "bang:state:"

// Sink stores each snapshot as JSON under <prefix><key> and announces the
// key on <prefix>changes.
type Sink struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Sink)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Sink) {
		s.prefix = prefix
	}
}

// WithTTL sets the expiration for snapshots.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sink) {
		s.ttl = ttl
	}
}

// New creates a sink connected to address.
func New(address string, opts ...Option) *Sink {
	return NewFromClient(backend.NewClient(&backend.Options{Addr: address}), opts...)
}

// NewFromClient creates a sink from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Sink {
	s := &Sink{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) key(key string) string {
	return s.prefix + key
}

// Channel is the pub/sub channel changed keys are published on.
func (s *Sink) Channel() string {
	return s.prefix + "changes"
}

// Publish persists value and announces key.
func (s *Sink) Publish(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return bangerrors.NewResourceError(bangerrors.ErrCodeCloneFailed,
			fmt.Sprintf("cannot encode snapshot of %s", key), err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(key), data, s.ttl)
	pipe.Publish(ctx, s.Channel(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot to redis: %w", err)
	}
	return nil
}

// Load decodes the snapshot stored under key into out.
func (s *Sink) Load(ctx context.Context, key string, out any) error {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return bangerrors.NewUsageError(bangerrors.ErrCodeStateNotFound,
				fmt.Sprintf("no snapshot for %s", key))
		}
		return fmt.Errorf("failed to get snapshot from redis: %w", err)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}

// Subscribe returns the keys announced after the call until ctx is done.
func (s *Sink) Subscribe(ctx context.Context) (<-chan string, error) {
	sub := s.client.Subscribe(ctx, s.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.Channel(), err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the redis client.
func (s *Sink) Close() error {
	return s.client.Close()
}
