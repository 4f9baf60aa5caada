// Package state implements the bidirectional state store: opaque keys map to
// state objects and state objects map back to their keys, so passing the
// same object twice through a template always yields the same key.
//
// Objects with reference identity (pointers and maps) are indexed by that
// reference. Values without it (struct values, scalars) cannot be found again
// by reverse lookup and receive a fresh key every time they are assigned.
package state

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	bangerrors "github.com/conneroisu/bang/internal/errors"
)

const (
	systemKeyPrefix = "system-key:"
	clientKeyPrefix = "client-key:"
)

// Keyed is implemented by state objects that declare their own logical
// identity. Every object reporting the same token shares one key.
type Keyed interface {
	BangKey() string
}

// Dependent is something that rendered with a key and can render again.
type Dependent interface {
	Rerender(ctx context.Context)
}

type record struct {
	key   string
	value any
}

// Store is the process-wide state store. It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	records    []record
	byKey      map[string]int
	byIdentity map[any]int
	dependents map[string][]Dependent
	systemKeys int
	ownKey     string
}

// Option configures a Store.
type Option func(*Store)

// WithOwnKeyName sets the map entry that declares an own key on
// map[string]any state objects. The default is "_bang_key".
func WithOwnKeyName(name string) Option {
	return func(s *Store) {
		s.ownKey = name
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		byKey:      make(map[string]int),
		byIdentity: make(map[any]int),
		dependents: make(map[string][]Dependent),
		ownKey:     "_bang_key",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClientKey returns the key for a caller supplied identity token.
func ClientKey(token string) string {
	return clientKeyPrefix + token
}

type mapIdentity struct {
	typ reflect.Type
	ptr uintptr
}

// identityOf returns a comparable reference identity for v.
func identityOf(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return v, true
	case reflect.Map:
		if rv.IsNil() {
			return nil, false
		}
		return mapIdentity{typ: rv.Type(), ptr: rv.Pointer()}, true
	}
	return nil, false
}

// SetOwnKeyName changes the map entry that declares an own key.
func (s *Store) SetOwnKeyName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownKey = name
}

// OwnKey reports the explicit identity token declared by v, if any.
func (s *Store) OwnKey(v any) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownKeyLocked(v)
}

func (s *Store) ownKeyLocked(v any) (string, bool) {
	switch obj := v.(type) {
	case Keyed:
		return obj.BangKey(), true
	case map[string]any:
		if raw, ok := obj[s.ownKey]; ok && raw != nil {
			return fmt.Sprint(raw), true
		}
	}
	return "", false
}

// Set registers value under key in both directions. A previous object under
// key loses its reverse mapping.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value)
}

func (s *Store) setLocked(key string, value any) {
	if idx, ok := s.byKey[key]; ok {
		if oldID, ok := identityOf(s.records[idx].value); ok && s.byIdentity[oldID] == idx {
			delete(s.byIdentity, oldID)
		}
		s.records[idx].value = value
	} else {
		s.records = append(s.records, record{key: key, value: value})
		s.byKey[key] = len(s.records) - 1
	}
	if id, ok := identityOf(value); ok {
		s.byIdentity[id] = s.byKey[key]
	}
}

// Assign returns the key for value, registering it when needed. Objects with
// an own key always take the client key and replace whatever was stored
// under it; other objects reuse their existing key or get a new system key.
func (s *Store) Assign(value any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.ownKeyLocked(value); ok {
		key := ClientKey(token)
		s.setLocked(key, value)
		return key
	}

	if id, ok := identityOf(value); ok {
		if idx, found := s.byIdentity[id]; found {
			return s.records[idx].key
		}
	}

	s.systemKeys++
	key := systemKeyPrefix + strconv.Itoa(s.systemKeys)
	s.setLocked(key, value)
	return key
}

// Get returns the object stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return s.records[idx].value, true
}

// Has reports whether key is registered.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// KeyOf performs the reverse lookup from an object to its key.
func (s *Store) KeyOf(value any) (string, bool) {
	id, ok := identityOf(value)
	if !ok {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, found := s.byIdentity[id]
	if !found {
		return "", false
	}
	return s.records[idx].key, true
}

// HasObject reports whether value is reachable by reverse lookup.
func (s *Store) HasObject(value any) bool {
	_, ok := s.KeyOf(value)
	return ok
}

// Len returns the number of registered keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ResolveToken looks up the object named by a state attribute value. A token
// with no object behind it is a usage error.
func (s *Store) ResolveToken(token string) (any, error) {
	value, ok := s.Get(token)
	if !ok || value == nil {
		return nil, bangerrors.NewUsageError(bangerrors.ErrCodeStateUnset,
			fmt.Sprintf("state key %s is unset, it must be set before it is used", token)).
			WithContext("key", token)
	}
	return value, nil
}

// Clone returns a deep copy of the object under key. The copy has the same
// static type as the stored value; values held in interface positions come
// back in their loose form (int64, uint64, float64, string, bool,
// map[string]any, []any). Functions, channels and cyclic structures fail.
func (s *Store) Clone(key string) (any, error) {
	value, ok := s.Get(key)
	if !ok {
		return nil, bangerrors.NewUsageError(bangerrors.ErrCodeStateNotFound,
			fmt.Sprintf("state store does not have the key %s", key)).
			WithContext("key", key)
	}
	return DeepCopy(value)
}

// DeepCopy copies value through a msgpack round trip.
func DeepCopy(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	packed, err := msgpack.Marshal(value)
	if err != nil {
		return nil, bangerrors.NewInternalError(bangerrors.ErrCodeCloneFailed, "cannot copy state value", err)
	}

	dst := reflect.New(reflect.TypeOf(value))
	dec := msgpack.NewDecoder(bytes.NewReader(packed))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(dst.Interface()); err != nil {
		return nil, bangerrors.NewInternalError(bangerrors.ErrCodeCloneFailed, "cannot copy state value", err)
	}
	return dst.Elem().Interface(), nil
}
