package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/bang/internal/behavior"
	bangerrors "github.com/conneroisu/bang/internal/errors"
)

// DefinitionRegistry holds the custom element definitions of an engine.
// Unlike a browser's registry it can be watched.
type DefinitionRegistry struct {
	definitions map[string]*Definition
	mutex       sync.RWMutex
	watchers    []chan DefinitionEvent
}

// Definition is a registered component type.
type Definition struct {
	Name     string
	Behavior behavior.Behavior
	// Scripted is true when Behavior came from the component's script file.
	Scripted  bool
	DefinedAt time.Time
}

// DefinitionEvent represents a change in the registry.
type DefinitionEvent struct {
	Type       EventType
	Definition *Definition
	Timestamp  time.Time
}

// EventType represents the type of registry event.
type EventType int

const (
	EventTypeDefined EventType = iota
	EventTypeBehaviorChanged
)

// NameValidator reports whether a name may be defined.
type NameValidator func(name string) bool

// NewDefinitionRegistry creates an empty registry.
func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{
		definitions: make(map[string]*Definition),
		watchers:    make([]chan DefinitionEvent, 0),
	}
}

// Define adds a definition. A name can be defined once.
func (r *DefinitionRegistry) Define(def *Definition, valid NameValidator) error {
	if valid != nil && !valid(def.Name) {
		return bangerrors.NewUsageError(bangerrors.ErrCodeInvalidName,
			fmt.Sprintf("%q is not a valid component name, it needs a hyphen between word characters", def.Name))
	}
	if def.Behavior == nil {
		def.Behavior = behavior.Default{}
	}
	if def.DefinedAt.IsZero() {
		def.DefinedAt = time.Now()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.definitions[def.Name]; exists {
		return bangerrors.NewUsageError(bangerrors.ErrCodeAlreadyDefined,
			fmt.Sprintf("component %s is already defined", def.Name)).WithComponent(def.Name)
	}
	r.definitions[def.Name] = def
	r.notify(EventTypeDefined, def)
	return nil
}

// SetBehavior replaces the behavior of a defined component.
func (r *DefinitionRegistry) SetBehavior(name string, b behavior.Behavior) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	def, exists := r.definitions[name]
	if !exists {
		return bangerrors.NewUsageError(bangerrors.ErrCodeStateNotFound,
			fmt.Sprintf("component %s is not defined", name)).WithComponent(name)
	}
	updated := *def
	updated.Behavior = b
	updated.Scripted = false
	r.definitions[name] = &updated
	r.notify(EventTypeBehaviorChanged, &updated)
	return nil
}

// notify must be called with the mutex held.
func (r *DefinitionRegistry) notify(t EventType, def *Definition) {
	event := DefinitionEvent{
		Type:       t,
		Definition: def,
		Timestamp:  time.Now(),
	}
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Get retrieves a definition by name.
func (r *DefinitionRegistry) Get(name string) (*Definition, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, exists := r.definitions[name]
	return def, exists
}

// Names returns the defined names in sorted order.
func (r *DefinitionRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch returns a channel that receives registry events.
func (r *DefinitionRegistry) Watch() <-chan DefinitionEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan DefinitionEvent, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (r *DefinitionRegistry) UnWatch(ch <-chan DefinitionEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// Count returns the number of definitions.
func (r *DefinitionRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.definitions)
}
