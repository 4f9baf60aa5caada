package errors

import (
	"fmt"
	"sync"
	"time"
)

// RenderFailure records a render attempt that settled with an error.
type RenderFailure struct {
	Component string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (rf *RenderFailure) Error() string {
	return fmt.Sprintf("<%s>: %v", rf.Component, rf.Err)
}

// Unwrap returns the underlying error
func (rf *RenderFailure) Unwrap() error {
	return rf.Err
}

// ErrorCollector collects failures that were suppressed at a component
// boundary so that callers can still report them after rendering settles.
type ErrorCollector struct {
	failures []RenderFailure
	mutex    sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		failures: make([]RenderFailure, 0),
	}
}

// Add records a failure for a component. Nil errors are ignored.
func (ec *ErrorCollector) Add(component string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = append(ec.failures, RenderFailure{
		Component: component,
		Err:       err,
		Timestamp: time.Now(),
	})
}

// Failures returns a copy of all collected failures in arrival order
func (ec *ErrorCollector) Failures() []RenderFailure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]RenderFailure, len(ec.failures))
	copy(result, ec.failures)
	return result
}

// ByComponent returns failures for a specific component
func (ec *ErrorCollector) ByComponent(component string) []RenderFailure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var out []RenderFailure
	for _, f := range ec.failures {
		if f.Component == component {
			out = append(out, f)
		}
	}
	return out
}

// HasErrors returns true if there are any failures
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures) > 0
}

// Clear clears all failures
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = ec.failures[:0]
}
