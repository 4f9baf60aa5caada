package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBangErrorError(t *testing.T) {
	err := NewUsageError(ErrCodeStateUnset, "state key system-key:4 is unset").
		WithComponent("my-card")

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_STATE_UNSET]")
	assert.Contains(t, msg, "component:my-card")
	assert.Contains(t, msg, "system-key:4")
}

func TestBangErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewResourceError(ErrCodeFetchFailed, "fetch ./components/x-y/style.css", cause)

	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, IsRecoverable(err))
	assert.True(t, IsResourceError(err))
	assert.False(t, IsUsageError(err))
}

func TestSentinelMatching(t *testing.T) {
	err := NewUsageError(ErrCodeValueRequired, "value cannot be unset")
	wrapped := fmt.Errorf("cooking my-card: %w", err)

	assert.ErrorIs(t, wrapped, ErrValueRequired)
	assert.NotErrorIs(t, wrapped, ErrStateUnset)

	sentinels := []error{
		ErrStateUnset,
		ErrValueRequired,
		ErrStateNotFound,
		ErrAlreadyDefined,
		ErrInvalidName,
		ErrFetchFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}

func TestWithContext(t *testing.T) {
	err := NewTemplateError(ErrCodeTemplateEval, "bad hole", nil).
		WithContext("markup", "<h1>${x.}</h1>").
		WithContext("hole", 0)

	require.Len(t, err.Context, 2)
	assert.Equal(t, "<h1>${x.}</h1>", err.Context["markup"])
	assert.True(t, IsTemplateError(err))
}

type recordingLogger struct {
	mu     sync.Mutex
	levels []string
}

func (r *recordingLogger) record(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func (r *recordingLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	r.record("error")
}

func (r *recordingLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	r.record("warn")
}

func (r *recordingLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	r.record("debug")
}

func TestErrorHandlerLevels(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewResourceError(ErrCodeFetchFailed, "missing", nil))
	handler.Handle(ctx, NewScriptError(ErrCodeScriptInvalid, "bad script", nil))
	handler.Handle(ctx, NewTemplateError(ErrCodeTemplateEval, "bad", nil))
	handler.Handle(ctx, NewUsageError(ErrCodeStateUnset, "unset"))
	handler.Handle(ctx, fmt.Errorf("plain"))

	assert.Equal(t, []string{"debug", "debug", "warn", "error", "error"}, logger.levels)
}

func TestErrorCollector(t *testing.T) {
	collector := NewErrorCollector()
	assert.False(t, collector.HasErrors())

	collector.Add("my-card", nil)
	assert.False(t, collector.HasErrors())

	collector.Add("my-card", fmt.Errorf("first"))
	collector.Add("my-list", fmt.Errorf("second"))
	collector.Add("my-card", fmt.Errorf("third"))

	require.True(t, collector.HasErrors())
	all := collector.Failures()
	require.Len(t, all, 3)
	assert.Equal(t, "<my-card>: first", all[0].Error())
	assert.Len(t, collector.ByComponent("my-card"), 2)

	collector.Clear()
	assert.Empty(t, collector.Failures())
}

func TestErrorCollectorConcurrentAdd(t *testing.T) {
	collector := NewErrorCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			collector.Add(fmt.Sprintf("c-%d", i%3), fmt.Errorf("failure %d", i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, collector.Failures(), 20)
}
