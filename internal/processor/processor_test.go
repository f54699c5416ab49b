package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoomDetectorTripsOnThresholdIdenticalCalls(t *testing.T) {
	d := newDoomDetector(3)
	assert.False(t, d.record("bash", map[string]any{"cmd": "ls"}))
	assert.False(t, d.record("bash", map[string]any{"cmd": "ls"}))
	assert.True(t, d.record("bash", map[string]any{"cmd": "ls"}))
}

func TestDoomDetectorSameToolDifferentArgsIsNotALoop(t *testing.T) {
	d := newDoomDetector(3)
	assert.False(t, d.record("bash", map[string]any{"cmd": "ls"}))
	assert.False(t, d.record("bash", map[string]any{"cmd": "pwd"}))
	assert.False(t, d.record("bash", map[string]any{"cmd": "whoami"}))
}

func TestDoomDetectorResetClearsHistory(t *testing.T) {
	d := newDoomDetector(2)
	d.record("bash", map[string]any{"cmd": "ls"})
	d.record("bash", map[string]any{"cmd": "ls"})
	require.True(t, d.tripped())
	d.reset()
	assert.False(t, d.tripped())
}

func TestCanonicalHashStableRegardlessOfKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}
	assert.Equal(t, canonicalHash(a), canonicalHash(b))
}

func TestProcessorShouldContinueStopsAtStepCap(t *testing.T) {
	p := New("sess-1", 2, 3)
	p.StartStep()
	p.FinishStep(StatusCompleted)
	assert.True(t, p.ShouldContinue())

	p.StartStep()
	p.FinishStep(StatusCompleted)
	assert.False(t, p.ShouldContinue())
}

func TestProcessorSetMaxStepsOverridesCap(t *testing.T) {
	p := New("sess-1b", 2, 3)
	p.SetMaxSteps(1)
	p.StartStep()
	p.FinishStep(StatusCompleted)
	assert.False(t, p.ShouldContinue())

	p.SetMaxSteps(0) // non-positive is ignored
	assert.False(t, p.ShouldContinue())
}

func TestProcessorShouldContinueFalseAfterAbort(t *testing.T) {
	p := New("sess-2", 50, 3)
	p.StartStep()
	p.Abort()
	assert.False(t, p.ShouldContinue())
}

func TestProcessorShouldContinueFalseOnDoomLoop(t *testing.T) {
	p := New("sess-3", 50, 2)
	p.StartStep()
	p.RecordToolCall("bash", map[string]any{"cmd": "ls"})
	tripped := p.RecordToolCall("bash", map[string]any{"cmd": "ls"})
	assert.True(t, tripped)
	assert.True(t, p.IsDoomLoop())
	assert.False(t, p.ShouldContinue())
}

func TestProcessorRetrySucceedsWithoutExhausting(t *testing.T) {
	p := New("sess-4", 50, 3)
	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestProcessorRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	p := New("sess-5", 50, 3)
	p.retryConfig = RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ExponentialBase: 2}

	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, "permanent", err.Error())
	assert.Equal(t, 2, calls)
}

func TestProcessorRetryRespectsContextCancellation(t *testing.T) {
	p := New("sess-6", 50, 3)
	p.retryConfig = RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Retry(ctx, func() error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}

func TestRetryDelayCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 4 * time.Second, ExponentialBase: 2}
	assert.Equal(t, time.Second, retryDelay(cfg, 0))
	assert.Equal(t, 2*time.Second, retryDelay(cfg, 1))
	assert.Equal(t, 4*time.Second, retryDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, retryDelay(cfg, 5))
}

func TestRegistryGetOrCreateReturnsSameProcessorForSameSession(t *testing.T) {
	r := NewRegistry(50, 3)
	p1 := r.GetOrCreate("sess-a")
	p2 := r.GetOrCreate("sess-a")
	assert.Same(t, p1, p2)
}

func TestRegistryGetOrCreateConcurrentCallsCollapseToOneProcessor(t *testing.T) {
	r := NewRegistry(50, 3)
	const n = 50
	results := make([]*Processor, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = r.GetOrCreate("sess-concurrent")
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestRegistryRemoveDropsProcessor(t *testing.T) {
	r := NewRegistry(50, 3)
	r.GetOrCreate("sess-b")
	r.Remove("sess-b")

	_, ok := r.Get("sess-b")
	assert.False(t, ok)
}

func TestRegistryGetOrCreateAfterRemoveMakesAFreshProcessor(t *testing.T) {
	r := NewRegistry(50, 3)
	p1 := r.GetOrCreate("sess-c")
	p1.Abort()
	r.Remove("sess-c")

	p2 := r.GetOrCreate("sess-c")
	assert.NotSame(t, p1, p2)
	assert.True(t, p2.ShouldContinue())
}
