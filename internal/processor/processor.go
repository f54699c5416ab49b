// Package processor implements the Session Processor: a per-session
// scaffold created at loop entry and destroyed at exit, tracking step
// records, detecting doom loops, and retrying provider calls with
// exponential backoff. Grounded on
// _examples/original_source/src/opencode_api/session/processor.py's
// SessionProcessor/DoomLoopDetector/RetryConfig/StepInfo, translated to
// Go idiom (synchronous retry instead of asyncio, explicit mutex instead
// of Python's single-threaded event loop).
package processor

import (
	"context"
	"sync"
	"time"
)

// Status is a finished step's terminal state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDoomLoop  Status = "doom_loop"
	StatusError     Status = "error"
)

// Step is one iteration of the agentic loop.
type Step struct {
	Number     int
	StartedAt  time.Time
	FinishedAt time.Time
	ToolCalls  []string
	Status     Status
}

// RetryConfig configures Processor.Retry's exponential backoff.
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultRetryConfig matches spec.md §4.11's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2}
}

// Processor is the per-session scaffold described by spec.md §4.11.
type Processor struct {
	SessionID string
	MaxSteps  int

	mu          sync.Mutex
	doom        *doomDetector
	retryConfig RetryConfig
	steps       []Step
	current     *Step
	aborted     bool
}

// New constructs a Processor for sessionID with maxSteps (default 50 if
// non-positive) and a doom-loop threshold (default 3 if non-positive).
func New(sessionID string, maxSteps, doomThreshold int) *Processor {
	if maxSteps <= 0 {
		maxSteps = 50
	}
	return &Processor{
		SessionID:   sessionID,
		MaxSteps:    maxSteps,
		doom:        newDoomDetector(doomThreshold),
		retryConfig: DefaultRetryConfig(),
	}
}

// StartStep appends a new running step record.
func (p *Processor) StartStep() Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	step := Step{Number: len(p.steps) + 1, StartedAt: time.Now(), Status: StatusRunning}
	p.steps = append(p.steps, step)
	p.current = &p.steps[len(p.steps)-1]
	return *p.current
}

// FinishStep closes the current step with the given status.
func (p *Processor) FinishStep(status Status) Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return Step{}
	}
	p.current.FinishedAt = time.Now()
	p.current.Status = status
	return *p.current
}

// RecordToolCall records one tool call against the current step and
// the doom-loop detector, reporting whether a loop just tripped.
func (p *Processor) RecordToolCall(toolName string, args map[string]any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.ToolCalls = append(p.current.ToolCalls, toolName)
	}
	return p.doom.record(toolName, args)
}

// IsDoomLoop reports whether the detector is currently tripped, without
// recording a new call.
func (p *Processor) IsDoomLoop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doom.tripped()
}

// ResetDoomLoop clears the detector's history on demand.
func (p *Processor) ResetDoomLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doom.reset()
}

// ShouldContinue returns false once the processor has been aborted, hit
// its step cap, or tripped the doom-loop detector.
func (p *Processor) ShouldContinue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return false
	}
	if len(p.steps) >= p.MaxSteps {
		return false
	}
	return !p.doom.tripped()
}

// SetMaxSteps overrides the step cap for a prompt call whose resolved
// agent/request max_steps differs from the registry's default, letting a
// Registry share one Processor per session without fixing every run to
// the same cap.
func (p *Processor) SetMaxSteps(maxSteps int) {
	if maxSteps <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MaxSteps = maxSteps
}

// Abort marks the processor as aborted; ShouldContinue returns false
// from then on.
func (p *Processor) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = true
}

// Steps returns a copy of the recorded steps.
func (p *Processor) Steps() []Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Retry calls fn up to MaxRetries times, sleeping
// min(base · base^attempt, maxDelay) between attempts, and returns the
// last error once attempts are exhausted. ctx cancellation aborts the
// wait between attempts.
func (p *Processor) Retry(ctx context.Context, fn func() error) error {
	cfg := p.retryConfig
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}
		delay := retryDelay(cfg, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func retryDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * pow(cfg.ExponentialBase, attempt)
	max := float64(cfg.MaxDelay)
	if delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
