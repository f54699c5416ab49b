package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/tool/todo"
)

// loopState is the per-session bookkeeping the agentic loop keeps
// alive for the duration of one run, per §4.12.3's "Loop-state table"
// (spec.md §5): last-writer-wins, cancel idempotent.
type loopState struct {
	mu           sync.Mutex
	cancel       context.CancelFunc
	paused       bool
	pauseReason  string
}

func (o *Orchestrator) registerLoopState(sessionID string, cancel context.CancelFunc) *loopState {
	ls := &loopState{cancel: cancel}
	o.mu.Lock()
	o.loopStates[sessionID] = ls
	o.mu.Unlock()
	return ls
}

func (o *Orchestrator) unregisterLoopState(sessionID string) {
	o.mu.Lock()
	delete(o.loopStates, sessionID)
	o.mu.Unlock()
}

// Cancel implements §4.12.3's cancellation contract: marks the loop
// state paused with reason "cancelled" and best-effort aborts the
// provider stream via context; an in-flight tool execution still runs
// to completion. Idempotent — cancelling an already-cancelled or
// unknown session is a no-op.
func (o *Orchestrator) Cancel(sessionID string) {
	o.mu.Lock()
	ls, ok := o.loopStates[sessionID]
	o.mu.Unlock()
	if !ok {
		return
	}
	ls.mu.Lock()
	ls.paused = true
	ls.pauseReason = "cancelled"
	cancel := ls.cancel
	ls.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.unregisterLoopState(sessionID)
}

func (o *Orchestrator) setPaused(sessionID string, paused bool, reason string) {
	o.mu.Lock()
	ls, ok := o.loopStates[sessionID]
	o.mu.Unlock()
	if !ok {
		return
	}
	ls.mu.Lock()
	ls.paused = paused
	ls.pauseReason = reason
	ls.mu.Unlock()
}

func (o *Orchestrator) isPaused(sessionID string) (bool, string) {
	o.mu.Lock()
	ls, ok := o.loopStates[sessionID]
	o.mu.Unlock()
	if !ok {
		return false, ""
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.paused, ls.pauseReason
}

// statusChunk is a synthetic text chunk the loop uses to surface
// human-readable status at points where no provider turn produced one
// (max-steps reached, doom loop, pause).
func statusChunk(text string) provider.StreamChunk {
	return provider.StreamChunk{Type: provider.ChunkText, Text: text}
}

// runAgenticLoop implements §4.12.3: repeated single turns driven by a
// Session Processor, with doom-loop abort, pause-on-question, and
// todo-reminder continuation.
func (o *Orchestrator) runAgenticLoop(ctx context.Context, sess *session.Session, ag agent.Agent, in PromptInput, maxSteps int, out chan<- provider.StreamChunk) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.registerLoopState(sess.ID, cancel)
	defer o.unregisterLoopState(sess.ID)

	proc := o.Procs.GetOrCreate(sess.ID)
	proc.SetMaxSteps(maxSteps)
	defer o.Procs.Remove(sess.ID)

	var pendingReminder string
	var todoReminderCount int
	step := 0

	for proc.ShouldContinue() {
		if paused, _ := o.isPaused(sess.ID); paused {
			break
		}
		if loopCtx.Err() != nil {
			break
		}

		step++
		proc.StartStep()
		o.publishStep(sess.ID, bus.TopicStepStarted, step)

		var turnContent string
		appendUser := false
		switch {
		case step == 1:
			turnContent = in.Content
			appendUser = true
		case pendingReminder != "":
			turnContent = pendingReminder
			appendUser = true
			pendingReminder = ""
		default:
			turnContent = ""
		}

		// handleToolCall (invoked from o.turn) marks the loop paused with
		// reason "question" around a blocking question-tool execution, for
		// an external poller to observe; our tool.Execute call is
		// synchronous, so by the time turn() returns here the pause has
		// already been cleared again (answered, rejected, or timed out).
		outcome := o.turn(loopCtx, sess, ag, turnContent, appendUser, in, out)

		if outcome.Err != nil {
			proc.FinishStep("error")
			o.publishStep(sess.ID, bus.TopicStepFinished, step)
			return
		}

		if proc.IsDoomLoop() {
			proc.FinishStep("doom_loop")
			o.publishStep(sess.ID, bus.TopicStepFinished, step)
			emit(out, statusChunk("[Doom loop detected: the same tool call repeated; stopping]"))
			return
		}

		proc.FinishStep("completed")
		o.publishStep(sess.ID, bus.TopicStepFinished, step)

		if outcome.StopReason == provider.StopToolCalls {
			continue
		}

		pending, err := todo.HasPending(loopCtx, o.Storage, sess.ID)
		if err != nil {
			o.log().Warn("orchestrator: todo lookup failed", "session", sess.ID, "error", err)
			return
		}
		if pending && todoReminderCount < DefaultMaxTodoReminders {
			todoReminderCount++
			pendingReminder = todoReminderText
			continue
		}
		return
	}

	if loopCtx.Err() == nil {
		if paused, reason := o.isPaused(sess.ID); paused && reason == "cancelled" {
			emit(out, statusChunk("[Cancelled]"))
		} else if step >= maxSteps {
			emit(out, statusChunk(fmt.Sprintf("[Max steps (%d) reached]", maxSteps)))
		}
	}
}

func (o *Orchestrator) publishStep(sessionID string, topic bus.Topic, step int) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(bus.Event{Topic: topic, Publisher: sessionID, Payload: map[string]any{"step": step}})
}

// Resume re-enters the agentic loop for a session paused on a
// question, with an empty continuation turn, per §4.12.3's "Resume"
// contract: the caller is responsible for having already delivered the
// answer via the Question Channel before calling this.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (<-chan provider.StreamChunk, error) {
	sess, err := o.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resume load session %s: %w", sessionID, err)
	}
	ag := o.resolveAgent(sess)
	o.setPaused(sessionID, false, "")

	out := make(chan provider.StreamChunk, 16)
	go func() {
		defer close(out)
		o.runAgenticLoop(ctx, sess, ag, PromptInput{ToolsEnabled: true}, ag.MaxSteps, out)
	}()
	return out, nil
}
