// Package maintenance runs a cron-expression-driven sweep across every
// known session, running internal/compaction's Prune and Compact on it
// so a session idle for a long stretch doesn't carry an oversized or
// overflowing log into its next prompt. The orchestrator's prompt path
// does not call Prune or Compact, so this sweep is where they run
// automatically. Grounded on the teacher's cmd/gateway_cron.go (a scheduled job
// handler routed through a dedicated lane, one job per tick) adapted
// from a user-defined-cron-job dispatcher to a fixed internal sweep.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/compaction"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/telemetry"
)

// DefaultExpr runs the sweep every 5 minutes.
const DefaultExpr = "*/5 * * * *"

// tickInterval is how often the scheduler wakes to test the cron
// expression; gronx.IsDue resolves to minute granularity, so checking
// more often than once a minute would just repeat the same answer.
const tickInterval = time.Minute

// Scheduler periodically sweeps every session for overflow/compaction
// eligibility.
type Scheduler struct {
	Sessions  *session.Store
	Messages  *message.Store
	Providers *provider.Registry
	Agents    *agent.Catalog
	Bus       *bus.Bus
	Telemetry *telemetry.Telemetry // nil-safe: set via the Scheduler value directly

	Expr string // cron expression; DefaultExpr if empty

	gron gronx.Gronx
}

// New constructs a Scheduler wired to the given components.
func New(sessions *session.Store, messages *message.Store, providers *provider.Registry, agents *agent.Catalog, b *bus.Bus) *Scheduler {
	return &Scheduler{
		Sessions:  sessions,
		Messages:  messages,
		Providers: providers,
		Agents:    agents,
		Bus:       b,
		Expr:      DefaultExpr,
		gron:      gronx.New(),
	}
}

// Run blocks, waking every tickInterval to test the cron expression and
// sweeping when due, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	expr := s.Expr
	if expr == "" {
		expr = DefaultExpr
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(expr)
			if err != nil {
				slog.Default().Warn("maintenance: invalid cron expression", "expr", expr, "error", err)
				continue
			}
			if due {
				s.sweep(ctx)
			}
		}
	}
}

// sweep loads every known session and, for each, opportunistically
// prunes and — if eligible — compacts it. Failures on one session are
// logged and don't stop the sweep from reaching the rest.
func (s *Scheduler) sweep(ctx context.Context) {
	log := slog.Default()

	sessions, err := s.Sessions.List(ctx, 0)
	if err != nil {
		log.Warn("maintenance: list sessions failed", "error", err)
		return
	}

	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		if err := s.sweepSession(ctx, sess); err != nil {
			log.Warn("maintenance: sweep session failed", "session", sess.ID, "error", err)
		}
	}
}

func (s *Scheduler) sweepSession(ctx context.Context, sess *session.Session) error {
	history, err := s.Messages.List(ctx, sess.ID, 0)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	var model provider.ModelInfo
	if p, err := s.Providers.Resolve(sess.ProviderID, sess.ModelID); err == nil {
		model = p.Models()[sess.ModelID]
	}

	pruneCtx, pruneSpan := s.Telemetry.StartCompactionSpan(ctx, sess.ID, "prune")
	_, pruneErr := compaction.Prune(pruneCtx, s.Messages, sess.ID)
	s.Telemetry.EndCompactionSpan(pruneCtx, pruneSpan, "prune", pruneErr)
	if pruneErr != nil {
		return pruneErr
	}

	overflow := model.ContextLimit > 0 && compaction.IsOverflow(history, model)
	if overflow || compaction.ShouldCompact(history) {
		compactCtx, compactSpan := s.Telemetry.StartCompactionSpan(ctx, sess.ID, "compact")
		_, compactErr := compaction.Compact(compactCtx, s.Sessions, s.Messages, s.Providers, s.Agents, s.Bus, sess.ID)
		s.Telemetry.EndCompactionSpan(compactCtx, compactSpan, "compact", compactErr)
		if compactErr != nil {
			return compactErr
		}
	}
	return nil
}
