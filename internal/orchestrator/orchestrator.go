// Package orchestrator drains the priority queue in the background: one
// queued task per tick, run through the ledger like any other command.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/queue"
	"github.com/kazz187/triguild/internal/task"
)

type Executor interface {
	RunPrompt(ctx context.Context, req *command.PromptRequest) (*command.Outcome, error)
}

// Gate says whether work may start now.
type Gate interface {
	IsAvailable(kind agent.Kind) bool
	OverBudget(ctx context.Context) (bool, error)
}

// categoryAgents picks an agent for queued tasks that do not name one.
var categoryAgents = map[queue.Category]agent.Kind{
	queue.CategorySecurity:      agent.KindClaude,
	queue.CategoryBackend:       agent.KindClaude,
	queue.CategoryFrontend:      agent.KindGemini,
	queue.CategoryTesting:       agent.KindCodex,
	queue.CategoryDocumentation: agent.KindGemini,
	queue.CategoryDevops:        agent.KindCodex,
	queue.CategoryRefactoring:   agent.KindCodex,
	queue.CategoryBugfix:        agent.KindCodex,
	queue.CategoryFeature:       agent.KindClaude,
}

var categoryTypes = map[queue.Category]task.Type{
	queue.CategorySecurity:      task.TypeSecurity,
	queue.CategoryTesting:       task.TypeTesting,
	queue.CategoryDocumentation: task.TypeDocumentation,
	queue.CategoryRefactoring:   task.TypeRefactor,
	queue.CategoryBugfix:        task.TypeDebug,
}

// AgentFor is the agent a queued task runs on.
func AgentFor(t *queue.Task) (agent.Kind, error) {
	if t.Agent != "" {
		return agent.ParseKind(t.Agent)
	}
	if k, ok := categoryAgents[t.Category]; ok {
		return k, nil
	}
	return agent.KindClaude, nil
}

func TypeFor(c queue.Category) task.Type {
	if t, ok := categoryTypes[c]; ok {
		return t
	}
	return task.TypeReview
}

type Orchestrator struct {
	queue    *queue.Queue
	executor Executor
	gate     Gate
	interval time.Duration
}

func New(q *queue.Queue, executor Executor, gate Gate, interval time.Duration) *Orchestrator {
	return &Orchestrator{queue: q, executor: executor, gate: gate, interval: interval}
}

// Start ticks until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	slog.Info("orchestrator started", slog.Duration("interval", o.interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator stopped")
			return
		case <-ticker.C:
			if _, err := o.Tick(ctx); err != nil && ctx.Err() == nil {
				slog.Error("orchestrator: tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick applies age boosts and runs the highest ranked pending task whose
// agent is free, provided the budget allows. Tasks waiting on a busy agent
// keep their place. It returns the queue task it ran, or nil.
func (o *Orchestrator) Tick(ctx context.Context) (*queue.Task, error) {
	boosted, err := o.queue.ApplyAgeBoosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply age boosts: %w", err)
	}
	if boosted > 0 {
		slog.InfoContext(ctx, "orchestrator: boosted waiting tasks", slog.Int("count", boosted))
	}

	over, err := o.gate.OverBudget(ctx)
	if err != nil {
		return nil, err
	}
	if over {
		slog.WarnContext(ctx, "orchestrator: daily budget reached, queue paused")
		return nil, nil
	}

	pending, err := o.queue.List(ctx, queue.Filter{Status: queue.StatusPending}, 0)
	if err != nil {
		return nil, err
	}
	for _, next := range pending {
		kind, err := AgentFor(next)
		if err != nil {
			if _, berr := o.queue.Block(ctx, next.ID, err.Error()); berr != nil {
				return nil, berr
			}
			slog.WarnContext(ctx, "orchestrator: blocked task with unknown agent", slog.String("queue_task_id", next.ID), slog.Any("error", err))
			continue
		}
		if !o.gate.IsAvailable(kind) {
			slog.DebugContext(ctx, "orchestrator: agent busy", slog.String("queue_task_id", next.ID), slog.String("agent", string(kind)))
			continue
		}
		if _, err := o.queue.Start(ctx, next.ID, string(kind)); err != nil {
			return nil, err
		}
		return o.run(ctx, next, kind)
	}
	return nil, nil
}

func (o *Orchestrator) run(ctx context.Context, qt *queue.Task, kind agent.Kind) (*queue.Task, error) {
	log := slog.With(slog.String("queue_task_id", qt.ID), slog.String("agent", string(kind)))
	out, runErr := o.executor.RunPrompt(ctx, &command.PromptRequest{
		Type:        TypeFor(qt.Category),
		Agent:       kind,
		Description: qt.Description,
		Prompt:      qt.Description,
	})
	if out != nil && out.Task != nil {
		if _, err := o.queue.SetLedgerID(ctx, qt.ID, out.Task.ID); err != nil {
			log.WarnContext(ctx, "orchestrator: failed to link ledger task", slog.Any("error", err))
		}
	}

	if runErr == nil {
		log.InfoContext(ctx, "orchestrator: queue task completed")
		return o.queue.Complete(ctx, qt.ID, out.Text)
	}

	// A failed entry stays failed; requeueing is an explicit queue retry.
	t, err := o.queue.Fail(ctx, qt.ID, runErr.Error())
	if err != nil {
		return nil, err
	}
	log.ErrorContext(ctx, "orchestrator: queue task failed", slog.Any("error", runErr))
	return t, nil
}
