// Package service bundles the daemon-owned state: the task ledger, the agent
// registry and the daily cost tracker.
package service

import (
	"context"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/internal/statusbar"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/storage"
)

type Services struct {
	Ledger   *task.Ledger
	Registry *agent.Registry
	Tracker  *cost.DailyTracker
	Bus      *event.Bus
}

type Options struct {
	BudgetUSD float64
	TaskOpts  []task.Option
	CostOpts  []cost.TrackerOption
}

// New builds the services on st and loads their persisted state.
func New(ctx context.Context, st storage.Storage, bus *event.Bus, o Options) (*Services, error) {
	taskOpts := append([]task.Option{task.WithEstimator(cost.NewEstimator())}, o.TaskOpts...)
	costOpts := append([]cost.TrackerOption{cost.WithBudget(o.BudgetUSD), cost.WithEventBus(bus)}, o.CostOpts...)
	s := &Services{
		Ledger:   task.NewLedger(task.NewStorageRepository(st), bus, taskOpts...),
		Registry: agent.NewRegistry(bus),
		Tracker:  cost.NewDailyTracker(st, costOpts...),
		Bus:      bus,
	}
	if err := s.Ledger.Load(ctx); err != nil {
		return nil, err
	}
	if err := s.Tracker.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) CreateTask(ctx context.Context, req *task.CreateRequest) (*task.Task, error) {
	return s.Ledger.Create(ctx, req)
}

func (s *Services) UpdateTaskStatus(ctx context.Context, id string, status task.Status, errMsg string) (*task.Task, error) {
	return s.Ledger.UpdateStatus(ctx, id, status, errMsg)
}

func (s *Services) RecordTaskResult(ctx context.Context, id, output string, actualCost float64, tokens int) (*task.Task, error) {
	return s.Ledger.RecordResult(ctx, id, output, actualCost, tokens)
}

func (s *Services) AcquireAgent(ctx context.Context, kind agent.Kind, taskID string) error {
	return s.Registry.Acquire(ctx, kind, taskID)
}

func (s *Services) ReleaseAgent(ctx context.Context, kind agent.Kind, taskID string) error {
	return s.Registry.Release(ctx, kind, taskID)
}

func (s *Services) AddCost(ctx context.Context, taskID string, amount float64) (float64, error) {
	return s.Tracker.Add(ctx, taskID, amount)
}

func (s *Services) OverBudget(context.Context) (bool, error) {
	return s.Tracker.OverBudget(), nil
}

func (s *Services) IsAvailable(kind agent.Kind) bool {
	return s.Registry.IsAvailable(kind)
}

// Status is the statusbar snapshot of the daemon state.
func (s *Services) Status(ctx context.Context) *statusbar.Snapshot {
	return &statusbar.Snapshot{
		Agents: s.Registry.List(),
		Active: s.Ledger.Active(ctx),
		Cost:   s.Tracker.Summary(),
	}
}
