package task

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/pkg/cerr"
)

// MaxOutputLen bounds the output kept on a task record, in runes.
const MaxOutputLen = 8000

// Estimator prices a task before it runs.
type Estimator interface {
	Estimate(taskType string, input string) (usd float64, tokens int)
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithEstimator(e Estimator) Option {
	return func(l *Ledger) { l.estimator = e }
}

// Ledger owns every task record. All mutations persist the full list before
// they become visible.
type Ledger struct {
	repo      Repository
	bus       *event.Bus
	estimator Estimator
	now       func() time.Time

	mu    sync.Mutex
	tasks []*Task
	seq   int
}

func NewLedger(repo Repository, bus *event.Bus, opts ...Option) *Ledger {
	l := &Ledger{
		repo: repo,
		bus:  bus,
		now:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load reads persisted tasks and the id sequence, then prunes finished tasks
// from earlier days.
func (l *Ledger) Load(ctx context.Context) error {
	tasks, err := l.repo.LoadTasks(ctx)
	if err != nil {
		return cerr.WrapStorageReadError("tasks", err)
	}
	seq, err := l.repo.LoadSequence(ctx)
	if err != nil {
		return cerr.WrapStorageReadError("task sequence", err)
	}
	for _, t := range tasks {
		if n, ok := parseID(t.ID); ok && n > seq {
			seq = n
		}
	}

	l.mu.Lock()
	l.tasks = tasks
	l.seq = seq
	l.mu.Unlock()

	pruned, err := l.PruneBefore(ctx, l.now())
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "task ledger loaded",
		slog.Int("tasks", len(tasks)-len(pruned)),
		slog.Int("pruned", len(pruned)),
		slog.Int("sequence", seq),
	)
	return nil
}

func (l *Ledger) Create(ctx context.Context, req *CreateRequest) (*Task, error) {
	if _, err := ParseType(string(req.Type)); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, err.Error(), nil).WithViolation("type", err.Error())
	}
	if req.Agent == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "agent is required").WithViolation("agent", "must not be empty")
	}

	l.mu.Lock()
	next := l.seq + 1
	if err := l.repo.SaveSequence(ctx, next); err != nil {
		l.mu.Unlock()
		return nil, cerr.WrapStorageWriteError("task sequence", err)
	}
	l.seq = next

	now := l.now()
	t := &Task{
		ID:          formatID(next),
		Type:        req.Type,
		Description: req.Description,
		Agent:       req.Agent,
		Command:     req.Command,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if l.estimator != nil {
		input := req.Input
		if input == "" {
			input = req.Description
		}
		usd, tokens := l.estimator.Estimate(string(req.Type), input)
		t.EstimatedCost = &usd
		t.Tokens = &tokens
	}
	err := l.commitLocked(ctx, append(slices.Clip(l.tasks), t))
	out := t.Clone()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.publish(ctx, event.TaskCreatedData{
		TaskID:      out.ID,
		Type:        string(out.Type),
		Agent:       out.Agent,
		Description: out.Description,
	})
	return out, nil
}

func (l *Ledger) Get(_ context.Context, id string) (*Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.findLocked(id)
	if t == nil {
		return nil, cerr.Errorf(cerr.NotFound, "task %s not found", id)
	}
	return t.Clone(), nil
}

// List returns matching tasks newest first together with the total number
// of matches before paging. A non-positive limit returns everything.
func (l *Ledger) List(_ context.Context, f Filter, limit, offset int) ([]*Task, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []*Task
	for i := len(l.tasks) - 1; i >= 0; i-- {
		if f.Match(l.tasks[i]) {
			matched = append(matched, l.tasks[i])
		}
	}
	total := len(matched)
	if offset > 0 {
		if offset >= len(matched) {
			return []*Task{}, total
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*Task, 0, len(matched))
	for _, t := range matched {
		out = append(out, t.Clone())
	}
	return out, total
}

func (l *Ledger) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) (*Task, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, err.Error(), nil).WithViolation("status", err.Error())
	}

	l.mu.Lock()
	t := l.findLocked(id)
	if t == nil {
		l.mu.Unlock()
		return nil, cerr.Errorf(cerr.NotFound, "task %s not found", id)
	}
	from := t.Status
	if !from.CanTransition(status) {
		l.mu.Unlock()
		return nil, cerr.Errorf(cerr.FailedPrecondition, "task %s cannot move from %s to %s", id, from, status)
	}

	now := l.now()
	u := t.Clone()
	u.Status = status
	u.UpdatedAt = now
	if status == StatusInProgress && u.StartedAt == nil {
		u.StartedAt = &now
	}
	if status.IsTerminal() {
		u.CompletedAt = &now
	}
	if errMsg != "" {
		u.Error = errMsg
	}
	err := l.commitLocked(ctx, l.replacedLocked(u))
	out := u.Clone()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.publish(ctx, event.TaskStatusChangedData{
		TaskID:     out.ID,
		Type:       string(out.Type),
		Agent:      out.Agent,
		Command:    out.Command,
		FromStatus: string(from),
		ToStatus:   string(status),
		Error:      errMsg,
	})
	return out, nil
}

func (l *Ledger) Cancel(ctx context.Context, id string) (*Task, error) {
	return l.UpdateStatus(ctx, id, StatusCancelled, "")
}

// RecordResult stores the captured output and the measured cost.
func (l *Ledger) RecordResult(ctx context.Context, id, output string, actualCost float64, tokens int) (*Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.findLocked(id)
	if t == nil {
		return nil, cerr.Errorf(cerr.NotFound, "task %s not found", id)
	}
	u := t.Clone()
	u.Output = truncate(output, MaxOutputLen)
	u.ActualCost = &actualCost
	u.Tokens = &tokens
	u.UpdatedAt = l.now()
	if err := l.commitLocked(ctx, l.replacedLocked(u)); err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

func (l *Ledger) Metrics(_ context.Context) *Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := &Metrics{
		Total:    len(l.tasks),
		ByStatus: make(map[Status]int),
		ByAgent:  make(map[string]int),
	}
	for _, t := range l.tasks {
		m.ByStatus[t.Status]++
		m.ByAgent[t.Agent]++
		if t.EstimatedCost != nil {
			m.EstimatedCost += *t.EstimatedCost
		}
		if t.ActualCost != nil {
			m.ActualCost += *t.ActualCost
		}
		if t.Tokens != nil {
			m.Tokens += *t.Tokens
		}
	}
	return m
}

// PruneBefore removes terminal tasks completed before the calendar day of
// day (in its location) and returns their ids.
func (l *Ledger) PruneBefore(ctx context.Context, day time.Time) ([]string, error) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())

	l.mu.Lock()
	var pruned []string
	kept := l.tasks[:0:0]
	for _, t := range l.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(start) {
			pruned = append(pruned, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	if len(pruned) == 0 {
		l.mu.Unlock()
		return nil, nil
	}
	err := l.commitLocked(ctx, kept)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.publish(ctx, event.TaskPrunedData{TaskIDs: slices.Clone(pruned), Before: start.Format(time.DateOnly)})
	return pruned, nil
}

// Active returns the tasks that are not terminal, oldest first.
func (l *Ledger) Active(_ context.Context) []*Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Task
	for _, t := range l.tasks {
		if !t.Status.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (l *Ledger) findLocked(id string) *Task {
	for _, t := range l.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// commitLocked persists tasks and only then makes them the ledger, so a
// failed save leaves the previous state untouched.
func (l *Ledger) commitLocked(ctx context.Context, tasks []*Task) error {
	if err := l.repo.SaveTasks(ctx, tasks); err != nil {
		return cerr.WrapStorageWriteError("tasks", err)
	}
	l.tasks = tasks
	return nil
}

// replacedLocked returns a copy of the task list with u in place of the
// record that has its id.
func (l *Ledger) replacedLocked(u *Task) []*Task {
	out := slices.Clone(l.tasks)
	for i, t := range out {
		if t.ID == u.ID {
			out[i] = u
		}
	}
	return out
}

func (l *Ledger) publish(ctx context.Context, data event.Data) {
	if err := l.bus.Publish(ctx, "task-ledger", data); err != nil {
		slog.WarnContext(ctx, "failed to publish task event",
			slog.String("event_type", string(data.EventType())),
			slog.Any("error", err),
		)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + fmt.Sprintf("\n... [truncated %d chars]", len(r)-n)
}
