package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/storage"
)

type fixedEstimator struct{}

func (fixedEstimator) Estimate(_ string, input string) (float64, int) {
	return float64(len(input)) / 1000, len(input) / 4
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLedger(t *testing.T, s storage.Storage, c *clock) *Ledger {
	t.Helper()
	l := NewLedger(NewStorageRepository(s), nil, WithClock(c.now), WithEstimator(fixedEstimator{}))
	require.NoError(t, l.Load(context.Background()))
	return l
}

func newStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

// failingRepo wraps a real repository and fails task saves while broken.
type failingRepo struct {
	Repository
	broken bool
}

func (r *failingRepo) SaveTasks(ctx context.Context, tasks []*Task) error {
	if r.broken {
		return errors.New("disk full")
	}
	return r.Repository.SaveTasks(ctx, tasks)
}

func TestLedger_FailedSaveLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{Repository: NewStorageRepository(newStorage(t))}
	l := NewLedger(repo, nil, WithClock((&clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}).now))
	require.NoError(t, l.Load(ctx))

	kept, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Description: "kept", Agent: "claude"})
	require.NoError(t, err)

	repo.broken = true
	_, err = l.Create(ctx, &CreateRequest{Type: TypeReview, Description: "lost", Agent: "claude"})
	require.Error(t, err)
	tasks, total := l.List(ctx, Filter{}, 0, 0)
	assert.Equal(t, 1, total)
	assert.Equal(t, kept.ID, tasks[0].ID)

	_, err = l.UpdateStatus(ctx, kept.ID, StatusInProgress, "")
	require.Error(t, err)
	_, err = l.RecordResult(ctx, kept.ID, "output", 0.5, 10)
	require.Error(t, err)

	got, err := l.Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, got.Output)
	assert.Nil(t, got.ActualCost)

	repo.broken = false
	_, err = l.UpdateStatus(ctx, kept.ID, StatusInProgress, "")
	require.NoError(t, err)
	reloaded, err := repo.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Equal(t, StatusInProgress, reloaded[0].Status)
}

func TestLedger_CreateAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := newTestLedger(t, newStorage(t), c)

	a, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Description: "look", Agent: "claude", Input: "0123456789"})
	require.NoError(t, err)
	b, err := l.Create(ctx, &CreateRequest{Type: TypeSecurity, Description: "scan", Agent: "codex"})
	require.NoError(t, err)

	assert.Equal(t, "TASK-001", a.ID)
	assert.Equal(t, "TASK-002", b.ID)
	assert.Equal(t, StatusPending, a.Status)
	assert.Nil(t, a.CompletedAt)
	require.NotNil(t, a.EstimatedCost)
	assert.InDelta(t, 0.01, *a.EstimatedCost, 1e-9)
	require.NotNil(t, b.EstimatedCost)
	assert.InDelta(t, 0.004, *b.EstimatedCost, 1e-9)
}

func TestLedger_CreateValidation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newStorage(t), &clock{t: time.Now()})

	_, err := l.Create(ctx, &CreateRequest{Type: "poetry", Agent: "claude"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	_, err = l.Create(ctx, &CreateRequest{Type: TypeDebug})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestLedger_IDsSurviveRestartAndPrune(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := newTestLedger(t, s, c)

	for range 3 {
		tk, err := l.Create(ctx, &CreateRequest{Type: TypeDebug, Agent: "gemini"})
		require.NoError(t, err)
		_, err = l.Cancel(ctx, tk.ID)
		require.NoError(t, err)
	}

	// next day: every task is pruned on load but the sequence carries on
	c.t = c.t.Add(24 * time.Hour)
	l2 := newTestLedger(t, s, c)
	tasks, total := l2.List(ctx, Filter{}, 0, 0)
	assert.Empty(t, tasks)
	assert.Zero(t, total)

	tk, err := l2.Create(ctx, &CreateRequest{Type: TypeDebug, Agent: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-004", tk.ID)
}

func TestLedger_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		wantErr bool
	}{
		{name: "straight to completed", path: []Status{StatusInProgress, StatusCompleted}},
		{name: "verify loop", path: []Status{StatusInProgress, StatusReadyForVerify, StatusInProgress, StatusReadyForVerify, StatusVerified, StatusCompleted}},
		{name: "fail while verifying", path: []Status{StatusInProgress, StatusReadyForVerify, StatusFailed}},
		{name: "cancel pending", path: []Status{StatusCancelled}},
		{name: "skip in progress", path: []Status{StatusCompleted}, wantErr: true},
		{name: "verify without review", path: []Status{StatusInProgress, StatusVerified}, wantErr: true},
		{name: "terminal is final", path: []Status{StatusInProgress, StatusCompleted, StatusFailed}, wantErr: true},
		{name: "back to pending", path: []Status{StatusInProgress, StatusPending}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := newTestLedger(t, newStorage(t), &clock{t: time.Now()})
			tk, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Agent: "claude"})
			require.NoError(t, err)

			for i, st := range tt.path {
				_, err = l.UpdateStatus(ctx, tk.ID, st, "")
				if err != nil {
					require.True(t, tt.wantErr, "step %d (%s): %v", i, st, err)
					assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
					return
				}
			}
			assert.False(t, tt.wantErr, "expected the path to be rejected")
		})
	}
}

func TestLedger_TimestampsFollowStatus(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := newTestLedger(t, newStorage(t), c)

	tk, err := l.Create(ctx, &CreateRequest{Type: TypeTesting, Agent: "codex"})
	require.NoError(t, err)

	c.t = c.t.Add(time.Minute)
	tk, err = l.UpdateStatus(ctx, tk.ID, StatusInProgress, "")
	require.NoError(t, err)
	require.NotNil(t, tk.StartedAt)
	assert.Nil(t, tk.CompletedAt)

	tk, err = l.UpdateStatus(ctx, tk.ID, StatusReadyForVerify, "")
	require.NoError(t, err)
	assert.Nil(t, tk.CompletedAt)

	c.t = c.t.Add(time.Minute)
	tk, err = l.UpdateStatus(ctx, tk.ID, StatusFailed, "codex exited 1")
	require.NoError(t, err)
	require.NotNil(t, tk.CompletedAt)
	assert.Equal(t, "codex exited 1", tk.Error)
	assert.Equal(t, time.Minute, tk.Duration())
}

func TestLedger_ListFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newStorage(t), &clock{t: time.Now()})

	for _, agent := range []string{"claude", "codex", "claude", "gemini", "claude"} {
		_, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Agent: agent})
		require.NoError(t, err)
	}

	tasks, total := l.List(ctx, Filter{Agent: "claude"}, 2, 0)
	assert.Equal(t, 3, total)
	require.Len(t, tasks, 2)
	assert.Equal(t, "TASK-005", tasks[0].ID)
	assert.Equal(t, "TASK-003", tasks[1].ID)

	tasks, _ = l.List(ctx, Filter{Agent: "claude"}, 2, 2)
	require.Len(t, tasks, 1)
	assert.Equal(t, "TASK-001", tasks[0].ID)

	tasks, total = l.List(ctx, Filter{Agent: "claude"}, 2, 10)
	assert.Empty(t, tasks)
	assert.Equal(t, 3, total)
}

func TestLedger_RecordResultAndMetrics(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, newStorage(t), &clock{t: time.Now()})

	a, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Agent: "claude", Input: "abcd"})
	require.NoError(t, err)
	_, err = l.Create(ctx, &CreateRequest{Type: TypeReview, Agent: "multi", Input: "abcdefgh"})
	require.NoError(t, err)

	_, err = l.UpdateStatus(ctx, a.ID, StatusInProgress, "")
	require.NoError(t, err)
	got, err := l.RecordResult(ctx, a.ID, "looks fine", 0.5, 42)
	require.NoError(t, err)
	assert.Equal(t, "looks fine", got.Output)

	m := l.Metrics(ctx)
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 1, m.ByStatus[StatusInProgress])
	assert.Equal(t, 1, m.ByStatus[StatusPending])
	assert.Equal(t, 1, m.ByAgent["multi"])
	assert.InDelta(t, 0.012, m.EstimatedCost, 1e-9)
	assert.InDelta(t, 0.5, m.ActualCost, 1e-9)

	_, err = l.RecordResult(ctx, "TASK-999", "", 0, 0)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestLedger_PruneKeepsTodayAndActive(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	l := newTestLedger(t, newStorage(t), c)

	done, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Agent: "claude"})
	require.NoError(t, err)
	_, err = l.Cancel(ctx, done.ID)
	require.NoError(t, err)
	open, err := l.Create(ctx, &CreateRequest{Type: TypeReview, Agent: "codex"})
	require.NoError(t, err)

	pruned, err := l.PruneBefore(ctx, c.t)
	require.NoError(t, err)
	assert.Empty(t, pruned)

	pruned, err = l.PruneBefore(ctx, c.t.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{done.ID}, pruned)

	_, err = l.Get(ctx, open.ID)
	assert.NoError(t, err)
}

func TestLedger_PropertyIDsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		s, err := storage.NewLocalStorage(t.TempDir())
		if err != nil {
			rt.Fatal(err)
		}
		c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
		l := NewLedger(NewStorageRepository(s), nil, WithClock(c.now))
		if err := l.Load(ctx); err != nil {
			rt.Fatal(err)
		}

		last := 0
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := range steps {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0, 1:
				tk, err := l.Create(ctx, &CreateRequest{Type: TypeMulti, Agent: "multi"})
				if err != nil {
					rt.Fatal(err)
				}
				n, ok := parseID(tk.ID)
				if !ok || n <= last {
					rt.Fatalf("step %d: id %s not greater than %d", i, tk.ID, last)
				}
				last = n
			case 2:
				for _, tk := range l.Active(ctx) {
					if _, err := l.Cancel(ctx, tk.ID); err != nil {
						rt.Fatal(err)
					}
				}
			case 3:
				c.t = c.t.Add(25 * time.Hour)
				l = NewLedger(NewStorageRepository(s), nil, WithClock(c.now))
				if err := l.Load(ctx); err != nil {
					rt.Fatal(err)
				}
			}
		}

		tasks, _ := l.List(ctx, Filter{}, 0, 0)
		for _, tk := range tasks {
			if (tk.CompletedAt != nil) != tk.Status.IsTerminal() {
				rt.Fatalf("%s: completed_at set=%v with status %s", tk.ID, tk.CompletedAt != nil, tk.Status)
			}
		}
	})
}
