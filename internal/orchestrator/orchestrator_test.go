package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/queue"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/internal/service"
	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/storage"
)

type fixture struct {
	queue *queue.Queue
	svc   *service.Services
	orch  *Orchestrator
}

func newFixture(t *testing.T, budget float64, runners ...runner.Runner) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc, err := service.New(ctx, st, nil, service.Options{BudgetUSD: budget})
	require.NoError(t, err)

	q := queue.New(db)
	exec := command.NewExecutor(command.StaticSource(command.DefaultCatalog()), svc, runner.NewSet(runners...), nil)
	return &fixture{queue: q, svc: svc, orch: New(q, exec, svc, time.Minute)}
}

func TestAgentFor(t *testing.T) {
	k, err := AgentFor(&queue.Task{Category: queue.CategoryTesting})
	require.NoError(t, err)
	assert.Equal(t, agent.KindCodex, k)

	k, err = AgentFor(&queue.Task{Category: queue.CategoryOther})
	require.NoError(t, err)
	assert.Equal(t, agent.KindClaude, k)

	k, err = AgentFor(&queue.Task{Agent: "gemini", Category: queue.CategoryTesting})
	require.NoError(t, err)
	assert.Equal(t, agent.KindGemini, k)

	_, err = AgentFor(&queue.Task{Agent: "gpt"})
	assert.Error(t, err)

	assert.Equal(t, task.TypeSecurity, TypeFor(queue.CategorySecurity))
	assert.Equal(t, task.TypeReview, TypeFor(queue.CategoryFeature))
}

func TestTick_RunsHeadOfQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, runner.Static(agent.KindCodex, "tests written"))

	low, err := f.queue.Add(ctx, &queue.AddRequest{Description: "docs", Priority: queue.P3Low, Category: queue.CategoryTesting})
	require.NoError(t, err)
	high, err := f.queue.Add(ctx, &queue.AddRequest{Description: "cover the parser", Priority: queue.P0Critical, Category: queue.CategoryTesting})
	require.NoError(t, err)

	got, err := f.orch.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, high.ID, got.ID)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Equal(t, "tests written", got.Result)
	assert.Equal(t, "codex", got.Agent)
	require.NotEmpty(t, got.LedgerID)

	lt, err := f.svc.Ledger.Get(ctx, got.LedgerID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, lt.Status)
	assert.Equal(t, task.TypeTesting, lt.Type)
	assert.Equal(t, "cover the parser", lt.Description)

	pending, err := f.queue.Get(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, pending.Status)
}

func TestTick_Idle(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		f := newFixture(t, 0)
		got, err := f.orch.Tick(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("agent busy", func(t *testing.T) {
		f := newFixture(t, 0, runner.Static(agent.KindClaude, "x"))
		qt, err := f.queue.Add(ctx, &queue.AddRequest{Description: "audit", Category: queue.CategorySecurity})
		require.NoError(t, err)
		require.NoError(t, f.svc.AcquireAgent(ctx, agent.KindClaude, "TASK-001"))

		got, err := f.orch.Tick(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
		stored, err := f.queue.Get(ctx, qt.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, stored.Status)
	})

	t.Run("over budget", func(t *testing.T) {
		f := newFixture(t, 0.01, runner.Static(agent.KindClaude, "x"))
		_, err := f.svc.AddCost(ctx, "", 1)
		require.NoError(t, err)
		_, err = f.queue.Add(ctx, &queue.AddRequest{Description: "audit", Category: queue.CategorySecurity})
		require.NoError(t, err)

		got, err := f.orch.Tick(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown agent blocks", func(t *testing.T) {
		f := newFixture(t, 0)
		qt, err := f.queue.Add(ctx, &queue.AddRequest{Description: "x", Agent: "gpt"})
		require.NoError(t, err)
		_, err = f.orch.Tick(ctx)
		require.NoError(t, err)
		stored, err := f.queue.Get(ctx, qt.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusBlocked, stored.Status)
	})
}

func TestTick_SkipsTasksWaitingOnBusyAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0,
		runner.Static(agent.KindClaude, "audited"),
		runner.Static(agent.KindCodex, "tests written"),
	)
	audit, err := f.queue.Add(ctx, &queue.AddRequest{Description: "audit", Priority: queue.P0Critical, Category: queue.CategorySecurity})
	require.NoError(t, err)
	tests, err := f.queue.Add(ctx, &queue.AddRequest{Description: "cover the parser", Priority: queue.P3Low, Category: queue.CategoryTesting})
	require.NoError(t, err)
	require.NoError(t, f.svc.AcquireAgent(ctx, agent.KindClaude, "TASK-999"))

	got, err := f.orch.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tests.ID, got.ID)
	assert.Equal(t, queue.StatusCompleted, got.Status)

	waiting, err := f.queue.Get(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, waiting.Status)
}

func TestTick_FailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	f := newFixture(t, 0, runner.Func{K: agent.KindGemini, Fn: func(context.Context, string) (*runner.Result, error) {
		calls.Add(1)
		return nil, errors.New("quota exceeded")
	}})
	qt, err := f.queue.Add(ctx, &queue.AddRequest{Description: "write docs", Priority: queue.P1High, Category: queue.CategoryDocumentation})
	require.NoError(t, err)

	got, err := f.orch.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, qt.ID, got.ID)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Contains(t, got.Error, "quota exceeded")

	for range 4 {
		got, err = f.orch.Tick(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int32(1), calls.Load())

	tasks, total := f.svc.Ledger.List(ctx, task.Filter{Status: task.StatusFailed}, 0, 0)
	assert.Equal(t, 1, total)
	assert.Len(t, tasks, 1)

	// an explicit retry puts it back in line
	_, err = f.queue.Retry(ctx, qt.ID)
	require.NoError(t, err)
	got, err = f.orch.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(t, 0)
	f.orch.interval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orch.Start(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
