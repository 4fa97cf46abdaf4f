package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/pkg/cerr"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	db, err := sqlitedb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(db, WithClock(c.now)), c
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"P0": P0Critical, "0": P0Critical, "critical": P0Critical, "P0-CRITICAL": P0Critical,
		"p1": P1High, "HIGH": P1High, "2": P2Medium, "medium": P2Medium, "P3-LOW": P3Low, " low ": P3Low,
	}
	for in, want := range tests {
		got, err := ParsePriority(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "P4", "4", "urgent"} {
		_, err := ParsePriority(in)
		assert.Error(t, err, in)
	}
}

func TestQueue_Ordering(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(t)

	low, err := q.Add(ctx, &AddRequest{Description: "tidy docs", Priority: P3Low, Category: CategoryDocumentation})
	require.NoError(t, err)
	c.advance(time.Minute)
	high1, err := q.Add(ctx, &AddRequest{Description: "fix login", Priority: P1High, Category: CategoryBugfix})
	require.NoError(t, err)
	c.advance(time.Minute)
	_, err = q.Add(ctx, &AddRequest{Description: "fix logout", Priority: P1High})
	require.NoError(t, err)

	next, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, high1.ID, next.ID, "same priority runs oldest first")

	all, err := q.List(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, low.ID, all[2].ID)
	assert.Equal(t, CategoryOther, all[1].Category)

	_, err = q.Add(ctx, &AddRequest{Description: " ", Priority: P1High})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	_, err = q.Add(ctx, &AddRequest{ID: high1.ID, Description: "dup", Priority: P1High})
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))
}

func TestQueue_Lifecycle(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(t)

	tk, err := q.Add(ctx, &AddRequest{Description: "write tests", Priority: P2Medium, Category: CategoryTesting})
	require.NoError(t, err)

	c.advance(30 * time.Second)
	started, err := q.Start(ctx, tk.ID, "codex")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)
	assert.Equal(t, "codex", started.Agent)

	_, err = q.Start(ctx, tk.ID, "codex")
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = q.Next(ctx)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	done, err := q.Complete(ctx, tk.ID, "42 tests")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "42 tests", done.Result)
	require.NotNil(t, done.CompletedAt)

	hist, err := q.History(ctx, tk.ID)
	require.NoError(t, err)
	var actions []string
	for _, h := range hist {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []string{"created", "started", "completed"}, actions)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 30*time.Second, stats.AvgWait)
	assert.Zero(t, stats.QueueSize)

	require.NoError(t, q.Delete(ctx, tk.ID))
	_, err = q.Get(ctx, tk.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestQueue_Retry(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	tk, err := q.Add(ctx, &AddRequest{Description: "flaky", Priority: P1High, MaxRetries: 2})
	require.NoError(t, err)

	_, err = q.Retry(ctx, tk.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "pending tasks are not retried")

	for i := 1; i <= 2; i++ {
		_, err = q.Start(ctx, tk.ID, "claude")
		require.NoError(t, err)
		_, err = q.Fail(ctx, tk.ID, "boom")
		require.NoError(t, err)
		retried, err := q.Retry(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, retried.Status)
		assert.Equal(t, i, retried.RetryCount)
		assert.Nil(t, retried.CompletedAt)
	}

	_, err = q.Start(ctx, tk.ID, "claude")
	require.NoError(t, err)
	_, err = q.Fail(ctx, tk.ID, "boom")
	require.NoError(t, err)
	final, err := q.Retry(ctx, tk.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, cerr.IsCode(err, cerr.ResourceExhausted))
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 2, final.RetryCount)
}

func TestQueue_ApplyAgeBoosts(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(t)

	p3, err := q.Add(ctx, &AddRequest{Description: "low", Priority: P3Low})
	require.NoError(t, err)
	p2, err := q.Add(ctx, &AddRequest{Description: "medium", Priority: P2Medium})
	require.NoError(t, err)
	p1, err := q.Add(ctx, &AddRequest{Description: "high", Priority: P1High})
	require.NoError(t, err)
	p0, err := q.Add(ctx, &AddRequest{Description: "critical", Priority: P0Critical})
	require.NoError(t, err)

	c.advance(3 * time.Hour)
	n, err := q.ApplyAgeBoosts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.advance(time.Hour) // 4h
	n, err = q.ApplyAgeBoosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c.advance(4 * time.Hour) // 8h: p3 is now P2 and old enough again, p2 reaches its threshold
	n, err = q.ApplyAgeBoosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c.advance(16 * time.Hour) // 24h
	n, err = q.ApplyAgeBoosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	get := func(id string) *Task {
		tk, err := q.Get(ctx, id)
		require.NoError(t, err)
		return tk
	}
	assert.Equal(t, P0Critical, get(p3.ID).Priority)
	assert.Equal(t, 3, get(p3.ID).BoostCount)
	assert.Equal(t, P3Low, get(p3.ID).OriginalPriority)
	assert.Equal(t, P0Critical, get(p2.ID).Priority)
	assert.Equal(t, P0Critical, get(p1.ID).Priority)
	assert.Equal(t, 0, get(p0.ID).BoostCount)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Boosted)
	assert.Equal(t, 4, stats.PendingByPriority[P0Critical])
	assert.Equal(t, 24*time.Hour, stats.OldestPendingAge)
}

func TestQueue_Batches(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(t)

	var ids []string
	for i := range 12 {
		tk, err := q.Add(ctx, &AddRequest{Description: "harden endpoint " + string(rune('a'+i)), Priority: P1High, Category: CategorySecurity})
		require.NoError(t, err)
		ids = append(ids, tk.ID)
		c.advance(time.Second)
	}
	_, err := q.Add(ctx, &AddRequest{Description: "urgent docs", Priority: P0Critical, Category: CategoryDocumentation})
	require.NoError(t, err)

	b, err := q.NextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, P0Critical, b.Priority)
	assert.Len(t, b.Tasks, 1)

	// finish the P0 batch so the security batch comes next
	_, err = q.Complete(ctx, b.Tasks[0].ID, "done")
	require.NoError(t, err)

	b, err = q.NextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, CategorySecurity, b.Category)
	require.Len(t, b.Tasks, BatchSizeLimit)

	prompt := ExportBatch(b)
	assert.Contains(t, prompt, "Complete ALL of the following tasks. Number your responses clearly.\n")
	assert.Contains(t, prompt, "**Task 1 ["+ids[0]+"]:** harden endpoint a\n")
	assert.Contains(t, prompt, "**Task 10 ["+ids[9]+"]:** harden endpoint j\n")

	reply := "Here are my answers.\n\n" +
		"**Task 1 [" + ids[0] + "]:** Added rate limiting.\nAlso added tests.\n\n" +
		"**Task 2 [" + ids[1] + "]:** Validated input.\n\n" +
		"**Task 3 [q_unknown]:** Nothing to do.\n"
	rep, err := q.ImportResults(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[1]}, rep.Completed)
	assert.Equal(t, []string{"q_unknown"}, rep.Unknown)

	first, err := q.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, "Added rate limiting.\nAlso added tests.", first.Result)
	assert.Equal(t, b.ID, first.BatchID)

	_, err = q.NextBatch(ctx)
	require.NoError(t, err)
}

func TestQueue_ImportTasks(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	text := "**Task 1 [T-1]:** first thing\n**Task 2 [T-2]:** second thing\n"
	added, err := q.ImportTasks(ctx, text, CategoryFeature)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "T-1", added[0].ID)
	assert.Equal(t, P2Medium, added[0].Priority)

	again, err := q.ImportTasks(ctx, text, CategoryFeature)
	require.NoError(t, err)
	assert.Empty(t, again)
}
