package cost

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kazz187/triguild/pkg/storage"
)

func TestEstimator_Table(t *testing.T) {
	e := NewEstimator()
	input := strings.Repeat("x", 2000)
	tests := []struct {
		taskType string
		want     float64
	}{
		{"review", 0.030},
		{"security", 0.050},
		{"testing", 0.040},
		{"refactor", 0.036},
		{"documentation", 0.020},
		{"architecture", 0.060},
		{"debug", 0.040},
		{"multi", 0.120},
		{"haiku", 0.030},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			usd, tokens := e.Estimate(tt.taskType, input)
			assert.InDelta(t, tt.want, usd, 1e-9)
			assert.Equal(t, 500, tokens)
		})
	}
}

func TestEstimator_CountsRunes(t *testing.T) {
	usd, tokens := NewEstimator().Estimate("review", "日本語です")
	assert.InDelta(t, 5.0/1000*0.015, usd, 1e-12)
	assert.Equal(t, 2, tokens)
}

func TestEstimator_Linear(t *testing.T) {
	e := NewEstimator()
	rapid.Check(t, func(rt *rapid.T) {
		taskType := rapid.SampledFrom([]string{"review", "security", "multi", "unknown"}).Draw(rt, "type")
		n := rapid.IntRange(0, 5000).Draw(rt, "n")
		k := rapid.IntRange(1, 5).Draw(rt, "k")

		one, _ := e.Estimate(taskType, strings.Repeat("a", n))
		many, _ := e.Estimate(taskType, strings.Repeat("a", n*k))
		if diff := many - one*float64(k); diff > 1e-9 || diff < -1e-9 {
			rt.Fatalf("estimate not linear: f(%d)=%v, f(%d)=%v", n, one, n*k, many)
		}
	})
}

func TestDailyTracker_ResetsOnDayChange(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 22, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tr := NewDailyTracker(s, WithTrackerClock(clock), WithBudget(1))
	require.NoError(t, tr.Load(ctx))
	total, err := tr.Add(ctx, "TASK-001", 0.6)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, total, 1e-9)
	assert.False(t, tr.OverBudget())
	_, err = tr.Add(ctx, "TASK-002", 0.4)
	require.NoError(t, err)
	assert.True(t, tr.OverBudget())

	// same day reload keeps the total
	tr2 := NewDailyTracker(s, WithTrackerClock(clock))
	require.NoError(t, tr2.Load(ctx))
	assert.InDelta(t, 1.0, tr2.Total(), 1e-9)

	// next day reload resets
	now = now.Add(3 * time.Hour)
	tr3 := NewDailyTracker(s, WithTrackerClock(clock))
	require.NoError(t, tr3.Load(ctx))
	assert.Zero(t, tr3.Total())

	var doc dailyDoc
	require.NoError(t, storage.ReadJSON(ctx, s, dailyCostKey, &doc))
	assert.Equal(t, "2026-05-05", doc.Date)
	assert.Zero(t, doc.Total)
}

func TestDailyTracker_RollsWhileRunning(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 23, 59, 0, 0, time.UTC)
	tr := NewDailyTracker(s, WithTrackerClock(func() time.Time { return now }))
	require.NoError(t, tr.Load(ctx))
	_, err = tr.Add(ctx, "TASK-001", 2)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Zero(t, tr.Total())
	total, err := tr.Add(ctx, "TASK-002", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, total, 1e-9)
	assert.Equal(t, "2026-05-05", tr.Summary().Date)
}

func TestDailyTracker_RejectsNegative(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	tr := NewDailyTracker(s)
	_, err = tr.Add(context.Background(), "", -1)
	assert.Error(t, err)
}
