package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/storage"
)

func TestServices_Backend(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	s, err := New(ctx, st, nil, Options{BudgetUSD: 0.01})
	require.NoError(t, err)

	tk, err := s.CreateTask(ctx, &task.CreateRequest{Type: task.TypeReview, Description: "review", Agent: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-001", tk.ID)

	require.NoError(t, s.AcquireAgent(ctx, agent.KindClaude, tk.ID))
	err = s.AcquireAgent(ctx, agent.KindClaude, "TASK-999")
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	require.NoError(t, s.ReleaseAgent(ctx, agent.KindClaude, tk.ID))

	over, err := s.OverBudget(ctx)
	require.NoError(t, err)
	assert.False(t, over)

	_, err = s.AddCost(ctx, tk.ID, 0.02)
	require.NoError(t, err)
	over, err = s.OverBudget(ctx)
	require.NoError(t, err)
	assert.True(t, over)

	// state survives a reload
	s2, err := New(ctx, st, nil, Options{})
	require.NoError(t, err)
	got, err := s2.Ledger.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.InDelta(t, 0.02, s2.Tracker.Total(), 1e-9)
}
