package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/pkg/cerr"
)

func TestRegistry_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	require.NoError(t, r.Acquire(ctx, KindCodex, "TASK-001"))
	err := r.Acquire(ctx, KindCodex, "TASK-002")
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	a, ok := r.Get(KindCodex)
	require.True(t, ok)
	assert.Equal(t, StatusBusy, a.Status)
	assert.Equal(t, "TASK-001", a.TaskID)
	assert.NotContains(t, r.Available(), KindCodex)

	err = r.Release(ctx, KindCodex, "TASK-002")
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	require.NoError(t, r.Release(ctx, KindCodex, "TASK-001"))
	assert.True(t, r.IsAvailable(KindCodex))
	require.NoError(t, r.Release(ctx, KindCodex, "TASK-001"))
}

func TestRegistry_MultiNeverBusy(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	require.NoError(t, r.Acquire(ctx, KindMulti, "TASK-001"))
	require.NoError(t, r.Acquire(ctx, KindMulti, "TASK-002"))
	a, _ := r.Get(KindMulti)
	assert.Equal(t, StatusIdle, a.Status)
	assert.True(t, a.Multi)
	assert.Contains(t, r.Available(), KindMulti)
}

func TestRegistry_MultiAvailableOnlyWhenAllIdle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	require.NoError(t, r.Acquire(ctx, KindGemini, "TASK-001"))
	assert.False(t, r.IsAvailable(KindMulti))
	assert.NotContains(t, r.Available(), KindMulti)
	a, _ := r.Get(KindMulti)
	assert.Equal(t, StatusIdle, a.Status)

	require.NoError(t, r.Release(ctx, KindGemini, "TASK-001"))
	assert.True(t, r.IsAvailable(KindMulti))
	assert.False(t, r.IsAvailable(Kind("copilot")))
}

func TestRegistry_UnknownAgent(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Acquire(context.Background(), Kind("copilot"), "TASK-001")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry(nil)
	var kinds []Kind
	for _, a := range r.List() {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, Kinds, kinds)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Gemini ")
	require.NoError(t, err)
	assert.Equal(t, KindGemini, k)
	_, err = ParseKind("copilot")
	assert.Error(t, err)
}
