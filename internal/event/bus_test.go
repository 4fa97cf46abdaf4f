package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBus(t *testing.T) *Bus {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()
	go func() { _ = b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	return b
}

func TestBus_PublishSubscribeTyped(t *testing.T) {
	b := NewBus()
	received := make(chan *Event[TaskCreatedData], 1)
	SubscribeTyped(b, "test", func(_ context.Context, ev *Event[TaskCreatedData]) error {
		received <- ev
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	require.NoError(t, b.Publish(ctx, "test_source", TaskCreatedData{TaskID: "TASK-001", Type: "review"}))

	select {
	case ev := <-received:
		assert.Equal(t, "TASK-001", ev.Data.TaskID)
		assert.Equal(t, "review", ev.Data.Type)
		assert.Equal(t, "test_source", ev.Source)
		assert.Len(t, ev.ID, 26)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not handled within timeout")
	}
}

func TestBus_TypeRouting(t *testing.T) {
	b := startBus(t)
	ctx := context.Background()

	agentEvents := make(chan *Message, 4)
	allEvents := make(chan *Message, 4)
	b.Subscribe(AgentStatusChanged, "agent", func(_ context.Context, msg *Message) error {
		agentEvents <- msg
		return nil
	})
	b.SubscribeAll("all", func(_ context.Context, msg *Message) error {
		allEvents <- msg
		return nil
	})

	require.NoError(t, b.Publish(ctx, "t", TaskCreatedData{TaskID: "TASK-001"}))
	require.NoError(t, b.Publish(ctx, "t", AgentStatusChangedData{Agent: "codex", ToStatus: "busy"}))

	assert.Eventually(t, func() bool { return len(allEvents) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, agentEvents, 1)
	msg := <-agentEvents
	assert.Equal(t, AgentStatusChanged, msg.Type)
}

func TestBus_HandlerFailuresDoNotStopDelivery(t *testing.T) {
	b := startBus(t)
	ctx := context.Background()

	got := make(chan string, 2)
	b.Subscribe(TaskCreated, "panics", func(context.Context, *Message) error {
		panic("boom")
	})
	b.Subscribe(TaskCreated, "errors", func(context.Context, *Message) error {
		return errors.New("nope")
	})
	SubscribeTyped(b, "ok", func(_ context.Context, ev *Event[TaskCreatedData]) error {
		got <- ev.Data.TaskID
		return nil
	})

	require.NoError(t, b.Publish(ctx, "t", TaskCreatedData{TaskID: "TASK-001"}))
	require.NoError(t, b.Publish(ctx, "t", TaskCreatedData{TaskID: "TASK-002"}))

	assert.Eventually(t, func() bool { return len(got) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "TASK-001", <-got)
	assert.Equal(t, "TASK-002", <-got)
}

func TestBus_NilAndClosed(t *testing.T) {
	var nilBus *Bus
	assert.NoError(t, nilBus.Publish(context.Background(), "t", TaskCreatedData{}))

	b := NewBus()
	b.Close()
	assert.ErrorIs(t, b.Publish(context.Background(), "t", TaskCreatedData{}), ErrBusClosed)
}
