package event

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/triguild/pkg/panicerr"
)

const outputBuffer = 256

var ErrBusClosed = errors.New("event bus closed")

// Handler receives serialized events.
type Handler func(ctx context.Context, msg *Message) error

// EventHandler is a function that handles typed events
type EventHandler[T Data] func(ctx context.Context, event *Event[T]) error

type subscriber struct {
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe bus. Publish enqueues and Run
// delivers messages to subscribers in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscriber
	all    []subscriber
	ch     chan *Message
	done   chan struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[EventType][]subscriber),
		ch:   make(chan *Message, outputBuffer),
		done: make(chan struct{}),
	}
}

// Publish serializes data and enqueues it. A nil bus drops the event.
func (b *Bus) Publish(ctx context.Context, source string, data Data) error {
	if b == nil {
		return nil
	}
	msg, err := NewMessage(source, data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- msg:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscriber{name: name, handler: handler})
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, subscriber{name: name, handler: handler})
}

// Run delivers events until ctx is cancelled or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case msg := <-b.ch:
			b.deliver(ctx, msg)
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *Bus) deliver(ctx context.Context, msg *Message) {
	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.subs[msg.Type])+len(b.all))
	targets = append(targets, b.subs[msg.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, s := range targets {
		handler := s.handler
		err := panicerr.SafeContext(func(ctx context.Context) error {
			return handler(ctx, msg)
		})(ctx)
		if err != nil {
			slog.WarnContext(ctx, "event handler failed",
				slog.String("handler", s.name),
				slog.String("event_type", string(msg.Type)),
				slog.String("event_id", msg.ID),
				slog.Any("error", err),
			)
		}
	}
}

// SubscribeTyped subscribes to typed events
func SubscribeTyped[T Data](b *Bus, name string, handler EventHandler[T]) {
	var zero T
	b.Subscribe(zero.EventType(), name, func(ctx context.Context, msg *Message) error {
		ev, err := FromMessage[T](msg)
		if err != nil {
			return fmt.Errorf("failed to convert message to event: %w", err)
		}
		return handler(ctx, ev)
	})
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
