package event

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Broadcaster copies every bus message to any number of watchers. Slow
// watchers lose messages instead of stalling the bus.
type Broadcaster struct {
	mu       sync.RWMutex
	watchers map[string]chan *Message
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{watchers: make(map[string]chan *Message)}
}

// Attach forwards every event published on b.
func (w *Broadcaster) Attach(b *Bus) {
	b.SubscribeAll("broadcaster", func(_ context.Context, msg *Message) error {
		w.Publish(msg)
		return nil
	})
}

func (w *Broadcaster) Watch(bufSize int) (string, <-chan *Message) {
	id := ulid.Make().String()
	ch := make(chan *Message, bufSize)
	w.mu.Lock()
	w.watchers[id] = ch
	w.mu.Unlock()
	return id, ch
}

func (w *Broadcaster) Unwatch(id string) {
	w.mu.Lock()
	if ch, ok := w.watchers[id]; ok {
		close(ch)
		delete(w.watchers, id)
	}
	w.mu.Unlock()
}

func (w *Broadcaster) Publish(msg *Message) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ch := range w.watchers {
		select {
		case ch <- msg:
		default:
			// buffer full, drop event for this watcher
		}
	}
}
