// Package notify tells the user about finished and failed work.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Level     Level     `json:"level"`
	TaskID    string    `json:"task_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

type NotifierFunc func(ctx context.Context, n *Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(context.Context, *Notification) error { return nil })

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n *Notification) error {
	var errs []error
	for _, x := range m {
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Terminal prints notifications as one coloured line each.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Notify(_ context.Context, n *Notification) error {
	c := color.New(color.FgCyan, color.Bold)
	switch n.Level {
	case LevelWarn:
		c = color.New(color.FgYellow, color.Bold)
	case LevelError:
		c = color.New(color.FgRed, color.Bold)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := c.Fprintf(t.w, "● %s", n.Title); err != nil {
		return err
	}
	if n.TaskID != "" {
		fmt.Fprintf(t.w, " [%s]", n.TaskID)
	}
	if n.Body != "" {
		fmt.Fprintf(t.w, ": %s", n.Body)
	}
	_, err := fmt.Fprintln(t.w)
	return err
}
