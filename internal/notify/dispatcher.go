package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/event"
)

// Dispatcher turns bus events into notifications.
type Dispatcher struct {
	notifier  Notifier
	onSuccess bool
}

func NewDispatcher(n Notifier, onSuccess bool) *Dispatcher {
	return &Dispatcher{notifier: n, onSuccess: onSuccess}
}

func (d *Dispatcher) Attach(b *event.Bus) {
	event.SubscribeTyped(b, "notify-task", d.handleTask)
	event.SubscribeTyped(b, "notify-cost", d.handleCost)
}

func (d *Dispatcher) handleTask(ctx context.Context, ev *event.Event[event.TaskStatusChangedData]) error {
	data := ev.Data
	var n *Notification
	switch data.ToStatus {
	case "failed":
		n = &Notification{
			Title: fmt.Sprintf("%s failed", label(data)),
			Body:  data.Error,
			Level: LevelError,
		}
	case "completed":
		if !d.onSuccess {
			return nil
		}
		n = &Notification{
			Title: fmt.Sprintf("%s completed", label(data)),
			Level: LevelInfo,
		}
	default:
		return nil
	}
	n.TaskID = data.TaskID
	n.Timestamp = ev.Timestamp
	return d.send(ctx, n)
}

func (d *Dispatcher) handleCost(ctx context.Context, ev *event.Event[event.CostRecordedData]) error {
	if !ev.Data.OverBudget {
		return nil
	}
	return d.send(ctx, &Notification{
		Title:     "Daily budget reached",
		Body:      fmt.Sprintf("spent %s today; new commands are refused", cost.FormatUSD(ev.Data.DailyTotal)),
		Level:     LevelWarn,
		TaskID:    ev.Data.TaskID,
		Timestamp: ev.Timestamp,
	})
}

func (d *Dispatcher) send(ctx context.Context, n *Notification) error {
	slog.InfoContext(ctx, "notification",
		slog.String("title", n.Title),
		slog.String("level", string(n.Level)),
		slog.String("task_id", n.TaskID),
	)
	return d.notifier.Notify(ctx, n)
}

func label(d event.TaskStatusChangedData) string {
	if d.Command != "" {
		return d.Command
	}
	return fmt.Sprintf("%s task", d.Agent)
}
