package cost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/storage"
)

const dailyCostKey = "state/daily_cost.json"

type dailyDoc struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
}

// DailyTracker accumulates spend for the current calendar day. The total
// resets whenever the stored date differs from today.
type DailyTracker struct {
	storage storage.Storage
	bus     *event.Bus
	budget  float64
	now     func() time.Time

	mu    sync.Mutex
	date  string
	total float64
}

type TrackerOption func(*DailyTracker)

func WithBudget(usd float64) TrackerOption {
	return func(t *DailyTracker) { t.budget = usd }
}

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *DailyTracker) { t.now = now }
}

func WithEventBus(b *event.Bus) TrackerOption {
	return func(t *DailyTracker) { t.bus = b }
}

func NewDailyTracker(s storage.Storage, opts ...TrackerOption) *DailyTracker {
	t := &DailyTracker{storage: s, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *DailyTracker) today() string {
	return t.now().Format(time.DateOnly)
}

// Load restores the persisted total, discarding it if it is from another day.
func (t *DailyTracker) Load(ctx context.Context) error {
	var doc dailyDoc
	err := storage.ReadJSON(ctx, t.storage, dailyCostKey, &doc)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return cerr.WrapStorageReadError("daily cost", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	today := t.today()
	if doc.Date != today {
		if doc.Date != "" {
			slog.InfoContext(ctx, "daily cost reset",
				slog.String("previous_date", doc.Date),
				slog.Float64("previous_total", doc.Total),
			)
		}
		t.date, t.total = today, 0
		return t.saveLocked(ctx)
	}
	t.date, t.total = doc.Date, doc.Total
	return nil
}

// Add records spend against today and returns the new daily total.
func (t *DailyTracker) Add(ctx context.Context, taskID string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, cerr.Errorf(cerr.InvalidArgument, "cost must not be negative: %f", amount)
	}
	t.mu.Lock()
	t.rollLocked()
	t.total += amount
	total := t.total
	over := t.overLocked()
	err := t.saveLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if perr := t.bus.Publish(ctx, "cost-tracker", event.CostRecordedData{
		TaskID:     taskID,
		Amount:     amount,
		DailyTotal: total,
		OverBudget: over,
	}); perr != nil {
		slog.WarnContext(ctx, "failed to publish cost event", slog.Any("error", perr))
	}
	return total, nil
}

func (t *DailyTracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.total
}

func (t *DailyTracker) Budget() float64 {
	return t.budget
}

// OverBudget reports whether a positive budget has been reached.
func (t *DailyTracker) OverBudget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.overLocked()
}

type Summary struct {
	Date       string  `json:"date"`
	Total      float64 `json:"total"`
	Budget     float64 `json:"budget"`
	OverBudget bool    `json:"over_budget"`
}

func (t *DailyTracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return Summary{Date: t.date, Total: t.total, Budget: t.budget, OverBudget: t.overLocked()}
}

func (t *DailyTracker) overLocked() bool {
	return t.budget > 0 && t.total >= t.budget
}

// rollLocked resets the in-memory total on a day change. The reset is
// persisted by the next save.
func (t *DailyTracker) rollLocked() {
	if today := t.today(); t.date != today {
		t.date, t.total = today, 0
	}
}

func (t *DailyTracker) saveLocked(ctx context.Context) error {
	if err := storage.WriteJSON(ctx, t.storage, dailyCostKey, dailyDoc{Date: t.date, Total: t.total}); err != nil {
		return cerr.WrapStorageWriteError("daily cost", err)
	}
	return nil
}

// FormatUSD renders an amount the way the CLI and status line show it.
func FormatUSD(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}
