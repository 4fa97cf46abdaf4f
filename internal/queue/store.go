package queue

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/pkg/cerr"
)

const taskColumns = `id, priority, original_priority, description, category, status, agent, result, error,
	created_at, updated_at, started_at, completed_at, boost_count, batch_id, retry_count, max_retries, ledger_id, tags`

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithEventBus(b *event.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// Queue stores tasks in the queue_* tables.
type Queue struct {
	db  *sql.DB
	bus *event.Bus
	now func() time.Time
}

func New(db *sql.DB, opts ...Option) *Queue {
	q := &Queue{db: db, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

func newID(prefix string) string {
	return prefix + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*Task, error) {
	var (
		t                      Task
		created, updated, tags string
		started, completed     sql.NullString
	)
	err := s.Scan(&t.ID, &t.Priority, &t.OriginalPriority, &t.Description, &t.Category, &t.Status, &t.Agent,
		&t.Result, &t.Error, &created, &updated, &started, &completed, &t.BoostCount, &t.BatchID,
		&t.RetryCount, &t.MaxRetries, &t.LedgerID, &tags)
	if err != nil {
		return nil, err
	}
	if t.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, fmt.Errorf("invalid created_at for %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = sqlitedb.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("invalid updated_at for %s: %w", t.ID, err)
	}
	if t.StartedAt, err = sqlitedb.TimePtr(started); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = sqlitedb.TimePtr(completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("invalid tags for %s: %w", t.ID, err)
	}
	return &t, nil
}

func saveTask(ctx context.Context, tx *sql.Tx, t *Task) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	if t.Tags == nil {
		tags = []byte("[]")
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO queue_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, int(t.Priority), int(t.OriginalPriority), t.Description, string(t.Category), string(t.Status),
		t.Agent, t.Result, t.Error, sqlitedb.FormatTime(t.CreatedAt), sqlitedb.FormatTime(t.UpdatedAt),
		sqlitedb.NullTime(t.StartedAt), sqlitedb.NullTime(t.CompletedAt), t.BoostCount, t.BatchID,
		t.RetryCount, t.MaxRetries, t.LedgerID, string(tags))
	if err != nil {
		return fmt.Errorf("failed to save queue task %s: %w", t.ID, err)
	}
	return nil
}

func (q *Queue) recordHistory(ctx context.Context, tx *sql.Tx, taskID, action, oldValue, newValue string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO queue_history (task_id, action, old_value, new_value, timestamp) VALUES (?, ?, ?, ?, ?)`,
		taskID, action, oldValue, newValue, sqlitedb.FormatTime(q.now()))
	if err != nil {
		return fmt.Errorf("failed to record queue history: %w", err)
	}
	return nil
}

func getTask(ctx context.Context, tx *sql.Tx, id string) (*Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.Errorf(cerr.NotFound, "queue task %s not found", id)
	}
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to read queue task %s: %w", id, err))
	}
	return t, nil
}

// Add enqueues a new pending task.
func (q *Queue) Add(ctx context.Context, req *AddRequest) (*Task, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "description is required").WithViolation("description", "must not be empty")
	}
	if !req.Priority.Valid() {
		return nil, cerr.Errorf(cerr.InvalidArgument, "invalid priority %d", req.Priority).WithViolation("priority", "must be P0 to P3")
	}
	category := req.Category
	if category == "" {
		category = CategoryOther
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, err.Error(), nil).WithViolation("category", err.Error())
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	id := req.ID
	if id == "" {
		id = newID("q_")
	}
	now := q.now()
	t := &Task{
		ID:               id,
		Priority:         req.Priority,
		OriginalPriority: req.Priority,
		Description:      strings.TrimSpace(req.Description),
		Category:         category,
		Status:           StatusPending,
		Agent:            req.Agent,
		CreatedAt:        now,
		UpdatedAt:        now,
		MaxRetries:       maxRetries,
		Tags:             req.Tags,
	}
	err := sqlitedb.InTx(ctx, q.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_tasks WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return cerr.Errorf(cerr.AlreadyExists, "queue task %s already exists", id)
		}
		if err := saveTask(ctx, tx, t); err != nil {
			return err
		}
		return q.recordHistory(ctx, tx, id, "created", "", t.Priority.String())
	})
	if err != nil {
		return nil, wrap(err)
	}
	slog.InfoContext(ctx, "queue task added",
		slog.String("queue_task_id", id),
		slog.String("priority", t.Priority.String()),
		slog.String("category", string(t.Category)),
	)
	return t, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	var t *Task
	err := sqlitedb.InTx(ctx, q.db, func(tx *sql.Tx) error {
		var err error
		t, err = getTask(ctx, tx, id)
		return err
	})
	return t, wrap(err)
}

func (q *Queue) Delete(ctx context.Context, id string) error {
	return wrap(sqlitedb.InTx(ctx, q.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM queue_tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return cerr.Errorf(cerr.NotFound, "queue task %s not found", id)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM queue_history WHERE task_id = ?`, id)
		return err
	}))
}

// List returns tasks in queue order. A non-positive limit returns all.
func (q *Queue) List(ctx context.Context, f Filter, limit int) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Priority != nil {
		where = append(where, "priority = ?")
		args = append(args, int(*f.Priority))
	}
	query := `SELECT ` + taskColumns + ` FROM queue_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return q.query(ctx, query, args...)
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to query queue: %w", err))
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	return out, nil
}

// Next returns the head of the pending queue without removing it.
func (q *Queue) Next(ctx context.Context) (*Task, error) {
	tasks, err := q.List(ctx, Filter{Status: StatusPending}, 1)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, cerr.Errorf(cerr.NotFound, "queue is empty")
	}
	return tasks[0], nil
}

// update loads id, lets fn mutate it and saves it with one history entry.
func (q *Queue) update(ctx context.Context, id string, fn func(t *Task) (action, oldValue, newValue string, err error)) (*Task, error) {
	var out *Task
	err := sqlitedb.InTx(ctx, q.db, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		action, oldValue, newValue, err := fn(t)
		if err != nil {
			return err
		}
		t.UpdatedAt = q.now()
		if err := saveTask(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return q.recordHistory(ctx, tx, id, action, oldValue, newValue)
	})
	return out, wrap(err)
}

// Start marks a pending task running on agent.
func (q *Queue) Start(ctx context.Context, id, agent string) (*Task, error) {
	return q.update(ctx, id, func(t *Task) (string, string, string, error) {
		if t.Status != StatusPending {
			return "", "", "", cerr.Errorf(cerr.FailedPrecondition, "queue task %s is %s, not pending", id, t.Status)
		}
		now := q.now()
		t.Status = StatusRunning
		t.StartedAt = &now
		if agent != "" {
			t.Agent = agent
		}
		return "started", string(StatusPending), string(StatusRunning), nil
	})
}

// SetLedgerID links the queue task to the ledger task that runs it.
func (q *Queue) SetLedgerID(ctx context.Context, id, ledgerID string) (*Task, error) {
	return q.update(ctx, id, func(t *Task) (string, string, string, error) {
		old := t.LedgerID
		t.LedgerID = ledgerID
		return "linked", old, ledgerID, nil
	})
}

func (q *Queue) Complete(ctx context.Context, id, result string) (*Task, error) {
	t, err := q.update(ctx, id, func(t *Task) (string, string, string, error) {
		if t.Status != StatusPending && t.Status != StatusRunning {
			return "", "", "", cerr.Errorf(cerr.FailedPrecondition, "queue task %s is already %s", id, t.Status)
		}
		old := t.Status
		now := q.now()
		t.Status = StatusCompleted
		t.Result = result
		t.Error = ""
		t.CompletedAt = &now
		return "completed", string(old), string(StatusCompleted), nil
	})
	if err != nil {
		return nil, err
	}
	q.publishFinished(ctx, t)
	return t, nil
}

func (q *Queue) Fail(ctx context.Context, id, errMsg string) (*Task, error) {
	t, err := q.update(ctx, id, func(t *Task) (string, string, string, error) {
		if t.Status == StatusCompleted || t.Status == StatusFailed {
			return "", "", "", cerr.Errorf(cerr.FailedPrecondition, "queue task %s is already %s", id, t.Status)
		}
		old := t.Status
		now := q.now()
		t.Status = StatusFailed
		t.Error = errMsg
		t.CompletedAt = &now
		return "failed", string(old), string(StatusFailed), nil
	})
	if err != nil {
		return nil, err
	}
	q.publishFinished(ctx, t)
	return t, nil
}

// Block parks a pending task until it is retried.
func (q *Queue) Block(ctx context.Context, id, reason string) (*Task, error) {
	return q.update(ctx, id, func(t *Task) (string, string, string, error) {
		if t.Status != StatusPending {
			return "", "", "", cerr.Errorf(cerr.FailedPrecondition, "queue task %s is %s, not pending", id, t.Status)
		}
		t.Status = StatusBlocked
		t.Error = reason
		return "blocked", string(StatusPending), string(StatusBlocked), nil
	})
}

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	errSkip             = errors.New("skip")
)

// Retry puts a failed, blocked or running task back to pending. Once
// retry_count reaches max_retries the task is failed for good and the
// returned error wraps ErrRetriesExhausted.
func (q *Queue) Retry(ctx context.Context, id string) (*Task, error) {
	exhausted := false
	t, err := q.update(ctx, id, func(t *Task) (string, string, string, error) {
		switch t.Status {
		case StatusFailed, StatusBlocked, StatusRunning:
		default:
			return "", "", "", cerr.Errorf(cerr.FailedPrecondition, "queue task %s is %s and cannot be retried", id, t.Status)
		}
		old := t.Status
		if t.RetryCount >= t.MaxRetries {
			exhausted = true
			now := q.now()
			t.Status = StatusFailed
			if t.CompletedAt == nil {
				t.CompletedAt = &now
			}
			return "retry_exhausted", string(old), string(StatusFailed), nil
		}
		t.RetryCount++
		t.Status = StatusPending
		t.StartedAt = nil
		t.CompletedAt = nil
		return "retry", string(old), string(StatusPending), nil
	})
	if err != nil {
		return nil, err
	}
	if exhausted {
		return t, cerr.NewError(cerr.ResourceExhausted,
			fmt.Sprintf("queue task %s failed after %d retries", id, t.RetryCount), ErrRetriesExhausted)
	}
	return t, nil
}

func (q *Queue) SetPriority(ctx context.Context, id string, p Priority) (*Task, error) {
	if !p.Valid() {
		return nil, cerr.Errorf(cerr.InvalidArgument, "invalid priority %d", p)
	}
	return q.update(ctx, id, func(t *Task) (string, string, string, error) {
		old := t.Priority
		t.Priority = p
		return "priority_change", old.String(), p.String(), nil
	})
}

// ApplyAgeBoosts promotes each pending task that has waited past its
// level's threshold by one level and returns how many moved.
func (q *Queue) ApplyAgeBoosts(ctx context.Context) (int, error) {
	pending, err := q.List(ctx, Filter{Status: StatusPending}, 0)
	if err != nil {
		return 0, err
	}
	now := q.now()
	boosted := 0
	for _, p := range pending {
		threshold, ok := boostAfter[p.Priority]
		if !ok || p.Age(now) < threshold {
			continue
		}
		_, err := q.update(ctx, p.ID, func(t *Task) (string, string, string, error) {
			if t.Status != StatusPending || t.Priority == P0Critical {
				return "", "", "", errSkip
			}
			old := t.Priority
			t.Priority--
			t.BoostCount++
			return "priority_boost", old.String(), t.Priority.String(), nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return boosted, err
		}
		boosted++
	}
	if boosted > 0 {
		slog.InfoContext(ctx, "queue tasks boosted", slog.Int("count", boosted))
	}
	return boosted, nil
}

func (q *Queue) History(ctx context.Context, id string) ([]*HistoryEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT task_id, action, old_value, new_value, timestamp FROM queue_history WHERE task_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to query queue history: %w", err))
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		var (
			h  HistoryEntry
			ts string
		)
		if err := rows.Scan(&h.TaskID, &h.Action, &h.OldValue, &h.NewValue, &ts); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
		if h.Timestamp, err = sqlitedb.ParseTime(ts); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (q *Queue) publishFinished(ctx context.Context, t *Task) {
	err := q.bus.Publish(ctx, "queue", event.QueueTaskFinishedData{
		QueueTaskID: t.ID,
		LedgerID:    t.LedgerID,
		Agent:       t.Agent,
		Status:      string(t.Status),
		Error:       t.Error,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to publish queue event", slog.Any("error", err))
	}
}

// wrap gives uncoded database errors the Internal code.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var ce *cerr.Error
	if errors.As(err, &ce) {
		return err
	}
	return cerr.NewError(cerr.Internal, "server error", err)
}
