package queue

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/pkg/cerr"
)

const batchHeader = "Complete ALL of the following tasks. Number your responses clearly."

var taskLine = regexp.MustCompile(`\*\*Task \d+ \[([^\]]+)\]:\*\* (.+)`)

// NextBatch groups the highest-priority pending tasks of one category into
// a batch of at most BatchSizeLimit, stamps them with the batch ID and
// stores the batch.
func (q *Queue) NextBatch(ctx context.Context) (*Batch, error) {
	pending, err := q.List(ctx, Filter{Status: StatusPending}, 0)
	if err != nil {
		return nil, err
	}
	var b *Batch
	for p := P0Critical; p <= P3Low && b == nil; p++ {
		for _, c := range Categories {
			var group []*Task
			for _, t := range pending {
				if t.Priority == p && t.Category == c {
					group = append(group, t)
				}
			}
			if len(group) == 0 {
				continue
			}
			if len(group) > BatchSizeLimit {
				group = group[:BatchSizeLimit]
			}
			b = &Batch{ID: newID("batch_"), Category: c, Priority: p, Tasks: group, CreatedAt: q.now(), Status: StatusPending}
			break
		}
	}
	if b == nil {
		return nil, cerr.Errorf(cerr.NotFound, "no pending tasks to batch")
	}

	err = sqlitedb.InTx(ctx, q.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_batches (id, category, priority, created_at, status) VALUES (?, ?, ?, ?, ?)`,
			b.ID, string(b.Category), int(b.Priority), sqlitedb.FormatTime(b.CreatedAt), string(b.Status)); err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}
		for _, t := range b.Tasks {
			t.BatchID = b.ID
			t.UpdatedAt = q.now()
			if err := saveTask(ctx, tx, t); err != nil {
				return err
			}
			if err := q.recordHistory(ctx, tx, t.ID, "batched", "", b.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return b, nil
}

// ExportBatch renders the batch as a single prompt.
func ExportBatch(b *Batch) string {
	lines := []string{batchHeader + "\n"}
	for i, t := range b.Tasks {
		lines = append(lines, fmt.Sprintf("**Task %d [%s]:** %s\n", i+1, t.ID, t.Description))
	}
	return strings.Join(lines, "\n")
}

type ImportReport struct {
	Completed []string `json:"completed"`
	Unknown   []string `json:"unknown,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

// ImportResults reads an agent's numbered answer to an exported batch and
// completes every task it answered. The result of a task is everything
// between its heading and the next one.
func (q *Queue) ImportResults(ctx context.Context, text string) (*ImportReport, error) {
	rep := &ImportReport{}
	for _, r := range splitAnswers(text) {
		t, err := q.Get(ctx, r.id)
		if cerr.IsCode(err, cerr.NotFound) {
			rep.Unknown = append(rep.Unknown, r.id)
			continue
		}
		if err != nil {
			return rep, err
		}
		if t.Status != StatusPending && t.Status != StatusRunning {
			rep.Skipped = append(rep.Skipped, r.id)
			continue
		}
		if _, err := q.Complete(ctx, r.id, r.body); err != nil {
			return rep, err
		}
		rep.Completed = append(rep.Completed, r.id)
	}
	return rep, nil
}

// ImportTasks enqueues every "**Task n [id]:** description" line as a
// P2-MEDIUM task. IDs already in the queue are skipped.
func (q *Queue) ImportTasks(ctx context.Context, text string, category Category) ([]*Task, error) {
	var added []*Task
	for _, m := range taskLine.FindAllStringSubmatch(text, -1) {
		t, err := q.Add(ctx, &AddRequest{ID: m[1], Description: m[2], Priority: P2Medium, Category: category})
		if cerr.IsCode(err, cerr.AlreadyExists) {
			continue
		}
		if err != nil {
			return added, err
		}
		added = append(added, t)
	}
	return added, nil
}

type answer struct {
	id   string
	body string
}

func splitAnswers(text string) []answer {
	idx := taskLine.FindAllStringSubmatchIndex(text, -1)
	out := make([]answer, 0, len(idx))
	for i, m := range idx {
		end := len(text)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		// m[4] is the start of the text after the heading
		body := strings.TrimSpace(text[m[4]:end])
		out = append(out, answer{id: text[m[2]:m[3]], body: body})
	}
	return out
}
