package event

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal appends every event to a daily NDJSON file.
type Journal struct {
	dir string
	mu  sync.Mutex
}

func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{dir: dir}, nil
}

type journalEntry struct {
	*Message
	LoggedAt time.Time `json:"logged_at"`
}

func (j *Journal) Append(msg *Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(journalEntry{Message: msg, LoggedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	f, err := os.OpenFile(j.path(msg.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event to journal: %w", err)
	}
	return nil
}

func (j *Journal) path(ts time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("events_%s.ndjson", ts.Format(time.DateOnly)))
}

// Attach records every event published on b.
func (j *Journal) Attach(b *Bus) {
	b.SubscribeAll("journal", func(ctx context.Context, msg *Message) error {
		return j.Append(msg)
	})
}

// Read returns the events journaled on the given day, optionally filtered
// by type. Lines that fail to decode are skipped.
func (j *Journal) Read(ctx context.Context, day time.Time, eventType EventType) ([]*Message, error) {
	f, err := os.Open(j.path(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var out []*Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Message == nil {
			slog.DebugContext(ctx, "skipping undecodable journal line", slog.Any("error", err))
			continue
		}
		if eventType != "" && entry.Type != eventType {
			continue
		}
		out = append(out, entry.Message)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return out, nil
}
