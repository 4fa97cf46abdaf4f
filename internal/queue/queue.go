// Package queue is a persistent priority queue of work waiting for an agent.
// Lower priority values run first; old tasks are promoted over time.
package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Priority int

const (
	P0Critical Priority = iota
	P1High
	P2Medium
	P3Low
)

var priorityNames = [...]string{"P0-CRITICAL", "P1-HIGH", "P2-MEDIUM", "P3-LOW"}

func (p Priority) String() string {
	if p < P0Critical || p > P3Low {
		return "P?-UNKNOWN"
	}
	return priorityNames[p]
}

func (p Priority) Valid() bool {
	return p >= P0Critical && p <= P3Low
}

// ParsePriority accepts P0, 0, CRITICAL and P0-CRITICAL style names.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	for i, name := range priorityNames {
		short, level, _ := strings.Cut(name, "-")
		if s == name || s == short || s == level {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

var statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusBlocked}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == strings.ToLower(s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown queue status %q", s)
}

type Category string

const (
	CategorySecurity      Category = "security"
	CategoryBackend       Category = "backend"
	CategoryFrontend      Category = "frontend"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
	CategoryDevops        Category = "devops"
	CategoryRefactoring   Category = "refactoring"
	CategoryBugfix        Category = "bugfix"
	CategoryFeature       Category = "feature"
	CategoryOther         Category = "other"
)

// Categories is also the order batches are formed in within one priority.
var Categories = []Category{
	CategorySecurity, CategoryBackend, CategoryFrontend, CategoryTesting, CategoryDocumentation,
	CategoryDevops, CategoryRefactoring, CategoryBugfix, CategoryFeature, CategoryOther,
}

func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if string(c) == strings.ToLower(s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

const (
	DefaultMaxRetries = 3
	BatchSizeLimit    = 10
)

// Age thresholds after which a pending task moves up one level.
var boostAfter = map[Priority]time.Duration{
	P3Low:    4 * time.Hour,
	P2Medium: 8 * time.Hour,
	P1High:   24 * time.Hour,
}

type Task struct {
	ID               string     `json:"id"`
	Priority         Priority   `json:"priority"`
	OriginalPriority Priority   `json:"original_priority"`
	Description      string     `json:"description"`
	Category         Category   `json:"category"`
	Status           Status     `json:"status"`
	Agent            string     `json:"agent,omitempty"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	BoostCount       int        `json:"boost_count"`
	BatchID          string     `json:"batch_id,omitempty"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	LedgerID         string     `json:"ledger_id,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
}

// Age is how long the task has existed at now.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

type AddRequest struct {
	// ID is generated when empty.
	ID          string
	Description string
	Priority    Priority
	Category    Category
	Agent       string
	Tags        []string
	MaxRetries  int
}

type Filter struct {
	Status   Status
	Category Category
	Priority *Priority
}

type Batch struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Priority  Priority  `json:"priority"`
	Tasks     []*Task   `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
}

type HistoryEntry struct {
	TaskID    string    `json:"task_id"`
	Action    string    `json:"action"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	ByStatus          map[Status]int   `json:"by_status"`
	PendingByPriority map[Priority]int `json:"pending_by_priority"`
	Boosted           int              `json:"boosted"`
	AvgWait           time.Duration    `json:"avg_wait"`
	OldestPendingAge  time.Duration    `json:"oldest_pending_age"`
	QueueSize         int              `json:"queue_size"`
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
