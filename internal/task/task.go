package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Type classifies a task and selects its cost multiplier.
type Type string

const (
	TypeReview        Type = "review"
	TypeSecurity      Type = "security"
	TypeTesting       Type = "testing"
	TypeRefactor      Type = "refactor"
	TypeDocumentation Type = "documentation"
	TypeArchitecture  Type = "architecture"
	TypeDebug         Type = "debug"
	TypeMulti         Type = "multi"
)

var allTypes = []Type{
	TypeReview, TypeSecurity, TypeTesting, TypeRefactor,
	TypeDocumentation, TypeArchitecture, TypeDebug, TypeMulti,
}

func Types() []Type {
	return slices.Clone(allTypes)
}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(allTypes, t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// Status represents task status
type Status string

const (
	StatusPending        Status = "pending"
	StatusInProgress     Status = "in_progress"
	StatusReadyForVerify Status = "ready_for_verify"
	StatusVerified       Status = "verified"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending, StatusInProgress, StatusReadyForVerify, StatusVerified,
	StatusCompleted, StatusFailed, StatusCancelled,
}

func Statuses() []Status {
	return slices.Clone(allStatuses)
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(allStatuses, st) {
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:        {StatusInProgress},
	StatusInProgress:     {StatusReadyForVerify, StatusCompleted},
	StatusReadyForVerify: {StatusVerified, StatusInProgress},
	StatusVerified:       {StatusCompleted},
}

// CanTransition reports whether a task in s may move to next. Any
// non-terminal status may fail or be cancelled.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	return slices.Contains(transitions[s], next)
}

// Task represents one request routed to one agent (or to all of them)
type Task struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	Description   string     `json:"description"`
	Agent         string     `json:"agent"`
	Status        Status     `json:"status"`
	Command       string     `json:"command,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	EstimatedCost *float64   `json:"estimated_cost,omitempty"`
	ActualCost    *float64   `json:"actual_cost,omitempty"`
	Tokens        *int       `json:"tokens,omitempty"`
	Error         string     `json:"error,omitempty"`
	Output        string     `json:"output,omitempty"`
}

func (t *Task) Clone() *Task {
	c := *t
	c.StartedAt = clonePtr(t.StartedAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.EstimatedCost = clonePtr(t.EstimatedCost)
	c.ActualCost = clonePtr(t.ActualCost)
	c.Tokens = clonePtr(t.Tokens)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Duration is the time spent between start and completion, or zero.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

const idPrefix = "TASK-"

func formatID(n int) string {
	return fmt.Sprintf("%s%03d", idPrefix, n)
}

// parseID returns the numeric part of a TASK-nnn id.
func parseID(id string) (int, bool) {
	var n int
	if !strings.HasPrefix(id, idPrefix) {
		return 0, false
	}
	if _, err := fmt.Sscanf(id, idPrefix+"%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

type CreateRequest struct {
	Type        Type   `json:"type"`
	Description string `json:"description"`
	Agent       string `json:"agent"`
	Command     string `json:"command,omitempty"`
	// Input is the text sent to the agent. The estimate falls back to the
	// description when it is empty.
	Input string `json:"input,omitempty"`
}

type Filter struct {
	Status Status `json:"status,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Type   Type   `json:"type,omitempty"`
}

func (f Filter) Match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Agent != "" && t.Agent != f.Agent {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

type Metrics struct {
	Total         int            `json:"total"`
	ByStatus      map[Status]int `json:"by_status"`
	ByAgent       map[string]int `json:"by_agent"`
	EstimatedCost float64        `json:"estimated_cost"`
	ActualCost    float64        `json:"actual_cost"`
	Tokens        int            `json:"tokens"`
}
