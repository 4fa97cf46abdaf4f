package agent

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind names an external AI CLI, or the virtual multi agent that fans out
// to all of them.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
	KindGemini Kind = "gemini"
	KindMulti  Kind = "multi"
)

// Kinds lists every agent in display order.
var Kinds = []Kind{KindClaude, KindCodex, KindGemini, KindMulti}

// CLIKinds lists the agents backed by a real process.
var CLIKinds = []Kind{KindClaude, KindCodex, KindGemini}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Kinds, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown agent %q", s)
}

func (k Kind) IsMulti() bool {
	return k == KindMulti
}

// Title is the heading used when agent output is shown.
func (k Kind) Title() string {
	switch k {
	case KindClaude:
		return "Claude"
	case KindCodex:
		return "Codex"
	case KindGemini:
		return "Gemini"
	case KindMulti:
		return "Multi"
	}
	return string(k)
}

type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

type Agent struct {
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	TaskID    string    `json:"task_id,omitempty"`
	Multi     bool      `json:"multi"`
	UpdatedAt time.Time `json:"updated_at"`
}
