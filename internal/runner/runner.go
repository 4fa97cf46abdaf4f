// Package runner invokes the external AI CLIs and captures what they print.
package runner

import (
	"context"
	"strings"
	"time"

	"github.com/kazz187/triguild/internal/agent"
)

type Result struct {
	Agent     agent.Kind    `json:"agent"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	SessionID string        `json:"session_id,omitempty"`
}

// Output is the trimmed stdout, or stderr when nothing was printed to stdout.
func (r *Result) Output() string {
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}
	return strings.TrimSpace(r.Stderr)
}

type Runner interface {
	Kind() agent.Kind
	Run(ctx context.Context, prompt string) (*Result, error)
}

// Func adapts a function to Runner.
type Func struct {
	K  agent.Kind
	Fn func(ctx context.Context, prompt string) (*Result, error)
}

func (f Func) Kind() agent.Kind { return f.K }

func (f Func) Run(ctx context.Context, prompt string) (*Result, error) {
	return f.Fn(ctx, prompt)
}

// Static returns a runner that always prints out.
func Static(kind agent.Kind, out string) Func {
	return Func{K: kind, Fn: func(context.Context, string) (*Result, error) {
		return &Result{Agent: kind, Stdout: out}, nil
	}}
}
