// Package dispatch sends one prompt to one or more agents.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/pkg/panicerr"
)

// Section is one agent's part of a fan-out.
type Section struct {
	Agent    agent.Kind     `json:"agent"`
	Output   string         `json:"output"`
	Err      error          `json:"-"`
	Result   *runner.Result `json:"result,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Text is the section body: the output, or the inline error string.
func (s Section) Text() string {
	if s.Err != nil {
		return ErrorText(s.Agent, s.Err)
	}
	return s.Output
}

// ErrorText renders err inline. Only the first line is kept so recovered
// panics do not dump their stack into the report.
func ErrorText(kind agent.Kind, err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return fmt.Sprintf("[%s error] %s", kind, msg)
}

type Aggregate struct {
	Sections []Section `json:"sections"`
}

// Text concatenates the sections in runner order under a heading each.
func (a *Aggregate) Text() string {
	var b strings.Builder
	for i, s := range a.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", s.Agent.Title(), s.Text())
	}
	return b.String()
}

func (a *Aggregate) Failed() int {
	n := 0
	for _, s := range a.Sections {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// AllFailed is true when no agent produced output.
func (a *Aggregate) AllFailed() bool {
	return len(a.Sections) > 0 && a.Failed() == len(a.Sections)
}

// FanOut runs every runner concurrently and waits for all of them. A failing
// or panicking runner only affects its own section.
func FanOut(ctx context.Context, runners []runner.Runner, prompt string) *Aggregate {
	m := iter.Mapper[runner.Runner, Section]{MaxGoroutines: len(runners)}
	sections := m.Map(runners, func(r *runner.Runner) Section {
		return run(ctx, *r, prompt)
	})
	return &Aggregate{Sections: sections}
}

// Single runs one runner and returns its error instead of inlining it.
func Single(ctx context.Context, r runner.Runner, prompt string) (*runner.Result, error) {
	s := run(ctx, r, prompt)
	return s.Result, s.Err
}

func run(ctx context.Context, r runner.Runner, prompt string) Section {
	start := time.Now()
	res, err := panicerr.Call(func() (*runner.Result, error) {
		return r.Run(ctx, prompt)
	})
	s := Section{Agent: r.Kind(), Result: res, Err: err, Duration: time.Since(start)}
	if err != nil {
		slog.WarnContext(ctx, "agent failed",
			slog.String("agent", string(r.Kind())),
			slog.Duration("duration", s.Duration),
			slog.Any("error", err),
		)
		return s
	}
	if res != nil {
		s.Output = res.Output()
	}
	slog.InfoContext(ctx, "agent finished",
		slog.String("agent", string(r.Kind())),
		slog.Duration("duration", s.Duration),
		slog.Int("output_chars", len(s.Output)),
	)
	return s
}
