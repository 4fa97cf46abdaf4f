package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/pkg/cmdline"
)

const waitDelay = 5 * time.Second

// ExecRunner runs an agent CLI built from a command line template.
type ExecRunner struct {
	kind    agent.Kind
	tmpl    *cmdline.Template
	timeout time.Duration
	dir     string
	env     []string
}

type ExecOption func(*ExecRunner)

func WithDir(dir string) ExecOption {
	return func(r *ExecRunner) { r.dir = dir }
}

func WithEnv(env ...string) ExecOption {
	return func(r *ExecRunner) { r.env = append(r.env, env...) }
}

func NewExecRunner(kind agent.Kind, tmpl *cmdline.Template, timeout time.Duration, opts ...ExecOption) *ExecRunner {
	r := &ExecRunner{kind: kind, tmpl: tmpl, timeout: timeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *ExecRunner) Kind() agent.Kind { return r.kind }

// Argv returns the full command line for prompt.
func (r *ExecRunner) Argv(prompt string) []string {
	return append([]string{r.tmpl.Name()}, r.tmpl.Args(prompt)...)
}

func (r *ExecRunner) Run(ctx context.Context, prompt string) (*Result, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	argv := r.Argv(prompt)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	// interrupt first so the CLI can flush, then kill after waitDelay
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.DebugContext(ctx, "starting agent",
		slog.String("agent", string(r.kind)),
		slog.String("command", cmdline.Quote(r.Argv(cmdline.Abbrev(prompt, 60)))),
		slog.Int("prompt_chars", len(prompt)),
	)

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Agent:    r.kind,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return res, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return res, &NotFoundError{Agent: r.kind, Path: argv[0]}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.ExitCode = TimeoutExitCode
		return res, &TimeoutError{Agent: r.kind, Timeout: r.timeout}
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Agent: r.kind, Code: exitErr.ExitCode(), Stderr: res.Stderr}
	}
	return res, err
}
