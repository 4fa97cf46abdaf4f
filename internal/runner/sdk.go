package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"

	"github.com/kazz187/triguild/internal/agent"
)

const sdkSystemPrompt = "You are one of several reviewers. Answer the request directly in markdown."

// SDKRunner talks to Claude through the agent SDK instead of spawning
// `claude -p`.
type SDKRunner struct {
	timeout  time.Duration
	maxTurns int
	cwd      string
}

func NewSDKRunner(timeout time.Duration, maxTurns int, cwd string) *SDKRunner {
	return &SDKRunner{timeout: timeout, maxTurns: maxTurns, cwd: cwd}
}

func (r *SDKRunner) Kind() agent.Kind { return agent.KindClaude }

func (r *SDKRunner) Run(ctx context.Context, prompt string) (*Result, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	maxTurns := r.maxTurns
	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt:   sdkSystemPrompt,
		Cwd:            r.cwd,
		PermissionMode: claudeagent.PermissionModeBypassPermissions,
		MaxTurns:       &maxTurns,
	}

	start := time.Now()
	result, err := claudeagent.RunQuerySync(runCtx, prompt, opts)
	res := &Result{Agent: agent.KindClaude, Duration: time.Since(start)}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.ExitCode = TimeoutExitCode
			return res, &TimeoutError{Agent: agent.KindClaude, Timeout: r.timeout}
		}
		res.ExitCode = 1
		return res, fmt.Errorf("claude sdk query failed: %w", err)
	}
	if result.Result == nil {
		res.ExitCode = 1
		return res, errors.New("claude sdk returned no result")
	}
	res.SessionID = result.Result.SessionID
	if result.Result.IsError {
		res.ExitCode = 1
		res.Stderr = result.Result.Result
		return res, &ExitError{Agent: agent.KindClaude, Code: 1, Stderr: result.Result.Result}
	}
	res.Stdout = result.Result.Result
	return res, nil
}
