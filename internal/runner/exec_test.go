package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/pkg/cmdline"
)

func TestExecRunner(t *testing.T) {
	tests := []struct {
		name       string
		tmpl       string
		timeout    time.Duration
		wantOut    string
		wantCode   int
		wantErr    func(t *testing.T, err error)
		wantStderr string
	}{
		{
			name:    "prompt is passed as one argument",
			tmpl:    `sh -c 'printf "%s|" "$0"' {prompt}`,
			wantOut: "review this file|",
		},
		{
			name:       "non-zero exit",
			tmpl:       `sh -c 'echo bad input >&2; exit 3'`,
			wantCode:   3,
			wantStderr: "bad input\n",
			wantErr: func(t *testing.T, err error) {
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 3, exitErr.Code)
				assert.Equal(t, "codex exited with code 3: bad input", exitErr.Error())
				assert.False(t, IsTimeout(err))
			},
		},
		{
			name:     "exit 124 is a timeout",
			tmpl:     `sh -c 'exit 124'`,
			wantCode: 124,
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsTimeout(err))
			},
		},
		{
			name:     "deadline",
			tmpl:     `sh -c 'sleep 5' {prompt}`,
			timeout:  100 * time.Millisecond,
			wantCode: TimeoutExitCode,
			wantErr: func(t *testing.T, err error) {
				var te *TimeoutError
				require.ErrorAs(t, err, &te)
				assert.True(t, IsTimeout(err))
			},
		},
		{
			name: "missing binary",
			tmpl: `definitely-not-a-real-agent-cli {prompt}`,
			wantErr: func(t *testing.T, err error) {
				var nf *NotFoundError
				assert.True(t, errors.As(err, &nf))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewExecRunner(agent.KindCodex, cmdline.MustParse(tt.tmpl), tt.timeout)
			res, err := r.Run(context.Background(), "review this file")
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOut, res.Stdout)
			}
			require.NotNil(t, res)
			assert.Equal(t, agent.KindCodex, res.Agent)
			if tt.wantCode != 0 {
				assert.Equal(t, tt.wantCode, res.ExitCode)
			}
			if tt.wantStderr != "" {
				assert.Equal(t, tt.wantStderr, res.Stderr)
			}
		})
	}
}

func TestExecRunner_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewExecRunner(agent.KindGemini, cmdline.MustParse(`sh -c 'sleep 5' {prompt}`), time.Minute)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res, err := r.Run(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
	require.NotNil(t, res)
	assert.Less(t, res.Duration, 2*time.Second)
}

func TestExecRunner_TimeoutStopsGrandchildren(t *testing.T) {
	// sleep runs as a child of the shell and shares its stdout
	r := NewExecRunner(agent.KindClaude, cmdline.MustParse(`sh -c 'sleep 5; echo done' {prompt}`), 100*time.Millisecond)
	res, err := r.Run(context.Background(), "x")
	assert.True(t, IsTimeout(err))
	require.NotNil(t, res)
	assert.Less(t, res.Duration, 2*time.Second)
}

func TestResult_Output(t *testing.T) {
	assert.Equal(t, "out", (&Result{Stdout: "  out\n", Stderr: "err"}).Output())
	assert.Equal(t, "err", (&Result{Stdout: " \n", Stderr: "err\n"}).Output())
}

func TestNewSetFromEnv(t *testing.T) {
	env := &config.AgentEnv{
		ClaudeCommand: "claude -p {prompt}",
		CodexCommand:  `codex exec -c model_reasoning_effort="xhigh" {prompt}`,
		GeminiCommand: "gemini --approval-mode yolo {prompt}",
		Timeout:       time.Minute,
		GeminiTimeout: 5 * time.Minute,
	}
	s, err := NewSetFromEnv(env)
	require.NoError(t, err)

	r, err := s.Get(agent.KindCodex)
	require.NoError(t, err)
	er, ok := r.(*ExecRunner)
	require.True(t, ok)
	assert.Equal(t, []string{"codex", "exec", "-c", "model_reasoning_effort=xhigh", "p"}, er.Argv("p"))

	g, err := s.Get(agent.KindGemini)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, g.(*ExecRunner).timeout)

	multi, err := s.For(agent.KindMulti)
	require.NoError(t, err)
	require.Len(t, multi, 3)
	assert.Equal(t, agent.KindClaude, multi[0].Kind())
	assert.Equal(t, agent.KindGemini, multi[2].Kind())

	others := s.Except(agent.KindCodex)
	require.Len(t, others, 2)
	assert.Equal(t, agent.KindClaude, others[0].Kind())
	assert.Equal(t, agent.KindGemini, others[1].Kind())

	env.ClaudeRunner = "sdk"
	s, err = NewSetFromEnv(env)
	require.NoError(t, err)
	c, _ := s.Get(agent.KindClaude)
	assert.IsType(t, &SDKRunner{}, c)

	env.CodexCommand = "codex | tee"
	_, err = NewSetFromEnv(env)
	assert.Error(t, err)
}
