package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/internal/service"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/storage"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, []string{
		"security-review", "generate-tests", "multi-agent-review", "code-review", "explain",
		"refactor", "document", "architecture-review", "debug",
	}, c.Names())

	for _, cmd := range c.List() {
		out, err := cmd.Render(PromptData{Input: "func f() {}", Language: "go", File: "f.go"})
		require.NoError(t, err, cmd.Name)
		assert.Contains(t, out, "func f() {}", cmd.Name)
	}

	multi, ok := c.Get("multi-agent-review")
	require.True(t, ok)
	assert.Equal(t, agent.KindMulti, multi.Agent)
	assert.Equal(t, OutputPanel, multi.Output)
}

func TestLoadCatalog_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`commands:
  - name: explain
    type: documentation
    agent: claude
    output: panel
    prompt: "Explain {{.Input}}"
  - name: haiku
    title: Haiku
    type: documentation
    agent: gemini
    output: inline
    prompt: "Write a haiku about {{.Input}}"
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Names(), 10)

	explain, ok := c.Get("explain")
	require.True(t, ok)
	assert.Equal(t, agent.KindClaude, explain.Agent)
	assert.Equal(t, "explain", explain.Title)

	// defaults are not mutated by an overlay
	d, _ := DefaultCatalog().Get("explain")
	assert.Equal(t, agent.KindGemini, d.Agent)

	missing, err := LoadCatalog(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Len(t, missing.Names(), 9)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown agent": "commands:\n  - name: x\n    type: review\n    agent: bard\n    output: inline\n    prompt: p\n",
		"unknown type":  "commands:\n  - name: x\n    type: poetry\n    agent: claude\n    output: inline\n    prompt: p\n",
		"bad output":    "commands:\n  - name: x\n    type: review\n    agent: claude\n    output: popup\n    prompt: p\n",
		"bad template":  "commands:\n  - name: x\n    type: review\n    agent: claude\n    output: inline\n    prompt: \"{{.Input\"\n",
		"missing name":  "commands:\n  - type: review\n    agent: claude\n    output: inline\n    prompt: p\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "commands.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadCatalog(path)
			assert.Error(t, err)
		})
	}
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644))

	tests := []struct {
		name    string
		lines   string
		want    string
		wantErr bool
	}{
		{name: "whole file", want: "a\nb\nc\nd"},
		{name: "range", lines: "2:3", want: "b\nc"},
		{name: "single line", lines: "4", want: "d"},
		{name: "open end", lines: "3:", want: "c\nd"},
		{name: "clamped", lines: "3:99", want: "c\nd"},
		{name: "reversed", lines: "3:1", wantErr: true},
		{name: "past end", lines: "9:10", wantErr: true},
		{name: "zero", lines: "0:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ReadInput(path, tt.lines, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Content())
			assert.Equal(t, "go", in.Language())
		})
	}

	in, err := ReadInput("-", "", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", in.Content())
	assert.Empty(t, in.File)
}

func TestTargetPath(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		cmd  string
		file string
		want string
	}{
		{"generate-tests", "pkg/calc.py", filepath.Join("pkg", "calc_test.py")},
		{"document", "pkg/calc.py", filepath.Join("pkg", "calc.document.md")},
		{"refactor", "main.go", "main.refactor.md"},
		{"generate-tests", "", "triguild_test.txt"},
		{"document", "", "triguild.document.md"},
	}
	for _, tt := range tests {
		cmd, ok := c.Get(tt.cmd)
		require.True(t, ok)
		assert.Equal(t, tt.want, TargetPath(cmd, tt.file), tt.cmd+" "+tt.file)
	}
}

func TestExtractCodeBlock(t *testing.T) {
	code, lang, ok := ExtractCodeBlock("Here you go:\n\n```python\ndef test_x():\n    assert True\n```\n\n```go\nignored\n```\n")
	require.True(t, ok)
	assert.Equal(t, "python", lang)
	assert.Equal(t, "def test_x():\n    assert True\n", code)

	_, _, ok = ExtractCodeBlock("no code here")
	assert.False(t, ok)
}

func TestWriteFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out", "calc_test.py")

	res, err := WriteFile(target, "one\n", false)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Empty(t, res.Diff)

	res, err = WriteFile(target, "two\n", false)
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.Contains(t, res.Diff, "-one")
	assert.Contains(t, res.Diff, "+two")
	data, _ := os.ReadFile(target)
	assert.Equal(t, "one\n", string(data))

	res, err = WriteFile(target, "two\n", true)
	require.NoError(t, err)
	assert.True(t, res.Written)
	data, _ = os.ReadFile(target)
	assert.Equal(t, "two\n", string(data))
}

func newServices(t *testing.T, budget float64) *service.Services {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	s, err := service.New(context.Background(), st, nil, service.Options{BudgetUSD: budget})
	require.NoError(t, err)
	return s
}

type recorder struct {
	mu sync.Mutex
	ns []*notify.Notification
}

func (r *recorder) Notify(_ context.Context, n *notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ns = append(r.ns, n)
	return nil
}

func TestExecutor_Single(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t, 0)
	runners := runner.NewSet(runner.Static(agent.KindGemini, "It adds two numbers."))
	e := NewExecutor(StaticSource(DefaultCatalog()), svc, runners, nil)

	out, err := e.Run(ctx, "explain", Input{Text: "def add(a, b): return a + b", File: "calc.py"})
	require.NoError(t, err)
	assert.Equal(t, "It adds two numbers.", out.Text)
	assert.Equal(t, task.StatusCompleted, out.Task.Status)
	assert.NotNil(t, out.Task.CompletedAt)
	assert.Greater(t, out.Cost, 0.0)

	stored, err := svc.Ledger.Get(ctx, out.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, "It adds two numbers.", stored.Output)
	assert.Equal(t, "explain", stored.Command)
	assert.InDelta(t, out.Cost, svc.Tracker.Total(), 1e-12)
	assert.True(t, svc.Registry.IsAvailable(agent.KindGemini))
}

func TestExecutor_MultiKeepsPartialResults(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t, 0)
	runners := runner.NewSet(
		runner.Static(agent.KindClaude, "claude says ok"),
		runner.Func{K: agent.KindCodex, Fn: func(context.Context, string) (*runner.Result, error) {
			return nil, errors.New("codex crashed")
		}},
		runner.Static(agent.KindGemini, "gemini says ok"),
	)
	e := NewExecutor(StaticSource(DefaultCatalog()), svc, runners, nil)

	out, err := e.Run(ctx, "multi-agent-review", Input{Text: "x := 1"})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "claude says ok")
	assert.Contains(t, out.Text, "[codex error] codex crashed")
	assert.Contains(t, out.Text, "gemini says ok")
	assert.Equal(t, task.StatusCompleted, out.Task.Status)
}

func TestExecutor_MultiHoldsEveryCLIAgent(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t, 0)
	var busyDuringRun []agent.Kind
	runners := runner.NewSet(
		runner.Func{K: agent.KindClaude, Fn: func(context.Context, string) (*runner.Result, error) {
			for _, k := range agent.CLIKinds {
				if !svc.Registry.IsAvailable(k) {
					busyDuringRun = append(busyDuringRun, k)
				}
			}
			return &runner.Result{Agent: agent.KindClaude, Stdout: "ok"}, nil
		}},
		runner.Static(agent.KindCodex, "ok"),
		runner.Static(agent.KindGemini, "ok"),
	)
	e := NewExecutor(StaticSource(DefaultCatalog()), svc, runners, nil)

	_, err := e.Run(ctx, "multi-agent-review", Input{Text: "x := 1"})
	require.NoError(t, err)
	assert.Equal(t, agent.CLIKinds, busyDuringRun)
	for _, k := range agent.CLIKinds {
		assert.True(t, svc.Registry.IsAvailable(k), k)
	}

	require.NoError(t, svc.AcquireAgent(ctx, agent.KindCodex, "TASK-900"))
	_, err = e.Run(ctx, "multi-agent-review", Input{Text: "x := 1"})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	assert.True(t, svc.Registry.IsAvailable(agent.KindClaude))
	a, _ := svc.Registry.Get(agent.KindCodex)
	assert.Equal(t, "TASK-900", a.TaskID)
}

func TestExecutor_RunPrompt(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t, 0)
	var got string
	runners := runner.NewSet(runner.Func{K: agent.KindCodex, Fn: func(_ context.Context, prompt string) (*runner.Result, error) {
		got = prompt
		return &runner.Result{Agent: agent.KindCodex, Stdout: "done"}, nil
	}})
	e := NewExecutor(StaticSource(DefaultCatalog()), svc, runners, nil)

	out, err := e.RunPrompt(ctx, &PromptRequest{Type: task.TypeTesting, Agent: agent.KindCodex, Description: "add tests", Prompt: "write tests for pkg/x"})
	require.NoError(t, err)
	assert.Equal(t, "write tests for pkg/x", got)
	assert.Nil(t, out.Command)
	assert.Equal(t, "done", out.Text)
	assert.Equal(t, task.StatusCompleted, out.Task.Status)
	assert.Equal(t, task.TypeTesting, out.Task.Type)
	assert.Empty(t, out.Task.Command)

	_, err = e.RunPrompt(ctx, &PromptRequest{Agent: agent.KindCodex})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	_, err = e.RunPrompt(ctx, &PromptRequest{Agent: agent.KindGemini, Prompt: "x"})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestExecutor_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown command", func(t *testing.T) {
		e := NewExecutor(StaticSource(DefaultCatalog()), newServices(t, 0), runner.NewSet(), nil)
		_, err := e.Run(ctx, "nope", Input{Text: "x"})
		assert.True(t, cerr.IsCode(err, cerr.NotFound))
	})

	t.Run("empty input", func(t *testing.T) {
		e := NewExecutor(StaticSource(DefaultCatalog()), newServices(t, 0), runner.NewSet(), nil)
		_, err := e.Run(ctx, "explain", Input{Text: "  "})
		assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	})

	t.Run("over budget", func(t *testing.T) {
		svc := newServices(t, 0.001)
		_, err := svc.AddCost(ctx, "", 1)
		require.NoError(t, err)
		e := NewExecutor(StaticSource(DefaultCatalog()), svc, runner.NewSet(runner.Static(agent.KindGemini, "x")), nil)
		_, err = e.Run(ctx, "explain", Input{Text: "x"})
		assert.True(t, cerr.IsCode(err, cerr.ResourceExhausted))
	})

	t.Run("agent error marks the task failed and notifies", func(t *testing.T) {
		svc := newServices(t, 0)
		rec := &recorder{}
		runners := runner.NewSet(runner.Func{K: agent.KindCodex, Fn: func(context.Context, string) (*runner.Result, error) {
			return &runner.Result{Agent: agent.KindCodex, ExitCode: 2, Stderr: "bad flag"},
				&runner.ExitError{Agent: agent.KindCodex, Code: 2, Stderr: "bad flag"}
		}})
		e := NewExecutor(StaticSource(DefaultCatalog()), svc, runners, rec)

		_, err := e.Run(ctx, "debug", Input{Text: "panic: nil map"})
		require.Error(t, err)
		assert.True(t, cerr.IsCode(err, cerr.Unavailable))

		tasks, total := svc.Ledger.List(ctx, task.Filter{}, 0, 0)
		require.Equal(t, 1, total)
		assert.Equal(t, task.StatusFailed, tasks[0].Status)
		assert.NotNil(t, tasks[0].CompletedAt)
		assert.Contains(t, tasks[0].Error, "bad flag")
		require.Len(t, rec.ns, 1)
		assert.Equal(t, notify.LevelError, rec.ns[0].Level)
		assert.Equal(t, tasks[0].ID, rec.ns[0].TaskID)
		assert.True(t, svc.Registry.IsAvailable(agent.KindCodex))
	})

	t.Run("timeout", func(t *testing.T) {
		svc := newServices(t, 0)
		runners := runner.NewSet(runner.Func{K: agent.KindClaude, Fn: func(context.Context, string) (*runner.Result, error) {
			return nil, &runner.TimeoutError{Agent: agent.KindClaude}
		}})
		e := NewExecutor(StaticSource(DefaultCatalog()), svc, runners, nil)
		_, err := e.Run(ctx, "code-review", Input{Text: "x"})
		assert.True(t, cerr.IsCode(err, cerr.DeadlineExceeded))
	})

	t.Run("busy agent", func(t *testing.T) {
		svc := newServices(t, 0)
		require.NoError(t, svc.AcquireAgent(ctx, agent.KindClaude, "TASK-900"))
		e := NewExecutor(StaticSource(DefaultCatalog()), svc, runner.NewSet(runner.Static(agent.KindClaude, "x")), nil)
		_, err := e.Run(ctx, "code-review", Input{Text: "x"})
		assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
		tasks, _ := svc.Ledger.List(ctx, task.Filter{}, 0, 0)
		require.Len(t, tasks, 1)
		assert.Equal(t, task.StatusFailed, tasks[0].Status)
	})
}

func TestPresent(t *testing.T) {
	c := DefaultCatalog()
	gen, _ := c.Get("generate-tests")
	dir := t.TempDir()
	input := filepath.Join(dir, "calc.py")

	o := &Outcome{Command: gen, Text: "Sure:\n\n```python\ndef test_add():\n    assert add(1, 2) == 3\n```\n"}
	p, err := Present(o, PresentOptions{InputFile: input})
	require.NoError(t, err)
	require.NotNil(t, p.Write)
	assert.Equal(t, filepath.Join(dir, "calc_test.py"), p.Write.Target)
	data, err := os.ReadFile(p.Write.Target)
	require.NoError(t, err)
	assert.Equal(t, "def test_add():\n    assert add(1, 2) == 3\n", string(data))

	var buf bytes.Buffer
	_, err = Present(o, PresentOptions{Mode: OutputInline, Out: &buf})
	require.NoError(t, err)
	assert.Equal(t, o.Text+"\n", buf.String())

	buf.Reset()
	_, err = Present(o, PresentOptions{Mode: OutputPanel, Out: &buf})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Generate Tests")
}
