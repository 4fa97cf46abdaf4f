package geminisession

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/pkg/cmdline"
	"github.com/kazz187/triguild/pkg/storage"
)

type call struct {
	argv   []string
	prompt string
}

func fakeFactory(calls *[]call, res *runner.Result, err error) RunnerFactory {
	return func(tmpl *cmdline.Template) runner.Runner {
		return runner.Func{K: agent.KindGemini, Fn: func(_ context.Context, prompt string) (*runner.Result, error) {
			*calls = append(*calls, call{argv: append([]string{tmpl.Name()}, tmpl.Args(prompt)...), prompt: prompt})
			return res, err
		}}
	}
}

func newStorage(t *testing.T) storage.Storage {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestSession_Send(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)
	var calls []call
	res := &runner.Result{Stdout: "  Hello there.\n", Stderr: "Session ID: abc-123\n"}
	s := New(ctx, st, "gemini-2.5-pro", WithRunnerFactory(fakeFactory(&calls, res, nil)))

	got, err := s.Send(ctx, "hi", true)
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", got.Content)
	assert.Equal(t, "abc-123", got.SessionID)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"gemini", "-m", "gemini-2.5-pro", "-y", "hi"}, calls[0].argv)

	_, err = s.Send(ctx, "what did I ask?", true)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"gemini", "-m", "gemini-2.5-pro", "-y", "--resume", "abc-123"}, calls[1].argv[:6])
	assert.Equal(t, "[Conversation History]\n\nUser: hi\n\nAssistant: Hello there.\n\n\nUser: what did I ask?\n\n\nAssistant:", calls[1].prompt)
	assert.NotContains(t, calls[1].argv, "-p")

	// history survives a new session over the same storage
	reopened := New(ctx, st, "gemini-2.5-pro")
	assert.Len(t, reopened.History(), 4)
	assert.Empty(t, reopened.SessionID())
}

func TestSession_FailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)
	var calls []call
	s := New(ctx, st, "m", WithAutoApprove(false), WithSessionID("s-1"),
		WithRunnerFactory(fakeFactory(&calls, nil, &runner.ExitError{Agent: agent.KindGemini, Code: 1, Stderr: "quota"})))

	_, err := s.Send(ctx, "hi", true)
	var exitErr *runner.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Empty(t, s.History())
	assert.Equal(t, []string{"gemini", "-m", "m", "--resume", "s-1", "hi"}, calls[0].argv)

	exists, err := st.Exists(ctx, HistoryKey)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Send(ctx, "  ", false)
	assert.Error(t, err)
}

func TestSession_ContextWindow(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)
	var history []Message
	for i := range 12 {
		history = append(history, Message{Role: RoleUser, Content: strings.Repeat(string(rune('a'+i)), 600)})
	}
	require.NoError(t, storage.WriteJSON(ctx, st, HistoryKey, history))

	s := New(ctx, st, "m")
	p := s.ContextPrompt("next")
	assert.NotContains(t, p, "aaa")
	assert.NotContains(t, p, "bbb")
	assert.Contains(t, p, "User: "+strings.Repeat("c", 500)+"\n\n")
	assert.NotContains(t, p, strings.Repeat("c", 501))
	assert.True(t, strings.HasSuffix(p, "\nUser: next\n\n\nAssistant:"))
}

func TestSession_ClearAndCorruptHistory(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)
	require.NoError(t, st.Write(ctx, HistoryKey, []byte("{not json")))

	var calls []call
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(ctx, st, "m", WithClock(func() time.Time { return now }),
		WithRunnerFactory(fakeFactory(&calls, &runner.Result{Stdout: "ok"}, nil)))
	assert.Empty(t, s.History())

	_, err := s.Send(ctx, "hi", false)
	require.NoError(t, err)
	assert.Equal(t, now, s.History()[0].Timestamp)

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.History())
	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, "hi", s.ContextPrompt("hi"))
}
