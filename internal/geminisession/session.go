// Package geminisession keeps a multi-turn conversation with the gemini CLI.
// The CLI takes the prompt as a positional argument; the deprecated -p flag
// is never used.
package geminisession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/cmdline"
	"github.com/kazz187/triguild/pkg/storage"
)

const (
	HistoryKey = "sessions/gemini_history.json"

	contextMessages = 10
	contextChars    = 500
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var sessionIDPattern = regexp.MustCompile(`Session ID: ([a-zA-Z0-9-]+)`)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Response struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// RunnerFactory builds the runner for one invocation.
type RunnerFactory func(tmpl *cmdline.Template) runner.Runner

type Option func(*Session)

func WithAutoApprove(v bool) Option {
	return func(s *Session) { s.autoApprove = v }
}

func WithSessionID(id string) Option {
	return func(s *Session) { s.sessionID = id }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

func WithRunnerFactory(f RunnerFactory) Option {
	return func(s *Session) { s.newRunner = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type Session struct {
	st          storage.Storage
	model       string
	autoApprove bool
	timeout     time.Duration
	newRunner   RunnerFactory
	now         func() time.Time

	mu        sync.Mutex
	sessionID string
	history   []Message
}

// New opens a session and loads the saved history. A missing or corrupt
// history file starts an empty conversation.
func New(ctx context.Context, st storage.Storage, model string, opts ...Option) *Session {
	s := &Session{
		st:          st,
		model:       model,
		autoApprove: true,
		timeout:     5 * time.Minute,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.newRunner == nil {
		s.newRunner = func(tmpl *cmdline.Template) runner.Runner {
			return runner.NewExecRunner(agent.KindGemini, tmpl, s.timeout)
		}
	}
	if err := storage.ReadJSON(ctx, st, HistoryKey, &s.history); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "ignoring unreadable gemini history", slog.Any("error", err))
		}
		s.history = nil
	}
	return s
}

// Argv is the command line for prompt, without the prompt itself.
func (s *Session) Argv() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.argvLocked()
}

func (s *Session) argvLocked() []string {
	argv := []string{"gemini"}
	if s.model != "" {
		argv = append(argv, "-m", s.model)
	}
	if s.autoApprove {
		argv = append(argv, "-y")
	}
	if s.sessionID != "" {
		argv = append(argv, "--resume", s.sessionID)
	}
	return argv
}

// ContextPrompt prefixes prompt with the last turns of the conversation.
func (s *Session) ContextPrompt(prompt string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextPromptLocked(prompt)
}

func (s *Session) contextPromptLocked(prompt string) string {
	if len(s.history) == 0 {
		return prompt
	}
	recent := s.history[max(0, len(s.history)-contextMessages):]
	parts := make([]string, 0, len(recent)+3)
	parts = append(parts, "[Conversation History]")
	for _, m := range recent {
		parts = append(parts, fmt.Sprintf("%s: %s", capitalize(m.Role), truncate(m.Content, contextChars)))
	}
	parts = append(parts, "\nUser: "+prompt, "\nAssistant:")
	return strings.Join(parts, "\n\n")
}

// Send runs one turn. The exchange is appended to the history only when the
// CLI succeeds.
func (s *Session) Send(ctx context.Context, prompt string, withContext bool) (*Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "prompt is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	full := prompt
	if withContext {
		full = s.contextPromptLocked(prompt)
	}
	tmpl, err := cmdline.Parse(cmdline.Quote(s.argvLocked()) + " " + cmdline.Placeholder)
	if err != nil {
		return nil, err
	}
	res, err := s.newRunner(tmpl).Run(ctx, full)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(res.Stdout)
	if m := sessionIDPattern.FindStringSubmatch(res.Stderr + res.Stdout); m != nil {
		s.sessionID = m[1]
	}
	now := s.now()
	s.history = append(s.history,
		Message{Role: RoleUser, Content: prompt, Timestamp: now},
		Message{Role: RoleAssistant, Content: content, Timestamp: now},
	)
	if err := storage.WriteJSON(ctx, s.st, HistoryKey, s.history); err != nil {
		return nil, cerr.WrapStorageWriteError("gemini history", err)
	}
	return &Response{Content: content, SessionID: s.sessionID}, nil
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Clear drops the conversation and deletes the saved history.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	if err := s.st.Delete(ctx, HistoryKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return cerr.WrapStorageDeleteError("gemini history", err)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
