package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kazz187/triguild/internal/agent"
)

// TimeoutExitCode is what coreutils timeout(1) exits with; the CLIs' own
// wrappers use it as well.
const TimeoutExitCode = 124

var ErrTimeout = errors.New("agent timed out")

// ExitError is returned when an agent process exits non-zero.
type ExitError struct {
	Agent  agent.Kind
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Agent, e.Code)
	if s := lastLine(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Is(target error) bool {
	return target == ErrTimeout && e.Code == TimeoutExitCode
}

// TimeoutError is returned when the per-invocation deadline passes.
type TimeoutError struct {
	Agent   agent.Kind
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Agent, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// NotFoundError is returned when the agent binary is not on PATH.
type NotFoundError struct {
	Agent agent.Kind
	Path  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s CLI not found (%s); install it or set its command template", e.Agent, e.Path)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
