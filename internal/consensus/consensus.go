// Package consensus runs two-out-of-three verification: the agents that did
// not implement a change vote on it and two matching votes decide.
package consensus

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kazz187/triguild/internal/agent"
)

// MinApprovals is the number of matching votes that settles a session.
const MinApprovals = 2

type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
	VoteAbstain Vote = "ABSTAIN"
	VoteTimeout Vote = "TIMEOUT"
	VoteError   Vote = "ERROR"
)

func ParseVote(s string) (Vote, error) {
	v := Vote(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VoteApprove, VoteReject, VoteAbstain, VoteTimeout, VoteError:
		return v, nil
	}
	return "", fmt.Errorf("unknown vote %q", s)
}

type Result string

const (
	ResultPass         Result = "PASS"
	ResultFail         Result = "FAIL"
	ResultInconclusive Result = "INCONCLUSIVE"
	ResultPending      Result = "PENDING"
)

var ErrImplementerVote = errors.New("the implementer cannot vote on its own change")

type Session struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Implementer agent.Kind `json:"implementer"`
	Scope       string     `json:"scope,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      Result     `json:"result"`
	Approvals   int        `json:"approvals"`
	Rejections  int        `json:"rejections"`
}

type Ballot struct {
	SessionID  string        `json:"session_id"`
	Agent      agent.Kind    `json:"agent"`
	Vote       Vote          `json:"vote"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason,omitempty"`
	Evidence   string        `json:"evidence,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Metrics struct {
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	Inconclusive int     `json:"inconclusive"`
	AvgApprovals float64 `json:"avg_approvals"`
	// PassRate is a percentage rounded to one decimal.
	PassRate float64 `json:"pass_rate"`
}

// Request is the VERIFY block handed to the reviewing agents.
type Request struct {
	Scope            string `json:"scope"`
	ChangeSummary    string `json:"change_summary"`
	ExpectedBehavior string `json:"expected_behavior"`
	ReproSteps       string `json:"repro_steps"`
	EvidenceToCheck  string `json:"evidence_to_check"`
	RiskNotes        string `json:"risk_notes"`
}

func (r *Request) Prompt() string {
	return fmt.Sprintf(`VERIFY:
- Scope: %s
- Change summary: %s
- Expected behavior: %s
- Repro steps: %s
- Evidence to check: %s
- Risk notes: %s

Review the above and respond with:
- APPROVE if all criteria are met
- REJECT if any issues found (list all issues)
- ABSTAIN if unable to verify

Include your reasoning and any evidence checked.`,
		r.Scope, r.ChangeSummary, r.ExpectedBehavior, r.ReproSteps, r.EvidenceToCheck, r.RiskNotes)
}

// defaultPrompt is used when no VERIFY block is given.
func defaultPrompt(taskID, description, scope string) string {
	return fmt.Sprintf(`Verify the implementation for task %s: %s
Scope: %s
Check for correctness, security issues, edge cases.
Reply with APPROVE or REJECT followed by your findings.`, taskID, description, scope)
}

var (
	approveWords = regexp.MustCompile(`(?i)\b(APPROVE|APPROVED|LGTM|ACCEPT|YES)\b`)
	rejectWords  = regexp.MustCompile(`(?i)\b(REJECT|REJECTED|DENY|DENIED|NO|BLOCK)\b`)

	confidenceLevels = []struct {
		re    *regexp.Regexp
		value float64
	}{
		{regexp.MustCompile(`(?i)\b(definitely|certainly|absolutely|clearly|strongly)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(likely|probably|appears|seems|looks)\b`), 0.7},
		{regexp.MustCompile(`(?i)\b(maybe|might|could|possibly|perhaps|unsure)\b`), 0.4},
		{regexp.MustCompile(`(?i)\b(difficult to say|hard to tell|cannot determine|need more)\b`), 0.2},
	}
)

const defaultConfidence = 0.5

// ParseDecision reads a vote out of free text. Approval words win over
// rejection words; anything else abstains.
func ParseDecision(text string) Vote {
	switch {
	case approveWords.MatchString(text):
		return VoteApprove
	case rejectWords.MatchString(text):
		return VoteReject
	}
	return VoteAbstain
}

// ParseConfidence maps hedging language to a confidence in [0, 1].
func ParseConfidence(text string) float64 {
	for _, l := range confidenceLevels {
		if l.re.MatchString(text) {
			return l.value
		}
	}
	return defaultConfidence
}

// Envelope is the normalized form of one agent's verification answer.
type Envelope struct {
	Model      agent.Kind `json:"model"`
	Status     string     `json:"status"`
	Decision   Vote       `json:"decision"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
	Output     string     `json:"output"`
	TraceID    string     `json:"trace_id"`
	DurationMS int64      `json:"duration_ms"`

	timedOut bool
}

const (
	EnvelopeSuccess = "success"
	EnvelopeError   = "error"
)

const maxReasonLen = 500

func abbrev(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
