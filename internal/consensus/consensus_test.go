package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/dispatch"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/pkg/cerr"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		text string
		want Vote
	}{
		{"I APPROVE this change.", VoteApprove},
		{"APPROVED - looks good!", VoteApprove},
		{"LGTM", VoteApprove},
		{"I accept this implementation", VoteApprove},
		{"YES, this is correct", VoteApprove},
		{"I REJECT this code.", VoteReject},
		{"REJECTED due to security issues", VoteReject},
		{"DENY this request", VoteReject},
		{"NO, this is incorrect", VoteReject},
		{"BLOCK this merge", VoteReject},
		{"I'm UNSURE about this", VoteAbstain},
		{"Cannot determine the answer", VoteAbstain},
		{"approvedly", VoteAbstain},
		{"", VoteAbstain},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseDecision(tt.text), tt.text)
	}
}

func TestParseConfidence(t *testing.T) {
	tests := map[string]float64{
		"I definitely approve this.":         0.9,
		"This is clearly correct.":           0.9,
		"It probably works.":                 0.7,
		"This seems fine.":                   0.7,
		"Maybe this could work.":             0.4,
		"I'm unsure about this.":             0.4,
		"It's difficult to say.":             0.2,
		"Hard to tell without more context.": 0.2,
		"Some neutral text.":                 0.5,
	}
	for text, want := range tests {
		assert.Equal(t, want, ParseConfidence(text), text)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		counts map[Vote]int
		want   Result
	}{
		{"two approvals", map[Vote]int{VoteApprove: 2}, ResultPass},
		{"two rejections", map[Vote]int{VoteReject: 2}, ResultFail},
		{"split with timeout", map[Vote]int{VoteApprove: 1, VoteTimeout: 1}, ResultInconclusive},
		{"split with error", map[Vote]int{VoteReject: 1, VoteError: 1}, ResultInconclusive},
		{"split without error", map[Vote]int{VoteApprove: 1, VoteReject: 1}, ResultPending},
		{"one vote", map[Vote]int{VoteError: 1}, ResultPending},
		{"none", map[Vote]int{}, ResultPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.counts), tt.name)
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	return NewStore(db, WithClock(func() time.Time { return now }))
}

func TestStore_Voting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	sess, err := s.CreateSession(ctx, &CreateRequest{TaskID: "T-001", Description: "PKCE flow", Implementer: agent.KindClaude, Scope: "src/auth/"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID, "CS-20260504103000-T-001-"), sess.ID)
	assert.Len(t, sess.ID, len("CS-20260504103000-T-001-")+8)

	err = s.RecordVote(ctx, &Ballot{SessionID: sess.ID, Agent: agent.KindClaude, Vote: VoteApprove})
	assert.True(t, errors.Is(err, ErrImplementerVote))

	require.NoError(t, s.RecordVote(ctx, &Ballot{SessionID: sess.ID, Agent: agent.KindGemini, Vote: VoteReject, Reason: "first look"}))
	res, err := s.Evaluate(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultPending, res)

	// a second ballot from the same agent replaces the first
	require.NoError(t, s.RecordVote(ctx, &Ballot{SessionID: sess.ID, Agent: agent.KindGemini, Vote: VoteApprove, Confidence: 0.9}))
	require.NoError(t, s.RecordVote(ctx, &Ballot{SessionID: sess.ID, Agent: agent.KindCodex, Vote: VoteApprove, Duration: 8100 * time.Millisecond}))
	res, err = s.Evaluate(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultPass, res)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Approvals)
	assert.Equal(t, 0, got.Rejections)
	assert.NotNil(t, got.CompletedAt)

	ballots, err := s.Ballots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, 2)

	_, err = s.Evaluate(ctx, "CS-missing")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	_, err = s.CreateSession(ctx, &CreateRequest{TaskID: "T-2", Implementer: agent.KindMulti})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStore_MetricsAndReport(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	vote := func(id string, k agent.Kind, v Vote) {
		require.NoError(t, s.RecordVote(ctx, &Ballot{SessionID: id, Agent: k, Vote: v, Reason: "because\nreasons"}))
	}
	pass, err := s.CreateSession(ctx, &CreateRequest{TaskID: "T-1", Implementer: agent.KindClaude})
	require.NoError(t, err)
	vote(pass.ID, agent.KindCodex, VoteApprove)
	vote(pass.ID, agent.KindGemini, VoteApprove)
	fail, err := s.CreateSession(ctx, &CreateRequest{TaskID: "T-2", Implementer: agent.KindCodex})
	require.NoError(t, err)
	vote(fail.ID, agent.KindClaude, VoteReject)
	vote(fail.ID, agent.KindGemini, VoteReject)
	inc, err := s.CreateSession(ctx, &CreateRequest{TaskID: "T-3", Implementer: agent.KindGemini})
	require.NoError(t, err)
	vote(inc.ID, agent.KindClaude, VoteApprove)
	vote(inc.ID, agent.KindCodex, VoteTimeout)
	for _, id := range []string{pass.ID, fail.ID, inc.ID} {
		_, err := s.Evaluate(ctx, id)
		require.NoError(t, err)
	}

	m, err := s.Metrics(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, &Metrics{Total: 3, Passed: 1, Failed: 1, Inconclusive: 1, AvgApprovals: 1, PassRate: 33.3}, m)

	rep, err := s.Report(ctx, pass.ID)
	require.NoError(t, err)
	assert.Len(t, rep.Ballots, 2)
	assert.Equal(t, "SESSION_CREATED", rep.History[0].Action)
	assert.Equal(t, "CONSENSUS_EVALUATED", rep.History[len(rep.History)-1].Action)

	md, err := rep.Render(FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, md, "| Final Result | **PASS** |")
	assert.Contains(t, md, "because reasons")
	assert.Contains(t, md, "**PASSED** with 2 approvals")

	txt, err := rep.Render(FormatText)
	require.NoError(t, err)
	assert.Contains(t, txt, "Final Result: PASS")

	js, err := rep.Render(FormatJSON)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Contains(t, decoded, "votes")
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	calls := map[agent.Kind]string{}
	record := func(k agent.Kind, out string) runner.Runner {
		return runner.Func{K: k, Fn: func(_ context.Context, prompt string) (*runner.Result, error) {
			calls[k] = prompt
			return &runner.Result{Agent: k, Stdout: out}, nil
		}}
	}
	set := runner.NewSet(
		record(agent.KindClaude, "should never run"),
		record(agent.KindCodex, "APPROVE. Tests clearly pass."),
		runner.Func{K: agent.KindGemini, Fn: func(context.Context, string) (*runner.Result, error) {
			return nil, &runner.TimeoutError{Agent: agent.KindGemini, Timeout: time.Second}
		}},
	)
	v := NewVerifier(s, set)

	out, err := v.Verify(ctx, &VerifyRequest{
		TaskID:      "T-9",
		Implementer: agent.KindClaude,
		Request: &Request{
			Scope:            "pkg/auth",
			ChangeSummary:    "rotate refresh tokens",
			ExpectedBehavior: "old tokens are rejected",
			ReproSteps:       "go test ./pkg/auth",
			EvidenceToCheck:  "token_test.go",
			RiskNotes:        "session invalidation",
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, calls, agent.KindClaude)
	assert.Contains(t, calls[agent.KindCodex], "- Change summary: rotate refresh tokens")
	assert.Contains(t, calls[agent.KindCodex], "- Risk notes: session invalidation")

	assert.Equal(t, ResultInconclusive, out.Session.Result)
	assert.Equal(t, "rotate refresh tokens", out.Session.Description)
	require.Len(t, out.Envelopes, 2)
	assert.Equal(t, VoteApprove, out.Envelopes[0].Decision)
	assert.Equal(t, 0.9, out.Envelopes[0].Confidence)
	assert.Equal(t, EnvelopeError, out.Envelopes[1].Status)
	assert.Equal(t, VoteAbstain, out.Envelopes[1].Decision)
	assert.Equal(t, VoteTimeout, out.Envelopes[1].Vote())
	assert.NotEmpty(t, out.Envelopes[0].TraceID)
}

func TestNewEnvelope_Error(t *testing.T) {
	env := NewEnvelope(dispatch.Section{Agent: agent.KindCodex, Err: errors.New("exploded")})
	assert.Equal(t, VoteError, env.Vote())
	assert.Equal(t, "[codex error] exploded", env.Reasoning)
}
