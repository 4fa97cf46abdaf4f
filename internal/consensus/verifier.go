package consensus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/dispatch"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/pkg/cerr"
)

// Verifier asks the non-implementing agents to review a change.
type Verifier struct {
	store   *Store
	runners *runner.Set
}

func NewVerifier(store *Store, runners *runner.Set) *Verifier {
	return &Verifier{store: store, runners: runners}
}

type VerifyRequest struct {
	TaskID      string
	Description string
	Implementer agent.Kind
	Scope       string
	// Request, when set, is sent as a VERIFY block and supplies the
	// description and scope.
	Request *Request
}

type Outcome struct {
	Session   *Session    `json:"session"`
	Envelopes []*Envelope `json:"envelopes"`
}

// Verify creates a session, collects one ballot from every agent except the
// implementer and evaluates the result.
func (v *Verifier) Verify(ctx context.Context, req *VerifyRequest) (*Outcome, error) {
	desc, scope := req.Description, req.Scope
	prompt := defaultPrompt(req.TaskID, desc, scope)
	if req.Request != nil {
		desc, scope = req.Request.ChangeSummary, req.Request.Scope
		prompt = req.Request.Prompt()
	}
	sess, err := v.store.CreateSession(ctx, &CreateRequest{
		TaskID:      req.TaskID,
		Description: desc,
		Implementer: req.Implementer,
		Scope:       scope,
	})
	if err != nil {
		return nil, err
	}

	voters := v.runners.Except(req.Implementer)
	if len(voters) == 0 {
		return nil, cerr.Errorf(cerr.FailedPrecondition, "no agents available to verify %s", req.TaskID)
	}
	agg := dispatch.FanOut(ctx, voters, prompt)

	out := &Outcome{}
	for _, s := range agg.Sections {
		env := NewEnvelope(s)
		out.Envelopes = append(out.Envelopes, env)
		err := v.store.RecordVote(ctx, &Ballot{
			SessionID:  sess.ID,
			Agent:      s.Agent,
			Vote:       env.Vote(),
			Confidence: env.Confidence,
			Reason:     abbrev(env.Reasoning, maxReasonLen),
			Duration:   s.Duration,
		})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "verification vote",
			slog.String("session_id", sess.ID),
			slog.String("agent", string(s.Agent)),
			slog.String("vote", string(env.Vote())),
		)
	}

	if _, err := v.store.Evaluate(ctx, sess.ID); err != nil {
		return nil, err
	}
	if out.Session, err = v.store.Get(ctx, sess.ID); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "consensus result", slog.String("session_id", sess.ID), slog.String("result", string(out.Session.Result)))
	return out, nil
}

// NewEnvelope normalizes one fan-out section.
func NewEnvelope(s dispatch.Section) *Envelope {
	env := &Envelope{
		Model:      s.Agent,
		TraceID:    uuid.NewString(),
		DurationMS: s.Duration.Milliseconds(),
	}
	if s.Err != nil {
		env.Status = EnvelopeError
		env.Decision = VoteAbstain
		env.Reasoning = dispatch.ErrorText(s.Agent, s.Err)
		env.timedOut = runner.IsTimeout(s.Err)
		return env
	}
	out := strings.TrimSpace(s.Output)
	env.Status = EnvelopeSuccess
	env.Output = out
	env.Decision = ParseDecision(out)
	env.Confidence = ParseConfidence(out)
	env.Reasoning = out
	return env
}

// Vote is the ballot the envelope casts. A failed agent abstains in its
// envelope but is recorded as TIMEOUT or ERROR.
func (e *Envelope) Vote() Vote {
	switch {
	case e.Status != EnvelopeError:
		return e.Decision
	case e.timedOut:
		return VoteTimeout
	}
	return VoteError
}
