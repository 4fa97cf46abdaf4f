package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Ext is the file extension for a saved report.
func (f Format) Ext() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatJSON:
		return "json"
	}
	return "txt"
}

type Report struct {
	Session     *Session        `json:"session"`
	Ballots     []*Ballot       `json:"votes"`
	History     []*HistoryEntry `json:"history"`
	GeneratedAt time.Time       `json:"generated_at"`
}

func (s *Store) Report(ctx context.Context, sessionID string) (*Report, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ballots, err := s.Ballots(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Report{Session: sess, Ballots: ballots, History: history, GeneratedAt: s.now()}, nil
}

func (r *Report) Render(f Format) (string, error) {
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal report: %w", err)
		}
		return string(b), nil
	case FormatMarkdown:
		return r.markdown(), nil
	}
	return r.text(), nil
}

func stamp(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(time.RFC3339)
}

func oneLine(s string, n int) string {
	return strings.ReplaceAll(abbrev(s, n), "\n", " ")
}

func (r *Report) markdown() string {
	s := r.Session
	var b strings.Builder
	fmt.Fprintf(&b, "# Consensus Verification Report\n\n")
	fmt.Fprintf(&b, "**Session ID:** `%s`\n**Generated:** %s\n\n", s.ID, r.GeneratedAt.Format(time.RFC3339))
	b.WriteString("## Session\n\n| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&b, "| Task ID | %s |\n", s.TaskID)
	fmt.Fprintf(&b, "| Description | %s |\n", oneLine(s.Description, 200))
	fmt.Fprintf(&b, "| Implementer | %s |\n", s.Implementer)
	fmt.Fprintf(&b, "| Scope | %s |\n", s.Scope)
	fmt.Fprintf(&b, "| Final Result | **%s** |\n", s.Result)
	fmt.Fprintf(&b, "| Approvals | %d |\n", s.Approvals)
	fmt.Fprintf(&b, "| Rejections | %d |\n", s.Rejections)
	fmt.Fprintf(&b, "| Created | %s |\n", stamp(&s.CreatedAt))
	fmt.Fprintf(&b, "| Completed | %s |\n\n", stamp(s.CompletedAt))

	b.WriteString("## Votes\n\n| Agent | Vote | Confidence | Reason | Duration (ms) |\n|-------|------|------------|--------|---------------|\n")
	for _, v := range r.Ballots {
		fmt.Fprintf(&b, "| %s | %s | %.1f | %s | %d |\n", v.Agent, v.Vote, v.Confidence, oneLine(v.Reason, 50), v.Duration.Milliseconds())
	}
	b.WriteString("\n## Audit Trail\n\n| Action | Details | Timestamp |\n|--------|---------|-----------|\n")
	for _, h := range r.History {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", h.Action, oneLine(h.Details, 50), h.CreatedAt.Format(time.RFC3339))
	}

	b.WriteString("\n## Analysis\n\n")
	switch s.Result {
	case ResultPass:
		fmt.Fprintf(&b, "The verification **PASSED** with %d approvals (minimum %d required).\n", s.Approvals, MinApprovals)
	case ResultFail:
		fmt.Fprintf(&b, "The verification **FAILED** with %d rejections.\n", s.Rejections)
	case ResultInconclusive:
		b.WriteString("The verification was **INCONCLUSIVE**. Manual review is required.\n")
	default:
		b.WriteString("The verification is still **PENDING**.\n")
	}
	return b.String()
}

func (r *Report) text() string {
	rule := strings.Repeat("=", 80)
	sub := strings.Repeat("-", 80)
	s := r.Session
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nCONSENSUS VERIFICATION REPORT\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Session ID: %s\nGenerated:  %s\n\n", s.ID, r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\nSESSION DETAILS\n%s\n", sub, sub)
	fmt.Fprintf(&b, "Task ID:      %s\n", s.TaskID)
	fmt.Fprintf(&b, "Description:  %s\n", s.Description)
	fmt.Fprintf(&b, "Implementer:  %s\n", s.Implementer)
	fmt.Fprintf(&b, "Scope:        %s\n", s.Scope)
	fmt.Fprintf(&b, "Final Result: %s\n", s.Result)
	fmt.Fprintf(&b, "Approvals:    %d\n", s.Approvals)
	fmt.Fprintf(&b, "Rejections:   %d\n", s.Rejections)
	fmt.Fprintf(&b, "Created:      %s\n", stamp(&s.CreatedAt))
	fmt.Fprintf(&b, "Completed:    %s\n\n", stamp(s.CompletedAt))

	fmt.Fprintf(&b, "%s\nVOTES\n%s\n", sub, sub)
	if len(r.Ballots) == 0 {
		b.WriteString("No votes recorded.\n")
	}
	for _, v := range r.Ballots {
		fmt.Fprintf(&b, "Agent: %s\n  Vote: %s (confidence %.1f)\n  Reason: %s\n  Duration: %dms\n\n",
			v.Agent, v.Vote, v.Confidence, abbrev(v.Reason, 100), v.Duration.Milliseconds())
	}

	fmt.Fprintf(&b, "\n%s\nAUDIT TRAIL\n%s\n", sub, sub)
	if len(r.History) == 0 {
		b.WriteString("No history recorded.\n")
	}
	for _, h := range r.History {
		fmt.Fprintf(&b, "[%s] %s: %s\n", h.CreatedAt.Format(time.RFC3339), h.Action, h.Details)
	}
	fmt.Fprintf(&b, "\n%s\nEND OF REPORT\n%s\n", rule, rule)
	return b.String()
}
