package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/client"
	"github.com/kazz187/triguild/internal/consensus"
)

var (
	consensusCmd = app.Command("consensus", "Tri-agent verification commands")

	verifyCmd         = consensusCmd.Command("verify", "Ask the other two agents to verify a task")
	verifyTask        = verifyCmd.Arg("task", "Task ID").Required().String()
	verifyImplementer = verifyCmd.Flag("implementer", "Agent that made the change").Short('i').Required().Enum(cliKindNames()...)
	verifyDesc        = verifyCmd.Flag("description", "What changed").Short('d').String()
	verifyScope       = verifyCmd.Flag("scope", "Files or area to check").String()
	verifyExpected    = verifyCmd.Flag("expected", "Expected behaviour").String()
	verifyRepro       = verifyCmd.Flag("repro", "Reproduction steps").String()
	verifyEvidence    = verifyCmd.Flag("evidence", "Evidence to check").String()
	verifyRisk        = verifyCmd.Flag("risk", "Risk notes").String()

	consensusShowCmd = consensusCmd.Command("show", "Show a session and its votes")
	consensusShowID  = consensusShowCmd.Arg("id", "Session ID").Required().String()

	consensusListCmd   = consensusCmd.Command("list", "List sessions").Alias("ls").Default()
	consensusListTask  = consensusListCmd.Flag("task", "Filter by task ID").String()
	consensusListLimit = consensusListCmd.Flag("limit", "Maximum sessions").Default("20").Int()

	voteCmd        = consensusCmd.Command("vote", "Record a vote by hand")
	voteSession    = voteCmd.Arg("session", "Session ID").Required().String()
	voteAgent      = voteCmd.Arg("agent", "Voting agent").Required().Enum(cliKindNames()...)
	voteValue      = voteCmd.Arg("vote", "APPROVE, REJECT, ABSTAIN, TIMEOUT or ERROR").Required().String()
	voteConfidence = voteCmd.Flag("confidence", "Confidence 0..1").Default("0.5").Float64()
	voteReason     = voteCmd.Flag("reason", "Reason").String()
	voteEvaluate   = voteCmd.Flag("evaluate", "Decide the session afterwards").Default("true").Bool()

	consensusMetricsCmd  = consensusCmd.Command("metrics", "Show verification metrics")
	consensusMetricsDays = consensusMetricsCmd.Flag("days", "Look back this many days").Default("30").Int()

	reportCmd    = consensusCmd.Command("report", "Render a session report")
	reportID     = reportCmd.Arg("id", "Session ID").Required().String()
	reportFormat = reportCmd.Flag("format", "text, markdown or json").Short('f').Default("text").String()
	reportSave   = reportCmd.Flag("save", "Write the report to <id>.<ext> instead of stdout").Bool()
)

func cliKindNames() []string {
	var names []string
	for _, k := range agent.CLIKinds {
		names = append(names, string(k))
	}
	return names
}

func init() {
	remoteHandlers[verifyCmd.FullCommand()] = runVerify
	remoteHandlers[consensusShowCmd.FullCommand()] = runConsensusShow
	remoteHandlers[consensusListCmd.FullCommand()] = runConsensusList
	remoteHandlers[voteCmd.FullCommand()] = runVote
	remoteHandlers[consensusMetricsCmd.FullCommand()] = runConsensusMetrics
	remoteHandlers[reportCmd.FullCommand()] = runReport
}

func runVerify(ctx context.Context, c *client.Client) error {
	req := &api.VerifyRequest{
		TaskID:      *verifyTask,
		Description: *verifyDesc,
		Implementer: agent.Kind(*verifyImplementer),
		Scope:       *verifyScope,
	}
	if *verifyExpected != "" || *verifyRepro != "" || *verifyEvidence != "" || *verifyRisk != "" {
		req.Request = &consensus.Request{
			Scope:            *verifyScope,
			ChangeSummary:    *verifyDesc,
			ExpectedBehavior: *verifyExpected,
			ReproSteps:       *verifyRepro,
			EvidenceToCheck:  *verifyEvidence,
			RiskNotes:        *verifyRisk,
		}
	}
	out, err := c.Verify(ctx, req)
	if err != nil {
		return err
	}
	if ok, err := printJSON(out); ok {
		return err
	}
	for _, e := range out.Envelopes {
		fmt.Printf("%-7s %-8s %.1f  %s\n", e.Model, e.Decision, e.Confidence, oneLine(e.Reasoning, 80))
	}
	fmt.Printf("\n%s: %s (%d approvals, %d rejections)\n", out.Session.ID, out.Session.Result, out.Session.Approvals, out.Session.Rejections)
	if out.Session.Result == consensus.ResultFail {
		return fmt.Errorf("verification failed")
	}
	return nil
}

func runConsensusShow(ctx context.Context, c *client.Client) error {
	res, err := c.GetConsensus(ctx, *consensusShowID)
	if err != nil {
		return err
	}
	if ok, err := printJSON(res); ok {
		return err
	}
	s := res.Session
	fmt.Printf("%s [%s] task %s by %s\n", s.ID, s.Result, s.TaskID, s.Implementer)
	if s.Description != "" {
		fmt.Printf("  %s\n", s.Description)
	}
	for _, b := range res.Ballots {
		fmt.Printf("  %-7s %-8s %.1f  %s\n", b.Agent, b.Vote, b.Confidence, oneLine(b.Reason, 80))
	}
	return nil
}

func runConsensusList(ctx context.Context, c *client.Client) error {
	sessions, err := c.ListConsensus(ctx, *consensusListTask, *consensusListLimit)
	if err != nil {
		return err
	}
	if ok, err := printJSON(sessions); ok {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tIMPLEMENTER\tRESULT\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.TaskID, s.Implementer, s.Result, s.CreatedAt.Format(time.DateTime))
	}
	return w.Flush()
}

func runVote(ctx context.Context, c *client.Client) error {
	v, err := consensus.ParseVote(*voteValue)
	if err != nil {
		return err
	}
	result, err := c.RecordVote(ctx, &consensus.Ballot{
		SessionID:  *voteSession,
		Agent:      agent.Kind(*voteAgent),
		Vote:       v,
		Confidence: *voteConfidence,
		Reason:     *voteReason,
	}, *voteEvaluate)
	if err != nil {
		return err
	}
	if result != "" {
		fmt.Printf("Session %s: %s\n", *voteSession, result)
	}
	return nil
}

func runConsensusMetrics(ctx context.Context, c *client.Client) error {
	m, err := c.ConsensusMetrics(ctx, *consensusMetricsDays)
	if err != nil {
		return err
	}
	if ok, err := printJSON(m); ok {
		return err
	}
	fmt.Printf("Sessions:       %d\n", m.Total)
	fmt.Printf("Passed:         %d\n", m.Passed)
	fmt.Printf("Failed:         %d\n", m.Failed)
	fmt.Printf("Inconclusive:   %d\n", m.Inconclusive)
	fmt.Printf("Avg approvals:  %.2f\n", m.AvgApprovals)
	fmt.Printf("Pass rate:      %.1f%%\n", m.PassRate)
	return nil
}

func runReport(ctx context.Context, c *client.Client) error {
	f, err := consensus.ParseFormat(*reportFormat)
	if err != nil {
		return err
	}
	text, err := c.ConsensusReport(ctx, *reportID, f)
	if err != nil {
		return err
	}
	if !*reportSave {
		fmt.Println(text)
		return nil
	}
	name := *reportID + "." + f.Ext()
	if err := os.WriteFile(name, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Printf("Report saved to %s\n", name)
	return nil
}
