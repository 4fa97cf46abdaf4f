package client

import (
	"context"
	"fmt"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/consensus"
)

// Verify asks every agent except the implementer to vote on a task.
func (c *Client) Verify(ctx context.Context, req *api.VerifyRequest) (*consensus.Outcome, error) {
	res, err := call[api.VerifyRequest, api.VerifyResponse](ctx, c, api.VerifyProcedure, req)
	if err != nil {
		return nil, fmt.Errorf("failed to verify task: %w", err)
	}
	return res.Outcome, nil
}

func (c *Client) GetConsensus(ctx context.Context, id string) (*api.ConsensusResponse, error) {
	res, err := call[api.IDRequest, api.ConsensusResponse](ctx, c, api.GetConsensusProcedure, &api.IDRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus session: %w", err)
	}
	return res, nil
}

func (c *Client) ListConsensus(ctx context.Context, taskID string, limit int) ([]*consensus.Session, error) {
	res, err := call[api.ListConsensusRequest, api.ListConsensusResponse](ctx, c, api.ListConsensusProcedure,
		&api.ListConsensusRequest{TaskID: taskID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list consensus sessions: %w", err)
	}
	return res.Sessions, nil
}

func (c *Client) RecordVote(ctx context.Context, b *consensus.Ballot, evaluate bool) (consensus.Result, error) {
	res, err := call[api.RecordVoteRequest, api.RecordVoteResponse](ctx, c, api.RecordVoteProcedure,
		&api.RecordVoteRequest{Ballot: b, Evaluate: evaluate})
	if err != nil {
		return "", fmt.Errorf("failed to record vote: %w", err)
	}
	return res.Result, nil
}

func (c *Client) ConsensusMetrics(ctx context.Context, days int) (*consensus.Metrics, error) {
	res, err := call[api.ConsensusMetricsRequest, api.ConsensusMetricsResponse](ctx, c, api.ConsensusMetricsProcedure,
		&api.ConsensusMetricsRequest{Days: days})
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus metrics: %w", err)
	}
	return res.Metrics, nil
}

func (c *Client) ConsensusReport(ctx context.Context, id string, f consensus.Format) (string, error) {
	res, err := call[api.ConsensusReportRequest, api.ConsensusReportResponse](ctx, c, api.ConsensusReportProcedure,
		&api.ConsensusReportRequest{ID: id, Format: f})
	if err != nil {
		return "", fmt.Errorf("failed to render consensus report: %w", err)
	}
	return res.Report, nil
}
