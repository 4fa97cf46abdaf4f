package client

import (
	"context"
	"fmt"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/statusbar"
)

func (c *Client) ListAgents(ctx context.Context) (*api.ListAgentsResponse, error) {
	res, err := call[api.Empty, api.ListAgentsResponse](ctx, c, api.ListAgentsProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return res, nil
}

func (c *Client) AcquireAgent(ctx context.Context, kind agent.Kind, taskID string) error {
	if _, err := call[api.AgentRequest, api.Empty](ctx, c, api.AcquireAgentProcedure, &api.AgentRequest{Agent: kind, TaskID: taskID}); err != nil {
		return fmt.Errorf("failed to acquire agent: %w", err)
	}
	return nil
}

func (c *Client) ReleaseAgent(ctx context.Context, kind agent.Kind, taskID string) error {
	if _, err := call[api.AgentRequest, api.Empty](ctx, c, api.ReleaseAgentProcedure, &api.AgentRequest{Agent: kind, TaskID: taskID}); err != nil {
		return fmt.Errorf("failed to release agent: %w", err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*statusbar.Snapshot, error) {
	res, err := call[api.Empty, statusbar.Snapshot](ctx, c, api.StatusProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return res, nil
}

// AddCost records spend against today's budget and returns the new total.
func (c *Client) AddCost(ctx context.Context, taskID string, amount float64) (float64, error) {
	res, err := call[api.AddCostRequest, api.AddCostResponse](ctx, c, api.AddCostProcedure, &api.AddCostRequest{TaskID: taskID, Amount: amount})
	if err != nil {
		return 0, fmt.Errorf("failed to add cost: %w", err)
	}
	return res.Total, nil
}

func (c *Client) CostSummary(ctx context.Context) (cost.Summary, error) {
	res, err := call[api.Empty, api.CostSummaryResponse](ctx, c, api.CostSummaryProcedure, &api.Empty{})
	if err != nil {
		return cost.Summary{}, fmt.Errorf("failed to get cost summary: %w", err)
	}
	return res.Summary, nil
}

func (c *Client) OverBudget(ctx context.Context) (bool, error) {
	s, err := c.CostSummary(ctx)
	if err != nil {
		return false, err
	}
	return s.OverBudget, nil
}
