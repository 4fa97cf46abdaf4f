package client

import (
	"context"
	"fmt"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/command"
)

func (c *Client) ListCommands(ctx context.Context) ([]*command.Command, error) {
	res, err := call[api.Empty, api.ListCommandsResponse](ctx, c, api.ListCommandsProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	return res.Commands, nil
}

// RunCommand runs a catalog command inside the daemon.
func (c *Client) RunCommand(ctx context.Context, name string, in command.Input) (*command.Outcome, error) {
	res, err := call[api.RunCommandRequest, api.RunCommandResponse](ctx, c, api.RunCommandProcedure, &api.RunCommandRequest{Name: name, Input: in})
	if err != nil {
		return nil, fmt.Errorf("failed to run command %s: %w", name, err)
	}
	return res.Outcome, nil
}

var _ command.Backend = (*Client)(nil)
