package server

import (
	"context"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/pkg/cerr"
)

func (s *Server) commandRoutes(opts []connect.HandlerOption) []route {
	return []route{
		unary(api.ListCommandsProcedure, func(context.Context, *api.Empty) (*api.ListCommandsResponse, error) {
			if s.deps.Executor == nil {
				return nil, errUnavailable("command")
			}
			return &api.ListCommandsResponse{Commands: s.deps.Executor.Catalog().List()}, nil
		}, opts),
		unary(api.RunCommandProcedure, func(ctx context.Context, req *api.RunCommandRequest) (*api.RunCommandResponse, error) {
			if s.deps.Executor == nil {
				return nil, errUnavailable("command")
			}
			out, err := s.deps.Executor.Run(ctx, req.Name, req.Input)
			if err != nil {
				return nil, err
			}
			return &api.RunCommandResponse{Outcome: out}, nil
		}, opts),
	}
}

func errUnavailable(what string) error {
	return cerr.Errorf(cerr.Unavailable, "%s service is not configured", what)
}
