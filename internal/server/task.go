package server

import (
	"context"
	"time"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/statusbar"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/cerr"
)

func (s *Server) taskRoutes(opts []connect.HandlerOption) []route {
	ledger := s.deps.Services.Ledger
	return []route{
		unary(api.CreateTaskProcedure, func(ctx context.Context, req *task.CreateRequest) (*api.GetTaskResponse, error) {
			t, err := ledger.Create(ctx, req)
			if err != nil {
				return nil, err
			}
			return &api.GetTaskResponse{Task: t}, nil
		}, opts),
		unary(api.GetTaskProcedure, func(ctx context.Context, req *api.IDRequest) (*api.GetTaskResponse, error) {
			t, err := ledger.Get(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			return &api.GetTaskResponse{Task: t}, nil
		}, opts),
		unary(api.ListTasksProcedure, func(ctx context.Context, req *api.ListTasksRequest) (*api.ListTasksResponse, error) {
			tasks, total := ledger.List(ctx, req.Filter, req.Limit, req.Offset)
			return &api.ListTasksResponse{Tasks: tasks, Total: total}, nil
		}, opts),
		unary(api.UpdateTaskStatusProcedure, func(ctx context.Context, req *api.UpdateTaskStatusRequest) (*api.GetTaskResponse, error) {
			t, err := ledger.UpdateStatus(ctx, req.ID, req.Status, req.Error)
			if err != nil {
				return nil, err
			}
			return &api.GetTaskResponse{Task: t}, nil
		}, opts),
		unary(api.CancelTaskProcedure, func(ctx context.Context, req *api.IDRequest) (*api.GetTaskResponse, error) {
			t, err := ledger.Cancel(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			return &api.GetTaskResponse{Task: t}, nil
		}, opts),
		unary(api.RecordTaskResultProcedure, func(ctx context.Context, req *api.RecordTaskResultRequest) (*api.GetTaskResponse, error) {
			t, err := ledger.RecordResult(ctx, req.ID, req.Output, req.ActualCost, req.Tokens)
			if err != nil {
				return nil, err
			}
			return &api.GetTaskResponse{Task: t}, nil
		}, opts),
		unary(api.TaskMetricsProcedure, func(ctx context.Context, _ *api.Empty) (*task.Metrics, error) {
			return ledger.Metrics(ctx), nil
		}, opts),
		unary(api.PruneTasksProcedure, func(ctx context.Context, req *api.PruneTasksRequest) (*api.PruneTasksResponse, error) {
			day, err := time.ParseInLocation(time.DateOnly, req.Before, time.Local)
			if err != nil {
				return nil, cerr.NewError(cerr.InvalidArgument, "before must be YYYY-MM-DD", err).WithViolation("before", err.Error())
			}
			pruned, err := ledger.PruneBefore(ctx, day)
			if err != nil {
				return nil, err
			}
			return &api.PruneTasksResponse{Pruned: pruned}, nil
		}, opts),
	}
}

func (s *Server) agentRoutes(opts []connect.HandlerOption) []route {
	svc := s.deps.Services
	return []route{
		unary(api.ListAgentsProcedure, func(context.Context, *api.Empty) (*api.ListAgentsResponse, error) {
			return &api.ListAgentsResponse{Agents: svc.Registry.List(), Available: svc.Registry.Available()}, nil
		}, opts),
		unary(api.AcquireAgentProcedure, func(ctx context.Context, req *api.AgentRequest) (*api.Empty, error) {
			return &api.Empty{}, svc.AcquireAgent(ctx, req.Agent, req.TaskID)
		}, opts),
		unary(api.ReleaseAgentProcedure, func(ctx context.Context, req *api.AgentRequest) (*api.Empty, error) {
			return &api.Empty{}, svc.ReleaseAgent(ctx, req.Agent, req.TaskID)
		}, opts),
		unary(api.StatusProcedure, func(ctx context.Context, _ *api.Empty) (*statusbar.Snapshot, error) {
			return svc.Status(ctx), nil
		}, opts),
		unary(api.AddCostProcedure, func(ctx context.Context, req *api.AddCostRequest) (*api.AddCostResponse, error) {
			total, err := svc.AddCost(ctx, req.TaskID, req.Amount)
			if err != nil {
				return nil, err
			}
			return &api.AddCostResponse{Total: total}, nil
		}, opts),
		unary(api.CostSummaryProcedure, func(context.Context, *api.Empty) (*api.CostSummaryResponse, error) {
			return &api.CostSummaryResponse{Summary: svc.Tracker.Summary()}, nil
		}, opts),
	}
}
