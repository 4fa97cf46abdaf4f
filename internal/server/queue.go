package server

import (
	"context"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/queue"
)

// queueCall guards a queue procedure against a daemon started without the
// queue database.
func queueCall[Req, Res any](s *Server, fn func(ctx context.Context, q *queue.Queue, req *Req) (*Res, error)) func(context.Context, *Req) (*Res, error) {
	return func(ctx context.Context, req *Req) (*Res, error) {
		if s.deps.Queue == nil {
			return nil, errUnavailable("queue")
		}
		return fn(ctx, s.deps.Queue, req)
	}
}

func taskResponse(t *queue.Task, err error) (*api.QueueTaskResponse, error) {
	if err != nil {
		return nil, err
	}
	return &api.QueueTaskResponse{Task: t}, nil
}

func (s *Server) queueRoutes(opts []connect.HandlerOption) []route {
	return []route{
		unary(api.AddQueueTaskProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.AddQueueTaskRequest) (*api.QueueTaskResponse, error) {
			return taskResponse(q.Add(ctx, &queue.AddRequest{
				ID:          req.ID,
				Description: req.Description,
				Priority:    req.Priority,
				Category:    req.Category,
				Agent:       req.Agent,
				Tags:        req.Tags,
				MaxRetries:  req.MaxRetries,
			}))
		}), opts),
		unary(api.GetQueueTaskProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.IDRequest) (*api.QueueTaskResponse, error) {
			return taskResponse(q.Get(ctx, req.ID))
		}), opts),
		unary(api.ListQueueProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.ListQueueRequest) (*api.ListQueueResponse, error) {
			tasks, err := q.List(ctx, queue.Filter{Status: req.Status, Category: req.Category, Priority: req.Priority}, req.Limit)
			if err != nil {
				return nil, err
			}
			return &api.ListQueueResponse{Tasks: tasks}, nil
		}), opts),
		unary(api.DeleteQueueTaskProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.IDRequest) (*api.Empty, error) {
			if err := q.Delete(ctx, req.ID); err != nil {
				return nil, err
			}
			return &api.Empty{}, nil
		}), opts),
		unary(api.CompleteQueueProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.FinishQueueTaskRequest) (*api.QueueTaskResponse, error) {
			return taskResponse(q.Complete(ctx, req.ID, req.Text))
		}), opts),
		unary(api.FailQueueProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.FinishQueueTaskRequest) (*api.QueueTaskResponse, error) {
			return taskResponse(q.Fail(ctx, req.ID, req.Text))
		}), opts),
		unary(api.RetryQueueProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.IDRequest) (*api.QueueTaskResponse, error) {
			return taskResponse(q.Retry(ctx, req.ID))
		}), opts),
		unary(api.SetPriorityProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.SetPriorityRequest) (*api.QueueTaskResponse, error) {
			return taskResponse(q.SetPriority(ctx, req.ID, req.Priority))
		}), opts),
		unary(api.QueueHistoryProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.IDRequest) (*api.QueueHistoryResponse, error) {
			h, err := q.History(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			return &api.QueueHistoryResponse{History: h}, nil
		}), opts),
		unary(api.QueueStatsProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, _ *api.Empty) (*api.QueueStatsResponse, error) {
			st, err := q.Stats(ctx)
			if err != nil {
				return nil, err
			}
			return &api.QueueStatsResponse{Stats: st}, nil
		}), opts),
		unary(api.NextBatchProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, _ *api.Empty) (*api.NextBatchResponse, error) {
			b, err := q.NextBatch(ctx)
			if err != nil {
				return nil, err
			}
			return &api.NextBatchResponse{Batch: b, Prompt: queue.ExportBatch(b)}, nil
		}), opts),
		unary(api.ImportResultsProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.ImportRequest) (*api.ImportResultsResponse, error) {
			r, err := q.ImportResults(ctx, req.Text)
			if err != nil {
				return nil, err
			}
			return &api.ImportResultsResponse{Report: r}, nil
		}), opts),
		unary(api.ImportTasksProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, req *api.ImportRequest) (*api.ImportTasksResponse, error) {
			tasks, err := q.ImportTasks(ctx, req.Text, req.Category)
			if err != nil {
				return nil, err
			}
			return &api.ImportTasksResponse{Tasks: tasks}, nil
		}), opts),
		unary(api.BoostQueueProcedure, queueCall(s, func(ctx context.Context, q *queue.Queue, _ *api.Empty) (*api.BoostQueueResponse, error) {
			n, err := q.ApplyAgeBoosts(ctx)
			if err != nil {
				return nil, err
			}
			return &api.BoostQueueResponse{Boosted: n}, nil
		}), opts),
	}
}
