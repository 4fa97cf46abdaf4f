package client

import (
	"context"
	"fmt"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/queue"
)

func (c *Client) AddQueueTask(ctx context.Context, req *api.AddQueueTaskRequest) (*queue.Task, error) {
	res, err := call[api.AddQueueTaskRequest, api.QueueTaskResponse](ctx, c, api.AddQueueTaskProcedure, req)
	if err != nil {
		return nil, fmt.Errorf("failed to add queue task: %w", err)
	}
	return res.Task, nil
}

func (c *Client) GetQueueTask(ctx context.Context, id string) (*queue.Task, error) {
	return c.queueTask(ctx, api.GetQueueTaskProcedure, "get", id)
}

func (c *Client) ListQueue(ctx context.Context, req *api.ListQueueRequest) ([]*queue.Task, error) {
	res, err := call[api.ListQueueRequest, api.ListQueueResponse](ctx, c, api.ListQueueProcedure, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return res.Tasks, nil
}

func (c *Client) DeleteQueueTask(ctx context.Context, id string) error {
	if _, err := call[api.IDRequest, api.Empty](ctx, c, api.DeleteQueueTaskProcedure, &api.IDRequest{ID: id}); err != nil {
		return fmt.Errorf("failed to delete queue task: %w", err)
	}
	return nil
}

func (c *Client) CompleteQueueTask(ctx context.Context, id, result string) (*queue.Task, error) {
	return c.finish(ctx, api.CompleteQueueProcedure, "complete", id, result)
}

func (c *Client) FailQueueTask(ctx context.Context, id, errMsg string) (*queue.Task, error) {
	return c.finish(ctx, api.FailQueueProcedure, "fail", id, errMsg)
}

func (c *Client) RetryQueueTask(ctx context.Context, id string) (*queue.Task, error) {
	return c.queueTask(ctx, api.RetryQueueProcedure, "retry", id)
}

func (c *Client) SetPriority(ctx context.Context, id string, p queue.Priority) (*queue.Task, error) {
	res, err := call[api.SetPriorityRequest, api.QueueTaskResponse](ctx, c, api.SetPriorityProcedure, &api.SetPriorityRequest{ID: id, Priority: p})
	if err != nil {
		return nil, fmt.Errorf("failed to set priority: %w", err)
	}
	return res.Task, nil
}

func (c *Client) QueueHistory(ctx context.Context, id string) ([]*queue.HistoryEntry, error) {
	res, err := call[api.IDRequest, api.QueueHistoryResponse](ctx, c, api.QueueHistoryProcedure, &api.IDRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue history: %w", err)
	}
	return res.History, nil
}

func (c *Client) QueueStats(ctx context.Context) (*queue.Stats, error) {
	res, err := call[api.Empty, api.QueueStatsResponse](ctx, c, api.QueueStatsProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return res.Stats, nil
}

func (c *Client) NextBatch(ctx context.Context) (*api.NextBatchResponse, error) {
	res, err := call[api.Empty, api.NextBatchResponse](ctx, c, api.NextBatchProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	return res, nil
}

func (c *Client) ImportResults(ctx context.Context, text string) (*queue.ImportReport, error) {
	res, err := call[api.ImportRequest, api.ImportResultsResponse](ctx, c, api.ImportResultsProcedure, &api.ImportRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to import results: %w", err)
	}
	return res.Report, nil
}

func (c *Client) ImportTasks(ctx context.Context, text string, category queue.Category) ([]*queue.Task, error) {
	res, err := call[api.ImportRequest, api.ImportTasksResponse](ctx, c, api.ImportTasksProcedure, &api.ImportRequest{Text: text, Category: category})
	if err != nil {
		return nil, fmt.Errorf("failed to import tasks: %w", err)
	}
	return res.Tasks, nil
}

func (c *Client) BoostQueue(ctx context.Context) (int, error) {
	res, err := call[api.Empty, api.BoostQueueResponse](ctx, c, api.BoostQueueProcedure, &api.Empty{})
	if err != nil {
		return 0, fmt.Errorf("failed to boost queue: %w", err)
	}
	return res.Boosted, nil
}

func (c *Client) queueTask(ctx context.Context, procedure, verb, id string) (*queue.Task, error) {
	res, err := call[api.IDRequest, api.QueueTaskResponse](ctx, c, procedure, &api.IDRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to %s queue task: %w", verb, err)
	}
	return res.Task, nil
}

func (c *Client) finish(ctx context.Context, procedure, verb, id, text string) (*queue.Task, error) {
	res, err := call[api.FinishQueueTaskRequest, api.QueueTaskResponse](ctx, c, procedure, &api.FinishQueueTaskRequest{ID: id, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to %s queue task: %w", verb, err)
	}
	return res.Task, nil
}
