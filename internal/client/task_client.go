package client

import (
	"context"
	"fmt"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/task"
)

func (c *Client) CreateTask(ctx context.Context, req *task.CreateRequest) (*task.Task, error) {
	res, err := call[task.CreateRequest, api.GetTaskResponse](ctx, c, api.CreateTaskProcedure, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return res.Task, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	res, err := call[api.IDRequest, api.GetTaskResponse](ctx, c, api.GetTaskProcedure, &api.IDRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return res.Task, nil
}

// ListTasks returns one page of tasks and the number of matches overall.
func (c *Client) ListTasks(ctx context.Context, f task.Filter, limit, offset int) ([]*task.Task, int, error) {
	res, err := call[api.ListTasksRequest, api.ListTasksResponse](ctx, c, api.ListTasksProcedure,
		&api.ListTasksRequest{Filter: f, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return res.Tasks, res.Total, nil
}

func (c *Client) UpdateTaskStatus(ctx context.Context, id string, status task.Status, errMsg string) (*task.Task, error) {
	res, err := call[api.UpdateTaskStatusRequest, api.GetTaskResponse](ctx, c, api.UpdateTaskStatusProcedure,
		&api.UpdateTaskStatusRequest{ID: id, Status: status, Error: errMsg})
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	return res.Task, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) (*task.Task, error) {
	res, err := call[api.IDRequest, api.GetTaskResponse](ctx, c, api.CancelTaskProcedure, &api.IDRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}
	return res.Task, nil
}

func (c *Client) RecordTaskResult(ctx context.Context, id, output string, actualCost float64, tokens int) (*task.Task, error) {
	res, err := call[api.RecordTaskResultRequest, api.GetTaskResponse](ctx, c, api.RecordTaskResultProcedure,
		&api.RecordTaskResultRequest{ID: id, Output: output, ActualCost: actualCost, Tokens: tokens})
	if err != nil {
		return nil, fmt.Errorf("failed to record task result: %w", err)
	}
	return res.Task, nil
}

func (c *Client) TaskMetrics(ctx context.Context) (*task.Metrics, error) {
	res, err := call[api.Empty, task.Metrics](ctx, c, api.TaskMetricsProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to get task metrics: %w", err)
	}
	return res, nil
}

// PruneTasks removes finished tasks created before day (YYYY-MM-DD).
func (c *Client) PruneTasks(ctx context.Context, day string) ([]string, error) {
	res, err := call[api.PruneTasksRequest, api.PruneTasksResponse](ctx, c, api.PruneTasksProcedure, &api.PruneTasksRequest{Before: day})
	if err != nil {
		return nil, fmt.Errorf("failed to prune tasks: %w", err)
	}
	return res.Pruned, nil
}
