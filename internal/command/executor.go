package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/dispatch"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/clog"
)

// Backend is the bookkeeping a command run goes through. The daemon client
// implements it remotely and service.Services in process.
type Backend interface {
	CreateTask(ctx context.Context, req *task.CreateRequest) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status, errMsg string) (*task.Task, error)
	RecordTaskResult(ctx context.Context, id, output string, actualCost float64, tokens int) (*task.Task, error)
	AcquireAgent(ctx context.Context, kind agent.Kind, taskID string) error
	ReleaseAgent(ctx context.Context, kind agent.Kind, taskID string) error
	AddCost(ctx context.Context, taskID string, amount float64) (float64, error)
	OverBudget(ctx context.Context) (bool, error)
}

type Executor struct {
	source    *Source
	backend   Backend
	runners   *runner.Set
	estimator *cost.Estimator
	notifier  notify.Notifier
}

func NewExecutor(source *Source, backend Backend, runners *runner.Set, notifier notify.Notifier) *Executor {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Executor{
		source:    source,
		backend:   backend,
		runners:   runners,
		estimator: cost.NewEstimator(),
		notifier:  notifier,
	}
}

func (e *Executor) Catalog() *Catalog {
	return e.source.Catalog()
}

type Outcome struct {
	Command   *Command            `json:"command"`
	Task      *task.Task          `json:"task"`
	Text      string              `json:"text"`
	Aggregate *dispatch.Aggregate `json:"aggregate,omitempty"`
	Cost      float64             `json:"cost"`
	Tokens    int                 `json:"tokens"`
	Duration  time.Duration       `json:"duration"`
}

// Run executes the named command on in and returns its result text. The
// caller decides how to show it, usually through Present.
func (e *Executor) Run(ctx context.Context, name string, in Input) (*Outcome, error) {
	cmd, ok := e.source.Catalog().Get(name)
	if !ok {
		return nil, cerr.Errorf(cerr.NotFound, "unknown command %q", name)
	}
	clog.AddAttributes(ctx, map[string]any{"command": name, "agent": string(cmd.Agent)})

	if in.Content() == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "nothing to send: the input is empty").WithViolation("input", "must not be empty")
	}
	over, err := e.backend.OverBudget(ctx)
	if err != nil {
		return nil, err
	}
	if over {
		return nil, cerr.Errorf(cerr.ResourceExhausted, "daily budget exceeded; refusing to start %s", name)
	}
	prompt, err := cmd.Render(in.PromptData())
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "failed to render prompt", err)
	}
	runners, err := e.runners.For(cmd.Agent)
	if err != nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, err.Error(), nil)
	}

	desc := cmd.Title
	if in.File != "" {
		desc += ": " + in.File
	}
	out, err := e.execute(ctx, &job{
		name:        cmd.Name,
		title:       cmd.Title,
		typ:         cmd.Type,
		agent:       cmd.Agent,
		description: desc,
		prompt:      prompt,
		runners:     runners,
	})
	if out != nil {
		out.Command = cmd
	}
	return out, err
}

// PromptRequest runs a free-form prompt through the same bookkeeping as a
// catalog command. The orchestrator uses it for queued work.
type PromptRequest struct {
	Type        task.Type
	Agent       agent.Kind
	Description string
	Prompt      string
}

func (e *Executor) RunPrompt(ctx context.Context, req *PromptRequest) (*Outcome, error) {
	if req.Prompt == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "prompt is required").WithViolation("prompt", "must not be empty")
	}
	over, err := e.backend.OverBudget(ctx)
	if err != nil {
		return nil, err
	}
	if over {
		return nil, cerr.Errorf(cerr.ResourceExhausted, "daily budget exceeded; refusing to start %q", req.Description)
	}
	runners, err := e.runners.For(req.Agent)
	if err != nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, err.Error(), nil)
	}
	clog.AddAttribute(ctx, "agent", string(req.Agent))
	return e.execute(ctx, &job{
		title:       req.Description,
		typ:         req.Type,
		agent:       req.Agent,
		description: req.Description,
		prompt:      req.Prompt,
		runners:     runners,
	})
}

type job struct {
	name        string
	title       string
	typ         task.Type
	agent       agent.Kind
	description string
	prompt      string
	runners     []runner.Runner
}

// agents are the registry slots a job occupies: every CLI agent a multi job
// fans out to, otherwise its single agent.
func (j *job) agents() []agent.Kind {
	if !j.agent.IsMulti() {
		return []agent.Kind{j.agent}
	}
	kinds := make([]agent.Kind, 0, len(j.runners))
	for _, r := range j.runners {
		kinds = append(kinds, r.Kind())
	}
	return kinds
}

// acquire takes every kind for taskID or none of them.
func (e *Executor) acquire(ctx context.Context, kinds []agent.Kind, taskID string) ([]agent.Kind, error) {
	acquired := make([]agent.Kind, 0, len(kinds))
	for _, k := range kinds {
		if err := e.backend.AcquireAgent(ctx, k, taskID); err != nil {
			e.release(context.WithoutCancel(ctx), acquired, taskID)
			return nil, err
		}
		acquired = append(acquired, k)
	}
	return acquired, nil
}

func (e *Executor) release(ctx context.Context, kinds []agent.Kind, taskID string) {
	for _, k := range kinds {
		if err := e.backend.ReleaseAgent(ctx, k, taskID); err != nil {
			slog.WarnContext(ctx, "failed to release agent", slog.String("agent", string(k)), slog.Any("error", err))
		}
	}
}

func (e *Executor) execute(ctx context.Context, j *job) (*Outcome, error) {
	t, err := e.backend.CreateTask(ctx, &task.CreateRequest{
		Type:        j.typ,
		Description: j.description,
		Agent:       string(j.agent),
		Command:     j.name,
		Input:       j.prompt,
	})
	if err != nil {
		return nil, err
	}
	clog.AddAttribute(ctx, "task_id", t.ID)

	acquired, err := e.acquire(ctx, j.agents(), t.ID)
	// release even when the caller's context is already cancelled
	defer e.release(context.WithoutCancel(ctx), acquired, t.ID)
	if err != nil {
		e.fail(ctx, j.title, t, err)
		return nil, err
	}

	if _, err := e.backend.UpdateTaskStatus(ctx, t.ID, task.StatusInProgress, ""); err != nil {
		return nil, err
	}

	start := time.Now()
	out := &Outcome{Task: t}
	var runErr error
	if j.agent.IsMulti() {
		agg := dispatch.FanOut(ctx, j.runners, j.prompt)
		out.Aggregate = agg
		out.Text = agg.Text()
		if agg.AllFailed() {
			runErr = errors.New("every agent failed")
		}
	} else {
		var res *runner.Result
		res, runErr = dispatch.Single(ctx, j.runners[0], j.prompt)
		if res != nil {
			out.Text = res.Output()
		}
	}
	out.Duration = time.Since(start)

	out.Cost, out.Tokens = e.estimator.Estimate(string(j.typ), j.prompt+out.Text)
	bookCtx := context.WithoutCancel(ctx)
	if _, err := e.backend.RecordTaskResult(bookCtx, t.ID, out.Text, out.Cost, out.Tokens); err != nil {
		slog.WarnContext(ctx, "failed to record task result", slog.Any("error", err))
	}
	if _, err := e.backend.AddCost(bookCtx, t.ID, out.Cost); err != nil {
		slog.WarnContext(ctx, "failed to add cost", slog.Any("error", err))
	}

	if runErr != nil {
		e.fail(bookCtx, j.title, t, runErr)
		return out, runError(runErr)
	}
	done, err := e.backend.UpdateTaskStatus(bookCtx, t.ID, task.StatusCompleted, "")
	if err != nil {
		return out, err
	}
	out.Task = done
	slog.InfoContext(ctx, "task finished",
		slog.Duration("duration", out.Duration),
		slog.String("cost", cost.FormatUSD(out.Cost)),
	)
	return out, nil
}

func (e *Executor) fail(ctx context.Context, title string, t *task.Task, cause error) {
	if _, err := e.backend.UpdateTaskStatus(ctx, t.ID, task.StatusFailed, cause.Error()); err != nil {
		slog.WarnContext(ctx, "failed to mark task failed", slog.Any("error", err))
	}
	n := &notify.Notification{
		Title:  fmt.Sprintf("%s failed", title),
		Body:   cause.Error(),
		Level:  notify.LevelError,
		TaskID: t.ID,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		slog.WarnContext(ctx, "failed to send notification", slog.Any("error", err))
	}
}

// runError maps agent failures onto error codes.
func runError(err error) error {
	var nf *runner.NotFoundError
	switch {
	case runner.IsTimeout(err):
		return cerr.NewError(cerr.DeadlineExceeded, err.Error(), err)
	case errors.As(err, &nf):
		return cerr.NewError(cerr.FailedPrecondition, err.Error(), err)
	case errors.Is(err, context.Canceled):
		return cerr.NewError(cerr.Canceled, "cancelled", err)
	}
	return cerr.NewError(cerr.Unavailable, err.Error(), err)
}
