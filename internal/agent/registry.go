package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/pkg/cerr"
)

// Registry tracks which agent is working on which task. A real agent runs
// at most one task at a time; the multi agent is never marked busy.
type Registry struct {
	bus *event.Bus
	now func() time.Time

	mu     sync.Mutex
	agents map[Kind]*Agent
}

func NewRegistry(bus *event.Bus) *Registry {
	r := &Registry{
		bus:    bus,
		now:    time.Now,
		agents: make(map[Kind]*Agent, len(Kinds)),
	}
	now := r.now()
	for _, k := range Kinds {
		r.agents[k] = &Agent{Kind: k, Status: StatusIdle, Multi: k.IsMulti(), UpdatedAt: now}
	}
	return r
}

// Acquire marks kind busy with taskID.
func (r *Registry) Acquire(ctx context.Context, kind Kind, taskID string) error {
	r.mu.Lock()
	a, ok := r.agents[kind]
	if !ok {
		r.mu.Unlock()
		return cerr.Errorf(cerr.InvalidArgument, "unknown agent %q", kind)
	}
	if a.Multi {
		r.mu.Unlock()
		return nil
	}
	if a.Status == StatusBusy {
		current := a.TaskID
		r.mu.Unlock()
		return cerr.Errorf(cerr.FailedPrecondition, "agent %s is busy with %s", kind, current)
	}
	a.Status = StatusBusy
	a.TaskID = taskID
	a.UpdatedAt = r.now()
	r.mu.Unlock()

	r.publish(ctx, event.AgentStatusChangedData{
		Agent:      string(kind),
		TaskID:     taskID,
		FromStatus: string(StatusIdle),
		ToStatus:   string(StatusBusy),
	})
	return nil
}

// Release frees kind if it is still working on taskID. An empty taskID
// releases unconditionally.
func (r *Registry) Release(ctx context.Context, kind Kind, taskID string) error {
	r.mu.Lock()
	a, ok := r.agents[kind]
	if !ok {
		r.mu.Unlock()
		return cerr.Errorf(cerr.InvalidArgument, "unknown agent %q", kind)
	}
	if a.Multi || a.Status == StatusIdle {
		r.mu.Unlock()
		return nil
	}
	if taskID != "" && a.TaskID != taskID {
		current := a.TaskID
		r.mu.Unlock()
		return cerr.Errorf(cerr.FailedPrecondition, "agent %s is working on %s, not %s", kind, current, taskID)
	}
	released := a.TaskID
	a.Status = StatusIdle
	a.TaskID = ""
	a.UpdatedAt = r.now()
	r.mu.Unlock()

	r.publish(ctx, event.AgentStatusChangedData{
		Agent:      string(kind),
		TaskID:     released,
		FromStatus: string(StatusBusy),
		ToStatus:   string(StatusIdle),
	})
	return nil
}

func (r *Registry) Get(kind Kind) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[kind]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// List returns a snapshot of all agents in display order.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, *r.agents[k])
	}
	return out
}

// Available lists the agents that can take a task right now.
func (r *Registry) Available() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for _, k := range Kinds {
		if r.availableLocked(k) {
			out = append(out, k)
		}
	}
	return out
}

// IsAvailable reports whether kind is idle. The multi agent is available
// only while every CLI agent it fans out to is idle.
func (r *Registry) IsAvailable(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked(kind)
}

func (r *Registry) availableLocked(kind Kind) bool {
	a, ok := r.agents[kind]
	if !ok {
		return false
	}
	if !a.Multi {
		return a.Status == StatusIdle
	}
	for _, k := range CLIKinds {
		if r.agents[k].Status != StatusIdle {
			return false
		}
	}
	return true
}

func (r *Registry) publish(ctx context.Context, data event.Data) {
	if err := r.bus.Publish(ctx, "agent-registry", data); err != nil {
		slog.WarnContext(ctx, "failed to publish agent event", slog.Any("error", err))
	}
}
