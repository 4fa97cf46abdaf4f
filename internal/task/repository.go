package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/kazz187/triguild/pkg/storage"
)

const (
	tasksKey    = "state/tasks.json"
	sequenceKey = "state/task_sequence.json"
)

// Repository persists the ledger as a whole. The ledger is small and always
// fully loaded, so there is no per-task access.
type Repository interface {
	LoadTasks(ctx context.Context) ([]*Task, error)
	SaveTasks(ctx context.Context, tasks []*Task) error
	LoadSequence(ctx context.Context) (int, error)
	SaveSequence(ctx context.Context, seq int) error
}

type StorageRepository struct {
	storage storage.Storage
}

func NewStorageRepository(s storage.Storage) *StorageRepository {
	return &StorageRepository{storage: s}
}

type sequenceDoc struct {
	Last int `json:"last"`
}

func (r *StorageRepository) LoadTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	if err := storage.ReadJSON(ctx, r.storage, tasksKey, &tasks); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	return tasks, nil
}

func (r *StorageRepository) SaveTasks(ctx context.Context, tasks []*Task) error {
	if tasks == nil {
		tasks = []*Task{}
	}
	if err := storage.WriteJSON(ctx, r.storage, tasksKey, tasks); err != nil {
		return fmt.Errorf("failed to save tasks: %w", err)
	}
	return nil
}

func (r *StorageRepository) LoadSequence(ctx context.Context) (int, error) {
	var doc sequenceDoc
	if err := storage.ReadJSON(ctx, r.storage, sequenceKey, &doc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load task sequence: %w", err)
	}
	return doc.Last, nil
}

func (r *StorageRepository) SaveSequence(ctx context.Context, seq int) error {
	if err := storage.WriteJSON(ctx, r.storage, sequenceKey, sequenceDoc{Last: seq}); err != nil {
		return fmt.Errorf("failed to save task sequence: %w", err)
	}
	return nil
}
