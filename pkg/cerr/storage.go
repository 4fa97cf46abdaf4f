package cerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/kazz187/triguild/pkg/storage"
)

// wrapStorage classifies a storage failure on target. Missing objects map
// to NotFound and a cancelled caller keeps its context code.
func wrapStorage(op, target string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	case errors.Is(err, context.Canceled):
		return NewError(Canceled, "request canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(DeadlineExceeded, fmt.Sprintf("timed out while trying to %s %s", op, target), err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to %s %s: %w", op, target, err))
}

func WrapStorageReadError(target string, err error) error {
	return wrapStorage("read", target, err)
}

func WrapStorageWriteError(target string, err error) error {
	return wrapStorage("write", target, err)
}

func WrapStorageDeleteError(target string, err error) error {
	return wrapStorage("delete", target, err)
}
