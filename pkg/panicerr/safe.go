package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn so that a panic is returned as an error instead of
// unwinding the caller's goroutine.
func Safe(fn func() error) func() error {
	return func() error {
		_, err := Call(func() (struct{}, error) {
			return struct{}{}, fn()
		})
		return err
	}
}

// SafeContext is Safe for functions that take a context.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return Safe(func() error { return fn(ctx) })()
	}
}

// Call runs fn and converts a panic into an error carrying the recovered
// value and stack.
func Call[T any](fn func() (T, error)) (T, error) {
	var (
		catcher panics.Catcher
		result  T
		err     error
	)
	catcher.Try(func() {
		result, err = fn()
	})
	if r := catcher.Recovered(); r != nil {
		var zero T
		return zero, r.AsError()
	}
	return result, err
}
