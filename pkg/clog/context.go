package clog

import (
	"context"
	"maps"
	"sync"
)

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

type ctxAttrs struct {
	mu    sync.RWMutex
	attrs map[string]any
}

type ctxAttrsKey struct{}

// ContextWithSlog returns a child context carrying a mutable attribute set
// that AttributesHandler appends to every record logged with that context.
func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxAttrsKey{}, &ctxAttrs{attrs: make(map[string]any)})
}

func fromContext(ctx context.Context) (*ctxAttrs, bool) {
	a, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	return a, ok
}

func AddAttribute(ctx context.Context, key string, value any) {
	a, ok := fromContext(ctx)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attrs[key] = value
}

func AddAttributes(ctx context.Context, attrs map[string]any) {
	a, ok := fromContext(ctx)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	mergeMaps(a.attrs, attrs)
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	a, ok := fromContext(ctx)
	if !ok {
		return zero
	}
	a.mu.RLock()
	v, ok := a.attrs[key]
	a.mu.RUnlock()
	if !ok {
		return zero
	}
	typed, ok := v.(T)
	if !ok {
		return zero
	}
	return typed
}

func GetAttributes(ctx context.Context) map[string]any {
	a, ok := fromContext(ctx)
	if !ok {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.attrs)
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		vm, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if dm, ok := dst[k].(map[string]any); ok {
			mergeMaps(dm, vm)
		} else {
			dst[k] = vm
		}
	}
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}
