// Package filewatch reports content changes of a single file.
//
// The parent directory is watched instead of the file itself so that editors
// and deploy tools which replace the file through a rename are still seen.
// Events are debounced and only reported when the SHA256 of the file differs
// from the last observed content.
package filewatch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before the file
// is hashed.
const DefaultDebounce = 100 * time.Millisecond

type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context)

	mu       sync.Mutex
	lastHash [sha256.Size]byte
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

func New(path string, onChange func(ctx context.Context), opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done. The initial content is hashed before the
// watch starts, so onChange is only called for later modifications.
func (w *Watcher) Run(ctx context.Context) error {
	h, err := HashFile(w.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	w.lastHash = h

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir, name := filepath.Dir(w.path), filepath.Base(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.DebugContext(ctx, "watching file", "path", w.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.check(ctx) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "file watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	h, err := HashFile(w.path)
	if err != nil {
		slog.WarnContext(ctx, "failed to hash watched file", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	changed := h != w.lastHash
	w.lastHash = h
	w.mu.Unlock()
	if !changed {
		return
	}
	slog.InfoContext(ctx, "watched file changed", "path", w.path, "sha256", fmt.Sprintf("%x", h[:8]))
	w.onChange(ctx)
}

func HashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
