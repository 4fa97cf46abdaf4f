// Package sessiontrim strips oversized embedded payloads (base64 files,
// media data, huge text) from Claude session transcripts so they can be
// resumed again.
package sessiontrim

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// Threshold is the size above which base64 and media data are trimmed.
	Threshold = 100_000
	// ContentThreshold applies to plain content strings.
	ContentThreshold = Threshold * 10

	previewChars = 200
	indexFile    = "sessions-index.json"
)

var ErrSessionNotFound = errors.New("session file not found")

type Result struct {
	SessionID    string `json:"session_id"`
	Source       string `json:"source"`
	Output       string `json:"output"`
	NewID        string `json:"new_id"`
	Lines        int    `json:"lines"`
	InvalidLines int    `json:"invalid_lines"`
	Trimmed      int    `json:"trimmed"`
	OriginalSize int64  `json:"original_size"`
	NewSize      int64  `json:"new_size"`
	IndexUpdated bool   `json:"index_updated"`
}

func (r *Result) Saved() int64 {
	return r.OriginalSize - r.NewSize
}

// SavedPercent is the share of the original size removed.
func (r *Result) SavedPercent() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return 100 * float64(r.Saved()) / float64(r.OriginalSize)
}

type Option func(*Trimmer)

func WithClock(now func() time.Time) Option {
	return func(t *Trimmer) { t.now = now }
}

// Trimmer works on the project directories under root, normally
// ~/.claude/projects.
type Trimmer struct {
	root string
	now  func() time.Time
}

func New(root string, opts ...Option) *Trimmer {
	t := &Trimmer{root: root, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// DefaultRoot is ~/.claude/projects.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// Find locates the transcript for sessionID. An exact <id>.jsonl wins over a
// partial match within the same project directory.
func (t *Trimmer) Find(sessionID string) (string, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", t.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(t.root, e.Name())
		exact := filepath.Join(dir, sessionID+".jsonl")
		if _, err := os.Stat(exact); err == nil {
			return exact, nil
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*"+sessionID+"*.jsonl"))
		if err == nil && len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
}

// Trim writes a trimmed copy of the session next to the original and
// registers it in the project's session index.
func (t *Trimmer) Trim(sessionID string) (*Result, error) {
	src, err := t.Find(sessionID)
	if err != nil {
		return nil, err
	}
	return t.TrimFile(src, sessionID)
}

func (t *Trimmer) TrimFile(src, sessionID string) (*Result, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	newID := fmt.Sprintf("trimmed-%s-%s", prefix(sessionID, 8), t.now().Format("20060102_150405"))
	res := &Result{
		SessionID:    sessionID,
		Source:       src,
		Output:       filepath.Join(filepath.Dir(src), newID+".jsonl"),
		NewID:        newID,
		OriginalSize: info.Size(),
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := os.Create(res.Output)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(out)
	if err := res.copyLines(bufio.NewReader(in), w); err != nil {
		out.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	if info, err := os.Stat(res.Output); err == nil {
		res.NewSize = info.Size()
	}

	res.IndexUpdated, err = updateIndex(filepath.Dir(src), sessionID, newID, res.Output)
	if err != nil {
		return res, fmt.Errorf("failed to update %s: %w", indexFile, err)
	}
	return res, nil
}

func (r *Result) copyLines(in *bufio.Reader, out io.Writer) error {
	for {
		line, err := in.ReadBytes('\n')
		if len(line) > 0 {
			r.Lines++
			if werr := r.copyLine(line, out); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *Result) copyLine(line []byte, out io.Writer) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		slog.Warn("line is not valid JSON, copying as-is", slog.Int("line", r.Lines))
		r.InvalidLines++
		_, err := out.Write(line)
		return err
	}
	v = trimValue(v, &r.Trimmed)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func trimValue(v any, trimmed *int) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if p, ok := placeholder(v, k, val); ok {
				out[k] = p
				*trimmed++
				continue
			}
			out[k] = trimValue(val, trimmed)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = trimValue(val, trimmed)
		}
		return out
	}
	return v
}

func placeholder(obj map[string]any, key string, val any) (string, bool) {
	s, ok := val.(string)
	if !ok {
		return "", false
	}
	switch {
	case key == "base64" && len(s) > Threshold:
		file, _ := obj["filePath"].(string)
		if file == "" {
			file = "unknown"
		}
		size := int64(len(s))
		if n, ok := obj["originalSize"].(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				size = i
			}
		}
		slog.Info("trimmed base64", slog.String("file", file), slog.Int("size", len(s)))
		return fmt.Sprintf("[BASE64 CONTENT TRIMMED - file: %s, original_size: %s]", file, FormatSize(size)), true
	case key == "data" && len(s) > Threshold:
		media, _ := obj["media_type"].(string)
		if media == "" {
			media, _ = obj["type"].(string)
		}
		if media == "" {
			media = "unknown"
		}
		slog.Info("trimmed media data", slog.String("type", media), slog.Int("size", len(s)))
		return fmt.Sprintf("[MEDIA DATA TRIMMED - type: %s, size: %s]", media, FormatSize(int64(len(s)))), true
	case key == "content" && len(s) > ContentThreshold:
		slog.Info("trimmed large content", slog.Int("size", len(s)))
		return fmt.Sprintf("[LARGE CONTENT TRIMMED - size: %s, preview: %s...]", FormatSize(int64(len(s))), prefix(s, previewChars)), true
	}
	return "", false
}

// FormatSize renders a byte count in binary units.
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
