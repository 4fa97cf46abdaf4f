package sessiontrim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// updateIndex appends an entry for the trimmed session, copied from the
// original's entry, and keeps a .bak of the previous index. It reports false
// when the project has no index.
func updateIndex(dir, oldID, newID, newPath string) (bool, error) {
	path := filepath.Join(dir, indexFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("no session index found", slog.String("dir", dir))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var index map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&index); err != nil {
		return false, fmt.Errorf("failed to decode: %w", err)
	}
	entries, _ := index["entries"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok || entry["sessionId"] != oldID {
			continue
		}
		clone := make(map[string]any, len(entry))
		for k, v := range entry {
			clone[k] = v
		}
		first, _ := entry["firstPrompt"].(string)
		clone["sessionId"] = newID
		clone["fullPath"] = newPath
		clone["firstPrompt"] = fmt.Sprintf("[TRIMMED] %s...", prefix(first, 100))
		index["entries"] = append(entries, clone)
		break
	}

	if err := os.WriteFile(path+".bak", raw, 0o644); err != nil {
		return false, fmt.Errorf("failed to back up: %w", err)
	}
	out, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
