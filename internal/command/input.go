package command

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Input is what a command operates on: the selection when there is one,
// otherwise the whole document.
type Input struct {
	Text      string `json:"text"`
	File      string `json:"file,omitempty"`
	Selection string `json:"selection,omitempty"`
}

func (in Input) Content() string {
	if strings.TrimSpace(in.Selection) != "" {
		return in.Selection
	}
	return in.Text
}

func (in Input) Language() string {
	return LanguageFor(in.File)
}

func (in Input) PromptData() PromptData {
	return PromptData{Input: in.Content(), Language: in.Language(), File: in.File}
}

var languages = map[string]string{
	".go":    "go",
	".py":    "python",
	".ts":    "typescript",
	".tsx":   "tsx",
	".js":    "javascript",
	".jsx":   "jsx",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".sh":    "bash",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".md":    "markdown",
}

func LanguageFor(file string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(file))]; ok {
		return lang
	}
	return ""
}

// ReadInput reads file (or r when file is "-" or empty) and, when lines is
// set as "start:end" (1-based, inclusive), selects that range.
func ReadInput(file, lines string, r io.Reader) (Input, error) {
	var (
		data []byte
		err  error
	)
	if file == "" || file == "-" {
		data, err = io.ReadAll(r)
		file = ""
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return Input{}, fmt.Errorf("failed to read input: %w", err)
	}
	in := Input{Text: string(data), File: file}
	if lines == "" {
		return in, nil
	}
	sel, err := selectLines(in.Text, lines)
	if err != nil {
		return Input{}, err
	}
	in.Selection = sel
	return in, nil
}

func selectLines(text, spec string) (string, error) {
	startStr, endStr, ok := strings.Cut(spec, ":")
	if !ok {
		endStr = startStr
	}
	start, err := strconv.Atoi(startStr)
	if err != nil || start < 1 {
		return "", fmt.Errorf("invalid line range %q", spec)
	}
	all := strings.Split(text, "\n")
	end := len(all)
	if endStr != "" {
		if end, err = strconv.Atoi(endStr); err != nil || end < start {
			return "", fmt.Errorf("invalid line range %q", spec)
		}
	}
	if start > len(all) {
		return "", fmt.Errorf("line range %q is past the end of the input (%d lines)", spec, len(all))
	}
	end = min(end, len(all))
	return strings.Join(all[start-1:end], "\n"), nil
}
