package command

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/term"

	"github.com/kazz187/triguild/internal/task"
)

const defaultPanelWidth = 100

// RenderPanel renders markdown for a terminal. Non-terminal writers get
// the plain style.
func RenderPanel(w io.Writer, title, markdown string) error {
	style, width := styles.NoTTYStyle, defaultPanelWidth
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		style = styles.DarkStyle
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 20 {
			width = cols - 4
		}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render("# " + title + "\n\n" + markdown)
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// ExtractCodeBlock returns the body of the first fenced code block in md.
func ExtractCodeBlock(md string) (code, lang string, ok bool) {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, isBlock := n.(*ast.FencedCodeBlock)
		if !isBlock {
			return ast.WalkContinue, nil
		}
		var b bytes.Buffer
		lines := fcb.Lines()
		for i := range lines.Len() {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
		code, lang, ok = b.String(), string(fcb.Language(src)), true
		return ast.WalkStop, nil
	})
	return code, lang, ok
}

// TargetPath is where file output for cmd goes. Generated tests land next
// to the input as <base>_test.<ext>, everything else as
// <base>.<command>.md.
func TargetPath(cmd *Command, inputFile string) string {
	if inputFile == "" {
		if cmd.Type == task.TypeTesting {
			return "triguild_test.txt"
		}
		return "triguild." + cmd.Name + ".md"
	}
	dir := filepath.Dir(inputFile)
	ext := filepath.Ext(inputFile)
	base := strings.TrimSuffix(filepath.Base(inputFile), ext)
	if cmd.Type == task.TypeTesting {
		return filepath.Join(dir, base+"_test"+ext)
	}
	return filepath.Join(dir, base+"."+cmd.Name+".md")
}

// FileContent is what gets written for a command result.
func FileContent(cmd *Command, result string) string {
	if cmd.Type == task.TypeTesting {
		if code, _, ok := ExtractCodeBlock(result); ok {
			return code
		}
	}
	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}

type WriteResult struct {
	Target  string `json:"target"`
	Written bool   `json:"written"`
	// Diff is a unified diff against an existing target, empty for new files.
	Diff string `json:"diff,omitempty"`
}

// WriteFile writes content to target. An existing file is only replaced
// when force is set; the diff is returned either way.
func WriteFile(target, content string, force bool) (*WriteResult, error) {
	res := &WriteResult{Target: target}
	old, err := os.ReadFile(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	default:
		if string(old) == content {
			return res, nil
		}
		res.Diff, err = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(old)),
			B:        difflib.SplitLines(content),
			FromFile: target,
			ToFile:   target + " (generated)",
			Context:  3,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to diff %s: %w", target, err)
		}
		if !force {
			return res, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", target, err)
	}
	res.Written = true
	return res, nil
}
