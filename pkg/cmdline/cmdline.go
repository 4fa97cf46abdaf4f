// Package cmdline turns configurable command line templates such as
//
//	codex exec -m gpt-5.2-codex -c model_reasoning_effort="xhigh" {prompt}
//
// into argv slices. Templates are parsed with shell word rules so quoting
// works as users expect, but nothing is ever executed through a shell.
package cmdline

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// Placeholder marks where the prompt goes. A template without it gets the
// prompt appended as the last argument.
const Placeholder = "{prompt}"

var ErrEmptyTemplate = errors.New("empty command template")

type Template struct {
	raw   string
	words []string
}

// Parse validates that tmpl is a single simple command (no pipes, lists or
// redirections) and splits it into words, expanding environment variables.
func Parse(tmpl string) (*Template, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, ErrEmptyTemplate
	}
	f, err := syntax.NewParser().Parse(strings.NewReader(tmpl), "")
	if err != nil {
		return nil, fmt.Errorf("invalid command template %q: %w", tmpl, err)
	}
	if len(f.Stmts) != 1 {
		return nil, fmt.Errorf("command template %q must be a single command", tmpl)
	}
	st := f.Stmts[0]
	if _, ok := st.Cmd.(*syntax.CallExpr); !ok || len(st.Redirs) > 0 || st.Background || st.Negated {
		return nil, fmt.Errorf("command template %q must be a simple command", tmpl)
	}
	words, err := shell.Fields(tmpl, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to expand command template %q: %w", tmpl, err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyTemplate
	}
	return &Template{raw: tmpl, words: words}, nil
}

// MustParse is Parse for built-in templates.
func MustParse(tmpl string) *Template {
	t, err := Parse(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) Name() string {
	return t.words[0]
}

func (t *Template) Raw() string {
	return t.raw
}

// Args returns the arguments after the program name with the prompt
// substituted.
func (t *Template) Args(prompt string) []string {
	args := make([]string, 0, len(t.words))
	placed := false
	for _, w := range t.words[1:] {
		if w == Placeholder {
			args = append(args, prompt)
			placed = true
			continue
		}
		args = append(args, w)
	}
	if !placed {
		args = append(args, prompt)
	}
	return args
}

// Quote renders argv as a copy-pasteable bash command line.
func Quote(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, a := range argv {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", a)
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " ")
}

// Abbrev shortens s to at most n runes for log output.
func Abbrev(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
