package cmdline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		wantName string
		wantArgs []string
		wantErr  bool
	}{
		{
			name:     "claude",
			tmpl:     "claude -p {prompt}",
			wantName: "claude",
			wantArgs: []string{"-p", "review this"},
		},
		{
			name:     "codex with quoted config",
			tmpl:     `codex exec -m gpt-5.2-codex -c model_reasoning_effort="xhigh" -s workspace-write {prompt}`,
			wantName: "codex",
			wantArgs: []string{"exec", "-m", "gpt-5.2-codex", "-c", "model_reasoning_effort=xhigh", "-s", "workspace-write", "review this"},
		},
		{
			name:     "no placeholder appends prompt",
			tmpl:     "gemini -m gemini-3-pro-preview --approval-mode yolo",
			wantName: "gemini",
			wantArgs: []string{"-m", "gemini-3-pro-preview", "--approval-mode", "yolo", "review this"},
		},
		{name: "empty", tmpl: "  ", wantErr: true},
		{name: "pipeline", tmpl: "claude -p {prompt} | tee out", wantErr: true},
		{name: "list", tmpl: "claude; rm -rf /", wantErr: true},
		{name: "redirect", tmpl: "claude -p {prompt} > out.txt", wantErr: true},
		{name: "unterminated quote", tmpl: `claude -p "x`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.tmpl)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, tmpl.Name())
			assert.Equal(t, tt.wantArgs, tmpl.Args("review this"))
		})
	}
}

func TestQuote(t *testing.T) {
	got := Quote([]string{"claude", "-p", "it's a test"})
	assert.Equal(t, `claude -p "it's a test"`, got)
}

func TestAbbrev(t *testing.T) {
	assert.Equal(t, "short", Abbrev("short", 10))
	assert.Equal(t, "abcd...", Abbrev("abcdefghij", 7))
}
