package command

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/filewatch"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type OutputMode string

const (
	OutputInline OutputMode = "inline"
	OutputPanel  OutputMode = "panel"
	OutputFile   OutputMode = "file"
)

func ParseOutputMode(s string) (OutputMode, error) {
	switch m := OutputMode(strings.ToLower(s)); m {
	case OutputInline, OutputPanel, OutputFile:
		return m, nil
	}
	return "", fmt.Errorf("unknown output mode %q", s)
}

type Command struct {
	Name   string     `yaml:"name" json:"name"`
	Title  string     `yaml:"title" json:"title"`
	Type   task.Type  `yaml:"type" json:"type"`
	Agent  agent.Kind `yaml:"agent" json:"agent"`
	Output OutputMode `yaml:"output" json:"output"`
	Prompt string     `yaml:"prompt" json:"prompt"`

	tmpl *template.Template
}

// PromptData is what a prompt template can reference.
type PromptData struct {
	Input    string
	Language string
	File     string
}

func (c *Command) Render(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for %s: %w", c.Name, err)
	}
	return buf.String(), nil
}

func (c *Command) compile() error {
	if c.Name == "" {
		return errors.New("command name is required")
	}
	if _, err := task.ParseType(string(c.Type)); err != nil {
		return fmt.Errorf("command %s: %w", c.Name, err)
	}
	if _, err := agent.ParseKind(string(c.Agent)); err != nil {
		return fmt.Errorf("command %s: %w", c.Name, err)
	}
	if _, err := ParseOutputMode(string(c.Output)); err != nil {
		return fmt.Errorf("command %s: %w", c.Name, err)
	}
	if c.Title == "" {
		c.Title = c.Name
	}
	t, err := template.New(c.Name).Option("missingkey=error").Parse(c.Prompt)
	if err != nil {
		return fmt.Errorf("command %s: invalid prompt template: %w", c.Name, err)
	}
	c.tmpl = t
	return nil
}

type catalogFile struct {
	Commands []*Command `yaml:"commands"`
}

// Catalog is an immutable, ordered set of commands.
type Catalog struct {
	commands []*Command
}

func parseCatalog(data []byte) ([]*Command, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse command catalog: %w", err)
	}
	for _, c := range f.Commands {
		if err := c.compile(); err != nil {
			return nil, err
		}
	}
	return f.Commands, nil
}

// DefaultCatalog returns the built-in commands.
func DefaultCatalog() *Catalog {
	cmds, err := parseCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return &Catalog{commands: cmds}
}

// LoadCatalog returns the built-in commands overlaid with the ones in path.
// A user command with a built-in name replaces it; new names are appended.
// A missing file is not an error.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read command catalog: %w", err)
	}
	user, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, u := range user {
		if i := slices.IndexFunc(c.commands, func(d *Command) bool { return d.Name == u.Name }); i >= 0 {
			c.commands[i] = u
			continue
		}
		c.commands = append(c.commands, u)
	}
	return c, nil
}

func (c *Catalog) Get(name string) (*Command, bool) {
	for _, cmd := range c.commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return nil, false
}

func (c *Catalog) List() []*Command {
	return slices.Clone(c.commands)
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.commands))
	for _, cmd := range c.commands {
		names = append(names, cmd.Name)
	}
	return names
}

// Source serves the current catalog and reloads it when the user file
// changes. A broken file keeps the previous catalog.
type Source struct {
	path    string
	current atomic.Pointer[Catalog]
}

func NewSource(path string) (*Source, error) {
	c, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path}
	s.current.Store(c)
	return s, nil
}

// StaticSource wraps a fixed catalog.
func StaticSource(c *Catalog) *Source {
	s := &Source{}
	s.current.Store(c)
	return s
}

func (s *Source) Catalog() *Catalog {
	return s.current.Load()
}

func (s *Source) Reload(ctx context.Context) {
	c, err := LoadCatalog(s.path)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reload command catalog", slog.String("path", s.path), slog.Any("error", err))
		return
	}
	s.current.Store(c)
	slog.InfoContext(ctx, "command catalog reloaded", slog.String("path", s.path), slog.Int("commands", len(c.commands)))
}

// Watch reloads the catalog on changes until ctx is done.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return filewatch.New(s.path, s.Reload).Run(ctx)
}
