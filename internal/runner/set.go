package runner

import (
	"fmt"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/pkg/cmdline"
)

// Set holds one runner per CLI agent.
type Set struct {
	runners map[agent.Kind]Runner
}

func NewSet(runners ...Runner) *Set {
	s := &Set{runners: make(map[agent.Kind]Runner, len(runners))}
	for _, r := range runners {
		s.runners[r.Kind()] = r
	}
	return s
}

// NewSetFromEnv builds the exec runners (and the SDK runner for claude when
// configured) from the agent environment.
func NewSetFromEnv(env *config.AgentEnv) (*Set, error) {
	templates := map[agent.Kind]string{
		agent.KindClaude: env.ClaudeCommand,
		agent.KindCodex:  env.CodexCommand,
		agent.KindGemini: env.GeminiCommand,
	}
	var runners []Runner
	for _, k := range agent.CLIKinds {
		if k == agent.KindClaude && env.ClaudeRunner == "sdk" {
			runners = append(runners, NewSDKRunner(env.TimeoutFor(string(k)), env.ClaudeMaxTurns, env.WorkDir))
			continue
		}
		tmpl, err := cmdline.Parse(templates[k])
		if err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", k, err)
		}
		runners = append(runners, NewExecRunner(k, tmpl, env.TimeoutFor(string(k)), WithDir(env.WorkDir)))
	}
	return NewSet(runners...), nil
}

func (s *Set) Get(kind agent.Kind) (Runner, error) {
	r, ok := s.runners[kind]
	if !ok {
		return nil, fmt.Errorf("no runner for agent %q", kind)
	}
	return r, nil
}

// For returns the runners an agent kind fans out to: all CLI agents for
// multi, otherwise just the one.
func (s *Set) For(kind agent.Kind) ([]Runner, error) {
	if !kind.IsMulti() {
		r, err := s.Get(kind)
		if err != nil {
			return nil, err
		}
		return []Runner{r}, nil
	}
	var out []Runner
	for _, k := range agent.CLIKinds {
		if r, ok := s.runners[k]; ok {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no runners configured")
	}
	return out, nil
}

// Except returns every CLI runner but the excluded kind, in display order.
func (s *Set) Except(excluded agent.Kind) []Runner {
	var out []Runner
	for _, k := range agent.CLIKinds {
		if r, ok := s.runners[k]; ok && k != excluded {
			out = append(out, r)
		}
	}
	return out
}
