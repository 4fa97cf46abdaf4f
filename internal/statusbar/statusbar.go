// Package statusbar renders the one-line status shown in shell prompts and
// editor status lines.
package statusbar

import (
	"fmt"
	"strings"

	fcolor "github.com/fatih/color"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/task"
	"github.com/kazz187/triguild/pkg/color"
)

const maxTaskIDs = 3

type Snapshot struct {
	Agents []agent.Agent `json:"agents"`
	Active []*task.Task  `json:"active"`
	Cost   cost.Summary  `json:"cost"`
}

var (
	idleColor = fcolor.New(fcolor.FgGreen)
	busyColor = fcolor.New(fcolor.FgYellow, fcolor.Bold)
	warnColor = fcolor.New(fcolor.FgYellow)
	overColor = fcolor.New(fcolor.FgRed, fcolor.Bold)
	dimColor  = fcolor.New(fcolor.Faint)
)

// Render formats the snapshot, for example
//
//	claude:busy codex:idle gemini:idle | TASK-004 | $0.4200/$5.0000
func Render(s Snapshot, colored bool) string {
	var parts []string

	agents := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		if a.Multi {
			continue
		}
		state := color.Paint(idleColor, colored, string(agent.StatusIdle))
		if a.Status == agent.StatusBusy {
			state = color.Paint(busyColor, colored, string(agent.StatusBusy))
		}
		agents = append(agents, color.Paint(color.Agent(string(a.Kind)), colored, string(a.Kind))+":"+state)
	}
	parts = append(parts, strings.Join(agents, " "))

	if len(s.Active) > 0 {
		ids := make([]string, 0, maxTaskIDs)
		for i, t := range s.Active {
			if i == maxTaskIDs {
				ids = append(ids, fmt.Sprintf("+%d", len(s.Active)-maxTaskIDs))
				break
			}
			ids = append(ids, t.ID)
		}
		parts = append(parts, strings.Join(ids, ","))
	} else {
		parts = append(parts, color.Paint(dimColor, colored, "no tasks"))
	}

	parts = append(parts, renderCost(s.Cost, colored))
	return strings.Join(parts, " | ")
}

func renderCost(c cost.Summary, colored bool) string {
	if c.Budget <= 0 {
		return cost.FormatUSD(c.Total)
	}
	text := cost.FormatUSD(c.Total) + "/" + cost.FormatUSD(c.Budget)
	switch {
	case c.OverBudget:
		return color.Paint(overColor, colored, text)
	case c.Total >= 0.8*c.Budget:
		return color.Paint(warnColor, colored, text)
	}
	return text
}
