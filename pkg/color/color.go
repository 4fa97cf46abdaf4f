// Package color assigns stable terminal colours to agents and decides
// whether colour output is wanted at all.
package color

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	fcolor "github.com/fatih/color"
)

var palette = []fcolor.Attribute{
	fcolor.FgHiRed,
	fcolor.FgHiGreen,
	fcolor.FgHiYellow,
	fcolor.FgHiBlue,
	fcolor.FgHiMagenta,
	fcolor.FgHiCyan,
}

// fixed keeps the well-known agents on their usual colours.
var fixed = map[string]fcolor.Attribute{
	"claude": fcolor.FgHiMagenta,
	"codex":  fcolor.FgHiGreen,
	"gemini": fcolor.FgHiBlue,
	"multi":  fcolor.FgHiCyan,
}

// Supported reports whether the environment asks for colour. NO_COLOR wins
// over FORCE_COLOR; CI and dumb terminals get none.
func Supported(getenv func(string) string) bool {
	if getenv("NO_COLOR") != "" {
		return false
	}
	if getenv("FORCE_COLOR") != "" {
		return true
	}
	if getenv("CI") != "" {
		return false
	}
	term := getenv("TERM")
	if term == "" || term == "dumb" {
		return false
	}
	if ct := getenv("COLORTERM"); ct == "truecolor" || ct == "24bit" {
		return true
	}
	for _, s := range []string{"color", "ansi", "xterm", "screen"} {
		if strings.Contains(term, s) {
			return true
		}
	}
	return false
}

// Enabled is Supported for the process environment.
func Enabled() bool {
	return Supported(os.Getenv)
}

// Agent returns the colour for name: fixed for known agents, otherwise
// picked from the palette by hash so it is stable across runs.
func Agent(name string) *fcolor.Color {
	if a, ok := fixed[name]; ok {
		return fcolor.New(a)
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return fcolor.New(palette[h.Sum32()%uint32(len(palette))])
}

// Paint renders s in c, or plain when enabled is false.
func Paint(c *fcolor.Color, enabled bool, s string) string {
	if !enabled {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

// Prefix is "[name]" in the agent's colour.
func Prefix(name string, enabled bool) string {
	return Paint(Agent(name), enabled, fmt.Sprintf("[%s]", name))
}
