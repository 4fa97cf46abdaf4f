package main

import (
	"testing"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
)

func TestEveryCommandHasHandler(t *testing.T) {
	var walk func(cmds []*kingpin.CmdModel)
	walk = func(cmds []*kingpin.CmdModel) {
		for _, c := range cmds {
			if len(c.Commands) > 0 {
				walk(c.Commands)
				continue
			}
			if c.FullCommand == "help" || c.FullCommand == serveCmd.FullCommand() {
				continue
			}
			_, local := localHandlers[c.FullCommand]
			_, remote := remoteHandlers[c.FullCommand]
			assert.True(t, local || remote, "no handler for %q", c.FullCommand)
		}
	}
	walk(app.Model().Commands)
}

func TestOneLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"first\nsecond", 20, "first"},
		{"abcdefghijkl", 8, "abcde..."},
		{"日本語のテキストです", 6, "日本語..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, oneLine(tt.in, tt.n))
	}
}
