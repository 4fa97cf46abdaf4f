package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/internal/task"
)

var (
	runCmd    = app.Command("run", "Run a named command on a file or stdin")
	runName   = runCmd.Arg("command", "Command name (see 'triguild commands')").Required().String()
	runFile   = runCmd.Arg("file", "Input file; stdin when omitted or '-'").String()
	runLines  = runCmd.Flag("lines", "Line range start:end to send").Short('l').String()
	runOutput = runCmd.Flag("output", "Override the output mode").Short('o').Enum("inline", "panel", "file")
	runTarget = runCmd.Flag("target", "Output file for file mode").String()
	runForce  = runCmd.Flag("force", "Overwrite an existing output file").Short('f').Bool()
	runRemote = runCmd.Flag("remote", "Run the agents inside the daemon").Bool()

	askCmd    = app.Command("ask", "Send a free-form prompt to an agent")
	askAgent  = askCmd.Arg("agent", "Agent").Required().Enum(kindNames()...)
	askPrompt = askCmd.Arg("prompt", "Prompt").Required().Strings()
	askType   = askCmd.Flag("type", "Task type").Default(string(task.TypeReview)).String()

	commandsCmd = app.Command("commands", "List the named commands")
)

func init() {
	localHandlers[runCmd.FullCommand()] = runRun
	localHandlers[askCmd.FullCommand()] = runAsk
	localHandlers[commandsCmd.FullCommand()] = runCommands
}

// newExecutor runs agents in this process and keeps the ledger in the
// daemon.
func newExecutor(env *config.Env) (*command.Executor, error) {
	source, err := command.NewSource(env.CatalogPath)
	if err != nil {
		return nil, err
	}
	runners, err := runner.NewSetFromEnv(&env.AgentEnv)
	if err != nil {
		return nil, err
	}
	return command.NewExecutor(source, newClient(env), runners, notify.NewTerminal(os.Stderr)), nil
}

func runRun(ctx context.Context, env *config.Env) error {
	in, err := command.ReadInput(*runFile, *runLines, os.Stdin)
	if err != nil {
		return err
	}

	var out *command.Outcome
	if *runRemote {
		out, err = newClient(env).RunCommand(ctx, *runName, in)
		if err == nil {
			// The catalog entry is needed locally to present the result.
			source, serr := command.NewSource(env.CatalogPath)
			if serr != nil {
				return serr
			}
			if cmd, ok := source.Catalog().Get(*runName); ok {
				out.Command = cmd
			}
		}
	} else {
		var e *command.Executor
		if e, err = newExecutor(env); err != nil {
			return err
		}
		out, err = e.Run(ctx, *runName, in)
	}
	if err != nil {
		return err
	}
	if ok, err := printJSON(out); ok {
		return err
	}

	p, err := command.Present(out, command.PresentOptions{
		Mode:      command.OutputMode(*runOutput),
		Target:    *runTarget,
		InputFile: in.File,
		Force:     *runForce,
		Out:       os.Stdout,
	})
	if err != nil {
		return err
	}
	if w := p.Write; w != nil {
		if w.Diff != "" {
			fmt.Println(w.Diff)
		}
		if !w.Written && w.Diff != "" {
			return fmt.Errorf("%s exists; re-run with --force to overwrite", w.Target)
		}
		if w.Written {
			fmt.Printf("Wrote %s\n", w.Target)
		}
	}
	fmt.Fprintf(os.Stderr, "%s %s (%s, %d tokens)\n", out.Task.ID, out.Task.Status, cost.FormatUSD(out.Cost), out.Tokens)
	return nil
}

func runAsk(ctx context.Context, env *config.Env) error {
	typ, err := task.ParseType(*askType)
	if err != nil {
		return err
	}
	e, err := newExecutor(env)
	if err != nil {
		return err
	}
	prompt := strings.Join(*askPrompt, " ")
	out, err := e.RunPrompt(ctx, &command.PromptRequest{
		Type:        typ,
		Agent:       agent.Kind(*askAgent),
		Description: oneLine(prompt, 80),
		Prompt:      prompt,
	})
	if err != nil {
		return err
	}
	if ok, err := printJSON(out); ok {
		return err
	}
	fmt.Println(out.Text)
	return nil
}

func runCommands(_ context.Context, env *config.Env) error {
	source, err := command.NewSource(env.CatalogPath)
	if err != nil {
		return err
	}
	cmds := source.Catalog().List()
	if ok, err := printJSON(cmds); ok {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAGENT\tTYPE\tOUTPUT\tTITLE")
	for _, c := range cmds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Agent, c.Type, c.Output, c.Title)
	}
	return w.Flush()
}
