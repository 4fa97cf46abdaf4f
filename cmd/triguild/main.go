package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kazz187/triguild/internal/client"
	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/pkg/clog"
	"github.com/kazz187/triguild/pkg/color"
)

var (
	app = kingpin.New("triguild", "Tri-agent (claude, codex, gemini) task ledger, dispatcher and daemon")

	serverURL = app.Flag("server", "Daemon base URL").Envar("TRIGUILD_SERVER_URL").String()
	apiKey    = app.Flag("api-key", "Daemon API key").Envar("TRIGUILD_API_KEY").String()
	jsonOut   = app.Flag("json", "Print results as JSON").Bool()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	setupLogger(env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = clog.ContextWithSlog(ctx)

	if err := dispatch(ctx, env, command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.IsLocal() {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level), clog.WithColor(color.Enabled()))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func newClient(env *config.Env) *client.Client {
	url := *serverURL
	if url == "" {
		url = env.BaseURL()
	}
	key := *apiKey
	if key == "" {
		key = env.APIKey
	}
	return client.New(url, client.WithAPIKey(key))
}

func dispatch(ctx context.Context, env *config.Env, command string) error {
	if command == serveCmd.FullCommand() {
		return runServe(ctx, env)
	}
	if h, ok := localHandlers[command]; ok {
		return h(ctx, env)
	}
	h, ok := remoteHandlers[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	return h(ctx, newClient(env))
}

type (
	localHandler  func(ctx context.Context, env *config.Env) error
	remoteHandler func(ctx context.Context, c *client.Client) error
)

// Handlers are registered by the files that declare their commands.
var (
	localHandlers  = map[string]localHandler{}
	remoteHandlers = map[string]remoteHandler{}
)

// printJSON writes v when --json is set and reports whether it did.
func printJSON(v any) (bool, error) {
	if !*jsonOut {
		return false, nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}
