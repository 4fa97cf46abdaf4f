package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kazz187/triguild/internal/client"
)

const version = "v1.0.0"

func main() {
	// stdout carries the protocol
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := NewConfig()
	if err != nil {
		logger.ErrorContext(ctx, "failed to create config", "error", err)
		os.Exit(1)
	}

	c := client.New(cfg.ServerURL, client.WithAPIKey(cfg.APIKey))
	server := NewServer(c)

	logger.InfoContext(ctx, "serving MCP on stdio", "server_url", cfg.ServerURL)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "mcp server stopped", "error", err)
		os.Exit(1)
	}
}
