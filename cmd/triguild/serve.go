package main

import (
	"context"
	"log/slog"

	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/internal/daemon"
)

var serveCmd = app.Command("serve", "Run the triguild daemon")

func runServe(ctx context.Context, env *config.Env) error {
	d, err := daemon.New(ctx, env)
	if err != nil {
		return err
	}
	slog.Info("daemon starting", slog.String("addr", env.Addr()), slog.String("storage", env.StorageEnv.Type))
	if err := d.Run(ctx); err != nil {
		return err
	}
	slog.Info("daemon stopped")
	return nil
}
