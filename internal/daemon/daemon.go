// Package daemon wires the long-running triguild process: storage, the
// ledger services, the queue database, the event bus and its consumers, the
// orchestrator and the HTTP server.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/internal/consensus"
	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/internal/orchestrator"
	"github.com/kazz187/triguild/internal/queue"
	"github.com/kazz187/triguild/internal/runner"
	"github.com/kazz187/triguild/internal/server"
	"github.com/kazz187/triguild/internal/service"
	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

type Daemon struct {
	env    *config.Env
	db     *sql.DB
	bus    *event.Bus
	source *command.Source
	orch   *orchestrator.Orchestrator
	srv    *server.Server
}

// NewStorage opens the storage backend selected by env.
func NewStorage(ctx context.Context, env *config.StorageEnv) (storage.Storage, error) {
	switch env.Type {
	case "s3":
		st, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return st, nil
	case "", "local":
		st, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown storage type %q", env.Type)
}

// New builds every component and loads persisted state.
func New(ctx context.Context, env *config.Env) (*Daemon, error) {
	st, err := NewStorage(ctx, &env.StorageEnv)
	if err != nil {
		return nil, err
	}
	bus := event.NewBus()

	svc, err := service.New(ctx, st, bus, service.Options{BudgetUSD: env.DailyBudgetUSD})
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}
	runners, err := runner.NewSetFromEnv(&env.AgentEnv)
	if err != nil {
		return nil, err
	}
	source, err := command.NewSource(env.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load command catalog: %w", err)
	}

	db, err := sqlitedb.Open(ctx, env.DBPath)
	if err != nil {
		return nil, err
	}
	q := queue.New(db, queue.WithEventBus(bus))
	store := consensus.NewStore(db)

	journal, err := event.NewJournal(filepath.Join(filepath.Dir(env.DBPath), "events"))
	if err != nil {
		db.Close()
		return nil, err
	}
	journal.Attach(bus)
	broadcaster := event.NewBroadcaster()
	broadcaster.Attach(bus)

	subs := notify.NewSubscriptionRepository(st)
	notifier := notify.Multi{notify.NewTerminal(os.Stderr), notify.NewPush(&env.NotifyEnv, subs)}
	notify.NewDispatcher(notifier, env.NotifyOnSuccess).Attach(bus)

	// Failures already reach the notifier through the bus.
	executor := command.NewExecutor(source, svc, runners, nil)

	d := &Daemon{
		env:    env,
		db:     db,
		bus:    bus,
		source: source,
		srv: server.NewServer(env, &server.Deps{
			Services:      svc,
			Executor:      executor,
			Queue:         q,
			Consensus:     store,
			Verifier:      consensus.NewVerifier(store, runners),
			Subscriptions: subs,
			Notifier:      notifier,
			Broadcaster:   broadcaster,
			Journal:       journal,
		}),
	}
	if env.OrchestratorEnv.Enabled {
		d.orch = orchestrator.New(q, executor, svc, env.TickInterval)
	}
	return d, nil
}

// Run serves until ctx is cancelled or a component fails, then shuts the
// server down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.db.Close()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return d.bus.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		return d.source.Watch(ctx)
	})
	if d.orch != nil {
		p.Go(func(ctx context.Context) error {
			d.orch.Start(ctx)
			return nil
		})
	}
	p.Go(func(ctx context.Context) error {
		if err := d.srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := d.srv.Shutdown(shutdownCtx)
		d.bus.Close()
		return err
	})
	return p.Wait()
}
