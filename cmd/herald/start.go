package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/auth"
	"github.com/mattjoyce/herald/internal/classify"
	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/journal"
	"github.com/mattjoyce/herald/internal/lock"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/manager"
	"github.com/mattjoyce/herald/internal/plugin"
	"github.com/mattjoyce/herald/internal/resolve"
	"github.com/mattjoyce/herald/internal/router"
	"github.com/mattjoyce/herald/internal/scheduler"
	"github.com/mattjoyce/herald/internal/storage"
	"github.com/mattjoyce/herald/internal/webhook"
	"github.com/mattjoyce/herald/internal/worker"
)

const hubCapacity = 256

// app is everything "system start" wires together.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	catalog  *plugin.Catalog
	table    *classify.Table
	router   *router.Router
	resolver *resolve.Resolver
	hub      *events.Hub
	sup      *worker.Supervisor
	manager  *manager.Manager
	journal  *journal.Journal
	webhooks *webhook.Config
	sched    *scheduler.Scheduler
}

// pluginLogger adapts the catalog's level-string callback to slog.
func pluginLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		default:
			logger.Info(msg, args...)
		}
	}
}

// buildCore discovers workers, checks routes and priorities and builds the
// router and resolver. It opens nothing, so "config check" shares it.
func buildCore(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	catalog, err := plugin.Discover([]string{cfg.WorkersDir}, pluginLogger(log.WithComponent("catalog")))
	if err != nil {
		return nil, fmt.Errorf("worker discovery: %w", err)
	}
	a.catalog = catalog

	a.router = router.New(cfg.Manager.RouterBuffer)
	a.resolver, err = resolve.New(cfg.Routes, catalog, a.router)
	if err != nil {
		return nil, err
	}

	a.table, err = classify.NewTable(cfg.Priorities.Types, cfg.Priorities.Default)
	if err != nil {
		return nil, fmt.Errorf("priorities: %w", err)
	}

	known := append(catalog.EventTypes(), a.resolver.EventTypes()...)
	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		wc, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			return nil, err
		}
		a.webhooks = &wc
		for _, ep := range wc.Endpoints {
			known = append(known, ep.EventType)
		}
	}
	for _, sc := range cfg.Schedules {
		known = append(known, sc.EventType)
	}
	if err := a.table.Validate(known); err != nil {
		return nil, fmt.Errorf("priorities: %w", err)
	}
	return a, nil
}

// wire builds the manager on top of buildCore. db may be nil, which
// disables the journal.
func (a *app) wire(db *sql.DB) error {
	a.hub = events.NewHub(hubCapacity)
	a.sup = worker.NewSupervisor(a.catalog, a.cfg.Workers.GracePeriod, log.WithComponent("supervisor"))

	opts := []manager.Option{
		manager.WithSpawner(a.sup),
		manager.WithPollInterval(a.cfg.Manager.PollInterval),
		manager.WithDispatchWorkers(a.cfg.Manager.DispatchWorkers),
		manager.WithDrainTimeout(a.cfg.Manager.DrainTimeout),
		manager.WithHub(a.hub),
		manager.WithLogger(log.WithComponent("manager")),
	}
	if db != nil {
		a.journal = journal.New(db)
		opts = append(opts, manager.WithJournal(a.journal))
	}

	m, err := manager.New(a.router.Events(), a.table, a.resolver, opts...)
	if err != nil {
		return err
	}
	a.manager = m
	a.resolver.Bind(m)

	sc := scheduler.Config{Retention: a.cfg.Service.JournalRetention}
	for _, s := range a.cfg.Schedules {
		sc.Schedules = append(sc.Schedules, scheduler.Schedule{
			EventType: s.EventType,
			Every:     s.Every,
			Jitter:    s.Jitter,
			Payload:   s.Payload,
		})
	}
	var pruner scheduler.Pruner
	if a.journal != nil {
		pruner = a.journal
	}
	a.sched = scheduler.New(sc, a.router, pruner, a.hub, log.Get())
	return nil
}

func (a *app) apiServer() *api.Server {
	tokens := make([]auth.TokenConfig, 0, len(a.cfg.API.Auth.Tokens))
	for _, t := range a.cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	deps := api.Deps{
		Router:  a.router,
		Manager: a.manager,
		Starter: a.resolver,
		Stopper: a.sup,
		Hub:     a.hub,
	}
	if a.journal != nil {
		deps.Journal = a.journal
	}
	return api.New(api.Config{
		Listen: a.cfg.API.Listen,
		APIKey: a.cfg.API.Auth.APIKey,
		Tokens: tokens,
	}, deps, log.WithComponent("api"))
}

// run starts the surrounding servers and blocks in the manager until ctx is
// done or a component fails.
func (a *app) run(ctx context.Context, stdin bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)
	goRun := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if a.cfg.API.Enabled {
		goRun("api", a.apiServer().Start)
	}
	if a.webhooks != nil {
		goRun("webhook", webhook.New(*a.webhooks, a.router, log.WithComponent("webhook")).Start)
	}
	if a.sched.Active() {
		if err := a.sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	if stdin {
		go func() {
			n, err := a.router.ReadLines(ctx, os.Stdin, "stdin")
			a.logger.Info("stdin source finished", "events", n, "error", err)
		}()
	}

	done := make(chan error, 1)
	go func() { done <- a.manager.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-done:
	case err := <-errCh:
		a.logger.Error("component failed", "error", err)
		cancel()
		<-done
		runErr = err
	}

	cancel()
	a.sched.Stop()
	a.resolver.Wait()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.cfg.Workers.GracePeriod+time.Second)
	defer stopCancel()
	a.sup.StopAll(stopCtx)
	a.router.Close()
	return runErr
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "herald.lock")
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	stdin := fs.Bool("stdin", false, "Also read newline-delimited JSON events from stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("herald starting", "version", version, "config", cfg.Path)

	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o755); err != nil {
		logger.Error("failed to create state directory", "error", err)
		return 1
	}
	pidLock, err := lock.Acquire(lockPath(cfg))
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath(cfg), "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	a, err := buildCore(cfg, logger)
	if err != nil {
		logger.Error("startup validation failed", "error", err)
		return 1
	}
	if err := a.wire(db); err != nil {
		logger.Error("failed to build manager", "error", err)
		return 1
	}
	logger.Info("herald running",
		"workers", len(a.catalog.All()),
		"routes", len(cfg.Routes),
		"api", cfg.API.Enabled,
		"webhooks", a.webhooks != nil,
		"schedules", len(cfg.Schedules),
	)

	if err := a.run(ctx, *stdin); err != nil {
		logger.Error("herald stopped with error", "error", err)
		return 1
	}
	logger.Info("herald stopped")
	return 0
}
