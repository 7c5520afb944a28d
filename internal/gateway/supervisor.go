// Package gateway assembles the runtime: adapters, session store,
// scheduler, delivery router, channel directory and cron daemon, with
// ordered startup and shutdown.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hermesworks/hermes/internal/agent"
	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
	"github.com/hermesworks/hermes/internal/channels/discord"
	"github.com/hermesworks/hermes/internal/channels/local"
	"github.com/hermesworks/hermes/internal/channels/telegram"
	"github.com/hermesworks/hermes/internal/channels/whatsapp"
	"github.com/hermesworks/hermes/internal/config"
	"github.com/hermesworks/hermes/internal/cron"
	"github.com/hermesworks/hermes/internal/delivery"
	"github.com/hermesworks/hermes/internal/directory"
	"github.com/hermesworks/hermes/internal/safety"
	"github.com/hermesworks/hermes/internal/scheduler"
	"github.com/hermesworks/hermes/internal/sessions"
)

const (
	dedupeTTL     = 10 * time.Minute
	dedupeMax     = 4096
	shutdownGrace = 15 * time.Second
)

// Supervisor owns every long-lived component of a running gateway.
type Supervisor struct {
	cfg       *config.Config
	store     *sessions.Store
	sched     *scheduler.Scheduler
	router    *delivery.Router
	dir       *directory.Directory
	cron      *cron.Service
	dedupe    *bus.DedupeCache
	adapters  []channels.Adapter
	connected []channels.Adapter
	local     *local.Adapter
}

// New wires a supervisor from config. Nothing connects until Run.
func New(cfg *config.Config, invoker agent.Invoker) (*Supervisor, error) {
	store, err := sessions.NewStore(cfg.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	dir := directory.New(time.Duration(cfg.Delivery.DirectoryTTLMinutes) * time.Minute)
	trusted := safety.DefaultRootsFor(cfg.Home, cfg.TrustedDirs...)
	sink := delivery.NewLocalSink(cfg.LocalOutputRoot())
	router := delivery.NewRouter(dir, sink, trusted, cfg.HomeChannel, cfg.Delivery.AlwaysLogLocal)

	s := &Supervisor{
		cfg:    cfg,
		store:  store,
		router: router,
		dir:    dir,
		dedupe: bus.NewDedupeCache(dedupeTTL, dedupeMax),
	}

	s.sched = scheduler.New(scheduler.Options{
		Store:     store,
		Invoker:   invoker,
		Deliverer: router,
		Typing:    router.Typing,
		PolicyFor: func(src bus.SessionSource) config.ResetPolicy {
			return cfg.ResolveResetPolicy(src.Platform, src.ChatType)
		},
		ResetTriggers: cfg.Sessions.ResetTriggers,
	})

	s.cron = cron.NewService(cron.NewStore(cfg.CronJobsFile()), invoker, router)

	if err := s.buildAdapters(); err != nil {
		return nil, err
	}
	return s, nil
}

// buildAdapters constructs one adapter per enabled platform and hooks
// each into the inbound pipeline and the channel directory.
func (s *Supervisor) buildAdapters() error {
	for _, platform := range s.cfg.EnabledPlatforms() {
		var (
			adapter channels.Adapter
			err     error
		)
		switch platform {
		case bus.PlatformTelegram:
			adapter, err = telegram.New(s.cfg.Platforms.Telegram)
		case bus.PlatformDiscord:
			adapter, err = discord.New(s.cfg.Platforms.Discord)
		case bus.PlatformWhatsApp:
			adapter, err = whatsapp.New(s.cfg.Platforms.WhatsApp)
		case bus.PlatformLocal:
			la := local.New(s.cfg.LocalOutputRoot())
			s.local = la
			adapter = la
		default:
			slog.Warn("platform recognized but no adapter is shipped", "platform", platform)
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %s adapter: %v", config.ErrConfig, platform, err)
		}

		adapter.OnMessage(s.handleInbound)
		s.adapters = append(s.adapters, adapter)
	}
	return nil
}

// Local returns the loopback adapter when the local platform is
// enabled, for dev sessions and smoke tests.
func (s *Supervisor) Local() *local.Adapter { return s.local }

// Scheduler exposes the turn scheduler, mainly for tests.
func (s *Supervisor) Scheduler() *scheduler.Scheduler { return s.sched }

// Connect brings up every adapter and registers the survivors with
// the router and directory. One broken platform must not take the
// gateway down.
func (s *Supervisor) Connect(ctx context.Context) {
	for _, adapter := range s.adapters {
		if err := adapter.Connect(ctx); err != nil {
			slog.Error("adapter failed to connect, continuing without it",
				"platform", adapter.Platform(), "error", err,
			)
			continue
		}
		s.router.RegisterAdapter(adapter)
		s.dir.Register(adapter.Platform(), adapter.ListChats)
		s.connected = append(s.connected, adapter)
	}
}

// Close disconnects adapters and drains the scheduler.
func (s *Supervisor) Close() {
	disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, adapter := range s.connected {
		if err := adapter.Disconnect(disconnectCtx); err != nil {
			slog.Warn("adapter disconnect failed", "platform", adapter.Platform(), "error", err)
		}
	}
	s.connected = nil
	s.sched.Shutdown(shutdownGrace)
}

// Run connects adapters, starts the cron daemon and blocks until ctx
// is cancelled, then shuts down in order: cron, adapters, scheduler.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Connect(ctx)

	cronCtx, cronCancel := context.WithCancel(ctx)
	cronDone := make(chan struct{})
	go func() {
		defer close(cronDone)
		interval := time.Duration(s.cfg.Cron.DaemonIntervalSeconds) * time.Second
		if err := s.cron.RunDaemon(cronCtx, interval); err != nil && cronCtx.Err() == nil {
			slog.Error("cron daemon stopped", "error", err)
		}
	}()

	slog.Info("gateway running",
		"platforms", s.cfg.EnabledPlatforms(),
		"sessions_dir", s.cfg.SessionsDir(),
	)

	<-ctx.Done()
	slog.Info("graceful shutdown initiated")

	cronCancel()
	select {
	case <-cronDone:
	case <-time.After(5 * time.Second):
		slog.Warn("cron daemon did not stop in time")
	}

	s.Close()
	slog.Info("gateway stopped")
	return nil
}

// RunCronDaemon runs the cron loop without the full gateway, for the
// CLI daemon mode. Adapters should be connected first so platform
// deliveries resolve.
func (s *Supervisor) RunCronDaemon(ctx context.Context, interval time.Duration) error {
	return s.cron.RunDaemon(ctx, interval)
}

// TickCron runs one cron pass outside the daemon, for the CLI.
func (s *Supervisor) TickCron(ctx context.Context) (int, error) {
	return s.cron.Tick(ctx)
}

// CronStore exposes the job store for the CLI subcommands.
func (s *Supervisor) CronStore() *cron.Store {
	return s.cron.Store()
}
