package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexguard/nexbot/internal/config"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/nexguard/nexbot/internal/store"
	"github.com/rs/zerolog/log"
)

// Daemon is the main nexbot process. It connects to a chat platform via a
// Gateway, pumps inbound messages to the Router, runs the scheduled jobs
// and reconnects when the transport drops.
type Daemon struct {
	cfg     *config.Config
	gateway Gateway
	core    *Core
	router  *Router
	jobs    *Jobs

	reconnectDelay time.Duration
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config    *config.Config
	Gateway   Gateway
	Store     store.Store
	Panel     Provisioner // optional
	Assistant Assistant   // optional
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

// NewDaemon wires the core, engine, dispatcher, router and jobs. Persisted
// state is loaded by Run.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("bot: gateway is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	cfg := opts.Config
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	core, err := NewCore(CoreOpts{
		Store:         opts.Store,
		MaxLogEntries: cfg.Session.MaxLogEntries,
		Vacation:      cfg.Modes.Vacation,
		Promotion:     cfg.Modes.Promotion,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	catalog := NewCatalog(cfg.Catalog)

	engine, err := NewEngine(EngineOpts{
		AdminIdentity:   cfg.Admin.Identity,
		Catalog:         catalog,
		Modes:           core.Modes,
		Messages:        core.Messages,
		Orders:          core.Orders,
		Promotion:       core.Promotion,
		Panel:           opts.Panel,
		Assistant:       opts.Assistant,
		VacationMessage: cfg.Modes.VacationMessage,
		MaxChatHistory:  cfg.Session.MaxChatHistory,
		Metrics:         opts.Metrics,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	broadcaster := NewBroadcaster(opts.Gateway,
		time.Duration(cfg.Broadcast.DelayMS)*time.Millisecond, cfg.Broadcast.Workers, opts.Metrics)

	admin, err := NewAdminDispatcher(AdminDispatcherOpts{
		AdminIdentity: cfg.Admin.Identity,
		Prefixes:      cfg.Admin.Prefixes,
		Core:          core,
		Catalog:       catalog,
		Panel:         opts.Panel,
		Broadcaster:   broadcaster,
		Promotion:     cfg.Promotion,
	})
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(RouterOpts{
		Gateway:       opts.Gateway,
		Core:          core,
		Engine:        engine,
		Admin:         admin,
		AdminIdentity: cfg.Admin.Identity,
		Metrics:       opts.Metrics,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	jobs, err := NewJobs(JobsOpts{
		AdminIdentity:  cfg.Admin.Identity,
		Core:           core,
		Sender:         opts.Gateway,
		Panel:          opts.Panel,
		Store:          opts.Store,
		BackupDir:      cfg.Storage.BackupDir,
		BackupKeep:     cfg.Storage.BackupKeep,
		IdleAfter:      time.Duration(cfg.Session.IdleResetHours) * time.Hour,
		MaxChatHistory: cfg.Session.MaxChatHistory,
		Metrics:        opts.Metrics,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:            cfg,
		gateway:        opts.Gateway,
		core:           core,
		router:         router,
		jobs:           jobs,
		reconnectDelay: time.Duration(cfg.Session.ReconnectDelayS) * time.Second,
	}, nil
}

// Core returns the daemon's process-wide state.
func (d *Daemon) Core() *Core { return d.core }

// Jobs returns the scheduled job handlers.
func (d *Daemon) Jobs() *Jobs { return d.jobs }

// Run loads persisted state, connects the gateway, starts the scheduler
// and processes inbound messages until ctx is cancelled. When the inbound
// channel closes unexpectedly the gateway is reconnected after a delay. On
// shutdown queued messages are drained and every ledger is flushed.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.core.Load(ctx); err != nil {
		return err
	}

	log.Info().Msg("bot: connecting gateway")
	if err := d.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}
	inbound, err := d.gateway.Listen(ctx)
	if err != nil {
		d.gateway.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	sched, err := NewScheduler(ctx, d.cfg.Schedule, d.jobs)
	if err != nil {
		d.gateway.Close()
		return err
	}
	sched.Start()
	log.Info().Strs("jobs", sched.Jobs()).Msg("bot: online")

	for {
		select {
		case <-ctx.Done():
			d.shutdown(sched)
			return nil

		case msg, ok := <-inbound:
			if ok {
				d.router.Handle(ctx, msg)
				continue
			}
			log.Warn().Dur("delay", d.reconnectDelay).Msg("bot: gateway disconnected, reconnecting")
			inbound = d.reconnect(ctx)
			if inbound == nil {
				d.shutdown(sched)
				return nil
			}
		}
	}
}

// reconnect retries Connect and Listen until it succeeds or ctx is done,
// in which case it returns nil.
func (d *Daemon) reconnect(ctx context.Context) <-chan InboundMessage {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.reconnectDelay):
		}
		if err := d.gateway.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("bot: reconnect failed")
			continue
		}
		inbound, err := d.gateway.Listen(ctx)
		if err != nil {
			log.Error().Err(err).Msg("bot: listen after reconnect failed")
			continue
		}
		log.Info().Msg("bot: gateway reconnected")
		return inbound
	}
}

func (d *Daemon) shutdown(sched *Scheduler) {
	log.Info().Msg("bot: shutting down")
	sched.Stop()
	d.router.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.core.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("bot: flush on shutdown")
	}
	if err := d.gateway.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot: close gateway")
	}
	log.Info().Msg("bot: stopped")
}
