// Package server assembles the relay from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	v1 "dmsrelay/api/v1"
	"dmsrelay/internal/config"
	"dmsrelay/internal/cron"
	"dmsrelay/internal/dms"
	"dmsrelay/internal/gateway"
	"dmsrelay/internal/identity"
	"dmsrelay/internal/pending"
	"dmsrelay/internal/receipts"
	"dmsrelay/internal/reconcile"
	"dmsrelay/pkg/logger"
)

// Job names registered on the maintenance scheduler.
const (
	JobPendingSweep = "pending-sweep"
	JobLedgerStats  = "ledger-stats"
)

// Server owns every long-lived component of the relay.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     zerolog.Logger

	client    *dms.Client
	resolver  *identity.Resolver
	service   *reconcile.Service
	scheduler *cron.Scheduler
	gateway   *gateway.Server

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	errChan   chan error
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	// Config is the loaded configuration. Required.
	Config *config.Config
	// ConfigPath enables hot reload of the dms and identity sections when
	// the file exists.
	ConfigPath string
	Version    string

	// Publisher overrides the receipt publisher built from Config.Receipts.
	Publisher receipts.Publisher
}

// NewServer builds the relay. Nothing listens until Start.
func NewServer(sc ServerConfig) (*Server, error) {
	if sc.Config == nil {
		return nil, errors.New("server: config is required")
	}
	cfg := sc.Config
	log := logger.Component("server")

	client := dms.New(dmsSettings(cfg.DMS))
	resolver := identity.NewResolver(cfg.Identity.UUIDMap)

	publisher := sc.Publisher
	if publisher == nil {
		var err error
		publisher, err = newPublisher(cfg.Receipts, log)
		if err != nil {
			return nil, err
		}
	}

	service := reconcile.New(reconcile.Config{
		Resolver:  resolver,
		Sender:    client,
		Status:    client,
		Publisher: publisher,
		Tracker: pending.Config{
			AckTimeout:      cfg.Tracker.AckTimeout,
			PollInterval:    cfg.Tracker.PollInterval,
			MaxPollDuration: cfg.Tracker.MaxPollDuration,
			MaxPending:      cfg.Tracker.MaxPending,
		},
	})

	s := &Server{
		cfg:        cfg,
		configPath: sc.ConfigPath,
		logger:     log,
		client:     client,
		resolver:   resolver,
		service:    service,
		scheduler:  cron.NewScheduler(nil),
		errChan:    make(chan error, 1),
	}

	if err := s.registerJobs(); err != nil {
		_ = service.Close()
		return nil, err
	}

	api := v1.NewRouter(&v1.RouterDeps{
		Service:   service,
		Client:    client,
		Scheduler: s.scheduler,
		Version:   sc.Version,
	})
	s.gateway = gateway.NewServer(cfg, api)

	return s, nil
}

// newPublisher connects to the broker when receipts are enabled. An
// unreachable broker is logged and receipts are dropped rather than
// blocking startup.
func newPublisher(rc config.ReceiptsConfig, log zerolog.Logger) (receipts.Publisher, error) {
	if !rc.Enabled {
		return receipts.NopPublisher{}, nil
	}

	amqpPub, err := receipts.NewAMQPPublisher(rc.URL, rc.Exchange)
	if err != nil {
		log.Warn().Err(err).Msg("receipt broker unavailable, receipts disabled")
		return receipts.NopPublisher{}, nil
	}

	async, err := receipts.NewAsyncPublisher(amqpPub, rc.PoolSize)
	if err != nil {
		_ = amqpPub.Close()
		return nil, fmt.Errorf("create receipt pool: %w", err)
	}
	log.Info().Str("exchange", rc.Exchange).Int("pool_size", rc.PoolSize).Msg("publishing delivery receipts")
	return async, nil
}

func (s *Server) registerJobs() error {
	m := s.cfg.Maintenance

	if m.SweepSpec != "" {
		maxAge := s.cfg.Tracker.SweepAge()
		err := s.scheduler.AddJob(cron.Job{
			Name:     JobPendingSweep,
			Schedule: m.SweepSpec,
			Run: func(ctx context.Context) error {
				if n := s.service.Sweep(maxAge); n > 0 {
					s.logger.Warn().Int("expired", n).Dur("max_age", maxAge).Msg("swept stale pending sends")
				}
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", JobPendingSweep, err)
		}
	}

	if m.StatsSpec != "" {
		err := s.scheduler.AddJob(cron.Job{
			Name:     JobLedgerStats,
			Schedule: m.StatsSpec,
			Run: func(ctx context.Context) error {
				st := s.service.Stats()
				s.logger.Info().
					Int("events", st.Events).
					Int("orphans", st.Orphans).
					Int("tracked_ids", st.Dedup.TrackedIDs).
					Int("duplicates_blocked", st.Dedup.DuplicatesBlocked).
					Int("pending", st.Pending).
					Msg("ledger stats")
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", JobLedgerStats, err)
		}
	}
	return nil
}

// ErrorChan reports errors from the gateway after Start returned.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Start runs the gateway, the scheduler and the config watcher, and waits
// until the gateway is listening.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	go func() {
		if err := s.gateway.Start(); err != nil {
			s.errChan <- err
		}
	}()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for !s.gateway.IsReady() {
		select {
		case <-timeout:
			s.setRunning(false)
			return errors.New("server start timeout")
		case err := <-s.errChan:
			s.setRunning(false)
			return fmt.Errorf("server start failed: %w", err)
		case <-ticker.C:
		}
	}

	if err := s.scheduler.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("scheduler not started")
	}
	s.startWatcher()

	s.logger.Info().
		Str("addr", s.gateway.ListenAddr()).
		Bool("dms_configured", s.client.Configured()).
		Msg("relay started")
	return nil
}

func (s *Server) startWatcher() {
	if s.configPath == "" {
		return
	}
	if _, err := os.Stat(s.configPath); err != nil {
		s.logger.Debug().Str("path", s.configPath).Msg("config file absent, hot reload disabled")
		return
	}

	w, err := gateway.NewWatcher(func(string) { s.Reload() }, s.configPath)
	if err != nil {
		s.logger.Warn().Err(err).Msg("config watcher unavailable")
		return
	}
	if err := w.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("config watcher unavailable")
		return
	}
	s.gateway.SetWatcher(w)
}

// Reload re-reads the config file and applies the dms settings and the
// identity map. Other sections need a restart.
func (s *Server) Reload() {
	cfg, err := config.Reload()
	if err != nil {
		s.logger.Error().Err(err).Msg("config reload failed, keeping current settings")
		return
	}
	s.apply(cfg)
}

func (s *Server) apply(cfg *config.Config) {
	changed := s.client.Update(dmsSettings(cfg.DMS))
	s.resolver.SetMappings(cfg.Identity.UUIDMap)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info().
		Bool("dms_changed", changed).
		Int("uuid_mappings", len(cfg.Identity.UUIDMap)).
		Msg("configuration reloaded")
}

// Stop shuts everything down. Pending-send timers are cancelled without
// reporting transitions.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("stopping relay")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := s.service.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close service: %w", err))
	}

	s.logger.Info().Msg("relay stopped")
	return errors.Join(errs...)
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound gateway address once started.
func (s *Server) Addr() string {
	return s.gateway.ListenAddr()
}

// StartedAt returns when Start was called.
func (s *Server) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Service exposes the reconciliation service.
func (s *Server) Service() *reconcile.Service {
	return s.service
}

// Scheduler exposes the maintenance scheduler.
func (s *Server) Scheduler() *cron.Scheduler {
	return s.scheduler
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func dmsSettings(c config.DMSConfig) dms.Settings {
	return dms.Settings{
		JWTSecret:  c.JWTSecret,
		ChannelID:  c.ChannelID,
		APIURL:     c.APIURL,
		WebhookURL: c.WebhookURL,
		StatusURL:  c.StatusURL,
		Timeout:    c.Timeout,
	}
}
