package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/bidsync/internal/api"
	"github.com/rickgao/bidsync/internal/archive"
	"github.com/rickgao/bidsync/internal/config"
	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/credential"
	"github.com/rickgao/bidsync/internal/dedup"
	"github.com/rickgao/bidsync/internal/feed"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/poller"
	"github.com/rickgao/bidsync/internal/reconcile"
	"github.com/rickgao/bidsync/internal/registry"
)

const shutdownTimeout = 10 * time.Second

// app holds the components of one bidsync session.
type app struct {
	cfg    *config.BidsyncConfig
	logger *slog.Logger

	gatherer *prometheus.Registry
	metrics  *metrics.Recorder
	creds    credential.Provider
	api      *api.Client
	registry *registry.Registry
	store    *dedup.Store
	poller   *poller.Poller

	// Optional archive
	pool    *pgxpool.Pool
	archive *archive.Writer

	runners  []func(ctx context.Context) error // Background loops owned by providers
	services []service                         // Started in order, stopped in reverse
	closers  []func()
}

// service is a component with a Start/Stop lifecycle.
type service struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// newApp builds every component from cfg. Nothing is started.
func newApp(ctx context.Context, cfg *config.BidsyncConfig, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.gatherer = prometheus.NewRegistry()
	a.gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.gatherer)

	creds, err := a.newCredentials(cfg.Credential)
	if err != nil {
		a.close()
		return nil, err
	}
	a.creds = creds

	a.api = api.NewClient(
		cfg.API.BaseURL,
		a.creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	reg, err := registry.New(registryConfig(cfg, a.creds, a.metrics, logger), logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create registry: %w", err)
	}
	a.registry = reg
	a.closers = append(a.closers, reg.Close)

	a.store = dedup.New(cfg.Dedup.Ceiling, cfg.Dedup.Retain)
	a.poller = poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, logger)

	if cfg.Archive.Enabled {
		if err := a.openArchive(ctx, cfg.Archive); err != nil {
			a.close()
			return nil, err
		}
		a.services = append(a.services, service{name: "archive", start: a.archive.Start, stop: a.archive.Stop})
	}
	a.services = append(a.services, service{name: "poller", start: a.poller.Start, stop: a.poller.Stop})

	return a, nil
}

func (a *app) newCredentials(cfg config.CredentialConfig) (credential.Provider, error) {
	switch cfg.Source {
	case config.CredentialFile:
		p, err := credential.NewFileProvider(cfg.Path, cfg.PollInterval, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create file credential provider: %w", err)
		}
		a.runners = append(a.runners, p.Run)
		return p, nil
	case config.CredentialRedis:
		p, err := credential.NewRedisProvider(credential.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Channel:  cfg.Redis.Channel,
			Refresh:  cfg.PollInterval,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create redis credential provider: %w", err)
		}
		a.runners = append(a.runners, p.Run)
		a.closers = append(a.closers, func() { p.Close() })
		return p, nil
	default:
		return credential.NewStatic(cfg.Token), nil
	}
}

func (a *app) openArchive(ctx context.Context, cfg config.ArchiveConfig) error {
	a.logger.Info("connecting to archive database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := archive.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect archive: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)

	if err := archive.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}

	a.archive = archive.NewWriter(archive.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}, pool, a.logger)
	return nil
}

// archiver returns the archive writer as a feed.Archiver, or nil when the
// archive is disabled.
func (a *app) archiver() feed.Archiver {
	if a.archive == nil {
		return nil
	}
	return a.archive
}

func (a *app) self() model.Actor {
	return model.Actor{ID: model.ID(a.cfg.Session.UserID), Username: a.cfg.Session.Username}
}

func (a *app) reconciler() reconcile.Reconciler {
	return reconcile.Reconciler{MatchBySignature: !a.cfg.Reconcile.RequireToken}
}

// run starts the background components, runs body, and shuts everything down
// once body returns or ctx is cancelled.
func (a *app) run(ctx context.Context, serveMetrics bool, body func(ctx context.Context) error) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for _, r := range a.runners {
		g.Go(func() error { return r(gctx) })
	}
	if serveMetrics {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}

	started, err := a.startServices(gctx)
	if err != nil {
		cancel()
		g.Wait()
		a.stopServices(started)
		return err
	}

	g.Go(func() error {
		defer cancel()
		return body(gctx)
	})

	err = g.Wait()
	a.stopServices(started)

	if a.archive != nil {
		stats := a.archive.Stats()
		a.logger.Info("archive writer stats",
			"inserts", stats.Inserts,
			"conflicts", stats.Conflicts,
			"errors", stats.Errors,
			"dropped", stats.Dropped,
		)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startServices starts each service in order and returns the ones that
// started. It stops at the first failure.
func (a *app) startServices(ctx context.Context) ([]service, error) {
	started := make([]service, 0, len(a.services))
	for _, svc := range a.services {
		if err := svc.start(ctx); err != nil {
			return started, fmt.Errorf("start %s: %w", svc.name, err)
		}
		started = append(started, svc)
	}
	return started, nil
}

// stopServices stops services in reverse start order.
func (a *app) stopServices(started []service) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].stop(ctx); err != nil {
			a.logger.Warn("service stop failed", "service", started[i].name, "error", err)
		}
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// serveMetrics runs the metrics and health server until ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, metrics.Handler(a.gatherer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, a.registry)
	})
	return mux
}

// statusSource is the part of the registry the health report reads.
type statusSource interface {
	Topics() []model.Topic
	Status(topic model.Topic) (connection.Status, bool)
}

// writeHealth reports every live topic. The session is degraded while any
// topic is not connected and unhealthy when one has failed.
func writeHealth(w http.ResponseWriter, src statusSource) {
	health := struct {
		Status string            `json:"status"`
		Topics map[string]string `json:"topics"`
	}{
		Status: "healthy",
		Topics: make(map[string]string),
	}

	for _, topic := range src.Topics() {
		st, ok := src.Status(topic)
		if !ok {
			continue
		}
		health.Topics[string(topic)] = st.String()
		switch {
		case st.State == connection.StateFailed:
			health.Status = "unhealthy"
		case st.State != connection.StateConnected && health.Status == "healthy":
			health.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// registryConfig maps configuration onto the channel registry.
func registryConfig(cfg *config.BidsyncConfig, creds credential.Provider, rec *metrics.Recorder, logger *slog.Logger) registry.Config {
	return registry.Config{
		Endpoint: connection.Endpoint{
			Origin:   cfg.Realtime.Origin,
			BasePath: cfg.Realtime.BasePath,
		},
		Policy: connection.Policy{
			BaseDelay:      cfg.Connections.ReconnectBaseDelay,
			MaxDelay:       cfg.Connections.ReconnectMaxDelay,
			MaxAttempts:    cfg.Connections.MaxAttempts,
			PingInterval:   cfg.Connections.PingInterval,
			ConnectTimeout: cfg.Connections.ConnectTimeout,
		},
		Dialer: connection.NewWSDialer(connection.DialerConfig{
			Origin:           cfg.Realtime.Origin,
			HandshakeTimeout: cfg.Connections.ConnectTimeout,
			WriteTimeout:     cfg.Connections.WriteTimeout,
			StaleAfter:       cfg.Connections.StaleAfter,
		}, logger),
		Credentials: creds,
		Metrics:     rec,
	}
}
