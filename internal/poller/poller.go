package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/bidsync/internal/model"
)

// Target is a feed that can be resynced over HTTP.
type Target interface {
	Topic() model.Topic
	Connected() bool
	Resync(ctx context.Context) error
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 15s)
	Concurrency int           // Max concurrent requests (default: 8)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Second,
		Concurrency: 8,
		Timeout:     10 * time.Second,
	}
}

// Poller periodically resyncs disconnected feeds via the HTTP API.
type Poller struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	targets map[model.Topic]Target

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		logger:  logger,
		targets: make(map[model.Topic]Target),
	}
}

// Add registers a target, replacing any target with the same topic.
func (p *Poller) Add(t Target) {
	p.mu.Lock()
	p.targets[t.Topic()] = t
	p.mu.Unlock()
}

// Remove unregisters the target for topic.
func (p *Poller) Remove(topic model.Topic) {
	p.mu.Lock()
	delete(p.targets, topic)
	p.mu.Unlock()
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("resync poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("resync poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// stale returns the targets whose topic is not connected, sorted by topic.
func (p *Poller) stale() []Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Target, 0, len(p.targets))
	for _, t := range p.targets {
		if !t.Connected() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic() < out[j].Topic() })
	return out
}

// pollAll resyncs every disconnected target concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	targets := p.stale()
	if len(targets) == 0 {
		p.logger.Debug("all feeds connected, nothing to resync")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var synced, errors atomic.Int64

	for _, target := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.resync(t); err != nil {
				p.logger.Warn("failed to resync feed",
					"topic", t.Topic(),
					"err", err,
				)
				errors.Add(1)
				return
			}

			synced.Add(1)
		}(target)
	}

	wg.Wait()

	p.logger.Info("resync cycle complete",
		"feeds", len(targets),
		"synced", synced.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
}

// resync refetches a single target's history.
func (p *Poller) resync(t Target) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()
	return t.Resync(ctx)
}
