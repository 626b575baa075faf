package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

// RedisConfig configures a RedisProvider.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string        // Key holding the token
	Channel  string        // Pub/Sub channel announcing rotations
	Refresh  time.Duration // Periodic re-read of Key; 0 disables
}

// RedisProvider serves a token cached from a Redis key. Run keeps the cache
// current from rotation announcements on a Pub/Sub channel and a periodic
// re-read. Several processes sharing a session can read one token this way.
type RedisProvider struct {
	rdb    *redis.Client
	cfg    RedisConfig
	logger *slog.Logger
	w      watchers
	fetch  func(ctx context.Context) (string, error)

	mu    sync.RWMutex
	token string // Last good read; kept when Redis is unreachable
}

// NewRedisProvider connects to Redis, fails fast if it is unreachable, and
// reads the initial token.
func NewRedisProvider(cfg RedisConfig, logger *slog.Logger) (*RedisProvider, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis credential key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	p := &RedisProvider{rdb: rdb, cfg: cfg, logger: logger}
	p.fetch = func(ctx context.Context) (string, error) {
		return p.rdb.Get(ctx, p.cfg.Key).Result()
	}
	p.refresh(context.Background())
	return p, nil
}

// Current returns the cached token. It never touches the network.
func (p *RedisProvider) Current() (Credential, bool) {
	p.mu.RLock()
	tok := p.token
	p.mu.RUnlock()

	if tok == "" {
		return Credential{}, false
	}
	return Credential{Token: tok, Source: "redis:" + p.cfg.Key}, true
}

// Watch registers a rotation callback.
func (p *RedisProvider) Watch(fn func()) func() {
	return p.w.add(fn)
}

// Run keeps the cached token current until ctx is cancelled.
func (p *RedisProvider) Run(ctx context.Context) error {
	var msgs <-chan *redis.Message
	if p.cfg.Channel != "" {
		sub := p.rdb.Subscribe(ctx, p.cfg.Channel)
		defer sub.Close()

		if _, err := sub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscribe %s: %w", p.cfg.Channel, err)
		}
		msgs = sub.Channel()

		// A rotation may have landed before the subscription was live
		if p.refresh(ctx) {
			p.w.notify()
		}
	}

	var tick <-chan time.Time
	if p.cfg.Refresh > 0 {
		ticker := time.NewTicker(p.cfg.Refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	return p.watch(ctx, msgs, tick)
}

// watch refreshes on every announcement and on every tick. An announcement
// always notifies; a tick notifies only when the token changed.
func (p *RedisProvider) watch(ctx context.Context, msgs <-chan *redis.Message, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-msgs:
			if !ok {
				return nil
			}
			p.refresh(ctx)
			p.logger.Info("credential rotated", "source", "redis", "channel", p.cfg.Channel)
			p.w.notify()
		case <-tick:
			if p.refresh(ctx) {
				p.logger.Info("credential rotated", "source", "redis", "key", p.cfg.Key)
				p.w.notify()
			}
		}
	}
}

// Close releases the Redis client.
func (p *RedisProvider) Close() error {
	return p.rdb.Close()
}

// refresh re-reads the key into the cache and reports whether the token
// changed. A missing key clears the cache; a failed read keeps it.
func (p *RedisProvider) refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	tok, err := p.fetch(ctx)
	switch {
	case errors.Is(err, redis.Nil):
		tok = ""
	case err != nil:
		p.logger.Warn("failed to read credential from redis", "key", p.cfg.Key, "error", err)
		return false
	}

	p.mu.Lock()
	changed := tok != p.token
	p.token = tok
	p.mu.Unlock()
	return changed
}
