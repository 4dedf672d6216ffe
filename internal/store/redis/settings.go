// Package redis persists indicator settings in a Redis hash, guarded by a
// circuit breaker so an unreachable server degrades to in-memory defaults.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chartterm/internal/indicator"
)

// DefaultSettingsKey is the hash holding one JSON config per indicator id.
const DefaultSettingsKey = "chart:indicators"

// Config configures the settings store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Key      string
}

// hashClient is the subset of the go-redis client the store uses.
type hashClient interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	HGetAll(ctx context.Context, key string) *goredis.StringStringMapCmd
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *goredis.IntCmd
	Close() error
}

// Settings loads and saves indicator configs.
type Settings struct {
	client hashClient
	key    string
	cb     *CircuitBreaker
	log    *slog.Logger
}

// New connects to Redis and pings it.
func New(cfg Config, logger *slog.Logger) (*Settings, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := newSettings(client, cfg.Key, logger)
	s.log.Info("connected", "addr", cfg.Addr, "key", s.key)
	return s, nil
}

func newSettings(client hashClient, key string, logger *slog.Logger) *Settings {
	if key == "" {
		key = DefaultSettingsKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Settings{
		client: client,
		key:    key,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		log:    logger.With("component", "redis-settings"),
	}
	s.cb.OnStateChange = func(from, to State) {
		s.log.Warn("circuit breaker transition", "from", from.String(), "to", to.String())
	}
	return s
}

// Breaker exposes the circuit breaker for health reporting.
func (s *Settings) Breaker() *CircuitBreaker { return s.cb }

// Load returns every stored config that decodes and validates. Invalid
// entries are logged and skipped.
func (s *Settings) Load(ctx context.Context) (map[string]indicator.Config, error) {
	var raw map[string]string
	err := s.cb.Execute(func() error {
		var err error
		raw, err = s.client.HGetAll(ctx, s.key).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis settings load: %w", err)
	}

	out := make(map[string]indicator.Config, len(raw))
	for id, data := range raw {
		var cfg indicator.Config
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			s.log.Warn("skipping undecodable indicator config", "id", id, "error", err)
			continue
		}
		if err := cfg.Validate(); err != nil {
			s.log.Warn("skipping invalid indicator config", "id", id, "error", err)
			continue
		}
		out[id] = cfg
	}
	return out, nil
}

// Save stores one config.
func (s *Settings) Save(ctx context.Context, id string, cfg indicator.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal indicator config: %w", err)
	}
	err = s.cb.Execute(func() error {
		return s.client.HSet(ctx, s.key, id, string(data)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis settings save %s: %w", id, err)
	}
	return nil
}

// Delete removes one config.
func (s *Settings) Delete(ctx context.Context, id string) error {
	err := s.cb.Execute(func() error {
		return s.client.HDel(ctx, s.key, id).Err()
	})
	if err != nil {
		return fmt.Errorf("redis settings delete %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Settings) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Settings) Close() error {
	return s.client.Close()
}
