// Package settings exposes dashboard-adjustable runtime overrides.
//
// Values live in the storage layer so they survive restarts and can be
// flipped by an external dashboard writing the same store. Typed getters
// fall back to file-config defaults when a key is absent or unreadable.
// A small TTL cache bounds store reads on the hot path.
package settings

import (
	"context"
	"strconv"
	"sync"
	"time"

	"palbot/internal/storage"
	logx "palbot/pkg/logx"
)

// Well-known keys.
const (
	KeyGlobalPaused            = "global_paused"
	KeyAgentInteractionsPaused = "agent_interactions_paused"
	KeyConcurrencyLimit        = "concurrency_limit"
	KeyBatchTimeout            = "batch_timeout"
)

const defaultCacheTTL = 30 * time.Second

// Defaults are the file-config fallbacks for absent keys.
type Defaults struct {
	ConcurrencyLimit int
	BatchTimeout     time.Duration
}

type Service struct {
	log   logx.Logger
	store storage.Store // may be nil (storage disabled)

	mu       sync.Mutex
	defaults Defaults
	cache    map[string]cacheEntry
	ttl      time.Duration

	now func() time.Time
}

type cacheEntry struct {
	value string
	found bool
	at    time.Time
}

func New(store storage.Store, defaults Defaults, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		store:    store,
		defaults: defaults,
		cache:    map[string]cacheEntry{},
		ttl:      defaultCacheTTL,
		now:      time.Now,
	}
}

// ApplyDefaults swaps the config-derived fallbacks (called on config reload).
func (s *Service) ApplyDefaults(d Defaults) {
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

// Set writes through to the store and refreshes the cache.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if s.store != nil {
		if err := s.store.PutSetting(ctx, key, value); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, found: true, at: s.now()}
	s.mu.Unlock()
	return nil
}

// lookup returns the raw stored value, consulting the TTL cache first.
// Store errors are logged and treated as "absent" so callers fall back
// to defaults instead of failing.
func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	s.mu.Lock()
	e, ok := s.cache[key]
	ttl := s.ttl
	now := s.now()
	s.mu.Unlock()
	if ok && now.Sub(e.at) < ttl {
		return e.value, e.found
	}

	if s.store == nil {
		return "", false
	}
	v, found, err := s.store.GetSetting(ctx, key)
	if err != nil {
		s.log.Warn("settings read failed; using default", logx.String("key", key), logx.Err(err))
		return "", false
	}
	s.mu.Lock()
	s.cache[key] = cacheEntry{value: v, found: found, at: now}
	s.mu.Unlock()
	return v, found
}

// GlobalPaused is the killswitch: when set, no responses are produced at all.
func (s *Service) GlobalPaused(ctx context.Context) bool {
	return s.boolValue(ctx, KeyGlobalPaused, false)
}

// AgentInteractionsPaused disables agent-to-agent reply probability decay.
func (s *Service) AgentInteractionsPaused(ctx context.Context) bool {
	return s.boolValue(ctx, KeyAgentInteractionsPaused, false)
}

func (s *Service) ConcurrencyLimit(ctx context.Context) int {
	s.mu.Lock()
	def := s.defaults.ConcurrencyLimit
	s.mu.Unlock()

	raw, ok := s.lookup(ctx, KeyConcurrencyLimit)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Service) BatchTimeout(ctx context.Context) time.Duration {
	s.mu.Lock()
	def := s.defaults.BatchTimeout
	s.mu.Unlock()

	raw, ok := s.lookup(ctx, KeyBatchTimeout)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (s *Service) boolValue(ctx context.Context, key string, def bool) bool {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
