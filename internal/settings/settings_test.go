package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"palbot/internal/storage"
	logx "palbot/pkg/logx"
)

// memStore is an in-process storage.Store for tests.
type memStore struct {
	mu     sync.Mutex
	kv     map[string]string
	reads  int
	failed bool
}

func newMemStore() *memStore { return &memStore{kv: map[string]string{}} }

func (m *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.failed {
		return "", false, errors.New("store down")
	}
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *memStore) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errors.New("store down")
	}
	m.kv[key] = value
	return nil
}

func (m *memStore) RecordOutcome(context.Context, storage.Outcome) error { return nil }
func (m *memStore) Close() error                                         { return nil }

func (m *memStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func defaults() Defaults {
	return Defaults{ConcurrencyLimit: 4, BatchTimeout: 15 * time.Second}
}

func TestDefaultsWithoutStore(t *testing.T) {
	t.Parallel()
	s := New(nil, defaults(), logx.Logger{})
	ctx := context.Background()

	if s.GlobalPaused(ctx) {
		t.Fatal("GlobalPaused default should be false")
	}
	if s.AgentInteractionsPaused(ctx) {
		t.Fatal("AgentInteractionsPaused default should be false")
	}
	if got := s.ConcurrencyLimit(ctx); got != 4 {
		t.Fatalf("ConcurrencyLimit = %d, want 4", got)
	}
	if got := s.BatchTimeout(ctx); got != 15*time.Second {
		t.Fatalf("BatchTimeout = %v, want 15s", got)
	}
}

func TestStoredOverrides(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, defaults(), logx.Logger{})
	ctx := context.Background()

	if err := s.Set(ctx, KeyGlobalPaused, "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, KeyConcurrencyLimit, "9"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, KeyBatchTimeout, "3s"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if !s.GlobalPaused(ctx) {
		t.Fatal("stored pause flag ignored")
	}
	if got := s.ConcurrencyLimit(ctx); got != 9 {
		t.Fatalf("ConcurrencyLimit = %d, want 9", got)
	}
	if got := s.BatchTimeout(ctx); got != 3*time.Second {
		t.Fatalf("BatchTimeout = %v, want 3s", got)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.kv[KeyConcurrencyLimit] = "not-a-number"
	st.kv[KeyBatchTimeout] = "-5s"
	s := New(st, defaults(), logx.Logger{})
	ctx := context.Background()

	if got := s.ConcurrencyLimit(ctx); got != 4 {
		t.Fatalf("ConcurrencyLimit = %d, want default 4", got)
	}
	if got := s.BatchTimeout(ctx); got != 15*time.Second {
		t.Fatalf("BatchTimeout = %v, want default 15s", got)
	}
}

func TestStoreErrorFallsBack(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.failed = true
	s := New(st, defaults(), logx.Logger{})

	if got := s.ConcurrencyLimit(context.Background()); got != 4 {
		t.Fatalf("ConcurrencyLimit under store failure = %d, want 4", got)
	}
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.kv[KeyGlobalPaused] = "true"
	s := New(st, defaults(), logx.Logger{})
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.GlobalPaused(ctx)
	s.GlobalPaused(ctx)
	s.GlobalPaused(ctx)
	if got := st.readCount(); got != 1 {
		t.Fatalf("store reads within TTL = %d, want 1", got)
	}

	now = now.Add(time.Minute)
	s.GlobalPaused(ctx)
	if got := st.readCount(); got != 2 {
		t.Fatalf("store reads after TTL = %d, want 2", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	s := New(nil, defaults(), logx.Logger{})
	s.ApplyDefaults(Defaults{ConcurrencyLimit: 2, BatchTimeout: time.Second})

	if got := s.ConcurrencyLimit(context.Background()); got != 2 {
		t.Fatalf("ConcurrencyLimit after ApplyDefaults = %d, want 2", got)
	}
}
