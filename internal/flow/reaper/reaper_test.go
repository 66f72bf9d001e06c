package reaper

import (
	"testing"
	"time"

	"palbot/internal/eventbus"
	logx "palbot/pkg/logx"
)

type fakeReapable struct {
	removed int
	cutoffs []time.Time
}

func (f *fakeReapable) ReapIdle(olderThan time.Time) int {
	f.cutoffs = append(f.cutoffs, olderThan)
	return f.removed
}

func TestSweepAggregatesTargets(t *testing.T) {
	t.Parallel()
	g := &fakeReapable{removed: 2}
	q := &fakeReapable{removed: 1}
	b := &fakeReapable{removed: 0}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{IdleAfter: time.Hour}, []Target{
		{Name: "ana.guard", Store: g},
		{Name: "ana.queue", Store: q},
		{Name: "ana.batch", Store: b},
		{Name: "nil target", Store: nil},
	}, bus, logx.Logger{})
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Sweep()

	want := now.Add(-time.Hour)
	if len(g.cutoffs) != 1 || !g.cutoffs[0].Equal(want) {
		t.Fatalf("guard cutoffs = %v, want [%v]", g.cutoffs, want)
	}

	select {
	case e := <-events:
		if e.Type != eventbus.TypeStateReaped {
			t.Fatalf("event type = %s", e.Type)
		}
		info, ok := e.Data.(ReapedInfo)
		if !ok {
			t.Fatalf("event payload %T", e.Data)
		}
		if info.Total != 3 || info.Removed["ana.guard"] != 2 {
			t.Fatalf("unexpected payload: %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("no state.reaped event published")
	}
}

func TestSweepSilentWhenNothingRemoved(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, []Target{{Name: "empty", Store: &fakeReapable{}}}, bus, logx.Logger{})
	s.Sweep()

	select {
	case e := <-events:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyScheduleChange(t *testing.T) {
	t.Parallel()
	s := New(Config{Schedule: "@every 10m"}, nil, nil, logx.Logger{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// A bad schedule keeps the previous one.
	s.Apply(Config{Schedule: "not a schedule", IdleAfter: time.Minute})
	s.mu.Lock()
	schedule := s.cfg.Schedule
	idle := s.cfg.IdleAfter
	s.mu.Unlock()
	if schedule != "@every 10m" {
		t.Fatalf("schedule = %q, want previous kept", schedule)
	}
	if idle != time.Minute {
		t.Fatalf("idle_after = %v, want 1m applied", idle)
	}

	// A valid schedule replaces the entry.
	s.Apply(Config{Schedule: "@every 1m"})
	s.mu.Lock()
	schedule = s.cfg.Schedule
	s.mu.Unlock()
	if schedule != "@every 1m" {
		t.Fatalf("schedule = %q, want @every 1m", schedule)
	}
}
