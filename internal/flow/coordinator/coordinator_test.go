package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "palbot/pkg/logx"
)

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 2}, logx.Logger{})

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot := s.Acquire(context.Background(), "agent", "e")
			defer s.Release(slot)

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestStaggerByRegistrationOrder(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 10, StaggerStep: 1500 * time.Millisecond, StaggerMax: 5 * time.Second}, logx.Logger{})

	agents := []string{"a", "b", "c", "d", "e"}
	slots := make([]*Slot, 0, len(agents))
	for _, name := range agents {
		slots = append(slots, s.Acquire(context.Background(), name, "event-1"))
	}

	want := []time.Duration{
		0,
		1500 * time.Millisecond,
		3 * time.Second,
		4500 * time.Millisecond,
		5 * time.Second, // clamped
	}
	for i, name := range agents {
		if got := s.StaggerDelay(name, "event-1"); got != want[i] {
			t.Fatalf("StaggerDelay(%s) = %v, want %v", name, got, want[i])
		}
	}

	// Unknown agent or event gets no delay.
	if got := s.StaggerDelay("zz", "event-1"); got != 0 {
		t.Fatalf("unregistered agent delay = %v, want 0", got)
	}
	if got := s.StaggerDelay("a", "other"); got != 0 {
		t.Fatalf("unknown event delay = %v, want 0", got)
	}

	for _, slot := range slots {
		s.Release(slot)
	}
}

func TestReleaseDropsEventWhenLastAgentDone(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 10}, logx.Logger{})

	s1 := s.Acquire(context.Background(), "a", "e")
	s2 := s.Acquire(context.Background(), "b", "e")

	s.Release(s1)
	s.mu.Lock()
	_, there := s.events["e"]
	s.mu.Unlock()
	if !there {
		t.Fatal("event entry dropped while an agent is still active")
	}

	s.Release(s2)
	s.Release(s2) // idempotent
	s.mu.Lock()
	_, there = s.events["e"]
	s.mu.Unlock()
	if there {
		t.Fatal("event entry not dropped after last release")
	}
}

func TestFailOpenOnCanceledContext(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 1}, logx.Logger{})

	held := s.Acquire(context.Background(), "a", "e1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slot := s.Acquire(ctx, "b", "e1")
	if slot == nil {
		t.Fatal("expected a usable fail-open slot")
	}
	if slot.pool != nil {
		t.Fatal("fail-open slot should hold no permit")
	}
	// Releasing a fail-open slot must not inflate the pool.
	s.Release(slot)
	s.Release(held)
}

func TestFailOpenOnPanickingLimitSource(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 2}, logx.Logger{})
	s.SetLimitSource(func() int { panic("settings backend down") })

	slot := s.Acquire(context.Background(), "a", "e1")
	if slot == nil {
		t.Fatal("expected a usable fail-open slot")
	}

	// The service must stay responsive after the recovered panic.
	done := make(chan time.Duration, 1)
	go func() { done <- s.StaggerDelay("a", "e1") }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StaggerDelay blocked after fail-open acquire")
	}

	s.Release(slot)
	if n := s.PurgeStale(); n != 0 {
		t.Fatalf("PurgeStale = %d, want 0", n)
	}

	// A healthy limit source restores normal acquisition.
	s.SetLimitSource(func() int { return 3 })
	slot = s.Acquire(context.Background(), "a", "e2")
	if slot == nil || slot.pool == nil {
		t.Fatal("expected a held permit once the limit source recovered")
	}
	s.Release(slot)
}

func TestLimitResizeKeepsOldHolders(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 2}, logx.Logger{})

	oldSlot := s.Acquire(context.Background(), "a", "e1")
	oldPool := oldSlot.pool

	limit := int32(5)
	s.SetLimitSource(func() int { return int(atomic.LoadInt32(&limit)) })

	newSlot := s.Acquire(context.Background(), "b", "e2")
	if newSlot.pool == oldPool {
		t.Fatal("expected a fresh pool after the limit change")
	}

	// The old holder releases into the pool it acquired from.
	s.Release(oldSlot)
	s.Release(newSlot)

	// And the new limit actually admits more than the old one.
	slots := make([]*Slot, 0, 5)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		slot := s.Acquire(ctx, "x", "e3")
		cancel()
		if slot.pool == nil {
			t.Fatalf("acquire %d failed open under limit 5", i)
		}
		slots = append(slots, slot)
	}
	for _, slot := range slots {
		s.Release(slot)
	}
}

func TestPurgeStale(t *testing.T) {
	t.Parallel()
	s := New(Config{Limit: 4, StaleAfter: time.Minute}, logx.Logger{})
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	leaked := s.Acquire(context.Background(), "a", "leaked")
	now = now.Add(2 * time.Minute)
	fresh := s.Acquire(context.Background(), "a", "fresh")

	if n := s.PurgeStale(); n != 1 {
		t.Fatalf("PurgeStale = %d, want 1", n)
	}
	s.mu.Lock()
	_, leakedThere := s.events["leaked"]
	_, freshThere := s.events["fresh"]
	s.mu.Unlock()
	if leakedThere || !freshThere {
		t.Fatalf("unexpected events after purge: leaked=%v fresh=%v", leakedThere, freshThere)
	}

	// A held permit is unaffected by bookkeeping purges.
	s.Release(leaked)
	s.Release(fresh)
}
