// Package coordinator bounds how many agents generate responses at once
// and staggers their sends so several personas answering one event read
// like a conversation instead of a simultaneous burst.
package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	logx "palbot/pkg/logx"
)

// Service is shared by every agent in the process.
type Service struct {
	log logx.Logger

	mu        sync.Mutex
	cfg       Config
	limitFn   func() int // optional live limit source; nil uses cfg.Limit
	pool      *semaphore.Weighted
	poolLimit int
	events    map[string]*eventEntry

	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:       log,
		cfg:       cfg,
		pool:      semaphore.NewWeighted(int64(cfg.Limit)),
		poolLimit: cfg.Limit,
		events:    map[string]*eventEntry{},
		now:       time.Now,
	}
}

// Apply swaps static knobs at runtime. The permit pool resizes lazily on
// the next acquire; holders of the old pool release into the old pool.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// SetLimitSource installs a live limit override (runtime settings).
// A non-positive value from the source falls back to the configured limit.
func (s *Service) SetLimitSource(fn func() int) {
	s.mu.Lock()
	s.limitFn = fn
	s.mu.Unlock()
}

// liveLimit resolves the effective concurrency limit. The limit source is
// caller-supplied and may block or panic (it can hit storage); it runs with
// no lock held.
func (s *Service) liveLimit() int {
	s.mu.Lock()
	fn := s.limitFn
	limit := s.cfg.Limit
	s.mu.Unlock()

	if fn != nil {
		if n := fn(); n > 0 {
			limit = n
		}
	}
	return limit
}

// register records the agent against the event and returns the pool for the
// given limit, swapping in a fresh semaphore when the limit changed. Slots
// keep a reference to the pool they acquired from, so in-flight holders are
// unaffected by the swap.
func (s *Service) register(agent, eventID string, limit int) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.events[eventID]
	if e == nil {
		e = &eventEntry{active: map[string]int{}, createdAt: s.now()}
		s.events[eventID] = e
	}
	if _, seen := e.active[agent]; !seen {
		found := false
		for _, name := range e.order {
			if name == agent {
				found = true
				break
			}
		}
		if !found {
			e.order = append(e.order, agent)
		}
	}
	e.active[agent]++

	if limit != s.poolLimit {
		s.log.Info("concurrency limit changed",
			logx.Int("old", s.poolLimit),
			logx.Int("new", limit),
		)
		s.pool = semaphore.NewWeighted(int64(limit))
		s.poolLimit = limit
	}
	return s.pool
}

// Acquire registers the agent against the event and blocks for a permit.
//
// Fail-open: a response delayed is annoying, a response dropped by our own
// bookkeeping is a bug. If registration panics or the permit wait is cut
// short, the caller still gets a usable Slot; Release on a fail-open Slot
// only cleans bookkeeping. The named return keeps the slot usable on the
// recovered path, and register owns the lock with a deferred unlock so a
// panic can never leave s.mu held.
func (s *Service) Acquire(ctx context.Context, agent, eventID string) (slot *Slot) {
	slot = &Slot{agent: agent, event: eventID}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("coordinator acquire panicked; failing open",
				logx.String("agent", agent),
				logx.String("event", eventID),
				logx.Any("panic", r),
			)
		}
	}()

	pool := s.register(agent, eventID, s.liveLimit())

	if err := pool.Acquire(ctx, 1); err != nil {
		// Context cut the wait short; proceed without a permit.
		s.log.Warn("permit wait interrupted; failing open",
			logx.String("agent", agent),
			logx.String("event", eventID),
			logx.Err(err),
		)
		return slot
	}
	slot.pool = pool
	return slot
}

// Release returns the permit (into the pool it came from) and drops the
// agent's registration. The event entry disappears once every agent
// processing it has released.
func (s *Service) Release(slot *Slot) {
	if slot == nil || slot.done {
		return
	}
	slot.done = true

	s.mu.Lock()
	if e := s.events[slot.event]; e != nil {
		e.active[slot.agent]--
		if e.active[slot.agent] <= 0 {
			delete(e.active, slot.agent)
		}
		if len(e.active) == 0 {
			delete(s.events, slot.event)
		}
	}
	s.mu.Unlock()

	if slot.pool != nil {
		slot.pool.Release(1)
	}
}

// StaggerDelay returns how long the agent should wait before sending its
// response to the event, based on registration order. Unregistered agents
// get position 0 (no delay).
func (s *Service) StaggerDelay(agent, eventID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := 0
	if e := s.events[eventID]; e != nil {
		for i, name := range e.order {
			if name == agent {
				pos = i
				break
			}
		}
	}
	d := time.Duration(pos) * s.cfg.StaggerStep
	if d > s.cfg.StaggerMax {
		d = s.cfg.StaggerMax
	}
	return d
}

// PurgeStale drops event bookkeeping older than StaleAfter. Registrations
// leak when an agent crashes between Acquire and Release; without the purge
// the stagger positions for a busy channel creep upward forever.
func (s *Service) PurgeStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.StaleAfter)
	n := 0
	for id, e := range s.events {
		if e.createdAt.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	if n > 0 {
		s.log.Debug("purged stale event bookkeeping", logx.Int("count", n))
	}
	return n
}

// RunJanitor runs the periodic purge until ctx is canceled.
// Host it under the supervisor.
func (s *Service) RunJanitor(ctx context.Context) {
	s.mu.Lock()
	every := s.cfg.CleanupEvery
	s.mu.Unlock()

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.PurgeStale()
		}
	}
}
