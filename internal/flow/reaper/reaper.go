// Package reaper sweeps per-conversation state that has gone idle.
// Conversations come and go; without the sweep, batcher, queue, and guard
// tables grow monotonically for the life of the process.
package reaper

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"palbot/internal/eventbus"
	logx "palbot/pkg/logx"
)

// Reapable is implemented by every component holding per-conversation state.
type Reapable interface {
	// ReapIdle drops state untouched since olderThan and reports how many
	// entries were removed.
	ReapIdle(olderThan time.Time) int
}

// Target names a store for logging.
type Target struct {
	Name  string
	Store Reapable
}

// Config controls cadence and threshold.
type Config struct {
	// Schedule is a cron spec or "@every ..." expression. Default "@every 10m".
	Schedule string
	// IdleAfter is how long state may sit untouched. Default 1h.
	IdleAfter time.Duration
}

const (
	defaultSchedule  = "@every 10m"
	defaultIdleAfter = time.Hour
)

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = defaultIdleAfter
	}
	return c
}

// ReapedInfo is the bus payload for state.reaped events.
type ReapedInfo struct {
	Removed map[string]int `json:"removed"`
	Total   int            `json:"total"`
}

type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	targets []Target

	mu      sync.Mutex
	cfg     Config
	cron    *cron.Cron
	entryID cron.EntryID

	now func() time.Time
}

func New(cfg Config, targets []Target, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		bus:     bus,
		targets: targets,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	id, err := c.AddFunc(s.cfg.Schedule, s.Sweep)
	if err != nil {
		return fmt.Errorf("reaper schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	s.entryID = id
	c.Start()
	s.log.Debug("reaper started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("idle_after", s.cfg.IdleAfter),
	)
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps cadence/threshold at runtime. A schedule change re-registers
// the cron entry; a bad new schedule keeps the old one.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	oldSchedule := s.cfg.Schedule
	s.cfg.IdleAfter = cfg.IdleAfter
	if cfg.Schedule == oldSchedule || s.cron == nil {
		s.cfg.Schedule = cfg.Schedule
		return
	}
	id, err := s.cron.AddFunc(cfg.Schedule, s.Sweep)
	if err != nil {
		s.log.Warn("reaper schedule rejected; keeping previous",
			logx.String("schedule", cfg.Schedule),
			logx.Err(err),
		)
		return
	}
	s.cron.Remove(s.entryID)
	s.entryID = id
	s.cfg.Schedule = cfg.Schedule
}

// Sweep runs one pass over all targets.
func (s *Service) Sweep() {
	s.mu.Lock()
	idleAfter := s.cfg.IdleAfter
	s.mu.Unlock()

	cutoff := s.now().Add(-idleAfter)
	removed := map[string]int{}
	total := 0
	for _, t := range s.targets {
		if t.Store == nil {
			continue
		}
		n := t.Store.ReapIdle(cutoff)
		removed[t.Name] = n
		total += n
	}
	if total == 0 {
		return
	}

	s.log.Info("reaped idle conversation state",
		logx.Int("total", total),
		logx.Any("removed", removed),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStateReaped, Data: ReapedInfo{
			Removed: removed, Total: total,
		}})
	}
}
