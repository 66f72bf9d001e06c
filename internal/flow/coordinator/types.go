package coordinator

import (
	"time"

	"golang.org/x/sync/semaphore"
)

// Config controls the shared concurrency pool and send staggering.
// Zero fields fall back to the defaults below.
type Config struct {
	// Limit caps concurrent generation calls across all agents.
	Limit int

	// StaggerStep/StaggerMax shape the per-event send delay by
	// registration order: min(position*StaggerStep, StaggerMax).
	StaggerStep time.Duration
	StaggerMax  time.Duration

	// StaleAfter is how old event bookkeeping may get before the janitor
	// purges it; CleanupEvery is the janitor cadence.
	StaleAfter   time.Duration
	CleanupEvery time.Duration
}

const (
	defaultLimit        = 4
	defaultStaggerStep  = 1500 * time.Millisecond
	defaultStaggerMax   = 5 * time.Second
	defaultStaleAfter   = 60 * time.Second
	defaultCleanupEvery = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.StaggerStep <= 0 {
		c.StaggerStep = defaultStaggerStep
	}
	if c.StaggerMax <= 0 {
		c.StaggerMax = defaultStaggerMax
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = defaultCleanupEvery
	}
	return c
}

// eventEntry tracks which agents are handling one triggering event.
// order is append-only registration order (drives staggering); active
// counts live acquisitions so the entry can be dropped when all release.
type eventEntry struct {
	order     []string
	active    map[string]int
	createdAt time.Time
}

// Slot is one held (or fail-open) permit. It remembers the pool it was
// acquired from so a limit resize never releases into the wrong pool.
type Slot struct {
	agent string
	event string
	pool  *semaphore.Weighted // nil on fail-open acquire
	done  bool
}
