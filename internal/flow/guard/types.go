package guard

import "time"

// Config controls the per-conversation anti-loop checks.
// Zero fields fall back to the defaults below.
type Config struct {
	// RateMax responses per RateWindow per conversation.
	RateMax    int
	RateWindow time.Duration

	// BreakerThreshold is consecutive failures before responses are suppressed.
	BreakerThreshold int

	// DuplicateCache is how many recent response signatures are remembered.
	DuplicateCache int

	// AgentReplyCooldown: within this window after the agent replied to
	// another agent, the fall-off draw is bypassed.
	AgentReplyCooldown time.Duration

	Falloff Falloff
}

// Falloff shapes agent-chain response probability:
// p = BaseChance * (1-DecayRate)^n, floored at MinChance,
// forced to 0 once n reaches HardLimit.
type Falloff struct {
	BaseChance float64
	DecayRate  float64
	MinChance  float64
	HardLimit  int
}

const (
	defaultRateMax            = 5
	defaultRateWindow         = 60 * time.Second
	defaultBreakerThreshold   = 3
	defaultDuplicateCache     = 5
	defaultAgentReplyCooldown = 60 * time.Second

	defaultFalloffBase  = 0.8
	defaultFalloffDecay = 0.15
	defaultFalloffMin   = 0.05
	defaultFalloffLimit = 10

	// signatureLen caps how much of a response participates in duplicate
	// detection.
	signatureLen = 100
)

func (c Config) withDefaults() Config {
	if c.RateMax <= 0 {
		c.RateMax = defaultRateMax
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = defaultBreakerThreshold
	}
	if c.DuplicateCache <= 0 {
		c.DuplicateCache = defaultDuplicateCache
	}
	if c.AgentReplyCooldown <= 0 {
		c.AgentReplyCooldown = defaultAgentReplyCooldown
	}
	if c.Falloff.BaseChance <= 0 {
		c.Falloff.BaseChance = defaultFalloffBase
	}
	if c.Falloff.DecayRate <= 0 {
		c.Falloff.DecayRate = defaultFalloffDecay
	}
	if c.Falloff.MinChance <= 0 {
		c.Falloff.MinChance = defaultFalloffMin
	}
	if c.Falloff.HardLimit <= 0 {
		c.Falloff.HardLimit = defaultFalloffLimit
	}
	return c
}

// convState is the per-conversation ledger behind all four checks.
type convState struct {
	// sliding rate-limit window (send timestamps)
	window []time.Time

	// consecutive validation failures (breaker input)
	failures int

	// recent response signatures, oldest first
	signatures []string

	// agent-chain tracking
	agentStreak    int
	lastAgentReply time.Time

	lastTouch time.Time
}
