package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Agents are the chat personas this process runs. Each agent opens its
	// own gateway session with its own token.
	Agents []AgentConfig `json:"agents"`

	Provider ProviderConfig `json:"provider"`
	Flow     FlowConfig     `json:"flow"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Mirror  LoggingMirror `json:"mirror"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingMirror mirrors warning-and-above records into an ops conversation.
type LoggingMirror struct {
	Enabled        bool   `json:"enabled"`
	ConversationID string `json:"conversation_id"`
	MinLevel       string `json:"min_level"`
	RatePerSec     int    `json:"rate_per_sec"`
}

type AgentConfig struct {
	Name    string `json:"name"`
	Token   string `json:"token"`
	Persona string `json:"persona,omitempty"`

	// Nicknames extend name-trigger matching beyond the agent name.
	Nicknames []string `json:"nicknames,omitempty"`

	// NameTriggerChance is the probability of responding when the agent is
	// addressed by name without a mention or reply. 0 means the default (0.3).
	NameTriggerChance float64 `json:"name_trigger_chance,omitempty"`
}

// ProviderConfig configures the text-generation backend boundary.
// The per-call timeout is owned here; the client itself is pluggable.
type ProviderConfig struct {
	Name string `json:"name,omitempty"`
	// Timeout is a Go duration string (e.g. "30s"). 0 disables the deadline.
	Timeout string `json:"timeout,omitempty"`
}

// FlowConfig controls the admission-control core.
//
// All durations are Go duration strings (e.g. "500ms", "15s", "1m").
// Zero/omitted fields fall back to built-in defaults.
type FlowConfig struct {
	Batch       BatchConfig       `json:"batch"`
	Queue       QueueConfig       `json:"queue"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Guard       GuardConfig       `json:"guard"`
	Reaper      ReaperConfig      `json:"reaper"`
}

type BatchConfig struct {
	// Timeout is the debounce window per (conversation, sender). Default "15s".
	Timeout string `json:"timeout,omitempty"`
}

type QueueConfig struct {
	// Pacing is the delay between processed requests. Default "500ms".
	Pacing string `json:"pacing,omitempty"`
	// DuplicateWindow rejects identical content from the same sender. Default "3s".
	DuplicateWindow string `json:"duplicate_window,omitempty"`
	// PerSenderMax caps pending requests per sender per conversation. Default 2.
	PerSenderMax int `json:"per_sender_max,omitempty"`
}

type CoordinatorConfig struct {
	// Limit is the process-wide cap on concurrent generation calls. Default 4.
	Limit int `json:"limit,omitempty"`
	// StaggerStep/StaggerMax shape the per-event send stagger. Defaults "1.5s"/"5s".
	StaggerStep string `json:"stagger_step,omitempty"`
	StaggerMax  string `json:"stagger_max,omitempty"`
	// StaleAfter/CleanupEvery control janitor purging of event bookkeeping.
	// Defaults "60s"/"5m".
	StaleAfter   string `json:"stale_after,omitempty"`
	CleanupEvery string `json:"cleanup_every,omitempty"`
}

type GuardConfig struct {
	// RateMax responses per RateWindow per conversation. Defaults 5 / "60s".
	RateMax    int    `json:"rate_max,omitempty"`
	RateWindow string `json:"rate_window,omitempty"`
	// BreakerThreshold is consecutive failures before the breaker trips. Default 3.
	BreakerThreshold int `json:"breaker_threshold,omitempty"`
	// DuplicateCache is how many recent response signatures are kept. Default 5.
	DuplicateCache int `json:"duplicate_cache,omitempty"`
	// AgentReplyCooldown bypasses fall-off shortly after an agent reply. Default "60s".
	AgentReplyCooldown string        `json:"agent_reply_cooldown,omitempty"`
	Falloff            FalloffConfig `json:"falloff"`
}

// FalloffConfig shapes agent-chain response probability:
// p = base_chance * (1 - decay_rate)^n, floored at min_chance,
// forced to 0 once n reaches hard_limit.
type FalloffConfig struct {
	BaseChance float64 `json:"base_chance,omitempty"` // default 0.8
	DecayRate  float64 `json:"decay_rate,omitempty"`  // default 0.15
	MinChance  float64 `json:"min_chance,omitempty"`  // default 0.05
	HardLimit  int     `json:"hard_limit,omitempty"`  // default 10
}

type ReaperConfig struct {
	// Enabled is a pointer so "omitted" defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
	// Schedule is a cron spec or "@every ..." expression. Default "@every 10m".
	Schedule string `json:"schedule,omitempty"`
	// IdleAfter is how long per-conversation state may sit untouched. Default "1h".
	IdleAfter string `json:"idle_after,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./palbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate checks structural invariants that would make the process unusable.
// Duration strings are parsed here so a bad reload is rejected before commit.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if len(cfg.Agents) == 0 {
		return errors.New("agents: at least one agent is required")
	}
	seen := map[string]bool{}
	for i, a := range cfg.Agents {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, name)
		}
		seen[strings.ToLower(name)] = true
		if strings.TrimSpace(a.Token) == "" {
			return fmt.Errorf("agents[%d] (%s): token is required", i, name)
		}
		if a.NameTriggerChance < 0 || a.NameTriggerChance > 1 {
			return fmt.Errorf("agents[%d] (%s): name_trigger_chance must be in [0,1]", i, name)
		}
	}

	for _, d := range []struct{ path, raw string }{
		{"provider.timeout", cfg.Provider.Timeout},
		{"flow.batch.timeout", cfg.Flow.Batch.Timeout},
		{"flow.queue.pacing", cfg.Flow.Queue.Pacing},
		{"flow.queue.duplicate_window", cfg.Flow.Queue.DuplicateWindow},
		{"flow.coordinator.stagger_step", cfg.Flow.Coordinator.StaggerStep},
		{"flow.coordinator.stagger_max", cfg.Flow.Coordinator.StaggerMax},
		{"flow.coordinator.stale_after", cfg.Flow.Coordinator.StaleAfter},
		{"flow.coordinator.cleanup_every", cfg.Flow.Coordinator.CleanupEvery},
		{"flow.guard.rate_window", cfg.Flow.Guard.RateWindow},
		{"flow.guard.agent_reply_cooldown", cfg.Flow.Guard.AgentReplyCooldown},
		{"flow.reaper.idle_after", cfg.Flow.Reaper.IdleAfter},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	f := cfg.Flow.Guard.Falloff
	if f.BaseChance < 0 || f.BaseChance > 1 {
		return errors.New("flow.guard.falloff.base_chance must be in [0,1]")
	}
	if f.DecayRate < 0 || f.DecayRate > 1 {
		return errors.New("flow.guard.falloff.decay_rate must be in [0,1]")
	}
	if f.MinChance < 0 || f.MinChance > 1 {
		return errors.New("flow.guard.falloff.min_chance must be in [0,1]")
	}
	if f.HardLimit < 0 {
		return errors.New("flow.guard.falloff.hard_limit must be >= 0")
	}
	if cfg.Flow.Coordinator.Limit < 0 {
		return errors.New("flow.coordinator.limit must be >= 0")
	}
	return nil
}
