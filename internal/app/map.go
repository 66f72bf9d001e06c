package app

import (
	"fmt"
	"strings"
	"time"

	"palbot/internal/agent"
	"palbot/internal/config"
	"palbot/internal/flow/batch"
	"palbot/internal/flow/coordinator"
	"palbot/internal/flow/guard"
	"palbot/internal/flow/queue"
	"palbot/internal/flow/reaper"
	"palbot/internal/settings"
	"palbot/internal/storage"
	logx "palbot/pkg/logx"
)

// Mapping from the JSON/YAML config (duration strings, omitted fields) to
// the typed component configs. Validation already parsed every duration, so
// failures here mean the config bypassed Validate.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Mirror: logx.MirrorConfig{
			Enabled:        cfg.Logging.Mirror.Enabled,
			ConversationID: cfg.Logging.Mirror.ConversationID,
			MinLevel:       cfg.Logging.Mirror.MinLevel,
			RatePerSec:     cfg.Logging.Mirror.RatePerSec,
		},
	}
}

// mapAgentConfig builds one persona's config. Flow knobs are process-wide
// (every agent shares the same batch/queue/guard shape).
func mapAgentConfig(ac config.AgentConfig, cfg *config.Config) (agent.Config, error) {
	providerTimeout, err := config.ParseDurationField("provider.timeout", cfg.Provider.Timeout)
	if err != nil {
		return agent.Config{}, err
	}
	bcfg, err := mapBatchConfig(cfg)
	if err != nil {
		return agent.Config{}, err
	}
	qcfg, err := mapQueueConfig(cfg)
	if err != nil {
		return agent.Config{}, err
	}
	gcfg, err := mapGuardConfig(cfg)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		Name:              ac.Name,
		Persona:           ac.Persona,
		Nicknames:         ac.Nicknames,
		NameTriggerChance: ac.NameTriggerChance,
		ProviderTimeout:   providerTimeout,
		Batch:             bcfg,
		Queue:             qcfg,
		Guard:             gcfg,
	}, nil
}

func mapBatchConfig(cfg *config.Config) (batch.Config, error) {
	timeout, err := config.ParseDurationField("flow.batch.timeout", cfg.Flow.Batch.Timeout)
	if err != nil {
		return batch.Config{}, err
	}
	return batch.Config{Timeout: timeout}, nil
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	q := cfg.Flow.Queue
	pacing, err := config.ParseDurationField("flow.queue.pacing", q.Pacing)
	if err != nil {
		return queue.Config{}, err
	}
	dupWindow, err := config.ParseDurationField("flow.queue.duplicate_window", q.DuplicateWindow)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		Pacing:          pacing,
		DuplicateWindow: dupWindow,
		PerSenderMax:    q.PerSenderMax,
	}, nil
}

func mapGuardConfig(cfg *config.Config) (guard.Config, error) {
	g := cfg.Flow.Guard
	rateWindow, err := config.ParseDurationField("flow.guard.rate_window", g.RateWindow)
	if err != nil {
		return guard.Config{}, err
	}
	cooldown, err := config.ParseDurationField("flow.guard.agent_reply_cooldown", g.AgentReplyCooldown)
	if err != nil {
		return guard.Config{}, err
	}
	return guard.Config{
		RateMax:            g.RateMax,
		RateWindow:         rateWindow,
		BreakerThreshold:   g.BreakerThreshold,
		DuplicateCache:     g.DuplicateCache,
		AgentReplyCooldown: cooldown,
		Falloff: guard.Falloff{
			BaseChance: g.Falloff.BaseChance,
			DecayRate:  g.Falloff.DecayRate,
			MinChance:  g.Falloff.MinChance,
			HardLimit:  g.Falloff.HardLimit,
		},
	}, nil
}

func mapCoordinatorConfig(cfg *config.Config) (coordinator.Config, error) {
	c := cfg.Flow.Coordinator
	step, err := config.ParseDurationField("flow.coordinator.stagger_step", c.StaggerStep)
	if err != nil {
		return coordinator.Config{}, err
	}
	maxd, err := config.ParseDurationField("flow.coordinator.stagger_max", c.StaggerMax)
	if err != nil {
		return coordinator.Config{}, err
	}
	stale, err := config.ParseDurationField("flow.coordinator.stale_after", c.StaleAfter)
	if err != nil {
		return coordinator.Config{}, err
	}
	cleanup, err := config.ParseDurationField("flow.coordinator.cleanup_every", c.CleanupEvery)
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{
		Limit:        c.Limit,
		StaggerStep:  step,
		StaggerMax:   maxd,
		StaleAfter:   stale,
		CleanupEvery: cleanup,
	}, nil
}

// mapReaperConfig returns (config, enabled). Omitted "enabled" means on.
func mapReaperConfig(cfg *config.Config) (reaper.Config, bool, error) {
	r := cfg.Flow.Reaper
	enabled := r.Enabled == nil || *r.Enabled
	idle, err := config.ParseDurationField("flow.reaper.idle_after", r.IdleAfter)
	if err != nil {
		return reaper.Config{}, false, err
	}
	return reaper.Config{
		Schedule:  r.Schedule,
		IdleAfter: idle,
	}, enabled, nil
}

// mapSettingsDefaults resolves the file-config fallbacks the settings
// service hands out when a runtime override key is absent.
func mapSettingsDefaults(cfg *config.Config) (settings.Defaults, error) {
	limit := cfg.Flow.Coordinator.Limit
	if limit <= 0 {
		limit = 4
	}
	batchTimeout, err := config.ParseDurationOrDefault("flow.batch.timeout", cfg.Flow.Batch.Timeout, 15*time.Second)
	if err != nil {
		return settings.Defaults{}, err
	}
	return settings.Defaults{
		ConcurrencyLimit: limit,
		BatchTimeout:     batchTimeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
