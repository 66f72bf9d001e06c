package config

import (
	"reflect"
	"sort"
	"strings"

	logx "palbot/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes agent tokens),
// used when a reloaded config is applied.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.mirror_enabled", newCfg.Logging.Mirror.Enabled),
		)
	}

	// Agents (never log tokens; token changes only surface as a count)
	if agentsChanged(oldCfg.Agents, newCfg.Agents) {
		changed = append(changed, "agents")
		attrs = append(attrs, logx.Int("agents.count", len(newCfg.Agents)))
	}

	// Provider
	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.name", strings.TrimSpace(newCfg.Provider.Name)),
			logx.String("provider.timeout", strings.TrimSpace(newCfg.Provider.Timeout)),
		)
	}

	// Flow (per-subsection so operators can see what actually moved)
	if oldCfg.Flow.Batch != newCfg.Flow.Batch {
		changed = append(changed, "flow.batch")
		attrs = append(attrs, logx.String("batch.timeout", strings.TrimSpace(newCfg.Flow.Batch.Timeout)))
	}
	if oldCfg.Flow.Queue != newCfg.Flow.Queue {
		changed = append(changed, "flow.queue")
		attrs = append(attrs,
			logx.String("queue.pacing", strings.TrimSpace(newCfg.Flow.Queue.Pacing)),
			logx.Int("queue.per_sender_max", newCfg.Flow.Queue.PerSenderMax),
		)
	}
	if oldCfg.Flow.Coordinator != newCfg.Flow.Coordinator {
		changed = append(changed, "flow.coordinator")
		attrs = append(attrs, logx.Int("coordinator.limit", newCfg.Flow.Coordinator.Limit))
	}
	if oldCfg.Flow.Guard != newCfg.Flow.Guard {
		changed = append(changed, "flow.guard")
		attrs = append(attrs,
			logx.Int("guard.rate_max", newCfg.Flow.Guard.RateMax),
			logx.Int("guard.breaker_threshold", newCfg.Flow.Guard.BreakerThreshold),
			logx.Float64("guard.falloff_base", newCfg.Flow.Guard.Falloff.BaseChance),
		)
	}
	if !reflect.DeepEqual(oldCfg.Flow.Reaper, newCfg.Flow.Reaper) {
		changed = append(changed, "flow.reaper")
		attrs = append(attrs,
			logx.String("reaper.schedule", strings.TrimSpace(newCfg.Flow.Reaper.Schedule)),
			logx.String("reaper.idle_after", strings.TrimSpace(newCfg.Flow.Reaper.IdleAfter)),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func agentsChanged(oldA, newA []AgentConfig) bool {
	if len(oldA) != len(newA) {
		return true
	}
	for i := range oldA {
		if !reflect.DeepEqual(oldA[i], newA[i]) {
			return true
		}
	}
	return false
}
