package app

import (
	"testing"
	"time"

	"palbot/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	if _, enabled, err := mapStorageConfig(&config.Config{}); err != nil || enabled {
		t.Fatalf("nil storage: enabled=%v err=%v", enabled, err)
	}
	if _, enabled, err := mapStorageConfig(&config.Config{
		Storage: &config.StorageConfig{Driver: "none"},
	}); err != nil || enabled {
		t.Fatalf("driver none: enabled=%v err=%v", enabled, err)
	}

	sc, enabled, err := mapStorageConfig(&config.Config{
		Storage: &config.StorageConfig{Driver: "SQLite3", Path: "./db", BusyTimeout: "2s"},
	})
	if err != nil || !enabled {
		t.Fatalf("sqlite: enabled=%v err=%v", enabled, err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("sqlite config = %+v", sc)
	}

	if _, _, err := mapStorageConfig(&config.Config{
		Storage: &config.StorageConfig{Driver: "sqlite"},
	}); err == nil {
		t.Fatal("sqlite without path should fail")
	}
	if _, _, err := mapStorageConfig(&config.Config{
		Storage: &config.StorageConfig{Driver: "redis", Path: "x"},
	}); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestMapReaperConfigEnabledDefault(t *testing.T) {
	t.Parallel()

	_, enabled, err := mapReaperConfig(&config.Config{})
	if err != nil || !enabled {
		t.Fatalf("omitted enabled: enabled=%v err=%v", enabled, err)
	}

	off := false
	_, enabled, err = mapReaperConfig(&config.Config{
		Flow: config.FlowConfig{Reaper: config.ReaperConfig{Enabled: &off}},
	})
	if err != nil || enabled {
		t.Fatalf("explicit disable: enabled=%v err=%v", enabled, err)
	}
}

func TestMapSettingsDefaults(t *testing.T) {
	t.Parallel()

	d, err := mapSettingsDefaults(&config.Config{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if d.ConcurrencyLimit != 4 || d.BatchTimeout != 15*time.Second {
		t.Fatalf("defaults = %+v", d)
	}

	d, err = mapSettingsDefaults(&config.Config{
		Flow: config.FlowConfig{
			Coordinator: config.CoordinatorConfig{Limit: 8},
			Batch:       config.BatchConfig{Timeout: "5s"},
		},
	})
	if err != nil {
		t.Fatalf("configured: %v", err)
	}
	if d.ConcurrencyLimit != 8 || d.BatchTimeout != 5*time.Second {
		t.Fatalf("configured = %+v", d)
	}
}

func TestMapAgentConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Provider: config.ProviderConfig{Timeout: "30s"},
		Flow: config.FlowConfig{
			Batch: config.BatchConfig{Timeout: "10s"},
			Queue: config.QueueConfig{Pacing: "250ms", PerSenderMax: 3},
			Guard: config.GuardConfig{RateMax: 7},
		},
	}
	ac, err := mapAgentConfig(config.AgentConfig{
		Name: "ana", Token: "t", Nicknames: []string{"annie"}, NameTriggerChance: 0.4,
	}, cfg)
	if err != nil {
		t.Fatalf("mapAgentConfig: %v", err)
	}
	if ac.ProviderTimeout != 30*time.Second {
		t.Fatalf("provider timeout = %v", ac.ProviderTimeout)
	}
	if ac.Batch.Timeout != 10*time.Second || ac.Queue.Pacing != 250*time.Millisecond {
		t.Fatalf("flow knobs = %+v %+v", ac.Batch, ac.Queue)
	}
	if ac.Queue.PerSenderMax != 3 || ac.Guard.RateMax != 7 {
		t.Fatalf("caps = %+v %+v", ac.Queue, ac.Guard)
	}
	if ac.NameTriggerChance != 0.4 || len(ac.Nicknames) != 1 {
		t.Fatalf("identity = %+v", ac)
	}
}
