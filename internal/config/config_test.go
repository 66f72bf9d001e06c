package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const jsonConfig = `{
  "logging": {"level": "DEBUG", "console": true},
  "agents": [
    {"name": "ana", "token": "tok-a", "nicknames": ["annie"], "name_trigger_chance": 0.5},
    {"name": "bob", "token": "tok-b"}
  ],
  "provider": {"name": "echo", "timeout": "30s"},
  "flow": {
    "batch": {"timeout": "15s"},
    "queue": {"pacing": "500ms", "duplicate_window": "3s", "per_sender_max": 2},
    "coordinator": {"limit": 4, "stagger_step": "1.5s", "stagger_max": "5s"},
    "guard": {
      "rate_max": 5,
      "rate_window": "60s",
      "falloff": {"base_chance": 0.8, "decay_rate": 0.15, "min_chance": 0.05, "hard_limit": 10}
    },
    "reaper": {"schedule": "@every 10m", "idle_after": "1h"}
  },
  "storage": {"driver": "file", "path": "./store"}
}`

const yamlConfig = `
logging:
  level: DEBUG
  console: true
agents:
  - name: ana
    token: tok-a
    nicknames: [annie]
    name_trigger_chance: 0.5
  - name: bob
    token: tok-b
provider:
  name: echo
  timeout: 30s
flow:
  batch:
    timeout: 15s
  queue:
    pacing: 500ms
    duplicate_window: 3s
    per_sender_max: 2
  coordinator:
    limit: 4
    stagger_step: 1.5s
    stagger_max: 5s
  guard:
    rate_max: 5
    rate_window: 60s
    falloff:
      base_chance: 0.8
      decay_rate: 0.15
      min_chance: 0.05
      hard_limit: 10
  reaper:
    schedule: "@every 10m"
    idle_after: 1h
storage:
  driver: file
  path: ./store
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSONAndYAMLEquivalent(t *testing.T) {
	t.Parallel()
	jc, err := NewManager(writeTemp(t, "config.json", jsonConfig)).Parse()
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	yc, err := NewManager(writeTemp(t, "config.yaml", yamlConfig)).Parse()
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if !reflect.DeepEqual(jc, yc) {
		t.Fatalf("json and yaml configs differ:\njson: %+v\nyaml: %+v", jc, yc)
	}
	if len(jc.Agents) != 2 || jc.Agents[0].NameTriggerChance != 0.5 {
		t.Fatalf("unexpected agents: %+v", jc.Agents)
	}
	if err := Validate(jc); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	raw := `{"agents": [{"name": "ana", "token": "t"}], "mystery_knob": true}`
	if _, err := NewManager(writeTemp(t, "config.json", raw)).Parse(); err == nil {
		t.Fatal("expected unknown-field rejection")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	raw := `{"agents": [{"name": "ana", "token": "t"}]} {"extra": 1}`
	if _, err := NewManager(writeTemp(t, "config.json", raw)).Parse(); err == nil {
		t.Fatal("expected trailing-data rejection")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Agents: []AgentConfig{{Name: "ana", Token: "t"}}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "no agents", mutate: func(c *Config) { c.Agents = nil }, want: "at least one agent"},
		{name: "missing token", mutate: func(c *Config) { c.Agents[0].Token = " " }, want: "token is required"},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Agents = append(c.Agents, AgentConfig{Name: "ANA", Token: "t2"})
			},
			want: "duplicate agent name",
		},
		{
			name:   "chance out of range",
			mutate: func(c *Config) { c.Agents[0].NameTriggerChance = 1.5 },
			want:   "name_trigger_chance",
		},
		{
			name:   "bad duration",
			mutate: func(c *Config) { c.Flow.Batch.Timeout = "fifteen" },
			want:   "flow.batch.timeout",
		},
		{
			name:   "negative duration",
			mutate: func(c *Config) { c.Flow.Guard.RateWindow = "-5s" },
			want:   "flow.guard.rate_window",
		},
		{
			name:   "falloff out of range",
			mutate: func(c *Config) { c.Flow.Guard.Falloff.BaseChance = 2 },
			want:   "base_chance",
		},
		{
			name:   "negative limit",
			mutate: func(c *Config) { c.Flow.Coordinator.Limit = -1 },
			want:   "flow.coordinator.limit",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	t.Parallel()
	cfg := &Config{Agents: []AgentConfig{{Name: "ana", Token: "t"}}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "INFO"},
		Agents:  []AgentConfig{{Name: "ana", Token: "secret-old"}},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "DEBUG"},
		Agents:  []AgentConfig{{Name: "ana", Token: "secret-new"}},
		Flow:    FlowConfig{Queue: QueueConfig{PerSenderMax: 5}},
	}

	sections, _ := SummarizeChange(oldCfg, newCfg)
	joined := strings.Join(sections, ",")
	for _, want := range []string{"logging", "agents", "flow.queue"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("sections %v missing %q", sections, want)
		}
	}

	sections, _ = SummarizeChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("identical configs produced sections %v", sections)
	}
}
