package agent

import (
	"time"

	"palbot/internal/eventbus"
	"palbot/internal/flow/batch"
	"palbot/internal/flow/coordinator"
	"palbot/internal/flow/guard"
	"palbot/internal/flow/queue"
	"palbot/internal/gateway"
	"palbot/internal/provider"
	"palbot/internal/runtime/supervisor"
	"palbot/internal/settings"
	"palbot/internal/storage"
	logx "palbot/pkg/logx"
)

// Config is one persona's identity and trigger behavior.
type Config struct {
	Name    string
	Persona string

	// Nicknames extend name-trigger matching.
	Nicknames []string
	// NameTriggerChance is the probability of engaging on a bare name
	// match (no mention, no reply). Default 0.3.
	NameTriggerChance float64

	// ProviderTimeout bounds one generation call. 0 disables the deadline.
	ProviderTimeout time.Duration

	// Flow knobs for this agent's own batcher/queue/guard.
	Batch batch.Config
	Queue queue.Config
	Guard guard.Config
}

const defaultNameTriggerChance = 0.3

// Deps are the shared collaborators handed in by app wiring.
type Deps struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Sup      *supervisor.Supervisor
	Settings *settings.Service
	Coord    *coordinator.Service
	Gen      provider.Generator
	Sender   gateway.Sender
	Store    storage.Store // may be nil
}

// SentInfo / SuppressedInfo are the bus payloads for response events.
type SentInfo struct {
	Conversation string `json:"conversation"`
	Agent        string `json:"agent"`
	MessageID    string `json:"message_id"`
}

type SuppressedInfo struct {
	Conversation string `json:"conversation"`
	Agent        string `json:"agent"`
	Reason       string `json:"reason"`
}
