// Package agent runs one chat persona end to end: trigger detection on
// inbound events, debounce batching, queue admission, coordinated
// generation, guard validation, and the staggered send.
package agent

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"palbot/internal/flow/batch"
	"palbot/internal/flow/guard"
	"palbot/internal/flow/queue"
	"palbot/internal/gateway"
	logx "palbot/pkg/logx"
)

type Agent struct {
	cfg Config
	log logx.Logger

	deps  Deps
	guard *guard.Service
	batch *batch.Batcher
	queue *queue.Service

	// injectable for tests
	randFloat func() float64
}

func New(cfg Config, d Deps) *Agent {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("agent", cfg.Name))
	if cfg.NameTriggerChance <= 0 {
		cfg.NameTriggerChance = defaultNameTriggerChance
	}

	a := &Agent{
		cfg:       cfg,
		log:       log,
		deps:      d,
		randFloat: rand.Float64,
	}
	a.guard = guard.New(cfg.Guard, log)
	a.queue = queue.New(cfg.Queue, a.process, d.Sup, d.Bus, log)
	a.batch = batch.New(cfg.Batch, a.enqueue, d.Sender, d.Bus, log)
	if d.Settings != nil {
		a.batch.SetTimeoutFunc(func() time.Duration {
			return d.Settings.BatchTimeout(context.Background())
		})
	}
	return a
}

func (a *Agent) Name() string { return a.cfg.Name }

// Component accessors for reaper wiring and live reconfiguration.
func (a *Agent) Guard() *guard.Service   { return a.guard }
func (a *Agent) Batcher() *batch.Batcher { return a.batch }
func (a *Agent) Queue() *queue.Service   { return a.queue }

// Apply swaps trigger and flow knobs at runtime (config reload).
func (a *Agent) Apply(cfg Config) {
	if cfg.NameTriggerChance <= 0 {
		cfg.NameTriggerChance = defaultNameTriggerChance
	}
	a.cfg.Nicknames = cfg.Nicknames
	a.cfg.NameTriggerChance = cfg.NameTriggerChance
	a.cfg.Persona = cfg.Persona
	a.cfg.ProviderTimeout = cfg.ProviderTimeout
	a.guard.Apply(cfg.Guard)
	a.queue.Apply(cfg.Queue)
}

// SetContext installs the lifecycle context used for timer-fired work.
func (a *Agent) SetContext(ctx context.Context) { a.batch.SetContext(ctx) }

// HandleEvent is the gateway handler: decide whether this persona engages,
// then fold the event into its sender's batch.
func (a *Agent) HandleEvent(ctx context.Context, ev gateway.Event) {
	conv := ev.Conversation

	if ev.SenderIsAgent {
		a.guard.ObserveAgent(conv)
	} else {
		a.guard.ObserveHuman(conv)
	}

	if !a.shouldRespond(ev) {
		return
	}

	// Agent-chain fall-off gates the whole event: a decline here means
	// no batching, no queueing, nothing downstream.
	if ev.SenderIsAgent {
		paused := a.deps.Settings != nil && a.deps.Settings.AgentInteractionsPaused(ctx)
		if !a.guard.AllowAgentReply(conv, paused) {
			a.log.Debug("agent chain declined",
				logx.String("conversation", conv),
				logx.String("sender", ev.Sender),
			)
			a.recordOutcome(ctx, conv, "falloff")
			return
		}
	}

	// Mention-only pokes arrive with no text.
	if strings.TrimSpace(ev.Text) == "" && len(ev.Attachments) == 0 {
		ev.Text = "Hello!"
	}

	a.batch.Submit(ev)
}

// Teardown discards all in-flight state for a conversation
// (channel deleted, agent removed from it).
func (a *Agent) Teardown(conv string) {
	a.batch.Teardown(conv)
	a.queue.Teardown(conv)
}

// enqueue is the batch flush sink: admission into the conversation queue.
func (a *Agent) enqueue(ctx context.Context, req queue.Request) {
	if err := a.queue.Enqueue(req); err != nil {
		// Admission denials are silent by design; they are already logged
		// and published by the queue.
		_ = err
	}
	_ = ctx
}

// shouldRespond implements trigger detection: DMs, mentions, and replies
// always engage; a bare name match engages with configured probability.
func (a *Agent) shouldRespond(ev gateway.Event) bool {
	if ev.IsDM || ev.Mentioned || ev.ReplyToAgent {
		return true
	}
	if !a.nameMatches(ev.Text) {
		return false
	}
	return a.randFloat() < a.cfg.NameTriggerChance
}

func (a *Agent) nameMatches(text string) bool {
	lower := strings.ToLower(text)
	if containsWord(lower, strings.ToLower(a.cfg.Name)) {
		return true
	}
	for _, nick := range a.cfg.Nicknames {
		if containsWord(lower, strings.ToLower(nick)) {
			return true
		}
	}
	return false
}

// containsWord reports whether name appears in text on word boundaries,
// so "ana" does not fire inside "banana".
func containsWord(text, name string) bool {
	if name == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(text[start:], name)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isWordByte(text[i-1])
		afterIdx := i + len(name)
		after := afterIdx >= len(text) || !isWordByte(text[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
