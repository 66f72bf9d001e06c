package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"palbot/internal/eventbus"
	"palbot/internal/flow/queue"
	"palbot/internal/provider"
	"palbot/internal/storage"
	logx "palbot/pkg/logx"
)

// process is the queue drain callback: everything between "this request is
// next" and "a message was (or was not) sent".
func (a *Agent) process(ctx context.Context, req queue.Request) error {
	conv := req.Conversation

	// Killswitch: checked at processing time so flipping it stops even
	// already-queued work.
	if a.deps.Settings != nil && a.deps.Settings.GlobalPaused(ctx) {
		a.recordOutcome(ctx, conv, "paused")
		return nil
	}

	if a.guard.RateExceeded(conv) {
		a.log.Debug("rate limited", logx.String("conversation", conv))
		a.recordOutcome(ctx, conv, "rate_limited")
		return nil
	}
	if a.guard.BreakerTripped(conv) {
		a.log.Warn("breaker open; suppressing response", logx.String("conversation", conv))
		a.recordOutcome(ctx, conv, "breaker_open")
		return nil
	}

	eventID := req.Origin.MessageID
	slot := a.deps.Coord.Acquire(ctx, a.cfg.Name, eventID)
	defer a.deps.Coord.Release(slot)

	_ = a.deps.Sender.Composing(ctx, conv)

	gctx := ctx
	if a.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, a.cfg.ProviderTimeout)
		defer cancel()
	}
	text, err := a.deps.Gen.Generate(gctx, provider.Request{
		Agent:        a.cfg.Name,
		Persona:      a.cfg.Persona,
		Conversation: conv,
		Prompt:       req.Content,
		SenderName:   req.SenderName,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	switch a.validate(conv, text) {
	case verdictEmpty:
		a.recordOutcome(ctx, conv, "empty")
		return nil
	case verdictDuplicate:
		a.log.Debug("duplicate response suppressed", logx.String("conversation", conv))
		a.recordOutcome(ctx, conv, "duplicate")
		return nil
	case verdictError:
		a.recordOutcome(ctx, conv, "guard_error")
		return nil
	}

	if d := a.deps.Coord.StaggerDelay(a.cfg.Name, eventID); d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	text, reactions := extractReactions(text)
	msgID, err := a.deps.Sender.SendText(ctx, conv, text, eventID)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	for _, emoji := range reactions {
		_ = a.deps.Sender.React(ctx, conv, eventID, emoji)
	}

	a.guard.RecordResponse(conv)
	if req.SourceIsAgent {
		a.guard.RecordAgentReply(conv)
	}

	a.recordOutcome(ctx, conv, "sent")
	if a.deps.Bus != nil {
		a.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeResponseSent, Data: SentInfo{
			Conversation: conv, Agent: a.cfg.Name, MessageID: msgID,
		}})
	}
	return nil
}

type verdict int

const (
	verdictOK verdict = iota
	verdictEmpty
	verdictDuplicate
	verdictError
)

// validate runs the response-side guard checks. Any unexpected failure in
// here must fail toward suppression, never toward sending.
func (a *Agent) validate(conv, text string) (v verdict) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("response validation panicked; suppressing",
				logx.String("conversation", conv),
				logx.Any("panic", r),
			)
			v = verdictError
		}
	}()

	if strings.TrimSpace(text) == "" {
		a.guard.RecordFailure(conv)
		return verdictEmpty
	}
	if a.guard.IsDuplicate(conv, text) {
		a.guard.RecordFailure(conv)
		return verdictDuplicate
	}
	a.guard.RecordSuccess(conv)
	return verdictOK
}

func (a *Agent) recordOutcome(ctx context.Context, conv, result string) {
	if a.deps.Store != nil {
		if err := a.deps.Store.RecordOutcome(ctx, storage.Outcome{
			Conversation: conv,
			Agent:        a.cfg.Name,
			Result:       result,
		}); err != nil {
			a.log.Debug("outcome record failed", logx.Err(err))
		}
	}
	if result != "sent" && a.deps.Bus != nil {
		a.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeResponseSuppressed, Data: SuppressedInfo{
			Conversation: conv, Agent: a.cfg.Name, Reason: result,
		}})
	}
}
