package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"palbot/internal/eventbus"
	"palbot/internal/runtime/supervisor"
	logx "palbot/pkg/logx"
)

// Service is the channel request queue: strictly FIFO per conversation,
// with admission rules applied at enqueue time and exactly one drain
// worker per active conversation.
type Service struct {
	log  logx.Logger
	bus  eventbus.Bus
	sup  *supervisor.Supervisor
	proc Processor

	mu     sync.Mutex
	cfg    Config
	queues map[string]*convQueue

	now func() time.Time
}

// EnqueuedInfo / DroppedInfo are the bus payloads for queue events.
type EnqueuedInfo struct {
	Conversation string `json:"conversation"`
	Sender       string `json:"sender"`
	RequestID    string `json:"request_id"`
	Pending      int    `json:"pending"`
}

type DroppedInfo struct {
	Conversation string `json:"conversation"`
	Sender       string `json:"sender"`
	Reason       string `json:"reason"`
}

func New(cfg Config, proc Processor, sup *supervisor.Supervisor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		bus:    bus,
		sup:    sup,
		proc:   proc,
		cfg:    cfg.withDefaults(),
		queues: map[string]*convQueue{},
		now:    time.Now,
	}
}

// Apply swaps admission/pacing knobs at runtime (config reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Enqueue admits a request into its conversation's FIFO or rejects it with
// ErrDuplicate / ErrBacklog. Admission starts a drain worker if the
// conversation doesn't have one.
func (s *Service) Enqueue(req Request) error {
	conv := req.Conversation
	normalized := strings.TrimSpace(req.Content)

	s.mu.Lock()
	q := s.queues[conv]
	if q == nil {
		q = &convQueue{}
		s.queues[conv] = q
	}
	now := s.now()
	q.lastTouch = now

	// Rule 1: identical content from the same sender already waiting in
	// this conversation, enqueued within the window. Only queued requests
	// count; once a copy has been drained, repeating it is legitimate.
	cutoff := now.Add(-s.cfg.DuplicateWindow)
	for _, p := range q.pending {
		if p.Sender == req.Sender && p.EnqueuedAt.After(cutoff) &&
			strings.TrimSpace(p.Content) == normalized {
			s.mu.Unlock()
			s.publishDrop(conv, req.Sender, "duplicate")
			return ErrDuplicate
		}
	}

	// Rule 2: per-sender backlog cap.
	pendingForSender := 0
	for _, p := range q.pending {
		if p.Sender == req.Sender {
			pendingForSender++
		}
	}
	if pendingForSender >= s.cfg.PerSenderMax {
		s.mu.Unlock()
		s.publishDrop(conv, req.Sender, "backlog")
		return ErrBacklog
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = now
	}
	q.pending = append(q.pending, req)

	spawn := !q.draining
	if spawn {
		q.draining = true
	}
	pending := len(q.pending)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRequestEnqueued, Data: EnqueuedInfo{
			Conversation: conv, Sender: req.Sender, RequestID: req.ID, Pending: pending,
		}})
	}

	if spawn {
		s.sup.Go0("queue.drain."+conv, func(ctx context.Context) { s.drain(ctx, conv, q) })
	}
	return nil
}

// drain processes the conversation FIFO until it is empty.
//
// The exit decision is made while holding the lock, in the same critical
// section that clears the draining flag. A request enqueued during the final
// callback is therefore seen on the next loop iteration instead of being
// stranded with no worker.
//
// The worker owns exactly the convQueue it was spawned for; if the map entry
// no longer points at it, another worker owns the conversation and this one
// exits without touching anything.
func (s *Service) drain(ctx context.Context, conv string, q *convQueue) {
	for {
		s.mu.Lock()
		if s.queues[conv] != q {
			s.mu.Unlock()
			return
		}
		if len(q.pending) == 0 || ctx.Err() != nil {
			q.draining = false
			s.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending = q.pending[1:]
		q.lastTouch = s.now()
		pacing := s.cfg.Pacing
		s.mu.Unlock()

		if err := s.proc(ctx, req); err != nil {
			s.log.Warn("request processing failed",
				logx.String("conversation", conv),
				logx.String("request_id", req.ID),
				logx.Err(err),
			)
		}

		if pacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pacing):
			}
		}
	}
}

// Teardown discards the conversation's pending requests. If a drain worker
// is mid-callback the entry stays in place so the worker keeps ownership; a
// re-Enqueue then feeds the existing worker instead of spawning a second one
// beside the in-flight callback.
func (s *Service) Teardown(conv string) {
	s.mu.Lock()
	if q := s.queues[conv]; q != nil {
		q.pending = nil
		if !q.draining {
			delete(s.queues, conv)
		}
	}
	s.mu.Unlock()
}

// PendingLen reports the number of pending requests for a conversation.
func (s *Service) PendingLen(conv string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[conv]
	if q == nil {
		return 0
	}
	return len(q.pending)
}

// ReapIdle drops empty, idle conversation queues.
func (s *Service) ReapIdle(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for conv, q := range s.queues {
		if q.draining || len(q.pending) > 0 {
			continue
		}
		if q.lastTouch.Before(olderThan) {
			delete(s.queues, conv)
			n++
		}
	}
	return n
}

func (s *Service) publishDrop(conv, sender, reason string) {
	s.log.Debug("request rejected",
		logx.String("conversation", conv),
		logx.String("sender", sender),
		logx.String("reason", reason),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRequestDropped, Data: DroppedInfo{
			Conversation: conv, Sender: sender, Reason: reason,
		}})
	}
}
