// Package batch coalesces rapid consecutive messages from one sender in one
// conversation into a single combined request. Each new message cancels and
// restarts the debounce timer, so the batch flushes only after the sender
// goes quiet for the full window.
package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"palbot/internal/eventbus"
	"palbot/internal/flow/queue"
	"palbot/internal/gateway"
	logx "palbot/pkg/logx"
)

// Config controls the debounce window.
type Config struct {
	// Timeout is the quiet period before a batch flushes. Default 15s.
	Timeout time.Duration
}

const defaultTimeout = 15 * time.Second

// FlushFunc receives the combined request when a batch fires.
type FlushFunc func(ctx context.Context, req queue.Request)

// FlushedInfo is the bus payload for batch.flushed events.
type FlushedInfo struct {
	Conversation string `json:"conversation"`
	Sender       string `json:"sender"`
	Messages     int    `json:"messages"`
}

type batchKey struct {
	conv   string
	sender string
}

type openBatch struct {
	contents []string
	atts     []gateway.Attachment
	origin   gateway.Event

	// gen guards the cancel-vs-fire race: a timer that already fired but
	// lost the lock to a newer Submit sees a different generation and
	// drops its flush.
	gen   uint64
	timer *time.Timer

	lastTouch time.Time
}

// Batcher owns one debounce timer per (conversation, sender) key.
type Batcher struct {
	log      logx.Logger
	bus      eventbus.Bus
	flush    FlushFunc
	composer gateway.Sender // typing indicator only; may be nil

	// timeout is read at submit time so dashboard overrides apply to the
	// next batch without a restart.
	timeout func() time.Duration

	mu      sync.Mutex
	batches map[batchKey]*openBatch

	// base context handed to flush callbacks fired from timers.
	ctx context.Context

	now func() time.Time
}

func New(cfg Config, flush FlushFunc, composer gateway.Sender, bus eventbus.Bus, log logx.Logger) *Batcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Batcher{
		log:      log,
		bus:      bus,
		flush:    flush,
		composer: composer,
		timeout:  func() time.Duration { return timeout },
		batches:  map[batchKey]*openBatch{},
		ctx:      context.Background(),
		now:      time.Now,
	}
}

// SetContext installs the lifecycle context used for flush callbacks.
func (b *Batcher) SetContext(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

// SetTimeoutFunc replaces the static window with a live source
// (e.g. the runtime settings service).
func (b *Batcher) SetTimeoutFunc(fn func() time.Duration) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.timeout = fn
	b.mu.Unlock()
}

// Submit folds an event into the sender's open batch, creating one if
// needed, and (re)arms the debounce timer.
func (b *Batcher) Submit(ev gateway.Event) {
	key := batchKey{conv: ev.Conversation, sender: ev.Sender}

	b.mu.Lock()
	ob := b.batches[key]
	fresh := ob == nil
	if fresh {
		ob = &openBatch{}
		b.batches[key] = ob
	}
	if text := strings.TrimSpace(ev.Text); text != "" {
		ob.contents = append(ob.contents, text)
	}
	ob.atts = append(ob.atts, ev.Attachments...)
	ob.origin = ev
	ob.lastTouch = b.now()

	// Cancel-and-restart: the old timer may already be firing; bumping the
	// generation makes its flush a no-op.
	if ob.timer != nil {
		ob.timer.Stop()
	}
	ob.gen++
	gen := ob.gen
	window := b.timeout()
	if window <= 0 {
		window = defaultTimeout
	}
	ob.timer = time.AfterFunc(window, func() { b.fire(key, gen) })
	b.mu.Unlock()

	// Let the conversation know a response is coming together.
	if fresh && b.composer != nil {
		go func() { _ = b.composer.Composing(context.Background(), ev.Conversation) }()
	}
}

// fire flushes the batch if gen is still current.
func (b *Batcher) fire(key batchKey, gen uint64) {
	b.mu.Lock()
	ob := b.batches[key]
	if ob == nil || ob.gen != gen {
		b.mu.Unlock()
		return
	}
	delete(b.batches, key)
	ctx := b.ctx
	b.mu.Unlock()

	req := queue.Request{
		ID:            uuid.NewString(),
		Conversation:  key.conv,
		Sender:        key.sender,
		SenderName:    ob.origin.SenderName,
		Content:       strings.Join(ob.contents, "\n"),
		Attachments:   ob.atts,
		Origin:        ob.origin,
		SourceIsAgent: ob.origin.SenderIsAgent,
	}

	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFlushed, Data: FlushedInfo{
			Conversation: key.conv, Sender: key.sender, Messages: len(ob.contents),
		}})
	}
	b.log.Debug("batch flushed",
		logx.String("conversation", key.conv),
		logx.String("sender", key.sender),
		logx.Int("messages", len(ob.contents)),
	)

	if b.flush != nil {
		b.flush(ctx, req)
	}
}

// Teardown cancels timers and discards open batches for a conversation.
// Nothing is forwarded downstream.
func (b *Batcher) Teardown(conv string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, ob := range b.batches {
		if key.conv != conv {
			continue
		}
		if ob.timer != nil {
			ob.timer.Stop()
		}
		ob.gen++ // invalidate an in-flight fire
		delete(b.batches, key)
	}
}

// ReapIdle discards batches untouched since olderThan. Open batches are
// normally short-lived; this catches timers lost to process hiccups.
func (b *Batcher) ReapIdle(olderThan time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for key, ob := range b.batches {
		if ob.lastTouch.Before(olderThan) {
			if ob.timer != nil {
				ob.timer.Stop()
			}
			ob.gen++
			delete(b.batches, key)
			n++
		}
	}
	return n
}
