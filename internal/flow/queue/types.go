package queue

import (
	"context"
	"time"

	"palbot/internal/gateway"
)

// Config controls per-conversation admission and drain pacing.
// Zero fields fall back to the defaults below.
type Config struct {
	// Pacing is the delay between processed requests in one conversation.
	// Zero means the default; negative disables pacing.
	Pacing time.Duration

	// DuplicateWindow rejects identical content from the same sender while
	// the first copy is still queued and younger than this window.
	DuplicateWindow time.Duration

	// PerSenderMax caps pending requests per sender per conversation.
	PerSenderMax int
}

const (
	defaultPacing          = 500 * time.Millisecond
	defaultDuplicateWindow = 3 * time.Second
	defaultPerSenderMax    = 2
)

func (c Config) withDefaults() Config {
	if c.Pacing < 0 {
		c.Pacing = 0
	} else if c.Pacing == 0 {
		c.Pacing = defaultPacing
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = defaultDuplicateWindow
	}
	if c.PerSenderMax <= 0 {
		c.PerSenderMax = defaultPerSenderMax
	}
	return c
}

// Request is one unit of work owned by the queue: a (possibly batched)
// message waiting to be processed for a conversation.
type Request struct {
	ID           string
	Conversation string
	Sender       string
	SenderName   string

	// Content is the combined payload (batched lines joined with newlines).
	Content     string
	Attachments []gateway.Attachment

	// Origin is the last gateway event folded into this request; it carries
	// the reply target and trigger flags for the processing pipeline.
	Origin gateway.Event

	// SourceIsAgent marks requests triggered by another automated sender.
	SourceIsAgent bool

	EnqueuedAt time.Time
}

// Processor handles one drained request. Errors are logged by the drain
// worker; they do not stop the conversation's FIFO.
type Processor func(ctx context.Context, req Request) error

// convQueue is the per-conversation FIFO plus its drain flag.
type convQueue struct {
	pending  []Request
	draining bool

	lastTouch time.Time
}
