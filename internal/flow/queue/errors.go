package queue

import "errors"

var (
	// ErrDuplicate rejects content identical to a still-queued submission
	// from the same sender (rapid double-send, client retry).
	ErrDuplicate = errors.New("duplicate request")

	// ErrBacklog rejects a sender who already has the maximum number of
	// pending requests in the conversation.
	ErrBacklog = errors.New("sender backlog full")
)
