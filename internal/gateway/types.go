// Package gateway defines the chat-platform boundary.
//
// The flow core never talks to the platform directly; it sees inbound Events
// and an outbound Sender. Adapters (see the discord subpackage) translate
// both sides for a concrete platform.
package gateway

import "context"

// Event is one inbound message, already resolved for a specific agent
// identity (mention and reply flags are relative to that agent).
type Event struct {
	Conversation string
	MessageID    string

	Sender     string
	SenderName string
	// SenderIsAgent marks automated senders (other bots / other personas).
	SenderIsAgent bool

	Text        string
	Attachments []Attachment

	// Mentioned: the receiving agent was mentioned explicitly.
	Mentioned bool
	// ReplyToAgent: the message replies to one of the receiving agent's messages.
	ReplyToAgent bool
	IsDM         bool
}

type Attachment struct {
	URL         string
	ContentType string
}

// Sender is the outbound half of the boundary.
type Sender interface {
	// Composing shows a typing indicator in the conversation. Best-effort.
	Composing(ctx context.Context, conversation string) error

	// SendText delivers text, optionally threading it as a reply to replyTo
	// (empty means no reply reference). Returns the sent message id.
	SendText(ctx context.Context, conversation, text, replyTo string) (string, error)

	// React adds an emoji reaction to a message. Best-effort.
	React(ctx context.Context, conversation, messageID, emoji string) error
}

// Handler consumes inbound events. Implementations must not block the
// adapter's read loop for long.
type Handler func(ctx context.Context, ev Event)
