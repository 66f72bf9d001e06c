// Package discord adapts the gateway boundary to Discord via discordgo.
// Each agent persona opens its own session with its own token, so mention
// and reply flags on inbound events are already relative to that persona.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"palbot/internal/gateway"
	logx "palbot/pkg/logx"
)

// Discord caps messages at 2000 characters.
const maxMessageLen = 2000

type Config struct {
	Token     string
	AgentName string
}

// Adapter implements gateway.Sender and dispatches inbound events to a
// gateway.Handler. It also satisfies logx.Mirror for ops-channel logging.
type Adapter struct {
	log     logx.Logger
	session *discordgo.Session

	mu        sync.Mutex
	handler   gateway.Handler
	ctx       context.Context
	botUserID string
	running   bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{
		log:     log.With(logx.String("agent", cfg.AgentName)),
		session: session,
		ctx:     context.Background(),
	}, nil
}

// SetHandler installs the inbound event consumer. Must be called before Start.
func (a *Adapter) SetHandler(h gateway.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Start opens the gateway connection and begins receiving events.
// ctx is retained as the base context for inbound dispatch.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.session.AddHandler(a.handleMessage)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := a.session.User("@me")
	if err != nil {
		_ = a.session.Close()
		return fmt.Errorf("fetch discord identity: %w", err)
	}

	a.mu.Lock()
	a.botUserID = user.ID
	a.running = true
	a.mu.Unlock()

	a.log.Info("discord session connected",
		logx.String("username", user.Username),
		logx.String("user_id", user.ID),
	)
	return nil
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return a.session.Close()
}

// handleMessage translates one inbound Discord message into a gateway.Event.
//
// Messages from other bots are NOT skipped: agent-to-agent traffic is a
// first-class input here, gated downstream by the fall-off guard.
func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	a.mu.Lock()
	handler := a.handler
	ctx := a.ctx
	botUserID := a.botUserID
	a.mu.Unlock()

	if handler == nil || m.Author == nil {
		return
	}
	// Never react to our own messages.
	if m.Author.ID == botUserID {
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == botUserID {
			mentioned = true
			break
		}
	}
	replyToAgent := m.ReferencedMessage != nil &&
		m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == botUserID

	atts := make([]gateway.Attachment, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		atts = append(atts, gateway.Attachment{URL: att.URL, ContentType: att.ContentType})
	}

	ev := gateway.Event{
		Conversation:  m.ChannelID,
		MessageID:     m.ID,
		Sender:        m.Author.ID,
		SenderName:    displayName(m),
		SenderIsAgent: m.Author.Bot,
		// Mention tokens become readable @names for the provider.
		Text:         m.ContentWithMentionsReplaced(),
		Attachments:  atts,
		Mentioned:    mentioned,
		ReplyToAgent: replyToAgent,
		IsDM:         m.GuildID == "",
	}

	handler(ctx, ev)
}

// ---- gateway.Sender ----

func (a *Adapter) Composing(ctx context.Context, conversation string) error {
	_ = ctx
	return a.session.ChannelTyping(conversation)
}

func (a *Adapter) SendText(ctx context.Context, conversation, text, replyTo string) (string, error) {
	_ = ctx
	first := ""
	for i, chunk := range splitChunks(text, maxMessageLen) {
		send := &discordgo.MessageSend{Content: chunk}
		// Only the first chunk threads as a reply.
		if i == 0 && replyTo != "" {
			send.Reference = &discordgo.MessageReference{
				MessageID: replyTo,
				ChannelID: conversation,
			}
		}
		msg, err := a.session.ChannelMessageSendComplex(conversation, send)
		if err != nil {
			return first, fmt.Errorf("send discord message: %w", err)
		}
		if first == "" {
			first = msg.ID
		}
	}
	return first, nil
}

func (a *Adapter) React(ctx context.Context, conversation, messageID, emoji string) error {
	_ = ctx
	return a.session.MessageReactionAdd(conversation, messageID, emoji)
}

// MirrorLog implements logx.Mirror: rendered log lines into the ops channel.
func (a *Adapter) MirrorLog(ctx context.Context, conversationID, text string) error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return nil
	}
	_, err := a.SendText(ctx, conversationID, text, "")
	return err
}

// displayName picks the best available name for a message author.
// Priority: server nickname > global display name > username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// splitChunks breaks text into <=max pieces, preferring newline boundaries.
func splitChunks(text string, max int) []string {
	if text == "" {
		return []string{""}
	}
	var out []string
	for len(text) > 0 {
		if len(text) <= max {
			out = append(out, text)
			break
		}
		cut := max
		if idx := strings.LastIndexByte(text[:max], '\n'); idx > max/2 {
			cut = idx + 1
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return out
}
