// Package discord adapts a discordgo gateway session to the bot's
// transport-neutral interfaces.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/breeze-rmm/gatewatch/internal/health"
	"github.com/breeze-rmm/gatewatch/internal/logging"
	"github.com/breeze-rmm/gatewatch/internal/router"
	"github.com/breeze-rmm/gatewatch/internal/secmem"
	"github.com/breeze-rmm/gatewatch/internal/session"
)

var log = logging.L("discord")

// Intents are the gateway events the bot subscribes to.
const Intents = discordgo.IntentsDirectMessages | discordgo.IntentsDirectMessageReactions | discordgo.IntentsGuilds

// EventHandler receives inbound events after conversion.
type EventHandler interface {
	OnReady(selfID string)
	OnDirectMessage(m router.DirectMessage)
	OnReactionAdded(r router.Reaction)
}

// restAPI is the subset of *discordgo.Session used for outbound calls.
type restAPI interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Transport owns the gateway connection and the DM channel cache.
type Transport struct {
	session *discordgo.Session
	api     restAPI
	health  *health.Registry
	handler EventHandler

	mu       sync.Mutex
	channels map[string]string // user ID -> DM channel ID
}

// New prepares a gateway session for token. registry may be nil. Nothing
// connects until Open.
func New(token *secmem.Secret, registry *health.Registry) (*Transport, error) {
	s, err := discordgo.New("Bot " + token.Reveal())
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.LogLevel = discordgo.LogWarning
	discordgo.Logger = gatewayLogger

	t := newTransport(s, registry)
	t.session = s
	s.AddHandler(t.onReady)
	s.AddHandler(t.onMessageCreate)
	s.AddHandler(t.onReactionAdd)
	s.AddHandler(t.onDisconnect)
	s.AddHandler(t.onResumed)
	return t, nil
}

func newTransport(api restAPI, registry *health.Registry) *Transport {
	return &Transport{
		api:      api,
		health:   registry,
		channels: make(map[string]string),
	}
}

// Bind sets the receiver of inbound events. Call before Open.
func (t *Transport) Bind(h EventHandler) {
	t.handler = h
}

// Open connects to the gateway.
func (t *Transport) Open() error {
	t.setHealth(health.Degraded, "connecting")
	if err := t.session.Open(); err != nil {
		t.setHealth(health.Unhealthy, err.Error())
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (t *Transport) Close() error {
	if t.session == nil {
		return nil
	}
	if err := t.session.Close(); err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	return nil
}

// SendDirectMessage sends text to the user's DM channel, opening it first
// if needed.
func (t *Transport) SendDirectMessage(ctx context.Context, userID, text string) (session.MessageRef, error) {
	channelID, err := t.dmChannel(ctx, userID)
	if err != nil {
		return session.MessageRef{}, err
	}
	// Not retried: a 5xx can arrive after the message was created.
	msg, err := t.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return session.MessageRef{}, fmt.Errorf("send message to %s: %w", userID, err)
	}
	return session.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// Notify implements monitor.Notifier.
func (t *Transport) Notify(ctx context.Context, userID, text string) error {
	_, err := t.SendDirectMessage(ctx, userID, text)
	return err
}

func (t *Transport) DeleteMessage(ctx context.Context, ref session.MessageRef) error {
	if err := t.api.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s: %w", ref.MessageID, err)
	}
	return nil
}

func (t *Transport) AddReaction(ctx context.Context, ref session.MessageRef, emoji string) error {
	if err := t.api.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add reaction %s: %w", emoji, err)
	}
	return nil
}

// FetchUser resolves userID and returns its display name.
func (t *Transport) FetchUser(ctx context.Context, userID string) (string, error) {
	u, err := t.api.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return u.Username, nil
}

func (t *Transport) dmChannel(ctx context.Context, userID string) (string, error) {
	t.mu.Lock()
	id, ok := t.channels[userID]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := t.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open DM channel with %s: %w", userID, err)
	}
	t.mu.Lock()
	t.channels[userID] = ch.ID
	t.mu.Unlock()
	return ch.ID, nil
}

func (t *Transport) setHealth(status health.Status, message string) {
	if t.health != nil {
		t.health.Update(health.ComponentGateway, status, message)
	}
}
