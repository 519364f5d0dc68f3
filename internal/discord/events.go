package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/breeze-rmm/gatewatch/internal/health"
	"github.com/breeze-rmm/gatewatch/internal/router"
)

func (t *Transport) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	t.setHealth(health.Healthy, "")
	if r.User == nil {
		log.Warn("ready event without user")
		return
	}
	log.Info("logged in", "user", r.User.Username, "userId", r.User.ID)
	if t.handler != nil {
		t.handler.OnReady(r.User.ID)
	}
}

func (t *Transport) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	dm, ok := directMessage(m)
	if !ok || t.handler == nil {
		return
	}
	t.handler.OnDirectMessage(dm)
}

func (t *Transport) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	rx, ok := reaction(r)
	if !ok || t.handler == nil {
		return
	}
	t.handler.OnReactionAdded(rx)
}

func (t *Transport) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	t.setHealth(health.Unhealthy, "gateway disconnected")
}

func (t *Transport) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	t.setHealth(health.Healthy, "")
}

// directMessage converts a gateway message. ok is false when the event
// carries no author.
func directMessage(m *discordgo.MessageCreate) (router.DirectMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return router.DirectMessage{}, false
	}
	return router.DirectMessage{
		AuthorID:    m.Author.ID,
		AuthorIsBot: m.Author.Bot,
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		Text:        m.Content,
		Private:     m.GuildID == "",
	}, true
}

func reaction(r *discordgo.MessageReactionAdd) (router.Reaction, bool) {
	if r == nil || r.MessageReaction == nil || r.UserID == "" {
		return router.Reaction{}, false
	}
	return router.Reaction{
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
	}, true
}

// gatewayLogger routes discordgo's internal logging through slog.
func gatewayLogger(msgL, _ int, format string, a ...interface{}) {
	level := slog.LevelDebug
	switch msgL {
	case discordgo.LogError:
		level = slog.LevelError
	case discordgo.LogWarning:
		level = slog.LevelWarn
	case discordgo.LogInformational:
		level = slog.LevelInfo
	}
	log.Log(context.Background(), level, fmt.Sprintf(format, a...), "source", "discordgo")
}
