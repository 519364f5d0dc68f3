// Package router filters inbound chat events and hands the survivors to
// the session machine, one ordered queue per user.
package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/breeze-rmm/gatewatch/internal/logging"
	"github.com/breeze-rmm/gatewatch/internal/session"
	"github.com/breeze-rmm/gatewatch/internal/workerpool"
)

var log = logging.L("router")

// DirectMessage is a transport-neutral inbound message.
type DirectMessage struct {
	AuthorID    string
	AuthorIsBot bool
	ChannelID   string
	MessageID   string
	Text        string
	Private     bool // sent on a DM channel, not a guild channel
}

// Reaction is a transport-neutral reaction-added event.
type Reaction struct {
	UserID    string
	ChannelID string
	MessageID string
	Emoji     string
}

// Dispatcher runs tasks in per-key order.
type Dispatcher interface {
	Submit(key string, task workerpool.Task) bool
}

// SessionReader looks up the current session for a user.
type SessionReader interface {
	Get(userID string) session.Session
}

// Handler processes an accepted event.
type Handler interface {
	Handle(ctx context.Context, ev session.Event)
}

// Router applies the inbound filters. Checks that need no session state run
// on the caller's goroutine. Checks that read the session run inside the
// user's queued task, so they see every earlier event's effect.
type Router struct {
	pool     Dispatcher
	sessions SessionReader
	handler  Handler
	ctx      context.Context

	selfID     atomic.Value // string
	readyOnce  sync.Once
	readyHooks []func(selfID string)

	dropped atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithContext sets the parent context of every handled event.
func WithContext(ctx context.Context) Option {
	return func(r *Router) { r.ctx = ctx }
}

// WithReadyHook registers fn to run once, on the first ready event.
func WithReadyHook(fn func(selfID string)) Option {
	return func(r *Router) { r.readyHooks = append(r.readyHooks, fn) }
}

func New(pool Dispatcher, sessions SessionReader, handler Handler, opts ...Option) *Router {
	r := &Router{
		pool:     pool,
		sessions: sessions,
		handler:  handler,
		ctx:      context.Background(),
	}
	r.selfID.Store("")
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnReady records the bot's own user ID. Ready hooks run on the first call
// only, since the gateway sends ready again after every reconnect.
func (r *Router) OnReady(selfID string) {
	r.selfID.Store(selfID)
	log.Info("gateway ready", "selfId", selfID)
	r.readyOnce.Do(func() {
		for _, fn := range r.readyHooks {
			fn(selfID)
		}
	})
}

// SelfID returns the bot's user ID, or "" before the first ready event.
func (r *Router) SelfID() string {
	return r.selfID.Load().(string)
}

// Dropped returns how many events were rejected because a queue was full
// or the pool was stopping.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Router) OnDirectMessage(m DirectMessage) {
	if m.AuthorIsBot || r.isSelf(m.AuthorID) {
		return
	}
	if !m.Private {
		return
	}
	r.dispatch(session.Event{
		Kind:      session.EventDirectMessage,
		UserID:    m.AuthorID,
		ChannelID: m.ChannelID,
		MessageID: m.MessageID,
		Text:      m.Text,
	})
}

func (r *Router) OnReactionAdded(rx Reaction) {
	if r.isSelf(rx.UserID) {
		return
	}
	r.dispatch(session.Event{
		Kind:      session.EventReaction,
		UserID:    rx.UserID,
		ChannelID: rx.ChannelID,
		MessageID: rx.MessageID,
		Emoji:     rx.Emoji,
	})
}

func (r *Router) isSelf(userID string) bool {
	self := r.SelfID()
	return self != "" && userID == self
}

func (r *Router) dispatch(ev session.Event) {
	logger := logging.WithEvent(log, uuid.NewString(), ev.Kind.String(), ev.UserID)
	ctx := logging.NewContext(r.ctx, logger)

	ok := r.pool.Submit(ev.UserID, func() {
		if reason := r.reject(ev); reason != "" {
			logger.Debug("event filtered", "reason", reason)
			return
		}
		r.handler.Handle(ctx, ev)
	})
	if !ok {
		r.dropped.Add(1)
		logger.Warn("event dropped, queue full or shutting down")
	}
}

// reject returns why ev must not reach the machine, or "" to accept it.
func (r *Router) reject(ev session.Event) string {
	s := r.sessions.Get(ev.UserID)
	switch ev.Kind {
	case session.EventReaction:
		if !s.OwnsMenu(ev.MessageID) {
			return "reaction not on own menu"
		}
	case session.EventDirectMessage:
		if s.State == session.Authenticated {
			return "text while authenticated"
		}
	}
	return ""
}
