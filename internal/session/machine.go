package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/breeze-rmm/gatewatch/internal/audit"
	"github.com/breeze-rmm/gatewatch/internal/logging"
	"github.com/breeze-rmm/gatewatch/internal/report"
)

// Messenger is the slice of the chat transport the machine needs.
type Messenger interface {
	SendDirectMessage(ctx context.Context, userID, text string) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AddReaction(ctx context.Context, ref MessageRef, emoji string) error
}

// Verifier checks a one-time code.
type Verifier interface {
	Verify(candidate string) bool
}

// StatusReporter renders the reply to a status request. It must probe the
// target fresh on every call.
type StatusReporter interface {
	StatusReport(ctx context.Context) string
}

// Action is what Decide chose to do with an event.
type Action int

const (
	ActionIgnore Action = iota
	ActionPrompt
	ActionVerify
	ActionStatus
	ActionLogout
)

func (a Action) String() string {
	switch a {
	case ActionPrompt:
		return "prompt"
	case ActionVerify:
		return "verify"
	case ActionStatus:
		return "status"
	case ActionLogout:
		return "logout"
	}
	return "ignore"
}

// Decide maps the current session and an event to an action. It performs
// no I/O.
func Decide(s Session, ev Event, adminCommand string) Action {
	switch ev.Kind {
	case EventDirectMessage:
		switch s.State {
		case Idle:
			if strings.TrimSpace(ev.Text) == adminCommand {
				return ActionPrompt
			}
		case AwaitingCode:
			// Anything typed here is a code attempt, the admin command included.
			return ActionVerify
		}
	case EventReaction:
		if !s.OwnsMenu(ev.MessageID) {
			return ActionIgnore
		}
		switch ev.Emoji {
		case report.StatusEmoji:
			return ActionStatus
		case report.LogoutEmoji:
			return ActionLogout
		}
	}
	return ActionIgnore
}

// Machine applies Decide and performs the side effects. Handle must be
// called with one user's events in order; different users may be handled
// concurrently.
type Machine struct {
	store     *Store
	messenger Messenger
	verifier  Verifier
	reporter  StatusReporter
	audit     *audit.Logger

	adminCommand string
	greeting     string
	errorTTL     time.Duration
	afterFunc    func(d time.Duration, f func())
}

// Option configures a Machine.
type Option func(*Machine)

func WithAdminCommand(cmd string) Option {
	return func(m *Machine) { m.adminCommand = strings.TrimSpace(cmd) }
}

func WithGreeting(greeting string) Option {
	return func(m *Machine) { m.greeting = greeting }
}

// WithErrorTTL sets how long the invalid-code reply stays visible.
func WithErrorTTL(d time.Duration) Option {
	return func(m *Machine) { m.errorTTL = d }
}

// WithAfterFunc replaces time.AfterFunc for scheduling delayed deletions.
func WithAfterFunc(fn func(d time.Duration, f func())) Option {
	return func(m *Machine) { m.afterFunc = fn }
}

func WithAudit(l *audit.Logger) Option {
	return func(m *Machine) { m.audit = l }
}

func NewMachine(store *Store, messenger Messenger, verifier Verifier, reporter StatusReporter, opts ...Option) *Machine {
	m := &Machine{
		store:        store,
		messenger:    messenger,
		verifier:     verifier,
		reporter:     reporter,
		adminCommand: "/admin",
		greeting:     "Welcome back.",
		errorTTL:     5 * time.Second,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AdminCommand returns the text that starts a login.
func (m *Machine) AdminCommand() string { return m.adminCommand }

// Handle processes one event for ev.UserID.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	logger := logging.FromContext(ctx)
	action := Decide(m.store.Get(ev.UserID), ev, m.adminCommand)
	if action == ActionIgnore {
		logger.Debug("event ignored")
		return
	}
	logger.Debug("handling event", "action", action.String())

	switch action {
	case ActionPrompt:
		m.prompt(ctx, logger, ev)
	case ActionVerify:
		m.verify(ctx, logger, ev)
	case ActionStatus:
		m.status(ctx, logger, ev)
	case ActionLogout:
		m.logout(ctx, logger, ev)
	}
}

func (m *Machine) prompt(ctx context.Context, logger *slog.Logger, ev Event) {
	ref, err := m.messenger.SendDirectMessage(ctx, ev.UserID, report.Prompt)
	if err != nil {
		logger.Warn("failed to send code prompt", logging.KeyError, err)
		return
	}

	_, saved := m.store.Update(ev.UserID, func(s *Session) bool {
		if s.State != Idle {
			return false
		}
		s.State = AwaitingCode
		s.PendingPromptRef = &ref
		return true
	})
	if !saved {
		m.deleteQuiet(ctx, logger, ref)
		return
	}
	m.audit.Log(audit.EventLoginPrompted, ev.UserID, nil)
}

func (m *Machine) verify(ctx context.Context, logger *slog.Logger, ev Event) {
	// Claim the prompt first so a second code message can never be checked
	// against the same prompt.
	var prompt *MessageRef
	_, claimed := m.store.Update(ev.UserID, func(s *Session) bool {
		if s.State != AwaitingCode {
			return false
		}
		prompt = s.PendingPromptRef
		s.State = Idle
		s.PendingPromptRef = nil
		return true
	})
	if !claimed {
		return
	}

	if prompt != nil {
		m.deleteQuiet(ctx, logger, *prompt)
	}
	m.deleteQuiet(ctx, logger, MessageRef{ChannelID: ev.ChannelID, MessageID: ev.MessageID})

	if !m.verifier.Verify(ev.Text) {
		logger.Info("invalid code")
		m.audit.Log(audit.EventLoginFailed, ev.UserID, nil)
		ref, err := m.messenger.SendDirectMessage(ctx, ev.UserID, report.WrongCode)
		if err != nil {
			logger.Warn("failed to send invalid code reply", logging.KeyError, err)
			return
		}
		m.scheduleDelete(ctx, logger, ref)
		return
	}

	menu, err := m.messenger.SendDirectMessage(ctx, ev.UserID, report.Menu(m.greeting))
	if err != nil {
		logger.Warn("failed to send admin menu, staying logged out", logging.KeyError, err)
		return
	}
	_, saved := m.store.Update(ev.UserID, func(s *Session) bool {
		if s.State != Idle {
			return false
		}
		s.State = Authenticated
		s.ActiveMenuRef = &menu
		return true
	})
	if !saved {
		m.deleteQuiet(ctx, logger, menu)
		return
	}
	logger.Info("admin authenticated")
	m.audit.Log(audit.EventLoginSucceeded, ev.UserID, nil)

	for _, emoji := range []string{report.StatusEmoji, report.LogoutEmoji} {
		if err := m.messenger.AddReaction(ctx, menu, emoji); err != nil {
			logger.Warn("failed to add menu reaction", "emoji", emoji, logging.KeyError, err)
		}
	}
}

func (m *Machine) status(ctx context.Context, logger *slog.Logger, ev Event) {
	text := m.reporter.StatusReport(ctx)
	if _, err := m.messenger.SendDirectMessage(ctx, ev.UserID, text); err != nil {
		logger.Warn("failed to send status", logging.KeyError, err)
		return
	}
	m.audit.Log(audit.EventStatusQueried, ev.UserID, nil)
}

func (m *Machine) logout(ctx context.Context, logger *slog.Logger, ev Event) {
	var menu *MessageRef
	_, saved := m.store.Update(ev.UserID, func(s *Session) bool {
		// A reaction on an older menu is a no-op.
		if !s.OwnsMenu(ev.MessageID) {
			return false
		}
		menu = s.ActiveMenuRef
		s.State = Idle
		s.ActiveMenuRef = nil
		return true
	})
	if !saved {
		return
	}
	logger.Info("admin logged out")
	m.audit.Log(audit.EventLogout, ev.UserID, nil)

	m.deleteQuiet(ctx, logger, *menu)
	if _, err := m.messenger.SendDirectMessage(ctx, ev.UserID, report.LoggedOut); err != nil {
		logger.Warn("failed to send logout confirmation", logging.KeyError, err)
	}
}

// scheduleDelete removes ref after the error TTL without blocking the
// caller. The deletion outlives ctx's cancellation.
func (m *Machine) scheduleDelete(ctx context.Context, logger *slog.Logger, ref MessageRef) {
	dctx := context.WithoutCancel(ctx)
	m.afterFunc(m.errorTTL, func() {
		m.deleteQuiet(dctx, logger, ref)
	})
}

func (m *Machine) deleteQuiet(ctx context.Context, logger *slog.Logger, ref MessageRef) {
	if err := m.messenger.DeleteMessage(ctx, ref); err != nil {
		logger.Debug("delete message failed", "messageId", ref.MessageID, logging.KeyError, err)
	}
}
