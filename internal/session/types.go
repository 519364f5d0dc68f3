// Package session implements the per-user admin login state machine.
package session

// State is the position of a user in the login flow.
type State int

const (
	Idle State = iota
	AwaitingCode
	Authenticated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingCode:
		return "awaiting_code"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// MessageRef identifies a message the bot sent. Deleting or reacting to a
// message needs both IDs.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Session is one user's login state.
//
// PendingPromptRef is set iff State is AwaitingCode, and ActiveMenuRef is
// set iff State is Authenticated.
type Session struct {
	UserID           string
	State            State
	PendingPromptRef *MessageRef
	ActiveMenuRef    *MessageRef
}

func (s Session) clone() Session {
	out := s
	if s.PendingPromptRef != nil {
		ref := *s.PendingPromptRef
		out.PendingPromptRef = &ref
	}
	if s.ActiveMenuRef != nil {
		ref := *s.ActiveMenuRef
		out.ActiveMenuRef = &ref
	}
	return out
}

// OwnsMenu reports whether messageID is this session's live admin menu.
func (s Session) OwnsMenu(messageID string) bool {
	return s.State == Authenticated && s.ActiveMenuRef != nil && s.ActiveMenuRef.MessageID == messageID
}

// EventKind distinguishes the inbound events the machine handles.
type EventKind int

const (
	EventDirectMessage EventKind = iota
	EventReaction
)

func (k EventKind) String() string {
	if k == EventReaction {
		return "reaction"
	}
	return "direct_message"
}

// Event is an inbound direct message or reaction, already filtered for bot
// authors and guild channels.
type Event struct {
	Kind      EventKind
	UserID    string
	ChannelID string
	MessageID string
	Text      string // EventDirectMessage
	Emoji     string // EventReaction
}
