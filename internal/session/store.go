package session

import "sync"

// Store holds every session, keyed by user ID. Callers only ever see
// copies; all mutation goes through Update.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// Get returns a copy of the user's session. A user never seen before is
// Idle.
func (s *Store) Get(userID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(userID).clone()
}

// Update runs fn on a copy of the user's session under the store lock and
// saves the copy if fn returns true. It returns the resulting session and
// whether it was saved. fn must not block.
func (s *Store) Update(userID string, fn func(*Session) bool) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getLocked(userID).clone()
	if !fn(&sess) {
		return s.getLocked(userID).clone(), false
	}
	sess.UserID = userID
	s.sessions[userID] = sess
	return sess.clone(), true
}

// Len returns the number of users that have a stored session.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getLocked(userID string) Session {
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	return Session{UserID: userID, State: Idle}
}
