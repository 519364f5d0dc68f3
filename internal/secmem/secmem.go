package secmem

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/gatewatch/internal/logging"
)

var log = logging.L("secmem")

const redacted = "[REDACTED]"

// Secret holds a credential (transport token, TOTP seed) with best-effort
// memory zeroing. Go's GC may copy the backing array, so Zero only wipes
// the copy this value owns.
//
// Every fmt, JSON, text and YAML rendering yields [REDACTED]; Reveal is the
// only way to read the plaintext.
type Secret struct {
	mu         sync.Mutex
	data       []byte
	zeroed     atomic.Bool
	warnedOnce atomic.Bool
}

// New creates a Secret from s.
func New(s string) *Secret {
	b := make([]byte, len(s))
	copy(b, s)
	return &Secret{data: b}
}

// Reveal returns the plaintext. Returns "" for a nil or zeroed Secret.
func (s *Secret) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	wiped := s.data == nil && s.zeroed.Load()
	val := string(s.data)
	s.mu.Unlock()

	if wiped {
		if s.warnedOnce.CompareAndSwap(false, true) {
			log.Warn("secret read after Zero")
		}
		return ""
	}
	return val
}

// Empty reports whether the secret holds no bytes.
func (s *Secret) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) == 0
}

// IsZeroed returns true if Zero() has been called.
func (s *Secret) IsZeroed() bool {
	if s == nil {
		return false
	}
	return s.zeroed.Load()
}

// Zero overwrites the backing bytes and drops them.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
	s.zeroed.Store(true)
}

func (s *Secret) String() string { return redacted }

func (s *Secret) GoString() string { return redacted }

// Format implements fmt.Formatter so every verb prints [REDACTED].
func (s *Secret) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (s *Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// MarshalYAML implements yaml.Marshaler (gopkg.in/yaml.v3).
func (s *Secret) MarshalYAML() (any, error) {
	return redacted, nil
}

// UnmarshalJSON refuses to populate a Secret from serialized input.
func (s *Secret) UnmarshalJSON(data []byte) error {
	return fmt.Errorf("secmem: cannot deserialize into Secret")
}
