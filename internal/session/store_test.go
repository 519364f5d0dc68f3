package session

import (
	"sync"
	"testing"
)

func TestGetUnknownUserIsIdle(t *testing.T) {
	s := NewStore()
	got := s.Get("42")
	if got.State != Idle || got.UserID != "42" {
		t.Fatalf("Get = %+v, want idle session for 42", got)
	}
	if s.Len() != 0 {
		t.Fatal("Get must not create sessions")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Update("1", func(sess *Session) bool {
		sess.State = AwaitingCode
		sess.PendingPromptRef = &MessageRef{ChannelID: "c", MessageID: "m"}
		return true
	})

	got := s.Get("1")
	got.PendingPromptRef.MessageID = "changed"
	got.State = Idle

	again := s.Get("1")
	if again.State != AwaitingCode || again.PendingPromptRef.MessageID != "m" {
		t.Fatalf("stored session was mutated through a copy: %+v", again)
	}
}

func TestUpdateRejectedLeavesSessionUnchanged(t *testing.T) {
	s := NewStore()
	got, saved := s.Update("1", func(sess *Session) bool {
		sess.State = Authenticated
		return false
	})
	if saved {
		t.Fatal("Update reported saved when fn returned false")
	}
	if got.State != Idle || s.Get("1").State != Idle {
		t.Fatalf("rejected update changed state: %+v", got)
	}
}

func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, saved := s.Update("1", func(sess *Session) bool {
				if sess.State != Idle {
					return false
				}
				sess.State = AwaitingCode
				return true
			})
			if saved {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d updates claimed the idle session, want exactly 1", wins)
	}
}
