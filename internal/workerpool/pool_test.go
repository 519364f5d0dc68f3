package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndDrain(t *testing.T) {
	p := New(2, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		ok := p.Submit(fmt.Sprint(i), func() {
			count.Add(1)
		})
		if !ok {
			t.Fatalf("Submit %d failed", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterShutdownReturnsFalse(t *testing.T) {
	p := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if p.Submit("u", func() {}) {
		t.Fatal("Submit after Shutdown should return false")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	p := New(1, 1)
	blocker := make(chan struct{})
	started := make(chan struct{})
	p.Submit("u", func() { close(started); <-blocker })
	<-started

	p.Submit("u", func() {}) // fills the queue (size 1)

	if p.Submit("u", func() {}) {
		t.Fatal("Submit should return false when queue is full")
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestDrainWithoutStopAcceptingAutoStops(t *testing.T) {
	p := New(1, 10)
	p.Submit("u", func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)

	if p.Submit("u", func() {}) {
		t.Fatal("Submit should return false after auto-stopped Drain")
	}
}

func TestContextCancelledAfterDrain(t *testing.T) {
	p := New(1, 10)
	p.Submit("u", func() {})

	poolCtx := p.Context()
	if poolCtx.Err() != nil {
		t.Fatal("pool context should not be cancelled before Drain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if poolCtx.Err() == nil {
		t.Fatal("pool context should be cancelled after Drain")
	}
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	p := New(1, 10)
	blocker := make(chan struct{})
	p.Submit("u", func() { <-blocker })

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Shutdown(ctx)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("Drain should have timed out in ~100ms, took %v", elapsed)
	}

	close(blocker)
}

func TestSameKeyRunsInOrder(t *testing.T) {
	p := New(4, 200)

	var mu sync.Mutex
	seen := map[string][]int{}
	keys := []string{"alice", "bob", "carol", "dave", "erin"}
	for i := 0; i < 40; i++ {
		for _, k := range keys {
			k, i := k, i
			if !p.Submit(k, func() {
				time.Sleep(time.Duration(i%3) * 100 * time.Microsecond)
				mu.Lock()
				seen[k] = append(seen[k], i)
				mu.Unlock()
			}) {
				t.Fatalf("Submit %s/%d failed", k, i)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	for _, k := range keys {
		got := seen[k]
		if len(got) != 40 {
			t.Fatalf("%s ran %d tasks, want 40", k, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("%s ran out of order: %v", k, got)
			}
		}
	}
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	p := New(8, 100)
	var active, maxActive atomic.Int32

	for i := 0; i < 50; i++ {
		p.Submit("one-user", func() {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(50 * time.Microsecond)
			active.Add(-1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent tasks for one key = %d, want 1", got)
	}
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	p := New(2, 10)

	// find two keys on different shards
	a, b := "a", ""
	for i := 0; i < 100; i++ {
		k := fmt.Sprint("k", i)
		if p.shardFor(k) != p.shardFor(a) {
			b = k
			break
		}
	}
	if b == "" {
		t.Fatal("no key on a second shard")
	}

	release := make(chan struct{})
	p.Submit(a, func() { <-release })

	done := make(chan struct{})
	p.Submit(b, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task on another shard was blocked by a slow key")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestPanicRecovery(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32

	p.Submit("u", func() {
		panic("test panic")
	})
	p.Submit("u", func() {
		count.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 1 {
		t.Fatalf("task after panic: count = %d, want 1", got)
	}
}
