package conversation

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistryBeginRejectsActive(t *testing.T) {
	r := NewRegistry()
	c, err := r.Begin(7)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if c.State != AwaitingPhone || c.ChatID != 7 {
		t.Fatalf("unexpected conversation %+v", c)
	}
	if _, err := r.Begin(7); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second begin = %v", err)
	}
	got, ok := r.Get(7)
	if !ok || got != c {
		t.Fatal("existing conversation replaced")
	}
	r.End(7)
	r.End(7)
	if _, ok := r.Get(7); ok {
		t.Fatal("conversation not removed")
	}
	if _, err := r.Begin(7); err != nil {
		t.Fatalf("begin after end: %v", err)
	}
}

func TestRegistryLockSerializes(t *testing.T) {
	r := NewRegistry()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock(1)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d", maxSeen)
	}
	if r.lockCount() != 0 {
		t.Fatalf("lock entries leaked: %d", r.lockCount())
	}
}

func TestRegistryLockIndependentChats(t *testing.T) {
	r := NewRegistry()
	unlockA := r.Lock(1)
	done := make(chan struct{})
	go func() {
		unlockB := r.Lock(2)
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("chat 2 blocked by chat 1")
	}
	unlockA()
	unlockA()
	if r.lockCount() != 0 {
		t.Fatalf("lock entries leaked: %d", r.lockCount())
	}
}

func TestRegistryTryLock(t *testing.T) {
	r := NewRegistry()
	unlock := r.Lock(1)
	if _, ok := r.TryLock(1); ok {
		t.Fatal("try lock must fail while the section is held")
	}
	if r.lockCount() != 1 {
		t.Fatalf("failed try lock leaked an entry: %d", r.lockCount())
	}
	unlock()

	unlockTry, ok := r.TryLock(1)
	if !ok {
		t.Fatal("try lock on a free section")
	}
	unlockTry()
	unlockTry()
	if r.lockCount() != 0 {
		t.Fatalf("lock entries leaked: %d", r.lockCount())
	}
}

func TestRegistryIdleAndTouch(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	_, _ = r.Begin(1)
	_, _ = r.Begin(2)
	now = base.Add(5 * time.Minute)
	r.Touch(2)

	idle := r.Idle(base.Add(time.Minute))
	if len(idle) != 1 || idle[0] != 1 {
		t.Fatalf("idle = %v", idle)
	}
	last, ok := r.LastActivity(2)
	if !ok || !last.Equal(now) {
		t.Fatalf("last activity = %v %v", last, ok)
	}
}

func TestRegistryTombstones(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.MarkExpired(1)
	r.MarkExpired(2)
	if !r.TakeExpired(1) || r.TakeExpired(1) {
		t.Fatal("tombstone must be taken exactly once")
	}
	r.PruneExpired(base.Add(time.Second))
	if r.TakeExpired(2) {
		t.Fatal("old tombstone should be pruned")
	}

	r.MarkExpired(3)
	_, _ = r.Begin(3)
	if r.TakeExpired(3) {
		t.Fatal("begin must clear the tombstone")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{AwaitingPhone, AwaitingCode, AwaitingSecondFactor} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if !Completed.Terminal() || !Aborted.Terminal() {
		t.Fatal("completed and aborted are terminal")
	}
}
