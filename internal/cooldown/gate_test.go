package cooldown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAllow_CooldownWindow(t *testing.T) {
	g := NewGate(30 * time.Second)

	if !g.Allow("p", t0) {
		t.Error("expected first announcement to be allowed")
	}
	if g.Allow("p", t0.Add(29*time.Second)) {
		t.Error("expected announcement within cooldown to be suppressed")
	}
	if !g.Allow("p", t0.Add(31*time.Second)) {
		t.Error("expected announcement after cooldown to be allowed")
	}
}

func TestAllow_ExactIntervalIsSuppressed(t *testing.T) {
	g := NewGate(30 * time.Second)
	g.Allow("p", t0)

	if g.Allow("p", t0.Add(30*time.Second)) {
		t.Error("expected announcement at exactly the interval to be suppressed")
	}
	if !g.Allow("p", t0.Add(30*time.Second+time.Nanosecond)) {
		t.Error("expected announcement just past the interval to be allowed")
	}
}

func TestAllow_SuppressedCallDoesNotExtendWindow(t *testing.T) {
	g := NewGate(30 * time.Second)
	g.Allow("p", t0)
	g.Allow("p", t0.Add(20*time.Second))

	last, ok := g.LastAnnounced("p")
	if !ok || !last.Equal(t0) {
		t.Errorf("expected last announcement to stay at t0, got %v", last)
	}
}

func TestAllow_IndependentPersons(t *testing.T) {
	g := NewGate(30 * time.Second)

	if !g.Allow("a", t0) || !g.Allow("b", t0) {
		t.Error("expected different persons to be gated independently")
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 tracked persons, got %d", g.Len())
	}
}

func TestResetAndClear(t *testing.T) {
	g := NewGate(30 * time.Second)
	g.Allow("a", t0)
	g.Allow("b", t0)

	g.Reset("a")
	if !g.Allow("a", t0.Add(time.Second)) {
		t.Error("expected reset person to be allowed immediately")
	}
	if g.Allow("b", t0.Add(time.Second)) {
		t.Error("expected other person to stay gated after reset")
	}

	g.Clear()
	if g.Len() != 0 {
		t.Errorf("expected empty gate after clear, got %d", g.Len())
	}
	if !g.Allow("b", t0.Add(2*time.Second)) {
		t.Error("expected person to be allowed after clear")
	}
}

func TestPrune(t *testing.T) {
	g := NewGate(30 * time.Second)
	g.Allow("old", t0)
	g.Allow("new", t0.Add(25*time.Second))

	if n := g.Prune(t0.Add(40 * time.Second)); n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}
	if _, ok := g.LastAnnounced("old"); ok {
		t.Error("expected expired entry to be pruned")
	}
	if _, ok := g.LastAnnounced("new"); !ok {
		t.Error("expected active entry to remain")
	}
}

func TestAllow_ConcurrentSingleWinner(t *testing.T) {
	g := NewGate(30 * time.Second)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.Allow("p", t0) {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if allowed.Load() != 1 {
		t.Errorf("expected exactly one concurrent caller to be allowed, got %d", allowed.Load())
	}
}
