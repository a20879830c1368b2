package session

import (
	"context"
	"testing"
	"time"
)

func TestArmPending_SettlesWhenUndisturbed(t *testing.T) {
	c := New()
	outcome := c.ArmPending(context.Background(), "s1", 10*time.Millisecond)
	if outcome != Settled {
		t.Errorf("ArmPending() = %v, want Settled", outcome)
	}
}

func TestArmPending_SupersededByLaterArm(t *testing.T) {
	c := New()
	done := make(chan Outcome, 1)
	go func() {
		done <- c.ArmPending(context.Background(), "s1", 200*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	c.SupersedePending("s1")

	if got := <-done; got != Superseded {
		t.Errorf("first ArmPending() = %v, want Superseded", got)
	}
}

func TestAbortInFlight_CancelsAndClears(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	clear := c.SetInFlight("s1", cancel, "hello")
	defer clear()

	c.AbortInFlight("s1")

	select {
	case <-ctx.Done():
	default:
		t.Error("expected context to be cancelled")
	}
}

func TestSetInFlight_ClearGuardsAgainstStaleHandle(t *testing.T) {
	c := New()
	_, cancel1 := context.WithCancel(context.Background())
	clear1 := c.SetInFlight("s1", cancel1, "first")

	ctx2, cancel2 := context.WithCancel(context.Background())
	clear2 := c.SetInFlight("s1", cancel2, "second")

	// A late cleanup from the first (now-superseded) turn must not evict
	// the second turn's handle.
	clear1()
	c.AbortInFlight("s1") // should cancel the second handle, not a stale one
	select {
	case <-ctx2.Done():
	default:
		t.Error("expected the second handle to survive the stale clear and be cancelled")
	}
	clear2()
}

func TestSweep_RemovesIdleSessions(t *testing.T) {
	c := New()
	c.recordFor("idle")
	if got := c.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if got := c.Sweep(); got != 0 {
		t.Errorf("Sweep() second pass = %d, want 0", got)
	}
}
