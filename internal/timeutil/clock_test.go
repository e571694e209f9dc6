package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since returned negative duration")
	}
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After did not fire")
	}
}

// TestMockClockAdvance tests that waiters fire only once their deadline passes.
func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	ch := c.After(5 * time.Second)
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Errorf("fired with %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after fire", c.Pending())
	}
}

func TestMockClockImmediate(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
	if got := c.Waits(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Waits() = %v", got)
	}
}

func TestMockClockSet(t *testing.T) {
	c := NewMockClock(time.Unix(100, 0))
	ch := c.After(time.Minute)
	c.Set(time.Unix(1000, 0))
	select {
	case <-ch:
	default:
		t.Fatal("Set past deadline should fire")
	}
	if c.Since(time.Unix(900, 0)) != 100*time.Second {
		t.Errorf("Since = %v", c.Since(time.Unix(900, 0)))
	}
}
