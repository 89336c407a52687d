package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(time.Millisecond)
	if got := c.Since(start); got < time.Millisecond {
		t.Errorf("Since = %v, want at least 1ms", got)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", c.Now(), start)
	}

	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since after Advance = %v, want 5s", got)
	}

	c.Sleep(10 * time.Millisecond)
	c.Sleep(20 * time.Millisecond)
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Errorf("Sleeps = %v, want [10ms 20ms]", sleeps)
	}
	if got := c.Since(start); got != 5*time.Second+30*time.Millisecond {
		t.Errorf("Since after Sleep = %v, want 5.03s", got)
	}

	// Sleeps returns a copy.
	sleeps[0] = 0
	if c.Sleeps()[0] != 10*time.Millisecond {
		t.Error("Sleeps exposed internal slice")
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now after Set = %v, want %v", c.Now(), later)
	}
}
