package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(200 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(35 * time.Millisecond)
	if got := clock.Since(start); got != 35*time.Millisecond {
		t.Errorf("Since() = %v, want 35ms", got)
	}

	clock.Set(start)
	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v after Set, want %v", clock.Now(), start)
	}
}

func TestMockClock_SleepAndAfterAreRecorded(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.Sleep(time.Millisecond)

	select {
	case <-clock.After(2 * time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("mock After channel was not ready")
	}

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Millisecond || sleeps[1] != 2*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_Ticker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(35 * time.Millisecond)

	clock.Advance(20 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(15 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at its period")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTicker_ResetAndTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(100 * time.Millisecond)
	ticker.Reset(10 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not honour the reset period")
	}

	mt := ticker.(*MockTicker)
	mt.Trigger(clock.Now())
	select {
	case <-ticker.C():
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}

func TestSleepContext(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	if err := SleepContext(context.Background(), clock, time.Millisecond); err != nil {
		t.Fatalf("SleepContext() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, clock, time.Millisecond); err != context.Canceled {
		t.Fatalf("SleepContext() on cancelled ctx = %v, want context.Canceled", err)
	}

	if err := SleepContext(context.Background(), RealClock{}, 0); err != nil {
		t.Fatalf("zero sleep = %v", err)
	}
}
