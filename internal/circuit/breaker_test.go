package circuit

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute})
	boom := errors.New("upstream down")

	for i := 0; i < 2; i++ {
		b.RecordFailure(boom)
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker tripped early after %d failures: %v", i+1, err)
		}
	}
	b.RecordFailure(boom)
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("open breaker must reject calls")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute})
	boom := errors.New("upstream down")

	b.RecordFailure(boom)
	b.RecordFailure(boom)
	b.RecordSuccess()
	b.RecordFailure(boom)
	b.RecordFailure(boom)
	if b.State() != StateClosed {
		t.Fatalf("success should clear the streak, got %s", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure(errors.New("upstream down"))
	if err := b.Allow(); err == nil {
		t.Fatal("breaker should be open inside the cooldown")
	}

	now = now.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("cooldown elapsed, probe should be admitted: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open during probe, got %s", b.State())
	}
	// A second caller must wait for the probe's verdict.
	if err := b.Allow(); err == nil {
		t.Fatal("only one probe may be in flight")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("successful probe should close the breaker, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker must admit calls: %v", err)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure(errors.New("upstream down"))
	now = now.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	b.RecordFailure(errors.New("still down"))

	if b.State() != StateOpen {
		t.Fatalf("failed probe should reopen, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("cooldown must restart after a failed probe")
	}
}
