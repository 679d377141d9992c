package stream

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func closedMarket(time.Time) models.MarketStatus { return models.MarketClosed }
func openMarket(time.Time) models.MarketStatus   { return models.MarketOpen }

func TestGateAdmitsFirstTickEvenWhenClosed(t *testing.T) {
	now := time.Now()
	g := NewGate(closedMarket, 30*time.Second, zerolog.Nop())
	g.SetClock(fixedClock(now))

	tick := models.Tick{Token: 42, Price: 100.5, VolumeTraded: 10, Timestamp: now.UnixMilli()}
	if v := g.Admit(tick); v != Accept {
		t.Fatalf("first tick should be admitted, got verdict %d", v)
	}
}

func TestGateDropsDuplicatesWhileClosed(t *testing.T) {
	now := time.Now()
	g := NewGate(closedMarket, 30*time.Second, zerolog.Nop())
	g.SetClock(fixedClock(now))

	tick := models.Tick{Token: 42, Price: 100.5, VolumeTraded: 10, Timestamp: now.UnixMilli()}
	g.Admit(tick)

	// Same price and volume within the window: duplicate.
	tick.Timestamp = now.UnixMilli() + 1000
	if v := g.Admit(tick); v != DropDuplicate {
		t.Fatalf("expected DropDuplicate, got %d", v)
	}

	// A changed price is information even while closed.
	tick.Price = 100.6
	if v := g.Admit(tick); v != Accept {
		t.Fatalf("changed price should be admitted, got %d", v)
	}

	_, dup := g.Counters()
	if dup != 1 {
		t.Fatalf("expected 1 duplicate counted, got %d", dup)
	}
}

func TestGateWindowExpiryReadmitsDuplicate(t *testing.T) {
	now := time.Now()
	g := NewGate(closedMarket, 30*time.Second, zerolog.Nop())
	g.SetClock(fixedClock(now))

	tick := models.Tick{Token: 7, Price: 55, VolumeTraded: 1, Timestamp: now.UnixMilli()}
	g.Admit(tick)

	// Beyond the window the same reading passes again.
	later := now.Add(31 * time.Second)
	g.SetClock(fixedClock(later))
	tick.Timestamp = later.UnixMilli()
	if v := g.Admit(tick); v != Accept {
		t.Fatalf("duplicate beyond window should be admitted, got %d", v)
	}
}

func TestGatePassesEverythingWhileOpen(t *testing.T) {
	now := time.Now()
	g := NewGate(openMarket, 30*time.Second, zerolog.Nop())
	g.SetClock(fixedClock(now))

	tick := models.Tick{Token: 9, Price: 10, VolumeTraded: 5, Timestamp: now.UnixMilli()}
	for i := 0; i < 3; i++ {
		if v := g.Admit(tick); v != Accept {
			t.Fatalf("open-market tick %d should be admitted, got %d", i, v)
		}
	}
}

func TestGateRejectsMalformed(t *testing.T) {
	now := time.Now()
	g := NewGate(openMarket, 30*time.Second, zerolog.Nop())
	g.SetClock(fixedClock(now))

	cases := []models.Tick{
		{Token: 1, Price: 0, Timestamp: now.UnixMilli()},
		{Token: 1, Price: 10, Timestamp: 0},
		{Token: 1, Price: 10, Timestamp: now.Add(2 * time.Hour).UnixMilli()},
		{Token: 1, Price: 10, VolumeTraded: -1, Timestamp: now.UnixMilli()},
	}
	for i, tick := range cases {
		if v := g.Admit(tick); v != DropMalformed {
			t.Errorf("case %d: expected DropMalformed, got %d", i, v)
		}
	}
	malformed, _ := g.Counters()
	if malformed != int64(len(cases)) {
		t.Fatalf("expected %d malformed counted, got %d", len(cases), malformed)
	}
}
