package cache

import (
	"testing"
	"time"

	"market-analysis-engine/internal/models"
)

func TestSourceForOpenSession(t *testing.T) {
	var p Policy
	cases := []struct {
		interval models.Timeframe
		source   SourceClass
		ttl      time.Duration
	}{
		{models.TF1m, SourceLive, 60 * time.Second},
		{models.TF5m, SourceLive, 300 * time.Second},
		{models.TF15m, SourceLive, 900 * time.Second},
		{models.TF30m, SourceLive, 900 * time.Second},
		{models.TF1h, SourceLive, time.Hour},
		// Daily bars never need the live feed, even mid-session.
		{models.TF1d, SourceRecent, time.Hour},
	}
	for _, tc := range cases {
		source, ttl := p.SourceFor(tc.interval, models.MarketOpen)
		if source != tc.source || ttl != tc.ttl {
			t.Errorf("%s open: got (%s, %s) want (%s, %s)", tc.interval, source, ttl, tc.source, tc.ttl)
		}
	}
}

func TestSourceForClosedSession(t *testing.T) {
	var p Policy
	cases := []struct {
		interval models.Timeframe
		ttl      time.Duration
	}{
		{models.TF1m, time.Hour},
		{models.TF5m, time.Hour},
		{models.TF1h, 2 * time.Hour},
		{models.TF1d, 24 * time.Hour},
	}
	for _, status := range []models.MarketStatus{models.MarketClosed, models.MarketWeekend, models.MarketHoliday, models.MarketPost} {
		for _, tc := range cases {
			source, ttl := p.SourceFor(tc.interval, status)
			if source != SourceHistorical {
				t.Errorf("%s %s: got source %s", tc.interval, status, source)
			}
			if ttl != tc.ttl {
				t.Errorf("%s %s: got ttl %s want %s", tc.interval, status, ttl, tc.ttl)
			}
		}
	}
}

func TestShouldInvalidate(t *testing.T) {
	var p Policy
	stored := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if p.ShouldInvalidate(stored, stored.Add(30*time.Second), time.Minute) {
		t.Fatal("entry inside its TTL treated as stale")
	}
	if !p.ShouldInvalidate(stored, stored.Add(time.Minute), time.Minute) {
		t.Fatal("entry at its TTL boundary must be stale")
	}
}
