package stream

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/models"
)

func allTokensFilter(tokens ...int64) models.SubscriptionFilter {
	return models.NewSubscriptionFilter(tokens, models.CanonicalTimeframes)
}

func tickEnv(token int64, price float64) models.Envelope {
	return models.TickEnvelope(models.Tick{Token: token, Price: price, Timestamp: time.Now().UnixMilli()})
}

func closedEnv(token int64, tf models.Timeframe) models.Envelope {
	c := models.Candle{Token: token, Timeframe: tf, Start: 0, End: tf.DurationMs(), Open: 1, High: 1, Low: 1, Close: 1}
	return models.CandleEnvelope(c, models.StageClosed, time.Now().UnixMilli())
}

func TestSubscriberFIFO(t *testing.T) {
	hub := NewHub(16, zerolog.Nop())
	sub := hub.Subscribe(allTokensFilter(1))

	for i := 1; i <= 5; i++ {
		hub.Publish(tickEnv(1, float64(i)))
	}

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		env, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if env.Price != float64(i) {
			t.Fatalf("out of order: got %.0f want %d", env.Price, i)
		}
	}
}

func TestFilterRoutesPerSubscriber(t *testing.T) {
	hub := NewHub(16, zerolog.Nop())
	subA := hub.Subscribe(allTokensFilter(1))
	subB := hub.Subscribe(allTokensFilter(2))

	hub.Publish(tickEnv(1, 10))
	hub.Publish(tickEnv(2, 20))

	ctx := context.Background()
	envA, _ := subA.Next(ctx)
	envB, _ := subB.Next(ctx)
	if envA.Token != 1 || envB.Token != 2 {
		t.Fatalf("filter misrouted: A=%d B=%d", envA.Token, envB.Token)
	}
}

func TestOverflowDropsOldestTicksFirst(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	sub := hub.Subscribe(allTokensFilter(1))

	// Fill the bound, then overflow by two.
	for i := 1; i <= 6; i++ {
		hub.Publish(tickEnv(1, float64(i)))
	}

	ctx := context.Background()
	var got []float64
	for i := 0; i < 4; i++ {
		env, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, env.Price)
	}
	// Ticks 1 and 2 were the oldest droppables.
	want := []float64{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drop policy wrong: got %v want %v", got, want)
		}
	}
	if sub.Drops() != 2 {
		t.Fatalf("expected 2 drops recorded, got %d", sub.Drops())
	}
}

func TestClosedCandlesSurviveOverflow(t *testing.T) {
	hub := NewHub(2, zerolog.Nop())
	sub := hub.Subscribe(allTokensFilter(1))

	hub.Publish(closedEnv(1, models.TF1m))
	hub.Publish(closedEnv(1, models.TF5m))
	// Queue is full of protected envelopes; more protected ones must
	// still be admitted, and incoming ticks shed instead.
	hub.Publish(closedEnv(1, models.TF15m))
	hub.Publish(tickEnv(1, 99))

	ctx := context.Background()
	var stages []string
	var timeframes []models.Timeframe
	for i := 0; i < 3; i++ {
		env, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		stages = append(stages, env.Stage)
		timeframes = append(timeframes, env.Timeframe)
	}
	for i, st := range stages {
		if st != models.StageClosed {
			t.Fatalf("envelope %d is %q, protected candles were lost", i, st)
		}
	}
	if timeframes[2] != models.TF15m {
		t.Fatalf("third protected candle missing: %v", timeframes)
	}
}

func TestErrorEnvelopesBypassFilter(t *testing.T) {
	hub := NewHub(16, zerolog.Nop())
	sub := hub.Subscribe(models.NewSubscriptionFilter(nil, nil)) // interested in nothing

	hub.Publish(tickEnv(1, 10)) // filtered out
	hub.Publish(models.ErrorEnvelope("feed degraded", nil, time.Now().UnixMilli()))

	env, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if env.Type != models.EnvelopeError {
		t.Fatalf("expected the error envelope, got %q", env.Type)
	}
}

func TestNextHonorsContext(t *testing.T) {
	hub := NewHub(16, zerolog.Nop())
	sub := hub.Subscribe(allTokensFilter(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); err == nil {
		t.Fatal("Next should fail once the context expires")
	}
}

func TestUnsubscribeWakesReader(t *testing.T) {
	hub := NewHub(16, zerolog.Nop())
	sub := hub.Subscribe(allTokensFilter(1))

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	hub.Unsubscribe(sub)

	select {
	case err := <-done:
		if err != ErrSubscriberClosed {
			t.Fatalf("expected ErrSubscriberClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke after unsubscribe")
	}
	if hub.SubscriberCount() != 0 {
		t.Fatalf("subscriber still registered")
	}
}
