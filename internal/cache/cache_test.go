package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/WeAreBini/pricefeed/internal/model"
)

func obs(symbol string, price float64, ts int64, src model.Source) model.PriceObservation {
	return model.PriceObservation{Symbol: symbol, Price: price, Timestamp: ts, Source: src}
}

func TestApplyFirstObservation(t *testing.T) {
	c := New(DefaultConfig(), nil)

	if !c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush)) {
		t.Fatal("first observation should be accepted")
	}

	got, ok := c.Get("AAPL")
	if !ok {
		t.Fatal("Get returned no entry")
	}
	if got.Price != 150.00 || got.Timestamp != 1000 {
		t.Errorf("entry = %+v", got)
	}
}

func TestStalePollRejection(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	if c.Apply(obs("AAPL", 150.05, 900, model.SourcePoll)) {
		t.Error("stale poll observation should be rejected")
	}

	got, _ := c.Get("AAPL")
	if got.Price != 150.00 || got.Timestamp != 1000 || got.Source != model.SourcePush {
		t.Errorf("entry = %+v, want unchanged push@150.00 ts=1000", got)
	}
}

func TestFresherPollAcceptance(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	if !c.Apply(obs("AAPL", 150.10, 2000, model.SourcePoll)) {
		t.Error("fresher poll observation should be accepted")
	}

	got, _ := c.Get("AAPL")
	if got.Price != 150.10 || got.Timestamp != 2000 || got.Source != model.SourcePoll {
		t.Errorf("entry = %+v, want poll@150.10 ts=2000", got)
	}
}

func TestEqualTimestampPushWinsTie(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePoll))
	if !c.Apply(obs("AAPL", 150.20, 1000, model.SourcePush)) {
		t.Error("push should win an equal-timestamp tie against poll")
	}

	// The reverse tie is rejected.
	if c.Apply(obs("AAPL", 150.30, 1000, model.SourcePoll)) {
		t.Error("poll must not win an equal-timestamp tie against push")
	}
}

func TestSeedLosesAllTies(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Apply(obs("AAPL", 149.00, 1000, model.SourceSeed))
	if !c.Apply(obs("AAPL", 150.00, 1000, model.SourcePoll)) {
		t.Error("poll should win an equal-timestamp tie against seed")
	}
	if c.Apply(obs("AAPL", 151.00, 1000, model.SourceSeed)) {
		t.Error("seed must not win a tie")
	}
}

func TestMonotonicity(t *testing.T) {
	c := New(DefaultConfig(), nil)

	stamps := []int64{500, 3000, 1000, 2500, 3000, 100}
	var maxTS int64
	for i, ts := range stamps {
		c.Apply(obs("AAPL", 100+float64(i), ts, model.SourcePoll))
		if ts > maxTS {
			maxTS = ts
		}
	}

	got, _ := c.Get("AAPL")
	if got.Timestamp != maxTS {
		t.Errorf("final timestamp = %d, want max applied %d", got.Timestamp, maxTS)
	}
}

func TestDirectionSignal(t *testing.T) {
	c := New(DefaultConfig(), nil)

	if got := c.Direction("AAPL"); got != model.DirectionNeutral {
		t.Errorf("Direction before any data = %q, want neutral", got)
	}

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	if got := c.Direction("AAPL"); got != model.DirectionNeutral {
		t.Errorf("Direction after first observation = %q, want neutral", got)
	}

	c.Apply(obs("AAPL", 151.00, 2000, model.SourcePush))
	if got := c.Direction("AAPL"); got != model.DirectionUp {
		t.Errorf("Direction = %q, want up", got)
	}

	c.Apply(obs("AAPL", 149.00, 3000, model.SourcePush))
	if got := c.Direction("AAPL"); got != model.DirectionDown {
		t.Errorf("Direction = %q, want down", got)
	}
}

func TestDirectionThresholdSuppressesNoise(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	// +0.001 on 150.00 is well under the 0.01% default threshold.
	c.Apply(obs("AAPL", 150.001, 2000, model.SourcePush))

	if got := c.Direction("AAPL"); got != model.DirectionNeutral {
		t.Errorf("Direction = %q, want neutral for sub-threshold move", got)
	}
}

func TestDirectionWindowDecay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DirectionWindow = 30 * time.Millisecond
	c := New(cfg, nil)

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	c.Apply(obs("AAPL", 151.00, 2000, model.SourcePush))

	if got := c.Direction("AAPL"); got != model.DirectionUp {
		t.Fatalf("Direction = %q, want up inside window", got)
	}

	time.Sleep(60 * time.Millisecond)

	if got := c.Direction("AAPL"); got != model.DirectionNeutral {
		t.Errorf("Direction = %q, want neutral after window", got)
	}
}

func TestEvict(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	c.Apply(obs("MSFT", 300.00, 1000, model.SourcePush))

	c.Evict("AAPL")

	if _, ok := c.Get("AAPL"); ok {
		t.Error("AAPL should be gone")
	}
	if _, ok := c.Get("MSFT"); !ok {
		t.Error("MSFT must be untouched")
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestFanoutNotifiesListeners(t *testing.T) {
	c := New(DefaultConfig(), nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(context.Background())

	got := make(chan model.PriceObservation, 4)
	cancel := c.OnUpdate("AAPL", func(o model.PriceObservation) { got <- o })

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	c.Apply(obs("MSFT", 300.00, 1000, model.SourcePush)) // Different symbol, not delivered.

	select {
	case o := <-got:
		if o.Symbol != "AAPL" || o.Price != 150.00 {
			t.Errorf("delivered %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}

	select {
	case o := <-got:
		t.Fatalf("unexpected delivery %+v", o)
	case <-time.After(50 * time.Millisecond):
	}

	// Rejected observations emit nothing.
	c.Apply(obs("AAPL", 140.00, 500, model.SourcePoll))
	select {
	case o := <-got:
		t.Fatalf("rejected observation delivered: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	c.Apply(obs("AAPL", 152.00, 3000, model.SourcePush))
	select {
	case o := <-got:
		t.Fatalf("cancelled listener delivered: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordSink struct {
	mu  sync.Mutex
	got []model.PriceObservation
}

func (s *recordSink) Accept(o model.PriceObservation) {
	s.mu.Lock()
	s.got = append(s.got, o)
	s.mu.Unlock()
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestSinkReceivesAcceptedObservations(t *testing.T) {
	c := New(DefaultConfig(), nil)
	sink := &recordSink{}
	c.AddSink(sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(context.Background())

	c.Apply(obs("AAPL", 150.00, 1000, model.SourcePush))
	c.Apply(obs("AAPL", 140.00, 500, model.SourcePoll)) // Rejected.
	c.Apply(obs("MSFT", 300.00, 1000, model.SourcePoll))

	deadline := time.Now().Add(time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.count(); got != 2 {
		t.Errorf("sink received %d observations, want 2", got)
	}
}
