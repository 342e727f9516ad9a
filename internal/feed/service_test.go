package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WeAreBini/pricefeed/internal/cache"
	"github.com/WeAreBini/pricefeed/internal/connection"
	"github.com/WeAreBini/pricefeed/internal/model"
	"github.com/WeAreBini/pricefeed/internal/poller"
	"github.com/WeAreBini/pricefeed/internal/protocol"
	"github.com/WeAreBini/pricefeed/internal/quote"
	"github.com/WeAreBini/pricefeed/internal/subscription"
)

// newTestService builds a full service. wsURL may be empty for pure-polling
// mode; quoteURL backs the fallback poller.
func newTestService(t *testing.T, wsURL, quoteURL string) *Service {
	t.Helper()

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = wsURL
	mgrCfg.ConnectTimeout = 500 * time.Millisecond
	mgrCfg.HeartbeatInterval = time.Hour
	mgrCfg.ReconnectBaseDelay = 5 * time.Millisecond
	mgrCfg.ReconnectMaxDelay = 20 * time.Millisecond

	manager := connection.NewManager(mgrCfg, nil)
	registry := subscription.NewRegistry(manager, nil)
	priceCache := cache.New(cache.DefaultConfig(), nil)

	pollCfg := poller.DefaultConfig()
	pollCfg.Interval = 20 * time.Millisecond
	pollCfg.Timeout = time.Second

	quoteClient := quote.NewClient(quoteURL, quote.WithRetries(0, time.Millisecond))
	p := poller.New(pollCfg, quoteClient, registry, priceCache, manager, nil)

	return New(manager, registry, priceCache, p, nil)
}

func startQuoteServer(t *testing.T, prices map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimPrefix(r.URL.Path, "/quote/")
		price, ok := prices[symbol]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"symbol": symbol, "price": price, "volume": 10})
	}))
}

func TestPurePollingMode(t *testing.T) {
	qs := startQuoteServer(t, map[string]float64{"AAPL": 150.25})
	defer qs.Close()

	svc := newTestService(t, "", qs.URL)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop(context.Background())

	if st := svc.ConnectionStatus(); !st.Disconnected {
		t.Errorf("status = %+v, want disconnected", st)
	}

	h := svc.Subscribe([]string{"AAPL"})
	defer h.Release()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := svc.ReadSnapshot("AAPL"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	obs, ok := svc.ReadSnapshot("AAPL")
	if !ok {
		t.Fatal("no snapshot from polling")
	}
	if obs.Source != model.SourcePoll {
		t.Errorf("Source = %q, want poll", obs.Source)
	}
	if obs.Price != 150.25 {
		t.Errorf("Price = %v, want 150.25", obs.Price)
	}
}

func TestPushUpdateReachesSnapshot(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	// Push one AAPL update whenever the client subscribes to it.
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil || msg.Type != protocol.TypeSubscribe {
				continue
			}
			for _, sym := range msg.Symbols {
				update := `{"type":"price_update","payload":{"symbol":"` + sym +
					`","price":151.5,"change":1.0,"changePercent":0.7,"volume":42,"timestamp":` +
					`1700000000123},"timestamp":1700000000125}`
				conn.WriteMessage(websocket.TextMessage, []byte(update))
			}
		}
	}))
	defer ws.Close()

	qs := startQuoteServer(t, nil)
	defer qs.Close()

	svc := newTestService(t, "ws"+strings.TrimPrefix(ws.URL, "http"), qs.URL)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop(context.Background())

	got := make(chan model.PriceObservation, 1)
	cancel := svc.OnUpdate("AAPL", func(o model.PriceObservation) {
		select {
		case got <- o:
		default:
		}
	})
	defer cancel()

	h := svc.Subscribe([]string{"AAPL"})
	defer h.Release()

	select {
	case o := <-got:
		if o.Source != model.SourcePush {
			t.Errorf("Source = %q, want push", o.Source)
		}
		if o.Price != 151.5 {
			t.Errorf("Price = %v, want 151.5", o.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push update never reached the listener")
	}

	obs, ok := svc.ReadSnapshot("AAPL")
	if !ok || obs.Price != 151.5 {
		t.Errorf("snapshot = %+v ok=%v", obs, ok)
	}

	if st := svc.ConnectionStatus(); !st.Connected {
		t.Errorf("status = %+v, want connected", st)
	}
}

func TestHandleReleaseIdempotent(t *testing.T) {
	qs := startQuoteServer(t, nil)
	defer qs.Close()

	svc := newTestService(t, "", qs.URL)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop(context.Background())

	a := svc.Subscribe([]string{"AAPL"})
	b := svc.Subscribe([]string{"AAPL"})

	a.Release()
	a.Release() // Second release is a no-op.

	// b still holds AAPL.
	if got := svc.registry.RefCount("AAPL"); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}

	b.Release()
	if got := svc.registry.RefCount("AAPL"); got != 0 {
		t.Errorf("RefCount = %d, want 0", got)
	}
}

func TestLastReleaseEvictsCacheEntry(t *testing.T) {
	qs := startQuoteServer(t, nil)
	defer qs.Close()

	svc := newTestService(t, "", qs.URL)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop(context.Background())

	h := svc.Subscribe([]string{"AAPL"})
	svc.cache.Apply(model.PriceObservation{
		Symbol: "AAPL", Price: 150, Timestamp: 1000, Source: model.SourceSeed,
	})

	h.Release()

	if _, ok := svc.ReadSnapshot("AAPL"); ok {
		t.Error("cache entry should be evicted after last release")
	}
}

func TestHandleAddRemoveSymbols(t *testing.T) {
	qs := startQuoteServer(t, nil)
	defer qs.Close()

	svc := newTestService(t, "", qs.URL)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop(context.Background())

	h := svc.Subscribe([]string{"AAPL"})
	h.AddSymbols([]string{"MSFT"})

	if got := svc.registry.RefCount("MSFT"); got != 1 {
		t.Errorf("RefCount(MSFT) = %d, want 1", got)
	}

	h.RemoveSymbols([]string{"AAPL"})
	if got := svc.registry.RefCount("AAPL"); got != 0 {
		t.Errorf("RefCount(AAPL) = %d, want 0", got)
	}

	h.Release()
	if got := svc.registry.RefCount("MSFT"); got != 0 {
		t.Errorf("RefCount(MSFT) = %d, want 0 after release", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		state connection.State
		want  Status
	}{
		{connection.StateConnected, Status{Connected: true}},
		{connection.StateConnecting, Status{Reconnecting: true}},
		{connection.StateReconnecting, Status{Reconnecting: true}},
		{connection.StateError, Status{Error: true}},
		{connection.StateDisconnected, Status{Disconnected: true}},
	}

	for _, tt := range tests {
		if got := statusFor(tt.state); got != tt.want {
			t.Errorf("statusFor(%q) = %+v, want %+v", tt.state, got, tt.want)
		}
	}
}
