package subscription

import (
	"reflect"
	"sync"
	"testing"

	"github.com/WeAreBini/pricefeed/internal/protocol"
)

// fakeSender records frames queued by the registry.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	frames    []protocol.Message
}

func (f *fakeSender) Send(data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) sent() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, len(f.frames))
	copy(out, f.frames)
	return out
}

func TestSubscribeDedup(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := NewRegistry(sender, nil)

	r.Subscribe("widget-1", []string{"AAPL", "MSFT"})
	r.Subscribe("widget-2", []string{"MSFT", "TSLA"})

	// Overlapping interest produces exactly one wire subscribe per symbol.
	frames := sender.sent()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !reflect.DeepEqual(frames[0].Symbols, []string{"AAPL", "MSFT"}) {
		t.Errorf("first frame symbols = %v", frames[0].Symbols)
	}
	if !reflect.DeepEqual(frames[1].Symbols, []string{"TSLA"}) {
		t.Errorf("second frame symbols = %v, want [TSLA] only", frames[1].Symbols)
	}

	if got := r.RefCount("MSFT"); got != 2 {
		t.Errorf("RefCount(MSFT) = %d, want 2", got)
	}
}

func TestSubscribeIdempotentPerConsumer(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := NewRegistry(sender, nil)

	r.Subscribe("w", []string{"AAPL"})
	r.Subscribe("w", []string{"AAPL"})
	r.Subscribe("w", []string{"aapl"}) // Normalization folds case.

	if got := r.RefCount("AAPL"); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}
	if frames := sender.sent(); len(frames) != 1 {
		t.Errorf("frames = %d, want 1", len(frames))
	}
}

func TestUnsubscribeSymmetry(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := NewRegistry(sender, nil)

	r.Subscribe("other", []string{"MSFT"})
	before := r.Symbols()

	r.Subscribe("w", []string{"AAPL", "TSLA"})
	r.Unsubscribe("w", []string{"AAPL", "TSLA"})

	if got := r.Symbols(); !reflect.DeepEqual(got, before) {
		t.Errorf("Symbols = %v, want %v restored", got, before)
	}
}

func TestUnsubscribeLastConsumerWins(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := NewRegistry(sender, nil)

	var evicted []string
	r.SetEvictFunc(func(sym string) { evicted = append(evicted, sym) })

	r.Subscribe("a", []string{"AAPL"})
	r.Subscribe("b", []string{"AAPL"})

	r.Unsubscribe("a", []string{"AAPL"})
	// Still held by b: no wire unsubscribe, no eviction.
	for _, f := range sender.sent() {
		if f.Type == protocol.TypeUnsubscribe {
			t.Fatal("unsubscribe frame sent while symbol still referenced")
		}
	}
	if len(evicted) != 0 {
		t.Fatalf("evicted = %v, want none", evicted)
	}

	r.Unsubscribe("b", []string{"AAPL"})
	frames := sender.sent()
	last := frames[len(frames)-1]
	if last.Type != protocol.TypeUnsubscribe || !reflect.DeepEqual(last.Symbols, []string{"AAPL"}) {
		t.Errorf("last frame = %+v, want unsubscribe [AAPL]", last)
	}
	if !reflect.DeepEqual(evicted, []string{"AAPL"}) {
		t.Errorf("evicted = %v, want [AAPL]", evicted)
	}
	if got := r.RefCount("AAPL"); got != 0 {
		t.Errorf("RefCount = %d, want 0", got)
	}
}

func TestOfflineUnionRetained(t *testing.T) {
	sender := &fakeSender{connected: false}
	r := NewRegistry(sender, nil)

	r.Subscribe("w", []string{"AAPL", "MSFT"})

	if frames := sender.sent(); len(frames) != 0 {
		t.Errorf("frames = %d, want 0 while disconnected", len(frames))
	}
	if got := r.Symbols(); !reflect.DeepEqual(got, []string{"AAPL", "MSFT"}) {
		t.Errorf("Symbols = %v, want retained union", got)
	}
}

func TestReleaseAll(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := NewRegistry(sender, nil)

	r.Subscribe("w", []string{"AAPL", "MSFT"})
	r.Subscribe("other", []string{"MSFT"})

	r.ReleaseAll("w")

	if got := r.Symbols(); !reflect.DeepEqual(got, []string{"MSFT"}) {
		t.Errorf("Symbols = %v, want [MSFT]", got)
	}

	// Releasing an unknown consumer is a no-op.
	r.ReleaseAll("ghost")
}

func TestUnsubscribeUnheldSymbol(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := NewRegistry(sender, nil)

	r.Subscribe("w", []string{"AAPL"})
	r.Unsubscribe("w", []string{"MSFT"})

	if got := r.RefCount("AAPL"); got != 1 {
		t.Errorf("RefCount(AAPL) = %d, want 1", got)
	}
}
