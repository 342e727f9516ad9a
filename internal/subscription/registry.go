package subscription

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/WeAreBini/pricefeed/internal/protocol"
)

// Sender delivers encoded frames to the push channel. Send must not block;
// the Connection Manager's queue satisfies this.
type Sender interface {
	Send(data []byte) error
	Connected() bool
}

// Registry multiplexes many consumers' symbol interest into one wire
// subscription set.
type Registry struct {
	sender Sender
	logger *slog.Logger

	mu       sync.Mutex
	interest map[string]map[string]struct{} // consumer id → symbol set
	refs     map[string]int                 // symbol → interested consumers

	// Called outside the lock when a symbol's count reaches zero.
	onZero func(symbol string)
}

// NewRegistry creates a new Subscription Registry.
func NewRegistry(sender Sender, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sender:   sender,
		logger:   logger,
		interest: make(map[string]map[string]struct{}),
		refs:     make(map[string]int),
	}
}

// SetEvictFunc registers the hook invoked when a symbol leaves the union.
// Must be called before the registry is shared.
func (r *Registry) SetEvictFunc(fn func(symbol string)) {
	r.onZero = fn
}

// Subscribe adds symbols to a consumer's interest set. Duplicate calls for
// the same consumer/symbol pair are no-ops. Symbols newly entering the union
// go out as one batched subscribe frame when the push channel is up;
// otherwise the union is retained and replayed on the next connect.
func (r *Registry) Subscribe(consumerID string, symbols []string) {
	r.mu.Lock()
	set, ok := r.interest[consumerID]
	if !ok {
		set = make(map[string]struct{})
		r.interest[consumerID] = set
	}

	var added []string
	for _, raw := range symbols {
		sym := Normalize(raw)
		if sym == "" {
			continue
		}
		if _, dup := set[sym]; dup {
			continue
		}
		set[sym] = struct{}{}
		r.refs[sym]++
		if r.refs[sym] == 1 {
			added = append(added, sym)
		}
	}
	r.mu.Unlock()

	if len(added) == 0 {
		return
	}

	r.logger.Debug("symbols entered subscription set",
		"consumer", consumerID,
		"symbols", added,
	)
	r.sendDiff(protocol.Subscribe, added)
}

// Unsubscribe removes symbols from a consumer's interest set. Symbols whose
// global count drops to zero go out as one batched unsubscribe frame and are
// handed to the eviction hook; symbols still referenced elsewhere are
// untouched.
func (r *Registry) Unsubscribe(consumerID string, symbols []string) {
	r.mu.Lock()
	set, ok := r.interest[consumerID]
	if !ok {
		r.mu.Unlock()
		return
	}

	var removed []string
	for _, raw := range symbols {
		sym := Normalize(raw)
		if _, held := set[sym]; !held {
			continue
		}
		delete(set, sym)
		r.refs[sym]--
		if r.refs[sym] <= 0 {
			delete(r.refs, sym)
			removed = append(removed, sym)
		}
	}
	if len(set) == 0 {
		delete(r.interest, consumerID)
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return
	}

	r.logger.Debug("symbols left subscription set",
		"consumer", consumerID,
		"symbols", removed,
	)
	r.sendDiff(protocol.Unsubscribe, removed)

	if r.onZero != nil {
		for _, sym := range removed {
			r.onZero(sym)
		}
	}
}

// ReleaseAll drops every symbol a consumer holds. Used at handle teardown so
// a consumer cannot leak interest.
func (r *Registry) ReleaseAll(consumerID string) {
	r.mu.Lock()
	set, ok := r.interest[consumerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	symbols := make([]string, 0, len(set))
	for sym := range set {
		symbols = append(symbols, sym)
	}
	r.mu.Unlock()

	r.Unsubscribe(consumerID, symbols)
}

// Symbols returns a sorted snapshot of the wire-visible union. Implements
// the Connection Manager's replay source.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.refs))
	for sym := range r.refs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RefCount returns how many consumers hold a symbol.
func (r *Registry) RefCount(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[Normalize(symbol)]
}

// sendDiff encodes and queues a wire diff when connected. Offline the union
// alone is authoritative; the replay on connect covers it.
func (r *Registry) sendDiff(encode func([]string) ([]byte, error), symbols []string) {
	if r.sender == nil || !r.sender.Connected() {
		return
	}

	data, err := encode(symbols)
	if err != nil {
		r.logger.Error("encode subscription diff", "error", err)
		return
	}
	if err := r.sender.Send(data); err != nil {
		r.logger.Warn("queue subscription diff", "error", err)
	}
}

// Normalize canonicalizes a ticker symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
