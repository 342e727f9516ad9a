package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WeAreBini/pricefeed/internal/cache"
	"github.com/WeAreBini/pricefeed/internal/connection"
	"github.com/WeAreBini/pricefeed/internal/model"
	"github.com/WeAreBini/pricefeed/internal/poller"
	"github.com/WeAreBini/pricefeed/internal/protocol"
	"github.com/WeAreBini/pricefeed/internal/subscription"
)

// Status labels the push channel's health for provenance display. It never
// gates reads; snapshots stay served from the cache in every state.
type Status struct {
	Connected    bool
	Reconnecting bool
	Disconnected bool
	Error        bool
}

// Service is the consumer-facing entry point to the price feed.
type Service struct {
	logger *slog.Logger

	manager  *connection.Manager
	registry *subscription.Registry
	cache    *cache.Cache
	poller   *poller.Poller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a Service from its parts and cross-wires them: the registry
// becomes the manager's replay source and the cache's eviction is driven by
// the registry's zero-count hook.
func New(
	manager *connection.Manager,
	registry *subscription.Registry,
	c *cache.Cache,
	p *poller.Poller,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	manager.SetSymbolSource(registry)
	registry.SetEvictFunc(c.Evict)

	return &Service{
		logger:   logger,
		manager:  manager,
		registry: registry,
		cache:    c,
		poller:   p,
	}
}

// Start brings the feed up: cache fan-out, push connection, poller, and the
// inbound dispatch loop.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.cache.Start(s.ctx); err != nil {
		return err
	}
	if err := s.manager.Start(s.ctx); err != nil {
		return err
	}
	if err := s.poller.Start(s.ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.dispatchLoop()

	s.logger.Info("price feed started")
	return nil
}

// Stop tears the feed down in reverse order.
func (s *Service) Stop(ctx context.Context) error {
	s.poller.Stop(ctx)
	s.manager.Stop(ctx)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("dispatch shutdown timed out")
	}

	s.cache.Stop(ctx)

	s.logger.Info("price feed stopped")
	return nil
}

// Subscribe registers interest in symbols and returns the release handle.
// Callers must release the handle exactly once on teardown.
func (s *Service) Subscribe(symbols []string) *Handle {
	h := &Handle{
		id:  uuid.NewString(),
		svc: s,
	}
	s.registry.Subscribe(h.id, symbols)
	return h
}

// ReadSnapshot returns the latest known observation for a symbol.
func (s *Service) ReadSnapshot(symbol string) (model.PriceObservation, bool) {
	return s.cache.Get(symbol)
}

// Direction returns the flash-highlight movement signal for a symbol.
func (s *Service) Direction(symbol string) model.Direction {
	return s.cache.Direction(symbol)
}

// DirectionThreshold exposes the cache's noise threshold.
func (s *Service) DirectionThreshold() float64 {
	return s.cache.DirectionThreshold()
}

// DirectionWindow exposes the cache's flash display window.
func (s *Service) DirectionWindow() time.Duration {
	return s.cache.DirectionWindow()
}

// OnUpdate registers a callback for accepted observations on one symbol.
// The returned function cancels the registration.
func (s *Service) OnUpdate(symbol string, fn func(model.PriceObservation)) func() {
	return s.cache.OnUpdate(symbol, fn)
}

// Symbols returns the sorted union of all subscribed symbols.
func (s *Service) Symbols() []string {
	return s.registry.Symbols()
}

// CacheSize returns the number of symbols with a cached observation.
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

// ConnectionStatus reports the push channel's state.
func (s *Service) ConnectionStatus() Status {
	return statusFor(s.manager.Status().State)
}

// Connect manually re-establishes the push channel, the recovery path out of
// the error state.
func (s *Service) Connect() {
	s.manager.Connect()
}

// dispatchLoop applies inbound push updates to the cache.
func (s *Service) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.manager.Messages():
			if !ok {
				return
			}
			if msg.Type != protocol.TypePriceUpdate || msg.Update == nil {
				continue
			}
			s.cache.Apply(msg.Update.Observation(model.SourcePush))
		}
	}
}

// statusFor maps a connection state to the consumer-visible status.
func statusFor(st connection.State) Status {
	switch st {
	case connection.StateConnected:
		return Status{Connected: true}
	case connection.StateConnecting, connection.StateReconnecting:
		return Status{Reconnecting: true}
	case connection.StateError:
		return Status{Error: true}
	default:
		return Status{Disconnected: true}
	}
}

// Handle is a scoped subscription. Release is safe to call more than once;
// only the first call has effect.
type Handle struct {
	id      string
	svc     *Service
	release sync.Once
}

// ID returns the handle's consumer identifier.
func (h *Handle) ID() string { return h.id }

// AddSymbols extends this handle's interest set.
func (h *Handle) AddSymbols(symbols []string) {
	h.svc.registry.Subscribe(h.id, symbols)
}

// RemoveSymbols drops symbols from this handle's interest set.
func (h *Handle) RemoveSymbols(symbols []string) {
	h.svc.registry.Unsubscribe(h.id, symbols)
}

// Release drops every symbol this handle holds.
func (h *Handle) Release() {
	h.release.Do(func() {
		h.svc.registry.ReleaseAll(h.id)
	})
}
