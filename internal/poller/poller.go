package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WeAreBini/pricefeed/internal/model"
	"github.com/WeAreBini/pricefeed/internal/quote"
)

// SymbolSource provides the symbols to poll.
type SymbolSource interface {
	Symbols() []string
}

// Handler receives fetched observations. The Price Cache satisfies this.
type Handler interface {
	Apply(obs model.PriceObservation) bool
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(model.PriceObservation) bool

func (f HandlerFunc) Apply(obs model.PriceObservation) bool {
	return f(obs)
}

// ConnectionProbe reports whether the push channel is up. Only consulted
// when PauseWhileConnected is set.
type ConnectionProbe interface {
	Connected() bool
}

// Config holds poller configuration.
type Config struct {
	Interval            time.Duration // Poll interval (default: 5s)
	Concurrency         int           // Max concurrent requests (default: 8)
	Timeout             time.Duration // Per-request timeout (default: 10s)
	PauseWhileConnected bool          // Skip cycles while push is connected
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		Concurrency: 8,
		Timeout:     10 * time.Second,
	}
}

// Poller periodically fetches quotes for subscribed symbols.
type Poller struct {
	cfg     Config
	client  *quote.Client
	symbols SymbolSource
	handler Handler
	probe   ConnectionProbe
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. probe may be nil.
func New(cfg Config, client *quote.Client, symbols SymbolSource, handler Handler, probe ConnectionProbe, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		symbols: symbols,
		handler: handler,
		probe:   probe,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller. Fetches completing after
// cancellation are discarded.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches quotes for all subscribed symbols concurrently.
func (p *Poller) pollAll() {
	if p.cfg.PauseWhileConnected && p.probe != nil && p.probe.Connected() {
		p.logger.Debug("push connected, skipping poll cycle")
		return
	}

	symbols := p.symbols.Symbols()
	if len(symbols) == 0 {
		return
	}

	start := time.Now()

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, failed atomic.Int64

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.pollSymbol(symbol); err != nil {
				// One symbol failing never halts the others; it is retried
				// on the next tick.
				p.logger.Warn("failed to poll symbol",
					"symbol", symbol,
					"err", err,
				)
				failed.Add(1)
				return
			}

			fetched.Add(1)
		}(symbol)
	}

	wg.Wait()

	p.logger.Debug("poll cycle complete",
		"symbols", len(symbols),
		"fetched", fetched.Load(),
		"failed", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollSymbol fetches one quote and hands it to the handler.
func (p *Poller) pollSymbol(symbol string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	q, err := p.client.GetQuote(ctx, symbol)
	if err != nil {
		return err
	}

	select {
	case <-p.ctx.Done():
		// Discard results completing after cancellation.
		return nil
	default:
	}

	p.handler.Apply(q.Observation(time.Now().UnixMilli()))
	return nil
}
