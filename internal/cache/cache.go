package cache

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/WeAreBini/pricefeed/internal/model"
	"github.com/WeAreBini/pricefeed/internal/subscription"
)

// Sink receives every accepted observation, after listeners. Implementations
// must not block for long; they run on the fan-out goroutine.
type Sink interface {
	Accept(obs model.PriceObservation)
}

// Config holds Price Cache settings.
type Config struct {
	// DirectionThreshold is the minimum relative price change for a non-neutral
	// direction signal. Default 0.0001 (0.01%).
	DirectionThreshold float64

	// DirectionWindow is how long a direction signal stays visible before
	// auto-resetting to neutral. Default 1s.
	DirectionWindow time.Duration

	// FanoutBufferSize is the capacity of the update fan-out channel.
	FanoutBufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DirectionThreshold: 0.0001,
		DirectionWindow:    time.Second,
		FanoutBufferSize:   1024,
	}
}

// entry is the per-symbol cache record. Never escapes the cache boundary.
type entry struct {
	current       model.PriceObservation
	previousPrice float64
	hasPrevious   bool
	direction     model.Direction
	directionAt   time.Time
}

// Cache is the latest-observation table with change fan-out.
type Cache struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// Fan-out. Accepted observations go through updates so Apply never blocks.
	updates chan model.PriceObservation

	lnMu         sync.Mutex
	listeners    map[string]map[int64]func(model.PriceObservation)
	nextListener int64
	sinks        []Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a new Price Cache.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:       cfg,
		logger:    logger,
		entries:   make(map[string]*entry),
		updates:   make(chan model.PriceObservation, cfg.FanoutBufferSize),
		listeners: make(map[string]map[int64]func(model.PriceObservation)),
		now:       time.Now,
	}
}

// AddSink registers an observation sink. Must be called before Start.
func (c *Cache) AddSink(s Sink) {
	c.sinks = append(c.sinks, s)
}

// Start begins the fan-out loop.
func (c *Cache) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.fanoutLoop()

	return nil
}

// Stop shuts the fan-out down.
func (c *Cache) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply offers an observation to the cache. It replaces the entry iff the
// observation is strictly newer, or equally new from a higher-priority
// source. Rejections are silent and reported only through the return value.
func (c *Cache) Apply(obs model.PriceObservation) bool {
	sym := subscription.Normalize(obs.Symbol)
	if sym == "" {
		return false
	}
	obs.Symbol = sym

	c.mu.Lock()
	e, ok := c.entries[sym]
	if !ok {
		c.entries[sym] = &entry{
			current:   obs,
			direction: model.DirectionNeutral,
		}
		c.mu.Unlock()
		c.notify(obs)
		return true
	}

	if !obs.Supersedes(e.current) {
		c.mu.Unlock()
		return false
	}

	prev := e.current.Price
	e.previousPrice = prev
	e.hasPrevious = true
	e.current = obs
	e.direction = directionOf(prev, obs.Price, c.cfg.DirectionThreshold)
	e.directionAt = c.now()
	c.mu.Unlock()

	c.notify(obs)
	return true
}

// Get returns the current observation for a symbol.
func (c *Cache) Get(symbol string) (model.PriceObservation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[subscription.Normalize(symbol)]
	if !ok {
		return model.PriceObservation{}, false
	}
	return e.current, true
}

// Direction returns the movement signal for a symbol. The signal decays to
// neutral once the display window has passed.
func (c *Cache) Direction(symbol string) model.Direction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[subscription.Normalize(symbol)]
	if !ok || !e.hasPrevious {
		return model.DirectionNeutral
	}
	if c.now().Sub(e.directionAt) > c.cfg.DirectionWindow {
		return model.DirectionNeutral
	}
	return e.direction
}

// DirectionThreshold exposes the noise threshold to consumers.
func (c *Cache) DirectionThreshold() float64 { return c.cfg.DirectionThreshold }

// DirectionWindow exposes the flash display window to consumers.
func (c *Cache) DirectionWindow() time.Duration { return c.cfg.DirectionWindow }

// Evict drops a symbol's entry. Other symbols are untouched.
func (c *Cache) Evict(symbol string) {
	sym := subscription.Normalize(symbol)

	c.mu.Lock()
	delete(c.entries, sym)
	c.mu.Unlock()

	c.logger.Debug("evicted cache entry", "symbol", sym)
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// OnUpdate registers a per-symbol listener. The returned function cancels
// the registration and is safe to call once.
func (c *Cache) OnUpdate(symbol string, fn func(model.PriceObservation)) func() {
	sym := subscription.Normalize(symbol)

	c.lnMu.Lock()
	id := c.nextListener
	c.nextListener++
	set, ok := c.listeners[sym]
	if !ok {
		set = make(map[int64]func(model.PriceObservation))
		c.listeners[sym] = set
	}
	set[id] = fn
	c.lnMu.Unlock()

	return func() {
		c.lnMu.Lock()
		if set, ok := c.listeners[sym]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.listeners, sym)
			}
		}
		c.lnMu.Unlock()
	}
}

// notify queues an accepted observation for fan-out without blocking: on a
// full channel the oldest pending update is dropped, since only the latest
// value per symbol matters.
func (c *Cache) notify(obs model.PriceObservation) {
	select {
	case c.updates <- obs:
	default:
		select {
		case <-c.updates:
			select {
			case c.updates <- obs:
			default:
			}
		default:
		}
	}
}

// fanoutLoop dispatches accepted observations to listeners and sinks.
func (c *Cache) fanoutLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case obs := <-c.updates:
			c.lnMu.Lock()
			fns := make([]func(model.PriceObservation), 0, len(c.listeners[obs.Symbol]))
			for _, fn := range c.listeners[obs.Symbol] {
				fns = append(fns, fn)
			}
			c.lnMu.Unlock()

			for _, fn := range fns {
				fn(obs)
			}
			for _, s := range c.sinks {
				s.Accept(obs)
			}
		}
	}
}

// directionOf classifies a price move, forcing neutral below the relative
// threshold to suppress noise.
func directionOf(prev, cur, threshold float64) model.Direction {
	if prev == 0 {
		return model.DirectionNeutral
	}
	rel := math.Abs(cur-prev) / math.Abs(prev)
	if rel < threshold {
		return model.DirectionNeutral
	}
	if cur > prev {
		return model.DirectionUp
	}
	return model.DirectionDown
}
