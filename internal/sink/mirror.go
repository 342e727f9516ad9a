package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WeAreBini/pricefeed/internal/model"
)

const (
	mirrorKeyPrefix     = "price:"
	mirrorChannelPrefix = "prices."
)

// MirrorConfig controls the Redis cache mirror.
type MirrorConfig struct {
	// TTL is the expiry on mirrored snapshot keys. Zero keeps keys forever.
	TTL time.Duration

	// BufferSize is the capacity of the inbound observation buffer.
	BufferSize int

	// WriteTimeout bounds each Redis round trip.
	WriteTimeout time.Duration
}

// DefaultMirrorConfig returns sensible defaults.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		TTL:          5 * time.Minute,
		BufferSize:   4096,
		WriteTimeout: 2 * time.Second,
	}
}

// MirrorMetrics tracks mirror activity.
type MirrorMetrics struct {
	Writes  int64
	Errors  int64
	Dropped int64
}

// Mirror publishes accepted observations to Redis: the latest snapshot is
// kept under price:<symbol> and every acceptance is broadcast on
// prices.<symbol> for external subscribers.
type Mirror struct {
	cfg    MirrorConfig
	logger *slog.Logger

	client *redis.Client

	input chan model.PriceObservation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics MirrorMetrics
}

// NewMirror creates a mirror writing through client.
func NewMirror(cfg MirrorConfig, client *redis.Client, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		cfg:    cfg,
		client: client,
		logger: logger,
		input:  make(chan model.PriceObservation, cfg.BufferSize),
	}
}

// Accept enqueues an observation for mirroring. Never blocks; drops and
// counts when the buffer is full.
func (m *Mirror) Accept(obs model.PriceObservation) {
	select {
	case m.input <- obs:
	default:
		m.mu.Lock()
		m.metrics.Dropped++
		m.mu.Unlock()
	}
}

// Start begins mirroring observations to Redis.
func (m *Mirror) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info("redis mirror started", "ttl", m.cfg.TTL)
	return nil
}

// Stop shuts the mirror down. Buffered observations not yet written are
// discarded.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("redis mirror stopped")
	case <-ctx.Done():
		m.logger.Warn("redis mirror stop timed out")
	}
	return nil
}

// Stats returns current metrics.
func (m *Mirror) Stats() MirrorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

func (m *Mirror) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case obs := <-m.input:
			if err := m.write(obs); err != nil {
				m.logger.Warn("mirror write failed", "symbol", obs.Symbol, "error", err)
				m.mu.Lock()
				m.metrics.Errors++
				m.mu.Unlock()
				continue
			}
			m.mu.Lock()
			m.metrics.Writes++
			m.mu.Unlock()
		}
	}
}

// write stores the snapshot and broadcasts it in one pipeline.
func (m *Mirror) write(obs model.PriceObservation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.WriteTimeout)
	defer cancel()

	pipe := m.client.Pipeline()
	pipe.Set(ctx, mirrorKeyPrefix+obs.Symbol, payload, m.cfg.TTL)
	pipe.Publish(ctx, mirrorChannelPrefix+obs.Symbol, payload)
	_, err = pipe.Exec(ctx)
	return err
}
