package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WeAreBini/pricefeed/internal/model"
)

// JournalConfig controls batching for the observation journal.
type JournalConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the capacity of the inbound observation buffer.
	BufferSize int
}

// DefaultJournalConfig returns sensible defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		BufferSize:    4096,
	}
}

// JournalMetrics tracks journal activity.
type JournalMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// batcher is the part of the pgxpool.Pool surface the journal uses.
type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// observationRow is a row destined for the observations table.
type observationRow struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	Ts            int64
	Source        string
	Bid           float64
	Ask           float64
	DayHigh       float64
	DayLow        float64
}

// Journal persists accepted observations to PostgreSQL in batches. It is an
// append-only history of what the cache served; rows are never updated.
type Journal struct {
	cfg    JournalConfig
	logger *slog.Logger

	// Database
	db batcher

	// Input from the price cache
	input chan model.PriceObservation

	// Batching
	batch       []observationRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics JournalMetrics
}

// NewJournal creates a journal writing to db.
func NewJournal(cfg JournalConfig, db *pgxpool.Pool, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		cfg:    cfg,
		logger: logger,
		input:  make(chan model.PriceObservation, cfg.BufferSize),
		batch:  make([]observationRow, 0, cfg.BatchSize),
	}
	if db != nil {
		j.db = db
	}
	return j
}

// Accept enqueues an observation for persistence. Never blocks; drops and
// counts when the buffer is full.
func (j *Journal) Accept(obs model.PriceObservation) {
	select {
	case j.input <- obs:
	default:
		j.batchMu.Lock()
		j.metrics.Dropped++
		j.batchMu.Unlock()
	}
}

// Start begins consuming observations and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("observation journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the journal.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping observation journal")

	if j.cancel != nil {
		j.cancel()
	}

	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("observation journal stopped")
	case <-ctx.Done():
		j.logger.Warn("observation journal stop timed out")
	}

	// Final flush. The loops are gone, so anything they left in the input
	// buffer is moved to the batch first, and the write runs on the
	// caller's context rather than the cancelled run context.
	j.drain()
	j.flush(ctx)

	return nil
}

// drain moves observations still buffered in the input channel to the batch.
// Only called after the consume loop has exited.
func (j *Journal) drain() {
	for {
		select {
		case obs := <-j.input:
			row := j.transform(obs)
			j.batchMu.Lock()
			j.batch = append(j.batch, row)
			j.batchMu.Unlock()
		default:
			return
		}
	}
}

// Stats returns current metrics.
func (j *Journal) Stats() JournalMetrics {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

// consumeLoop reads observations and accumulates batches.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case obs := <-j.input:
			j.handleObservation(obs)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

// handleObservation transforms and adds an observation to the batch.
func (j *Journal) handleObservation(obs model.PriceObservation) {
	row := j.transform(obs)

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(j.ctx)
	}
}

// transform converts an observation to an observationRow.
func (j *Journal) transform(obs model.PriceObservation) observationRow {
	return observationRow{
		Symbol:        obs.Symbol,
		Price:         obs.Price,
		Change:        obs.Change,
		ChangePercent: obs.ChangePercent,
		Volume:        obs.Volume,
		Ts:            obs.Timestamp,
		Source:        string(obs.Source),
		Bid:           obs.Bid,
		Ask:           obs.Ask,
		DayHigh:       obs.DayHigh,
		DayLow:        obs.DayLow,
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	if j.db == nil {
		return
	}

	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]observationRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed observations",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []observationRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO observations (symbol, price, change, change_percent, volume, ts, source, bid, ask, day_high, day_low)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (symbol, ts, source) DO NOTHING
		`, r.Symbol, r.Price, r.Change, r.ChangePercent, r.Volume, r.Ts, r.Source, r.Bid, r.Ask, r.DayHigh, r.DayLow)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
