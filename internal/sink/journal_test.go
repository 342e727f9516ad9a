package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/WeAreBini/pricefeed/internal/model"
)

// fakeDB records batches instead of talking to Postgres.
type fakeDB struct {
	mu     sync.Mutex
	queued int
	ctxErr error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	f.queued += b.Len()
	return &fakeBatchResults{n: b.Len()}
}

type fakeBatchResults struct {
	n int
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, nil }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (r *fakeBatchResults) Close() error             { return nil }

func TestJournal_Transform(t *testing.T) {
	j := NewJournal(DefaultJournalConfig(), nil, nil)

	obs := model.PriceObservation{
		Symbol:        "AAPL",
		Price:         150.25,
		Change:        1.5,
		ChangePercent: 1.01,
		Volume:        52000000,
		Timestamp:     1700000000123,
		Source:        model.SourcePush,
		Bid:           150.24,
		Ask:           150.26,
		DayHigh:       151.0,
		DayLow:        148.5,
	}

	row := j.transform(obs)

	if row.Symbol != "AAPL" {
		t.Errorf("Symbol = %s, want AAPL", row.Symbol)
	}
	if row.Price != 150.25 {
		t.Errorf("Price = %v, want 150.25", row.Price)
	}
	if row.Ts != 1700000000123 {
		t.Errorf("Ts = %d, want 1700000000123", row.Ts)
	}
	if row.Source != "push" {
		t.Errorf("Source = %s, want push", row.Source)
	}
	if row.Volume != 52000000 {
		t.Errorf("Volume = %d, want 52000000", row.Volume)
	}
	if row.Bid != 150.24 || row.Ask != 150.26 {
		t.Errorf("Bid/Ask = %v/%v, want 150.24/150.26", row.Bid, row.Ask)
	}
	if row.DayHigh != 151.0 || row.DayLow != 148.5 {
		t.Errorf("DayHigh/DayLow = %v/%v, want 151.0/148.5", row.DayHigh, row.DayLow)
	}
}

func TestJournal_StopFlushesPendingBatch(t *testing.T) {
	cfg := DefaultJournalConfig()
	cfg.BatchSize = 100
	cfg.FlushInterval = time.Hour
	j := NewJournal(cfg, nil, nil)

	db := &fakeDB{}
	j.db = db

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		j.Accept(model.PriceObservation{
			Symbol:    "AAPL",
			Price:     150 + float64(i),
			Timestamp: int64(1000 + i),
			Source:    model.SourcePush,
		})
	}

	if err := j.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	db.mu.Lock()
	queued, ctxErr := db.queued, db.ctxErr
	db.mu.Unlock()

	if queued != 5 {
		t.Errorf("queued = %d, want 5: pending observations must survive shutdown", queued)
	}
	if ctxErr != nil {
		t.Errorf("final flush ran on a dead context: %v", ctxErr)
	}

	stats := j.Stats()
	if stats.Inserts != 5 {
		t.Errorf("Inserts = %d, want 5", stats.Inserts)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
}

func TestJournal_AcceptNeverBlocks(t *testing.T) {
	cfg := DefaultJournalConfig()
	cfg.BufferSize = 2
	j := NewJournal(cfg, nil, nil)

	// Not started: nothing drains the buffer.
	for i := 0; i < 5; i++ {
		j.Accept(model.PriceObservation{Symbol: "AAPL", Timestamp: int64(i)})
	}

	stats := j.Stats()
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", stats.Dropped)
	}
}
