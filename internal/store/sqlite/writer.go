// Package sqlite persists closed bars and serves them back as a history
// fallback when the exchange bootstrap is unavailable.
package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"chartterm/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sqlx.DB

	// OnFlush is called after each batch commit attempt (optional).
	OnFlush func(n int, err error)
}

// DB returns the underlying handle for health checks.
func (w *Writer) DB() *sqlx.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string, conns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return db, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			market   TEXT    NOT NULL,
			symbol   TEXT    NOT NULL,
			interval TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL,
			PRIMARY KEY (market, symbol, interval, ts)
		);
	`)
	return err
}

// barRow is the table shape of one closed bar.
type barRow struct {
	Market   string  `db:"market"`
	Symbol   string  `db:"symbol"`
	Interval string  `db:"interval"`
	TS       int64   `db:"ts"`
	Open     float64 `db:"open"`
	High     float64 `db:"high"`
	Low      float64 `db:"low"`
	Close    float64 `db:"close"`
	Volume   float64 `db:"volume"`
}

func toRow(b model.ClosedBar) barRow {
	return barRow{
		Market:   string(b.Market),
		Symbol:   b.Symbol,
		Interval: b.Interval,
		TS:       b.Time,
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
	}
}

func (r barRow) kline() model.Kline {
	return model.Kline{
		Bar:    model.Bar{Time: r.TS, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close},
		Volume: r.Volume,
	}
}

// Run reads closed bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.ClosedBar) {
	batch := make([]model.ClosedBar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := w.insertBatch(batch)
		if err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		if w.OnFlush != nil {
			w.OnFlush(len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch upserts a batch of bars in a single transaction.
func (w *Writer) insertBatch(bars []model.ClosedBar) error {
	tx, err := w.db.Beginx()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareNamed(`
		INSERT OR REPLACE INTO bars (market, symbol, interval, ts, open, high, low, close, volume)
		VALUES (:market, :symbol, :interval, :ts, :open, :high, :low, :close, :volume)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(toRow(b)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetLastTimestamp returns the newest stored bar time for a series, or 0.
func (w *Writer) GetLastTimestamp(market model.Market, symbol, interval string) (int64, error) {
	var ts *int64
	err := w.db.Get(&ts,
		`SELECT MAX(ts) FROM bars WHERE market = ? AND symbol = ? AND interval = ?`,
		string(market), symbol, interval,
	)
	if err != nil || ts == nil {
		return 0, err
	}
	return *ts, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
