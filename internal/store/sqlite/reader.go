package sqlite

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"chartterm/internal/model"
)

// Reader provides read-only access to stored bars.
type Reader struct {
	db *sqlx.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// FetchHistory returns the newest limit stored bars of a series, oldest
// first. It has the shape of the exchange history fetcher so it can stand
// in for it.
func (r *Reader) FetchHistory(ctx context.Context, symbol, interval string, market model.Market, limit int) ([]model.Kline, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []barRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT market, symbol, interval, ts, open, high, low, close, volume FROM (
			SELECT * FROM bars
			WHERE market = ? AND symbol = ? AND interval = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, string(market), symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	out := make([]model.Kline, len(rows))
	for i, row := range rows {
		out[i] = row.kline()
	}
	return out, nil
}

// Count returns the number of stored bars of a series.
func (r *Reader) Count(ctx context.Context, symbol, interval string, market model.Market) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bars WHERE market = ? AND symbol = ? AND interval = ?`,
		string(market), symbol, interval)
	if err != nil {
		return 0, fmt.Errorf("sqlite count bars: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
