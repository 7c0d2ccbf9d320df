// Package followup implements C5: it persists a gate-passing signal and
// schedules the downstream orderbook and trajectory tasks that sample
// the market in its aftermath.
package followup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/microsignal/internal/monitor"
)

// ErrDuplicateSignal is returned when a signal with the same
// (exchange, symbol, signal_timestamp_ms) has already been persisted.
var ErrDuplicateSignal = errors.New("followup: duplicate signal")

// Repo persists signal, orderbook, and trajectory documents.
type Repo interface {
	InsertSignal(ctx context.Context, sig *monitor.Signal) (int64, error)
}

// PostgresRepo is the sqlx + lib/pq backed Repo implementation.
type PostgresRepo struct {
	db *sqlx.DB
}

// NewPostgresRepo constructs a PostgresRepo over an already-connected db.
func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const insertSignalSQL = `
INSERT INTO signals (exchange, symbol, signal_timestamp_ms, trigger_price, document, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (exchange, symbol, signal_timestamp_ms) DO NOTHING
RETURNING id`

// InsertSignal marshals sig into the document column and inserts a row.
// A conflicting (exchange, symbol, signal_timestamp_ms) is reported as
// ErrDuplicateSignal rather than a generic SQL error.
func (r *PostgresRepo) InsertSignal(ctx context.Context, sig *monitor.Signal) (int64, error) {
	doc, err := json.Marshal(sig)
	if err != nil {
		return 0, fmt.Errorf("followup: marshal signal: %w", err)
	}

	var id int64
	err = r.db.QueryRowxContext(ctx, insertSignalSQL,
		sig.Exchange, sig.Symbol, sig.SignalTimestampMs, sig.TriggerPrice, doc, sig.CreatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicateSignal
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return 0, ErrDuplicateSignal
	}
	if err != nil {
		return 0, fmt.Errorf("followup: insert signal for %s: %w", sig.Symbol, err)
	}
	return id, nil
}

// orderbookTaskPayload is the payload enqueued for each post-signal depth
// snapshot sample.
type orderbookTaskPayload struct {
	SignalID     int64  `json:"signal_id"`
	Symbol       string `json:"symbol"`
	OffsetSec    int    `json:"offset_sec"`
}

// trajectoryTaskPayload is the payload enqueued for the single 31-minute
// price-trajectory resample.
type trajectoryTaskPayload struct {
	SignalID          int64 `json:"signal_id"`
	Symbol            string `json:"symbol"`
	SignalTimestampMs int64 `json:"signal_timestamp_ms"`
}
