package orderbook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo is the sqlx-backed orderbook Repo. Each sample is pushed
// onto the signal's orderbook document's JSONB array.
type PostgresRepo struct {
	db *sqlx.DB
}

// NewPostgresRepo constructs a PostgresRepo over an already-connected db.
func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const upsertOrderbookSampleSQL = `
INSERT INTO orderbook_samples (signal_id, document)
VALUES ($1, jsonb_build_object('symbol', $2::text, 'snapshots', jsonb_build_array($3::jsonb)))
ON CONFLICT (signal_id) DO UPDATE
SET document = jsonb_set(
	orderbook_samples.document,
	'{snapshots}',
	(orderbook_samples.document->'snapshots') || jsonb_build_array($3::jsonb)
)`

// AppendOrderbookSample appends sample to symbol's orderbook document,
// creating the document (with its symbol field) on the first sample for
// signalID.
func (r *PostgresRepo) AppendOrderbookSample(ctx context.Context, signalID int64, symbol string, sample Sample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("orderbook: marshal sample: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertOrderbookSampleSQL, signalID, symbol, body); err != nil {
		return fmt.Errorf("orderbook: append sample for signal %d: %w", signalID, err)
	}
	return nil
}
