package trajectory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo is the sqlx-backed trajectory Repo.
type PostgresRepo struct {
	db *sqlx.DB
}

// NewPostgresRepo constructs a PostgresRepo over an already-connected db.
func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const upsertTrajectorySQL = `
INSERT INTO trajectories (signal_id, symbol, document)
VALUES ($1, $2, $3)
ON CONFLICT (signal_id) DO UPDATE SET document = EXCLUDED.document`

// InsertTrajectory upserts doc keyed by signal_id; a retried worker run
// for the same signal overwrites rather than duplicates.
func (r *PostgresRepo) InsertTrajectory(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("trajectory: marshal document: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertTrajectorySQL, doc.SignalID, doc.Symbol, body); err != nil {
		return fmt.Errorf("trajectory: upsert for signal %d: %w", doc.SignalID, err)
	}
	return nil
}
