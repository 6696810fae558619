package transcripts

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository appends transcript text to the session row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a transcript repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append adds one recognized slice to the session transcript, newline
// separated like the incremental updates it came from.
func (r *Repository) Append(ctx context.Context, sessionID uuid.UUID, text string) error {
	if text == "" {
		return nil
	}
	const q = `UPDATE sessions
		SET transcript = CASE WHEN transcript IS NULL OR transcript = '' THEN $1
			ELSE transcript || E'\n' || $1 END
		WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, text, sessionID)
	return err
}

// Get returns the session transcript.
func (r *Repository) Get(ctx context.Context, sessionID uuid.UUID) (string, error) {
	const q = `SELECT COALESCE(transcript, '') FROM sessions WHERE id = $1`
	var text string
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&text)
	return text, err
}
