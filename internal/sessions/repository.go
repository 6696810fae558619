package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inklive/collab/internal/models"
)

var ErrNotFound = errors.New("session not found")

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new session in the pending state.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (id, title, category, host_participant_id, status, join_url)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, s.Title, s.Category, s.HostParticipantID, models.SessionStatusPending, s.JoinURL).
		Scan(&s.ID, &s.CreatedAt)
}

// SetJoinURL stores the signed join URL once the session id is known.
func (r *Repository) SetJoinURL(ctx context.Context, id uuid.UUID, joinURL string) error {
	const q = `UPDATE sessions SET join_url = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, joinURL, id)
	return err
}

// GetByID returns a session by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT id, title, category, host_participant_id, status, join_url,
		COALESCE(final_video_url, ''), COALESCE(transcript, ''), created_at, closed_at
		FROM sessions WHERE id = $1`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Title, &s.Category, &s.HostParticipantID,
		&s.Status, &s.JoinURL, &s.FinalVideoURL, &s.Transcript, &s.CreatedAt, &s.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkLive flips a pending session to live. A closed session stays closed.
func (r *Repository) MarkLive(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sessions SET status = $1 WHERE id = $2 AND status = $3`
	_, err := r.pool.Exec(ctx, q, models.SessionStatusLive, id, models.SessionStatusPending)
	return err
}

// Complete closes a session exactly once. The first call wins; later calls
// report alreadyClosed and change nothing, so racing coordinators stay
// idempotent.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, finalVideoURL string, participantCount int) (alreadyClosed bool, err error) {
	const q = `UPDATE sessions
		SET status = $1, final_video_url = NULLIF($2, ''), participant_count = $3, closed_at = NOW()
		WHERE id = $4 AND status <> $1`
	tag, err := r.pool.Exec(ctx, q, models.SessionStatusClosed, finalVideoURL, participantCount, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Either closed already or missing entirely; disambiguate.
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
