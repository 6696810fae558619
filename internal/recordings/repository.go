package recordings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inklive/collab/internal/models"
)

var ErrNotFound = errors.New("recording not found")

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recording repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new recording row.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, session_id, kind, upload_id, video_url, s3_key, file_size, status)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3, '00000000-0000-0000-0000-000000000000'::uuid), $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, rec.SessionID, rec.Kind, rec.UploadID, rec.VideoURL, rec.S3Key, rec.FileSize, rec.Status).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID returns a recording by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT id, session_id, kind, COALESCE(upload_id, '00000000-0000-0000-0000-000000000000'::uuid),
		COALESCE(video_url, ''), COALESCE(s3_key, ''), file_size, status, created_at, updated_at
		FROM recordings WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// GetByUploadID returns the recording assembled from a chunked upload.
func (r *Repository) GetByUploadID(ctx context.Context, uploadID uuid.UUID) (*models.Recording, error) {
	const q = `SELECT id, session_id, kind, COALESCE(upload_id, '00000000-0000-0000-0000-000000000000'::uuid),
		COALESCE(video_url, ''), COALESCE(s3_key, ''), file_size, status, created_at, updated_at
		FROM recordings WHERE upload_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, uploadID))
}

// ListBySession returns a session's recordings, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	const q = `SELECT id, session_id, kind, COALESCE(upload_id, '00000000-0000-0000-0000-000000000000'::uuid),
		COALESCE(video_url, ''), COALESCE(s3_key, ''), file_size, status, created_at, updated_at
		FROM recordings WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Kind, &rec.UploadID, &rec.VideoURL,
			&rec.S3Key, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// SetStatus updates a recording's lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

// MarkPending records the future object location while the payload waits in
// the spool for the worker.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, s3Key, videoURL string) error {
	const q = `UPDATE recordings SET status = $1, s3_key = $2, video_url = $3, updated_at = NOW() WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, models.RecordingStatusProcessing, s3Key, videoURL, id)
	return err
}

// MarkStored records a successful S3 store.
func (r *Repository) MarkStored(ctx context.Context, id uuid.UUID, s3Key, videoURL string) error {
	const q = `UPDATE recordings SET status = $1, s3_key = $2, video_url = $3, updated_at = NOW() WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, models.RecordingStatusCompleted, s3Key, videoURL, id)
	return err
}

func (r *Repository) scanOne(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Kind, &rec.UploadID, &rec.VideoURL,
		&rec.S3Key, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
