package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueMedia is the Redis list key for recording store jobs.
	QueueMedia = "worker:media"
	// QueueTranscripts is the Redis list key for transcript slice jobs.
	QueueTranscripts = "worker:transcripts"
	// QueueDLQ is the dead-letter queue for jobs that failed through retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeRecordingStore  JobType = "recording_store"
	JobTypeTranscriptSlice JobType = "transcript_slice"
)

// RecordingStorePayload moves a spooled recording payload to S3 and marks
// the row stored.
type RecordingStorePayload struct {
	RecordingID uuid.UUID `json:"recording_id"`
	SessionID   uuid.UUID `json:"session_id"`
	Kind        string    `json:"kind"`
	SpoolPath   string    `json:"spool_path"`
	Size        int64     `json:"size"`
}

// TranscriptSlicePayload sends a spooled audio slice to the speech service
// and appends the text to the session transcript.
type TranscriptSlicePayload struct {
	SessionID uuid.UUID `json:"session_id"`
	SpoolPath string    `json:"spool_path"`
	Size      int64     `json:"size"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueRecordingStore enqueues a recording store job.
func (q *Queue) EnqueueRecordingStore(ctx context.Context, payload RecordingStorePayload) error {
	if err := q.enqueue(ctx, QueueMedia, JobTypeRecordingStore, payload); err != nil {
		return err
	}
	q.logger.Debug("enqueued recording store job",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.Int64("size", payload.Size))
	return nil
}

// EnqueueTranscriptSlice enqueues a transcript slice job.
func (q *Queue) EnqueueTranscriptSlice(ctx context.Context, payload TranscriptSlicePayload) error {
	if err := q.enqueue(ctx, QueueTranscripts, JobTypeTranscriptSlice, payload); err != nil {
		return err
	}
	q.logger.Debug("enqueued transcript slice job",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int64("size", payload.Size))
	return nil
}

func (q *Queue) enqueue(ctx context.Context, key string, jobType JobType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// Dequeue blocks until a job is available on any work queue or ctx is done.
// Returns the job and the queue it came from.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueMedia, QueueTranscripts).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries,
// pushes to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job, sourceQueue string) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, sourceQueue, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DLQLen reports the dead-letter queue depth (for health/ops endpoints).
func (q *Queue) DLQLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueDLQ).Result()
}
