// Package worker drains the job queue: spooled recordings move to S3, audio
// slices go through speech recognition into the session transcript.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
	"github.com/inklive/collab/internal/recordings"
	"github.com/inklive/collab/internal/transcripts"
	"github.com/inklive/collab/pkg/queue"
	"github.com/inklive/collab/pkg/spool"
	"github.com/inklive/collab/pkg/storage"
)

// Processor executes queued jobs.
type Processor struct {
	recRepo    *recordings.Repository
	transcript *transcripts.Repository
	recognizer transcripts.Recognizer
	s3         *storage.S3
	spool      *spool.Spool
	queue      *queue.Queue
	logger     *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(recRepo *recordings.Repository, transcriptRepo *transcripts.Repository, recognizer transcripts.Recognizer, s3 *storage.S3, sp *spool.Spool, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		recRepo:    recRepo,
		transcript: transcriptRepo,
		recognizer: recognizer,
		s3:         s3,
		spool:      sp,
		queue:      q,
		logger:     logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingStore:
		return p.storeRecording(ctx, job)
	case queue.JobTypeTranscriptSlice:
		return p.transcribeSlice(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) storeRecording(ctx context.Context, job *queue.Job) error {
	var payload queue.RecordingStorePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.recRepo.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("recording %s: %w", payload.RecordingID, err)
	}
	if rec.Status == models.RecordingStatusCompleted {
		p.logger.Info("recording already stored", zap.String("recording_id", rec.ID.String()))
		_ = p.spool.Remove(payload.SpoolPath)
		return nil
	}

	f, size, err := p.spool.Open(payload.SpoolPath)
	if err != nil {
		// With the spool gone the payload is unrecoverable; keep the row
		// failed instead of retrying forever.
		_ = p.recRepo.SetStatus(ctx, rec.ID, models.RecordingStatusFailed)
		return fmt.Errorf("spool open: %w", err)
	}
	defer f.Close()

	contentType := "video/webm"
	if payload.Kind == models.RecordingKindAudio {
		contentType = "audio/webm"
	}
	key := rec.S3Key
	if key == "" {
		key = p.s3.RecordingKey(payload.SessionID.String(), rec.ID.String())
	}
	url, err := p.s3.Upload(ctx, key, contentType, f, size)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.recRepo.MarkStored(ctx, rec.ID, key, url); err != nil {
		return fmt.Errorf("mark stored: %w", err)
	}
	_ = p.spool.Remove(payload.SpoolPath)

	p.logger.Info("recording stored",
		zap.String("recording_id", rec.ID.String()),
		zap.String("s3_key", key),
		zap.Int64("size", size))
	return nil
}

// transcribeSlice recognizes one audio slice. Recognition failures drop the
// slice; transcription is non-critical by contract.
func (p *Processor) transcribeSlice(ctx context.Context, job *queue.Job) error {
	var payload queue.TranscriptSlicePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	defer func() {
		_ = p.spool.Remove(payload.SpoolPath)
	}()

	f, _, err := p.spool.Open(payload.SpoolPath)
	if err != nil {
		p.logger.Warn("transcript slice spool missing, dropped",
			zap.String("session_id", payload.SessionID.String()), zap.Error(err))
		return nil
	}
	defer f.Close()

	text, err := p.recognizer.Recognize(ctx, f)
	if err != nil {
		p.logger.Warn("speech recognition failed, slice dropped",
			zap.String("session_id", payload.SessionID.String()), zap.Error(err))
		return nil
	}
	if text == "" {
		return nil
	}
	if err := p.transcript.Append(ctx, payload.SessionID, text); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	p.logger.Debug("transcript slice appended",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int("chars", len(text)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, source, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, source); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
