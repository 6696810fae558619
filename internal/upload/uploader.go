// Package upload ships completed recording payloads to the backend: direct
// multipart below the chunk threshold, indexed chunks with an upload
// correlation id above it, both with bounded retry.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inklive/collab/pkg/api"
)

// ErrRetriesExhausted marks an upload that failed through all attempts.
var ErrRetriesExhausted = errors.New("upload: retries exhausted")

// Backend is the REST surface the uploader needs; *api.Client satisfies it.
type Backend interface {
	UploadRecording(ctx context.Context, sessionID, kind string, payload []byte) (*api.UploadResult, error)
	UploadChunk(ctx context.Context, sessionID, kind string, chunkIndex, totalChunks int, uploadID string, payload []byte) (*api.UploadResult, error)
	FinalizeUpload(ctx context.Context, sessionID, uploadID string) (*api.UploadResult, error)
}

// Options tunes chunking and retry behavior.
type Options struct {
	ChunkSize   int64         // direct-vs-chunked threshold and part size
	MaxAttempts int           // attempts per request before giving up
	Backoff     time.Duration // fixed delay between attempts
}

func (o *Options) defaults() {
	if o.ChunkSize == 0 {
		o.ChunkSize = 5 * 1024 * 1024
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff == 0 {
		o.Backoff = 3 * time.Second
	}
}

// Uploader uploads recording payloads for one session.
type Uploader struct {
	backend Backend
	opts    Options
	logger  *zap.Logger
}

// NewUploader creates an uploader.
func NewUploader(backend Backend, opts Options, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	return &Uploader{backend: backend, opts: opts, logger: logger}
}

// Upload ships a completed payload and returns the server-assigned locator.
// Payloads at or under the chunk size go up as one multipart request; larger
// ones are split into fixed-size chunks. A payload one byte over the
// threshold yields exactly two chunks. Retrying never re-chunks: only the
// failing request is retried.
func (u *Uploader) Upload(ctx context.Context, sessionID, kind string, payload []byte) (string, error) {
	if int64(len(payload)) <= u.opts.ChunkSize {
		return u.direct(ctx, sessionID, kind, payload)
	}
	return u.chunked(ctx, sessionID, kind, payload)
}

func (u *Uploader) direct(ctx context.Context, sessionID, kind string, payload []byte) (string, error) {
	var result *api.UploadResult
	err := u.withRetry(ctx, fmt.Sprintf("%s %s direct", sessionID, kind), func() error {
		res, err := u.backend.UploadRecording(ctx, sessionID, kind, payload)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.VideoURL, nil
}

func (u *Uploader) chunked(ctx context.Context, sessionID, kind string, payload []byte) (string, error) {
	size := u.opts.ChunkSize
	total := int((int64(len(payload)) + size - 1) / size)
	u.logger.Info("chunked upload",
		zap.String("session_id", sessionID),
		zap.String("kind", kind),
		zap.Int("total_chunks", total),
		zap.Int("payload_bytes", len(payload)))

	uploadID := ""
	videoURL := ""
	for i := 0; i < total; i++ {
		start := int64(i) * size
		end := start + size
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		chunk := payload[start:end]

		var result *api.UploadResult
		err := u.withRetry(ctx, fmt.Sprintf("%s %s chunk %d/%d", sessionID, kind, i, total), func() error {
			res, err := u.backend.UploadChunk(ctx, sessionID, kind, i, total, uploadID, chunk)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return "", err
		}
		// The first chunk's response assigns the correlation id carried on
		// every later chunk.
		if result.UploadID != "" {
			uploadID = result.UploadID
		}
		if result.VideoURL != "" {
			videoURL = result.VideoURL
		}
	}

	// The server may return the final locator implicitly with the last chunk;
	// otherwise finalize explicitly.
	if videoURL != "" {
		return videoURL, nil
	}
	var result *api.UploadResult
	err := u.withRetry(ctx, sessionID+" finalize", func() error {
		res, err := u.backend.FinalizeUpload(ctx, sessionID, uploadID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.VideoURL, nil
}

func (u *Uploader) withRetry(ctx context.Context, what string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= u.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn()
		if last == nil {
			return nil
		}
		u.logger.Warn("upload attempt failed",
			zap.String("what", what),
			zap.Int("attempt", attempt),
			zap.Error(last))
		if attempt < u.opts.MaxAttempts {
			select {
			case <-time.After(u.opts.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w: %w", what, ErrRetriesExhausted, last)
}
