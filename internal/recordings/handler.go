package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
	"github.com/inklive/collab/pkg/queue"
	"github.com/inklive/collab/pkg/response"
	"github.com/inklive/collab/pkg/spool"
)

// maxPayloadBytes bounds a single multipart part (whole upload or one chunk).
const maxPayloadBytes = 256 << 20

// ObjectLocator names where a recording will live once the worker stores it.
// The public URL is computed up front so the HTTP reply can carry the final
// locator before the S3 put happens.
type ObjectLocator interface {
	RecordingKey(sessionID, recordingID string) string
	PublicRecordingURL(key string) string
	PresignDownloadURL(ctx context.Context, key string) (string, error)
}

// Handler handles recording upload HTTP endpoints.
type Handler struct {
	repo      *Repository
	assembler *Assembler
	spool     *spool.Spool
	jobs      *queue.Queue
	locator   ObjectLocator
	logger    *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo *Repository, assembler *Assembler, sp *spool.Spool, jobs *queue.Queue, locator ObjectLocator, logger *zap.Logger) *Handler {
	return &Handler{
		repo:      repo,
		assembler: assembler,
		spool:     sp,
		jobs:      jobs,
		locator:   locator,
		logger:    logger,
	}
}

// Upload handles POST /recordings/:id, one whole payload per request.
func (h *Handler) Upload(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	kind := c.PostForm("kind")
	if kind != models.RecordingKindCanvas && kind != models.RecordingKindAudio {
		response.BadRequest(c, "kind must be canvas or audio")
		return
	}
	payload, err := readPart(c, "payload")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	videoURL, err := h.accept(c, sessionID, uuid.Nil, kind, payload)
	if err != nil {
		return
	}
	response.OK(c, gin.H{"video_url": videoURL})
}

// Chunk handles POST /recordings/:id/chunk. The first chunk of an upload
// gets the correlation id assigned; later chunks must carry it. When the
// last missing chunk lands, the payload is reassembled immediately and the
// reply carries the final locator.
func (h *Handler) Chunk(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	kind := c.PostForm("kind")
	if kind != models.RecordingKindCanvas && kind != models.RecordingKindAudio {
		response.BadRequest(c, "kind must be canvas or audio")
		return
	}
	index, err := strconv.Atoi(c.PostForm("chunk_index"))
	if err != nil {
		response.BadRequest(c, "invalid chunk_index")
		return
	}
	total, err := strconv.Atoi(c.PostForm("total_chunks"))
	if err != nil || total < 1 {
		response.BadRequest(c, "invalid total_chunks")
		return
	}
	payload, err := readPart(c, "payload")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	uploadID := uuid.Nil
	if raw := c.PostForm("upload_id"); raw != "" {
		uploadID, err = uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid upload_id")
			return
		}
	} else {
		uploadID, err = h.assembler.Begin(sessionID, kind, total)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	complete, err := h.assembler.Add(uploadID, sessionID, index, total, payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownUpload):
			response.NotFound(c, "unknown upload id")
		case errors.Is(err, ErrUploadMismatch), errors.Is(err, ErrChunkOutOfRange):
			response.BadRequest(c, err.Error())
		default:
			h.logger.Error("chunk add failed", zap.Error(err))
			response.Internal(c, "failed to store chunk")
		}
		return
	}
	if !complete {
		response.OK(c, gin.H{"upload_id": uploadID})
		return
	}

	_, _, assembled, err := h.assembler.Assemble(uploadID)
	if err != nil {
		h.logger.Error("assemble failed", zap.String("upload_id", uploadID.String()), zap.Error(err))
		response.Internal(c, "failed to assemble upload")
		return
	}
	videoURL, err := h.accept(c, sessionID, uploadID, kind, assembled)
	if err != nil {
		return
	}
	response.OK(c, gin.H{"upload_id": uploadID, "video_url": videoURL})
}

// Finalize handles POST /recordings/:id/finalize. With implicit finalization
// on the last chunk this usually just reads back the assembled recording's
// locator; it only assembles itself when the client never saw the last
// chunk's reply.
func (h *Handler) Finalize(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req struct {
		UploadID string `json:"upload_id" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	uploadID, err := uuid.Parse(req.UploadID)
	if err != nil {
		response.BadRequest(c, "invalid upload_id")
		return
	}

	if rec, err := h.repo.GetByUploadID(c.Request.Context(), uploadID); err == nil {
		response.OK(c, gin.H{"upload_id": uploadID, "video_url": rec.VideoURL})
		return
	} else if !errors.Is(err, ErrNotFound) {
		h.logger.Error("finalize lookup failed", zap.Error(err))
		response.Internal(c, "failed to finalize upload")
		return
	}

	_, kind, assembled, err := h.assembler.Assemble(uploadID)
	switch {
	case errors.Is(err, ErrUnknownUpload):
		response.NotFound(c, "unknown upload id")
		return
	case errors.Is(err, ErrUploadIncomplete):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		h.logger.Error("assemble failed", zap.String("upload_id", uploadID.String()), zap.Error(err))
		response.Internal(c, "failed to assemble upload")
		return
	}

	videoURL, err := h.accept(c, sessionID, uploadID, kind, assembled)
	if err != nil {
		return
	}
	response.OK(c, gin.H{"upload_id": uploadID, "video_url": videoURL})
}

// ListBySession handles GET /recordings/:id, listing a session's recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("recording list failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// PlayURL handles GET /recording-url/:rid, returning a short-lived download
// URL for a stored recording. The bucket stays private; playback goes through
// the presigned link.
func (h *Handler) PlayURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "recording not found")
		return
	}
	if err != nil {
		h.logger.Error("recording fetch failed", zap.Error(err))
		response.Internal(c, "failed to fetch recording")
		return
	}
	if rec.Status != models.RecordingStatusCompleted {
		response.Conflict(c, "recording not stored yet")
		return
	}
	url, err := h.locator.PresignDownloadURL(c.Request.Context(), rec.S3Key)
	if err != nil {
		h.logger.Error("presign failed", zap.String("recording_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to presign recording")
		return
	}
	response.OK(c, gin.H{"recording_id": id, "url": url})
}

// accept persists the row, spools the payload, and hands it to the worker.
// Replies with an error response itself on failure.
func (h *Handler) accept(c *gin.Context, sessionID, uploadID uuid.UUID, kind string, payload []byte) (string, error) {
	rec := &models.Recording{
		SessionID: sessionID,
		Kind:      kind,
		UploadID:  uploadID,
		FileSize:  int64(len(payload)),
		Status:    models.RecordingStatusUploading,
	}
	if err := h.repo.Create(c.Request.Context(), rec); err != nil {
		h.logger.Error("recording create failed", zap.Error(err))
		response.Internal(c, "failed to store recording")
		return "", err
	}

	key := h.locator.RecordingKey(sessionID.String(), rec.ID.String())
	videoURL := h.locator.PublicRecordingURL(key)

	spoolPath, err := h.spool.Write(fmt.Sprintf("%s_%s.webm", rec.ID, kind), payload)
	if err != nil {
		h.logger.Error("recording spool failed", zap.Error(err))
		_ = h.repo.SetStatus(c.Request.Context(), rec.ID, models.RecordingStatusFailed)
		response.Internal(c, "failed to store recording")
		return "", err
	}
	if err := h.repo.MarkPending(c.Request.Context(), rec.ID, key, videoURL); err != nil {
		h.logger.Error("recording update failed", zap.Error(err))
		response.Internal(c, "failed to store recording")
		return "", err
	}
	if err := h.jobs.EnqueueRecordingStore(c.Request.Context(), queue.RecordingStorePayload{
		RecordingID: rec.ID,
		SessionID:   sessionID,
		Kind:        kind,
		SpoolPath:   spoolPath,
		Size:        rec.FileSize,
	}); err != nil {
		h.logger.Error("recording enqueue failed", zap.Error(err))
		response.Internal(c, "failed to store recording")
		return "", err
	}
	return videoURL, nil
}

func readPart(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s part", field)
	}
	if fh.Size > maxPayloadBytes {
		return nil, fmt.Errorf("%s exceeds size limit", field)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s part: %w", field, err)
	}
	defer closePart(f)
	data, err := io.ReadAll(io.LimitReader(f, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s part: %w", field, err)
	}
	if int64(len(data)) > maxPayloadBytes {
		return nil, fmt.Errorf("%s exceeds size limit", field)
	}
	return data, nil
}

func closePart(f multipart.File) {
	_ = f.Close()
}
