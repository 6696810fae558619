package transcripts

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inklive/collab/pkg/queue"
	"github.com/inklive/collab/pkg/response"
	"github.com/inklive/collab/pkg/spool"
)

// maxSliceBytes bounds one audio slice (15s of audio stays far below this).
const maxSliceBytes = 32 << 20

// Handler handles transcript HTTP endpoints. Recognition happens in the
// worker; ingest only spools and enqueues so the reply stays fast.
type Handler struct {
	repo   *Repository
	spool  *spool.Spool
	jobs   *queue.Queue
	logger *zap.Logger
}

// NewHandler creates a transcript handler.
func NewHandler(repo *Repository, sp *spool.Spool, jobs *queue.Queue, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, spool: sp, jobs: jobs, logger: logger}
}

// Update handles POST /update-transcript/:id with one audio slice.
func (h *Handler) Update(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		response.BadRequest(c, "missing audio part")
		return
	}
	if fh.Size > maxSliceBytes {
		response.BadRequest(c, "audio slice exceeds size limit")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable audio part")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSliceBytes+1))
	if err != nil || int64(len(data)) > maxSliceBytes {
		response.BadRequest(c, "unreadable audio part")
		return
	}

	name := fmt.Sprintf("%s_slice_%d.webm", sessionID, time.Now().UnixNano())
	path, err := h.spool.Write(name, data)
	if err != nil {
		h.logger.Error("transcript spool failed", zap.Error(err))
		response.Internal(c, "failed to accept audio slice")
		return
	}
	if err := h.jobs.EnqueueTranscriptSlice(c.Request.Context(), queue.TranscriptSlicePayload{
		SessionID: sessionID,
		SpoolPath: path,
		Size:      int64(len(data)),
	}); err != nil {
		h.logger.Error("transcript enqueue failed", zap.Error(err))
		response.Internal(c, "failed to accept audio slice")
		return
	}
	response.OK(c, gin.H{"status": "accepted"})
}

// Get handles GET /transcripts/:id.
func (h *Handler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	text, err := h.repo.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("transcript fetch failed", zap.Error(err))
		response.Internal(c, "failed to fetch transcript")
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "transcript": text})
}
