package sessions

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inklive/collab/internal/auth"
	"github.com/inklive/collab/internal/models"
	"github.com/inklive/collab/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title    string `json:"title" binding:"required"`
	Category string `json:"category"`
	HostID   string `json:"host_id" binding:"required"`
}

// CompleteRequest is the body for POST /complete-session.
type CompleteRequest struct {
	SessionID        string `json:"session_id" binding:"required,uuid"`
	FinalVideoURL    string `json:"final_video_url"`
	ParticipantCount int    `json:"participant_count"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	repo    *Repository
	tokens  *auth.TokenService
	baseURL string
	logger  *zap.Logger
}

// NewHandler creates a session handler. baseURL is the public origin the
// join URL is built on.
func NewHandler(repo *Repository, tokens *auth.TokenService, baseURL string, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, tokens: tokens, baseURL: baseURL, logger: logger}
}

// Create handles POST /sessions. The response carries a join URL with a
// signed host token embedded.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	s := &models.Session{
		Title:             req.Title,
		Category:          req.Category,
		HostParticipantID: req.HostID,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}

	token, err := h.tokens.Mint(req.HostID, s.ID, true)
	if err != nil {
		h.logger.Error("join token mint failed", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	joinURL := fmt.Sprintf("%s/session/%s?token=%s", h.baseURL, s.ID, token)
	if err := h.repo.SetJoinURL(c.Request.Context(), s.ID, joinURL); err != nil {
		h.logger.Error("join url store failed", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}

	response.Created(c, gin.H{"session_id": s.ID, "join_url": joinURL})
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("session fetch failed", zap.Error(err))
		response.Internal(c, "failed to fetch session")
		return
	}
	response.OK(c, s)
}

// Complete handles POST /complete-session. Repeated calls for the same
// session succeed without side effects.
func (h *Handler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}

	alreadyClosed, err := h.repo.Complete(c.Request.Context(), id, req.FinalVideoURL, req.ParticipantCount)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("session complete failed", zap.String("session_id", req.SessionID), zap.Error(err))
		response.Internal(c, "failed to complete session")
		return
	}
	if alreadyClosed {
		h.logger.Debug("complete-session repeated for closed session", zap.String("session_id", req.SessionID))
	}
	response.OK(c, gin.H{"session_id": id, "status": models.SessionStatusClosed})
}
