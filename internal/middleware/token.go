package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inklive/collab/internal/auth"
	"github.com/inklive/collab/pkg/response"
)

const (
	// ContextParticipantID is the key for the participant id in gin context.
	ContextParticipantID = "participant_id"
	// ContextSessionID is the key for the granted session id in gin context.
	ContextSessionID = "session_id"
	// ContextHost is the key for the host flag in gin context.
	ContextHost = "host"
)

// JoinToken returns a middleware that validates the join token and sets its
// claims in context. The token arrives as a Bearer header or, for clients
// that reuse their join URL credentials, a token query parameter.
func JoinToken(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(c, "malformed authorization header")
				c.Abort()
				return
			}
			raw = parts[1]
		} else {
			raw = c.Query("token")
		}
		if raw == "" {
			response.Unauthorized(c, "missing join token")
			c.Abort()
			return
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			response.Unauthorized(c, "invalid join token")
			c.Abort()
			return
		}
		c.Set(ContextParticipantID, claims.ParticipantID)
		c.Set(ContextSessionID, claims.SessionID)
		c.Set(ContextHost, claims.Host)
		c.Next()
	}
}

// SessionScope rejects requests whose :id path parameter names a session the
// join token does not grant. Mount after JoinToken. Routes without an :id
// parameter pass through; malformed ids are left for the handler's 400.
func SessionScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("id")
		if raw == "" {
			c.Next()
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.Next()
			return
		}
		granted, ok := c.Get(ContextSessionID)
		if !ok || granted.(uuid.UUID) != id {
			response.Forbidden(c, "token does not grant this session")
			c.Abort()
			return
		}
		c.Next()
	}
}
