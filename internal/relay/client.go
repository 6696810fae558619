package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// TokenValidator checks a join token and returns the participant id and the
// session it grants access to.
type TokenValidator func(token string) (participantID string, sessionID uuid.UUID, err error)

// Client is one websocket connection bound to a session room.
type Client struct {
	ID            string
	SessionID     uuid.UUID
	ParticipantID string
	hub           *Hub
	conn          *websocket.Conn
	send          chan models.Envelope
	logger        *zap.Logger
}

// ServeWs upgrades the connection and runs the client loop. The join token
// must grant the requested session.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		participantID, grantedSession, err := validate(token)
		if err != nil || grantedSession != sessionID {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:            uuid.New().String(),
			SessionID:     sessionID,
			ParticipantID: participantID,
			hub:           hub,
			conn:          conn,
			send:          make(chan models.Envelope, 256),
			logger:        logger,
		}
		hub.register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !msg.Event.Known() {
			c.logger.Debug("unknown event dropped",
				zap.String("event", string(msg.Event)),
				zap.String("client_id", c.ID))
			continue
		}

		switch msg.Event {
		case models.EventJoin:
			var p models.JoinPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.ParticipantID == "" {
				continue
			}
			c.hub.joined(c, p)
			c.hub.Broadcast(c.SessionID, models.EventJoin, json.RawMessage(msg.Data))
			c.hub.broadcastRoster(c.SessionID)
		case models.EventLeave:
			var p models.LeavePayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.ParticipantID == "" {
				continue
			}
			c.hub.left(c.SessionID, p.ParticipantID)
			c.hub.Broadcast(c.SessionID, models.EventLeave, json.RawMessage(msg.Data))
			c.hub.broadcastRoster(c.SessionID)
		case models.EventHeartbeat:
			var p models.HeartbeatPayload
			if err := json.Unmarshal(msg.Data, &p); err == nil && p.ParticipantID != "" {
				c.hub.heartbeat(c.SessionID, p.ParticipantID)
			}
		case models.EventPing:
			// Liveness probe; answer the sender only.
			c.hub.sendTo(c.SessionID, c.ID, models.EventPong, json.RawMessage(msg.Data))
		case models.EventPong:
			// A peer answering someone's probe carries no room-wide meaning.
		default:
			// chat, whiteboard, poll, vote, recording, signal, close:
			// relay verbatim so payloads survive byte for byte.
			c.hub.Broadcast(c.SessionID, msg.Event, json.RawMessage(msg.Data))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
