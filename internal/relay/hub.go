package relay

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
)

// RedisPublisher publishes session events for cross-instance fanout.
type RedisPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to a session's channel and invokes handler for
// incoming events. The returned cancel stops the subscription.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

type rosterEntry struct {
	participant models.Participant
	clientID    string
	lastSeen    time.Time
}

type room struct {
	clients map[string]*Client
	roster  map[string]*rosterEntry // keyed by participant id
}

// Hub maintains session id -> connected clients plus the authoritative
// participant roster per session. Broadcasts go through Redis pub/sub so
// every instance delivers once to its local clients.
type Hub struct {
	sessions map[uuid.UUID]*room
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber

	heartbeatTimeout time.Duration
	sweepStop        chan struct{}
	sweepOnce        sync.Once

	// OnFirstJoin fires when a session's roster goes from empty to occupied.
	// Set before Run; called outside the hub lock.
	OnFirstJoin func(sessionID uuid.UUID)
}

// NewHub creates the relay hub. heartbeatTimeout bounds how long a silent
// participant stays on the roster; zero disables eviction.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber, heartbeatTimeout time.Duration) *Hub {
	return &Hub{
		sessions:         make(map[uuid.UUID]*room),
		subs:             make(map[uuid.UUID]func()),
		logger:           logger,
		redis:            redisPub,
		redisSub:         redisSub,
		heartbeatTimeout: heartbeatTimeout,
		sweepStop:        make(chan struct{}),
	}
}

// Run starts the roster eviction sweeper. Safe to call once from main.
func (h *Hub) Run() {
	if h.heartbeatTimeout <= 0 {
		return
	}
	h.sweepOnce.Do(func() {
		go h.sweepLoop()
	})
}

// Stop halts the eviction sweeper.
func (h *Hub) Stop() {
	close(h.sweepStop)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	r := h.sessions[c.SessionID]
	if r == nil {
		r = &room{
			clients: make(map[string]*Client),
			roster:  make(map[string]*rosterEntry),
		}
		h.sessions[c.SessionID] = r
		if h.redisSub != nil {
			sessionID := c.SessionID
			cancel, err := h.redisSub.SubscribeSession(sessionID, func(event string, payload []byte) {
				h.deliverLocal(sessionID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("session fanout subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			} else {
				h.subs[sessionID] = cancel
			}
		}
	}
	r.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()),
		zap.String("participant_id", c.ParticipantID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	var departed *models.Participant
	if r, ok := h.sessions[c.SessionID]; ok {
		delete(r.clients, c.ID)
		if entry, ok := r.roster[c.ParticipantID]; ok && entry.clientID == c.ID {
			departed = &entry.participant
			delete(r.roster, c.ParticipantID)
		}
		if len(r.clients) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()

	if departed != nil {
		h.Broadcast(c.SessionID, models.EventLeave, models.LeavePayload{ParticipantID: departed.ID})
		h.broadcastRoster(c.SessionID)
	}
	h.logger.Debug("client disconnected",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// joined records a participant on the roster when their join event arrives.
// A reconnect under the same participant id replaces the previous entry but
// keeps the original join time.
func (h *Hub) joined(c *Client, p models.JoinPayload) {
	now := time.Now()
	h.mu.Lock()
	r := h.sessions[c.SessionID]
	if r == nil {
		h.mu.Unlock()
		return
	}
	first := len(r.roster) == 0
	joinedAt := now
	if prev, ok := r.roster[p.ParticipantID]; ok {
		joinedAt = prev.participant.JoinedAt
	}
	r.roster[p.ParticipantID] = &rosterEntry{
		participant: models.Participant{
			ID:       p.ParticipantID,
			Name:     p.Name,
			JoinedAt: joinedAt,
			LastSeen: now,
		},
		clientID: c.ID,
		lastSeen: now,
	}
	h.mu.Unlock()

	if first && h.OnFirstJoin != nil {
		h.OnFirstJoin(c.SessionID)
	}
}

// heartbeat refreshes a participant's liveness.
func (h *Hub) heartbeat(sessionID uuid.UUID, participantID string) {
	now := time.Now()
	h.mu.Lock()
	if r, ok := h.sessions[sessionID]; ok {
		if entry, ok := r.roster[participantID]; ok {
			entry.lastSeen = now
			entry.participant.LastSeen = now
		}
	}
	h.mu.Unlock()
}

// left removes a participant who announced leaving. The websocket may stay
// open briefly; eviction on disconnect skips already-removed entries.
func (h *Hub) left(sessionID uuid.UUID, participantID string) {
	h.mu.Lock()
	if r, ok := h.sessions[sessionID]; ok {
		delete(r.roster, participantID)
	}
	h.mu.Unlock()
}

// Roster returns the session's participants sorted by join time.
func (h *Hub) Roster(sessionID uuid.UUID) []models.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.sessions[sessionID]
	if r == nil {
		return nil
	}
	out := make([]models.Participant, 0, len(r.roster))
	for _, entry := range r.roster {
		out = append(out, entry.participant)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (h *Hub) broadcastRoster(sessionID uuid.UUID) {
	h.Broadcast(sessionID, models.EventParticipants, models.ParticipantsPayload{Users: h.Roster(sessionID)})
}

// deliverLocal writes an event to this instance's clients only.
func (h *Hub) deliverLocal(sessionID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return
		}
	}
	msg := models.Envelope{Event: models.EventType(event), Data: data}

	h.mu.RLock()
	r := h.sessions[sessionID]
	if r == nil {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// slow consumer, drop rather than block the room
		}
	}
}

// Broadcast publishes an event to every participant in the session across
// all instances. With Redis wired, delivery happens once via the
// subscription callback; without it, locally.
func (h *Hub) Broadcast(sessionID uuid.UUID, event models.EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishSessionEvent(sessionID, string(event), data); err == nil {
			return
		}
		h.logger.Warn("redis fanout publish failed, delivering locally", zap.Error(err))
	}
	h.deliverLocal(sessionID, string(event), json.RawMessage(data))
}

// sendTo writes an event to one connected client.
func (h *Hub) sendTo(sessionID uuid.UUID, clientID string, event models.EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	var c *Client
	if r, ok := h.sessions[sessionID]; ok {
		c = r.clients[clientID]
	}
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- models.Envelope{Event: event, Data: data}:
	default:
	}
}

func (h *Hub) sweepLoop() {
	interval := h.heartbeatTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.sweepStop:
			return
		case <-ticker.C:
			h.evictStale()
		}
	}
}

type eviction struct {
	sessionID     uuid.UUID
	participantID string
}

func (h *Hub) evictStale() {
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	var evicted []eviction

	h.mu.Lock()
	for sessionID, r := range h.sessions {
		for pid, entry := range r.roster {
			if entry.lastSeen.Before(cutoff) {
				delete(r.roster, pid)
				evicted = append(evicted, eviction{sessionID: sessionID, participantID: pid})
			}
		}
	}
	h.mu.Unlock()

	for _, e := range evicted {
		h.logger.Info("participant evicted after heartbeat timeout",
			zap.String("session_id", e.sessionID.String()),
			zap.String("participant_id", e.participantID))
		h.Broadcast(e.sessionID, models.EventLeave, models.LeavePayload{ParticipantID: e.participantID})
		h.broadcastRoster(e.sessionID)
	}
}
