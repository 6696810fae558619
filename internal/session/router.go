package session

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
)

// Publisher is the outbound side the router needs: the channel client.
type Publisher interface {
	Publish(event models.EventType, payload interface{}) error
}

// Subscriber registers inbound event handlers: the channel client.
type Subscriber interface {
	Subscribe(event models.EventType, h func(data json.RawMessage))
}

// Router demultiplexes inbound named events into state-store reducers.
// Each handler updates exactly one slice of the store; no handler re-publishes
// within the same turn except ping, which replies pong. Only per-sender
// publish order is assumed: handlers tolerate arbitrary cross-sender
// interleaving via idempotent upserts and stale-event drops.
type Router struct {
	store   *Store
	pub     Publisher
	localID string
	logger  *zap.Logger

	onVote   func()
	onPoll   func(models.Poll)
	onClose  func(models.ClosePayload)
	onJoin   func(models.Participant)
	onLeave  func(participantID string)
	onSignal func(models.SignalPayload)
}

// NewRouter creates a router bound to a store and a publisher (for pong).
func NewRouter(store *Store, pub Publisher, localParticipantID string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, pub: pub, localID: localParticipantID, logger: logger}
}

// OnVote registers a hook invoked after a vote is recorded (the termination
// coordinator's tally trigger).
func (r *Router) OnVote(fn func()) { r.onVote = fn }

// OnPoll registers a hook invoked when a poll opens.
func (r *Router) OnPoll(fn func(models.Poll)) { r.onPoll = fn }

// OnClose registers a hook invoked on a remote close event.
func (r *Router) OnClose(fn func(models.ClosePayload)) { r.onClose = fn }

// OnJoin registers a hook invoked when a new participant joins (peer overlay).
func (r *Router) OnJoin(fn func(models.Participant)) { r.onJoin = fn }

// OnLeave registers a hook invoked when a participant leaves (peer overlay).
func (r *Router) OnLeave(fn func(participantID string)) { r.onLeave = fn }

// OnSignal registers a hook invoked for signals addressed to this client.
func (r *Router) OnSignal(fn func(models.SignalPayload)) { r.onSignal = fn }

// Bind subscribes every event of the closed set on the given subscriber.
// Bind must be called once per client; the client re-attaches the registry to
// each new underlying connection itself.
func (r *Router) Bind(sub Subscriber) {
	sub.Subscribe(models.EventJoin, r.handleJoin)
	sub.Subscribe(models.EventLeave, r.handleLeave)
	sub.Subscribe(models.EventChat, r.handleChat)
	sub.Subscribe(models.EventWhiteboard, r.handleWhiteboard)
	sub.Subscribe(models.EventParticipants, r.handleParticipants)
	sub.Subscribe(models.EventPoll, r.handlePoll)
	sub.Subscribe(models.EventVote, r.handleVote)
	sub.Subscribe(models.EventRecording, r.handleRecording)
	sub.Subscribe(models.EventSignal, r.handleSignal)
	sub.Subscribe(models.EventHeartbeat, r.handleHeartbeat)
	sub.Subscribe(models.EventPing, r.handlePing)
	sub.Subscribe(models.EventPong, func(json.RawMessage) {})
	sub.Subscribe(models.EventClose, r.handleClose)
}

func (r *Router) handleJoin(data json.RawMessage) {
	var p models.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ParticipantID == "" {
		r.logger.Debug("malformed join dropped", zap.Error(err))
		return
	}
	participant := models.Participant{
		ID:       p.ParticipantID,
		Name:     p.Name,
		JoinedAt: time.Now(),
		LastSeen: time.Now(),
	}
	fresh := true
	for _, existing := range r.store.Participants() {
		if existing.ID == p.ParticipantID {
			fresh = false
			break
		}
	}
	r.store.UpsertParticipant(participant)
	if fresh && p.ParticipantID != r.localID && r.onJoin != nil {
		r.onJoin(participant)
	}
}

func (r *Router) handleLeave(data json.RawMessage) {
	var p models.LeavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ParticipantID == "" {
		return
	}
	r.store.RemoveParticipant(p.ParticipantID)
	if r.onLeave != nil {
		r.onLeave(p.ParticipantID)
	}
}

func (r *Router) handleChat(data json.RawMessage) {
	var m models.ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		r.logger.Debug("malformed chat dropped", zap.Error(err))
		return
	}
	// At-least-once delivery: drop an immediate redelivery of the same message.
	if last, ok := r.store.LastMessage(); ok &&
		last.SenderID == m.SenderID && last.Timestamp == m.Timestamp && last.Text == m.Text {
		return
	}
	r.store.AppendMessage(m)
}

func (r *Router) handleWhiteboard(data json.RawMessage) {
	var snap models.WhiteboardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Debug("malformed whiteboard snapshot dropped", zap.Error(err))
		return
	}
	// Stale snapshots (older than what we hold) are ignored; concurrent edits
	// remain last writer wins.
	if cur := r.store.Whiteboard(); cur != nil && snap.Timestamp < cur.Timestamp {
		return
	}
	r.store.SetWhiteboard(&snap)
}

func (r *Router) handleParticipants(data json.RawMessage) {
	var p models.ParticipantsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r.store.ReplaceParticipants(p.Users)
}

func (r *Router) handlePoll(data json.RawMessage) {
	var p models.Poll
	if err := json.Unmarshal(data, &p); err != nil || p.Question == "" {
		return
	}
	if cur := r.store.ActivePoll(); cur != nil && cur.Question == p.Question && cur.CreatedAt == p.CreatedAt {
		return // duplicate delivery of the open poll
	}
	r.store.StartPoll(p)
	if r.onPoll != nil {
		r.onPoll(p)
	}
}

func (r *Router) handleVote(data json.RawMessage) {
	var v models.Vote
	if err := json.Unmarshal(data, &v); err != nil || v.ParticipantID == "" {
		return
	}
	// A vote arriving before its poll references nothing: dropped, not
	// buffered. Not an error condition.
	if !r.store.RecordVote(v) {
		r.logger.Debug("vote with no active poll dropped", zap.String("participant_id", v.ParticipantID))
		return
	}
	if r.onVote != nil {
		r.onVote()
	}
}

func (r *Router) handleRecording(data json.RawMessage) {
	var s models.RecordingStatusUpdate
	if err := json.Unmarshal(data, &s); err != nil {
		return
	}
	r.store.SetRecordingStatus(s)
}

func (r *Router) handleSignal(data json.RawMessage) {
	var s models.SignalPayload
	if err := json.Unmarshal(data, &s); err != nil {
		return
	}
	if s.To != r.localID {
		return
	}
	if r.onSignal != nil {
		r.onSignal(s)
	}
}

func (r *Router) handleHeartbeat(data json.RawMessage) {
	var h models.HeartbeatPayload
	if err := json.Unmarshal(data, &h); err != nil || h.ParticipantID == "" {
		return
	}
	for _, p := range r.store.Participants() {
		if p.ID == h.ParticipantID {
			p.LastSeen = time.Now()
			r.store.UpsertParticipant(p)
			return
		}
	}
}

// handlePing replies with pong. This is the liveness contract, not
// application data, and the only handler that re-publishes.
func (r *Router) handlePing(json.RawMessage) {
	if err := r.pub.Publish(models.EventPong, map[string]string{"participant_id": r.localID}); err != nil {
		r.logger.Debug("pong reply queued", zap.Error(err))
	}
}

func (r *Router) handleClose(data json.RawMessage) {
	var p models.ClosePayload
	_ = json.Unmarshal(data, &p)
	if r.onClose != nil {
		r.onClose(p)
	}
}
