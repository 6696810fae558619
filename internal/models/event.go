package models

import "encoding/json"

// EventType discriminates channel events. The set is closed: unknown tags are
// logged and dropped by the router, never dispatched.
type EventType string

const (
	EventJoin         EventType = "join"
	EventLeave        EventType = "leave"
	EventChat         EventType = "chat"
	EventWhiteboard   EventType = "whiteboard"
	EventParticipants EventType = "participants"
	EventPoll         EventType = "poll"
	EventVote         EventType = "vote"
	EventRecording    EventType = "recording"
	EventSignal       EventType = "signal"
	EventHeartbeat    EventType = "heartbeat"
	EventPing         EventType = "ping"
	EventPong         EventType = "pong"
	EventClose        EventType = "close"
)

var knownEvents = map[EventType]struct{}{
	EventJoin: {}, EventLeave: {}, EventChat: {}, EventWhiteboard: {},
	EventParticipants: {}, EventPoll: {}, EventVote: {}, EventRecording: {},
	EventSignal: {}, EventHeartbeat: {}, EventPing: {}, EventPong: {},
	EventClose: {},
}

// Known reports whether t is part of the closed event set.
func (t EventType) Known() bool {
	_, ok := knownEvents[t]
	return ok
}

// Envelope is the wire framing for every channel event.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is published once per successful (re)connection.
type JoinPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

// LeavePayload announces a participant leaving the session.
type LeavePayload struct {
	ParticipantID string `json:"participant_id"`
}

// ParticipantsPayload is the server-maintained roster broadcast.
type ParticipantsPayload struct {
	Users []Participant `json:"users"`
}

// SignalPayload relays peer-connection signaling through the channel. To
// addresses a single participant; everyone else ignores it.
type SignalPayload struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      string          `json:"kind"` // "offer", "answer", "candidate"
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ClosePayload terminates the session for every participant.
type ClosePayload struct {
	SessionID string `json:"session_id"`
}

// HeartbeatPayload keeps a participant's presence fresh.
type HeartbeatPayload struct {
	ParticipantID string `json:"participant_id"`
}
