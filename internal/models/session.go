package models

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle status.
const (
	SessionStatusPending = "pending"
	SessionStatusLive    = "live"
	SessionStatusClosed  = "closed"
)

// Session is one collaboration session. The client holds a cached copy
// refreshed on join; only the backend's row is authoritative.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Category          string     `json:"category"`
	HostParticipantID string     `json:"host_participant_id"`
	Status            string     `json:"status"`
	JoinURL           string     `json:"join_url,omitempty"`
	FinalVideoURL     string     `json:"final_video_url,omitempty"`
	Transcript        string     `json:"transcript,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}
