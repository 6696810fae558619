package models

import "time"

// Participant is a session member. The id comes from the external identity
// provider and is opaque to this system.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// DisplayName derives the default display name from a participant id,
// matching what clients publish on join.
func DisplayName(participantID string) string {
	short := participantID
	if len(short) > 5 {
		short = short[:5]
	}
	return "User " + short
}
