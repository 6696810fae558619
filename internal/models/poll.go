package models

// DefaultPollQuestion is the question the host launches to ask whether the
// session can end.
const DefaultPollQuestion = "Is your doubt resolved?"

// Poll is the at-most-one active poll per session.
type Poll struct {
	Question  string `json:"question"`
	CreatedAt int64  `json:"created_at"`
}

// Vote is one participant's yes/no answer to the active poll.
type Vote struct {
	ParticipantID string `json:"participant_id"`
	Vote          bool   `json:"vote"`
}
