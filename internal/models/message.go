package models

// ChatMessage is one chat entry. Messages are append-only in local receipt
// order; no global total order is assumed across senders.
type ChatMessage struct {
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	System    bool   `json:"system,omitempty"`
}
