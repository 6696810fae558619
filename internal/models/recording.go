package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording stream kinds.
const (
	RecordingKindCanvas = "canvas"
	RecordingKindAudio  = "audio"
)

// Recording lifecycle status.
const (
	RecordingStatusUploading  = "uploading"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is the server-side row for an uploaded capture (direct or
// reassembled from chunks), eventually backed by S3.
type Recording struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Kind      string    `json:"kind"`
	UploadID  uuid.UUID `json:"upload_id,omitempty"`
	VideoURL  string    `json:"video_url,omitempty"`
	S3Key     string    `json:"s3_key,omitempty"`
	FileSize  int64     `json:"file_size"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordingStatusUpdate is the host-authoritative recording notification
// broadcast to the session.
type RecordingStatusUpdate struct {
	IsRecording bool   `json:"is_recording"`
	Timestamp   string `json:"timestamp"`
}
