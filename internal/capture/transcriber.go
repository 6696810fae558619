package capture

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TranscriptBackend ships an audio slice to the transcription endpoint;
// *api.Client satisfies it.
type TranscriptBackend interface {
	UpdateTranscript(ctx context.Context, sessionID string, audio []byte) error
}

// Transcriber periodically ships accumulated microphone audio to the
// transcription endpoint. It runs on its own cloned stream, independent of
// the audio recorder; failures are logged and dropped, never retried
// indefinitely, and never block recording.
type Transcriber struct {
	sessionID string
	backend   TranscriptBackend
	interval  time.Duration
	logger    *zap.Logger
}

// NewTranscriber creates a transcription slicer.
func NewTranscriber(sessionID string, backend TranscriptBackend, interval time.Duration, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Transcriber{sessionID: sessionID, backend: backend, interval: interval, logger: logger}
}

// Run consumes the stream until it closes or ctx is done, shipping one slice
// per interval. The final partial slice is shipped on exit.
func (t *Transcriber) Run(ctx context.Context, stream Stream) {
	defer stream.Close()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var buffered []byte
	ship := func() {
		if len(buffered) == 0 {
			return
		}
		slice := buffered
		buffered = nil
		// Fresh context so the final slice still ships after ctx cancels.
		shipCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.backend.UpdateTranscript(shipCtx, t.sessionID, slice); err != nil {
			t.logger.Warn("transcript slice dropped", zap.Error(err), zap.Int("bytes", len(slice)))
		}
	}

	for {
		select {
		case <-ctx.Done():
			ship()
			return
		case chunk, ok := <-stream.Chunks():
			if !ok {
				ship()
				return
			}
			buffered = append(buffered, chunk...)
		case <-ticker.C:
			ship()
		}
	}
}
