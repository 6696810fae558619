package transcripts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Recognizer turns an audio slice into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio io.Reader) (string, error)
}

// HTTPRecognizer posts audio to an external speech-to-text service that
// replies {"text": "..."}.
type HTTPRecognizer struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewHTTPRecognizer creates a recognizer against the given endpoint.
func NewHTTPRecognizer(endpoint string, logger *zap.Logger) *HTTPRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRecognizer{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

// Recognize sends the slice and returns the recognized text. An empty
// transcript is a valid result for silent audio.
func (r *HTTPRecognizer) Recognize(ctx context.Context, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/webm")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("speech service status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode speech response: %w", err)
	}
	return out.Text, nil
}
