// Package api is the REST client for the collaboration backend: session
// lifecycle, recording uploads, and transcript slices.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// envelope mirrors the backend's response body.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client talks to the backend REST surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// SetToken sets the join token sent as a Bearer header on every request.
// Ingest and completion endpoints reject requests without it.
func (c *Client) SetToken(token string) {
	c.token = token
}

// CreateSessionResult is the backend's reply to a session create.
type CreateSessionResult struct {
	SessionID string `json:"session_id"`
	JoinURL   string `json:"join_url"`
}

// SessionInfo is the backend's session read model.
type SessionInfo struct {
	Title      string `json:"title"`
	Category   string `json:"category"`
	Status     string `json:"status"`
	HostID     string `json:"host_id"`
	Link       string `json:"link,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// UploadResult carries the server-assigned locator and upload correlation id.
type UploadResult struct {
	UploadID string `json:"upload_id,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

// CreateSession creates a new session and returns its id and join URL.
func (c *Client) CreateSession(ctx context.Context, title, category, hostID string) (*CreateSessionResult, error) {
	var out CreateSessionResult
	body := map[string]string{"title": title, "category": category, "host_id": hostID}
	if err := c.postJSON(ctx, "/sessions", body, &out); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &out, nil
}

// GetSession fetches the session row; the client core refreshes its cached
// copy with this on join.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	var out SessionInfo
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &out, nil
}

// CompleteSession flushes the final recording locator to the backend. The
// endpoint is idempotent server-side so racing participants cannot close a
// session twice.
func (c *Client) CompleteSession(ctx context.Context, sessionID, finalVideoURL string, participantCount int) error {
	body := map[string]interface{}{
		"session_id":        sessionID,
		"final_video_url":   finalVideoURL,
		"participant_count": participantCount,
	}
	if err := c.postJSON(ctx, "/complete-session", body, nil); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// UploadRecording uploads a whole payload in one multipart request (below the
// chunking threshold).
func (c *Client) UploadRecording(ctx context.Context, sessionID, kind string, payload []byte) (*UploadResult, error) {
	fields := map[string]string{"kind": kind}
	var out UploadResult
	if err := c.postMultipart(ctx, "/recordings/"+sessionID, fields, "payload", sessionID+"_"+kind+".webm", payload, &out); err != nil {
		return nil, fmt.Errorf("upload recording: %w", err)
	}
	return &out, nil
}

// UploadChunk uploads one chunk of a large payload. The first chunk's reply
// assigns the uploadID that must be carried on every subsequent chunk.
func (c *Client) UploadChunk(ctx context.Context, sessionID, kind string, chunkIndex, totalChunks int, uploadID string, payload []byte) (*UploadResult, error) {
	fields := map[string]string{
		"kind":         kind,
		"chunk_index":  strconv.Itoa(chunkIndex),
		"total_chunks": strconv.Itoa(totalChunks),
	}
	if uploadID != "" {
		fields["upload_id"] = uploadID
	}
	var out UploadResult
	name := fmt.Sprintf("%s_chunk_%d.webm", sessionID, chunkIndex)
	if err := c.postMultipart(ctx, "/recordings/"+sessionID+"/chunk", fields, "payload", name, payload, &out); err != nil {
		return nil, fmt.Errorf("upload chunk %d/%d: %w", chunkIndex, totalChunks, err)
	}
	return &out, nil
}

// FinalizeUpload asks the backend to reassemble a chunked upload and return
// the final locator.
func (c *Client) FinalizeUpload(ctx context.Context, sessionID, uploadID string) (*UploadResult, error) {
	var out UploadResult
	if err := c.postJSON(ctx, "/recordings/"+sessionID+"/finalize", map[string]string{"upload_id": uploadID}, &out); err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}
	return &out, nil
}

// UpdateTranscript ships an audio slice to the transcription endpoint.
// Failures here are non-critical by contract; callers log and drop.
func (c *Client) UpdateTranscript(ctx context.Context, sessionID string, audio []byte) error {
	name := fmt.Sprintf("%s_transcript_%d.webm", sessionID, time.Now().UnixMilli())
	if err := c.postMultipart(ctx, "/update-transcript/"+sessionID, nil, "audio", name, audio, nil); err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, fileField, fileName string, payload []byte, out interface{}) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile(fileField, fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(payload); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
