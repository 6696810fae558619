// Package client composes the session-side components into one headless
// participant: channel transport, event router, state store, termination
// coordinator, capture pipeline, and the peer audio overlay.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inklive/collab/config"
	"github.com/inklive/collab/internal/capture"
	"github.com/inklive/collab/internal/channel"
	"github.com/inklive/collab/internal/models"
	"github.com/inklive/collab/internal/peer"
	"github.com/inklive/collab/internal/session"
	"github.com/inklive/collab/internal/upload"
	"github.com/inklive/collab/pkg/api"
)

// ErrNotJoined is returned by participant actions before Join succeeds.
var ErrNotJoined = errors.New("client: not joined")

// Options selects the optional capabilities of a participant. Capture is
// enabled only when both Surface and Mic are provided; the peer audio overlay
// only when Playback is provided.
type Options struct {
	SessionID     string
	ParticipantID string // generated when empty
	Token         string
	IsHost        bool

	Surface  capture.Surface
	Mic      capture.Microphone
	Playback peer.Playback
	Source   peer.AudioSource

	ICEServers []string
	Navigate   func() // invoked after the close sequence finishes

	Dialer channel.Dialer // transport override for tests
}

// Core is one participant's live view of a session. All components hang off
// the same store and channel; Core adds lifecycle and the user-facing actions.
type Core struct {
	sessionID     string
	participantID string
	isHost        bool
	logger        *zap.Logger

	backend  *api.Client
	ch       *channel.Client
	store    *session.Store
	router   *session.Router
	coord    *session.Coordinator
	pipeline *capture.Pipeline
	overlay  *peer.Overlay

	heartbeatEvery time.Duration

	mu            sync.Mutex
	joined        bool
	left          bool
	stopHeartbeat chan struct{}
}

// New wires a participant core from configuration. Nothing connects until
// Join.
func New(cfg *config.Config, opts Options, logger *zap.Logger) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ParticipantID == "" {
		opts.ParticipantID = uuid.NewString()
	}
	if opts.Navigate == nil {
		opts.Navigate = func() {}
	}

	backend := api.NewClient(cfg.API.BaseURL, logger)
	backend.SetToken(opts.Token)
	store := session.NewStore()

	ch := channel.NewClient(opts.SessionID, opts.ParticipantID, opts.Token, channel.Options{
		WSURL:             cfg.Channel.WSURL,
		ReconnectAttempts: cfg.Channel.ReconnectAttempts,
		ReconnectDelay:    time.Duration(cfg.Channel.ReconnectDelaySec) * time.Second,
		ConnectTimeout:    time.Duration(cfg.Channel.ConnectTimeoutSec) * time.Second,
		PingInterval:      time.Duration(cfg.Channel.PingIntervalSec) * time.Second,
		OutboxBatchSize:   cfg.Channel.OutboxBatchSize,
		OutboxBatchDelay:  time.Duration(cfg.Channel.OutboxBatchDelayMs) * time.Millisecond,
		Dialer:            opts.Dialer,
	}, logger)

	router := session.NewRouter(store, ch, opts.ParticipantID, logger)

	var pipeline *capture.Pipeline
	if opts.Surface != nil && opts.Mic != nil {
		uploader := upload.NewUploader(backend, upload.Options{
			ChunkSize:   cfg.Capture.ChunkSizeBytes,
			MaxAttempts: cfg.Capture.UploadRetries,
			Backoff:     time.Duration(cfg.Capture.UploadRetryBackoffSec) * time.Second,
		}, logger)
		transcriber := capture.NewTranscriber(opts.SessionID, backend,
			time.Duration(cfg.Capture.TranscriptSliceSec)*time.Second, logger)
		pipeline = capture.NewPipeline(opts.SessionID, opts.Surface, opts.Mic, uploader, transcriber, nil, logger)
	}

	// Coordinator gets the pipeline as its recorder; a nil *Pipeline must stay
	// a nil interface.
	var recorder session.Recorder
	if pipeline != nil {
		recorder = pipeline
	}
	coord := session.NewCoordinator(opts.SessionID, opts.IsHost, store, ch, backend, recorder, opts.Navigate, logger)
	coord.Attach(router)

	c := &Core{
		sessionID:      opts.SessionID,
		participantID:  opts.ParticipantID,
		isHost:         opts.IsHost,
		logger:         logger,
		backend:        backend,
		ch:             ch,
		store:          store,
		router:         router,
		coord:          coord,
		pipeline:       pipeline,
		heartbeatEvery: time.Duration(cfg.Channel.PingIntervalSec) * time.Second,
	}

	if opts.Playback != nil {
		c.overlay = peer.NewOverlay(opts.ParticipantID, ch, opts.Playback, opts.Source, opts.ICEServers, logger)
		router.OnJoin(c.overlay.HandleJoin)
		router.OnLeave(c.overlay.HandleLeave)
		router.OnSignal(c.overlay.HandleSignal)
	}

	router.Bind(ch)
	return c
}

// ParticipantID returns the local participant id.
func (c *Core) ParticipantID() string { return c.participantID }

// Store exposes the local session state for reads.
func (c *Core) Store() *session.Store { return c.store }

// Channel exposes the underlying channel client (state inspection, tests).
func (c *Core) Channel() *channel.Client { return c.ch }

// Join fetches the session, connects the channel, announces presence, and
// starts capture when enabled.
func (c *Core) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	info, err := c.backend.GetSession(ctx, c.sessionID)
	if err != nil {
		return err
	}
	id, _ := uuid.Parse(c.sessionID)
	c.store.SetSession(&models.Session{
		ID:                id,
		Title:             info.Title,
		Category:          info.Category,
		HostParticipantID: info.HostID,
		Status:            info.Status,
	})

	if err := c.ch.Connect(ctx); err != nil {
		return err
	}

	me := models.Participant{
		ID:       c.participantID,
		Name:     models.DisplayName(c.participantID),
		JoinedAt: time.Now(),
		LastSeen: time.Now(),
	}
	c.store.UpsertParticipant(me)
	if err := c.ch.Publish(models.EventJoin, models.JoinPayload{
		ParticipantID: c.participantID,
		Name:          me.Name,
	}); err != nil {
		c.logger.Warn("join announce queued", zap.Error(err))
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.joined = true
	c.stopHeartbeat = stop
	c.mu.Unlock()
	go c.heartbeatLoop(stop)

	if c.pipeline != nil {
		c.pipeline.Start(ctx)
		c.coord.NotifyRecording(true)
	}
	return nil
}

func (c *Core) isJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Core) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.ch.Publish(models.EventHeartbeat, models.HeartbeatPayload{ParticipantID: c.participantID})
		}
	}
}

// SendChat publishes a chat message and appends it locally; the router drops
// the relay echo as a duplicate.
func (c *Core) SendChat(text string) error {
	if !c.isJoined() {
		return ErrNotJoined
	}
	msg := models.ChatMessage{
		SenderID:  c.participantID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	c.store.AppendMessage(msg)
	return c.ch.Publish(models.EventChat, msg)
}

// SendWhiteboard publishes a full whiteboard snapshot. The timestamp is
// stamped here so receivers can drop stale snapshots.
func (c *Core) SendWhiteboard(snap models.WhiteboardSnapshot) error {
	if !c.isJoined() {
		return ErrNotJoined
	}
	if snap.Timestamp == 0 {
		snap.Timestamp = time.Now().UnixMilli()
	}
	c.store.SetWhiteboard(&snap)
	return c.ch.Publish(models.EventWhiteboard, snap)
}

// StartPoll opens the end-of-session poll. Host-only; a no-op otherwise.
func (c *Core) StartPoll() error {
	if !c.isJoined() {
		return ErrNotJoined
	}
	return c.coord.StartPoll()
}

// Vote records and publishes the local answer to the active poll.
func (c *Core) Vote(answer bool) error {
	if !c.isJoined() {
		return ErrNotJoined
	}
	v := models.Vote{ParticipantID: c.participantID, Vote: answer}
	return c.ch.Publish(models.EventVote, v)
}

// NotifyRecording broadcasts recording status. Host-only.
func (c *Core) NotifyRecording(on bool) {
	c.coord.NotifyRecording(on)
}

// EndSession runs the close sequence directly (host forcing the end): stop
// recorders, flush completion, publish close, navigate. Teardown of the local
// transport still requires Leave.
func (c *Core) EndSession() {
	c.coord.Close()
}

// Leave announces departure and tears the participant down: heartbeat stopped,
// capture stopped, peer connections closed, channel disconnected. Idempotent.
func (c *Core) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	stop := c.stopHeartbeat
	wasJoined := c.joined
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if wasJoined {
		_ = c.ch.Publish(models.EventLeave, models.LeavePayload{ParticipantID: c.participantID})
	}
	if c.pipeline != nil {
		c.pipeline.Stop(ctx)
	}
	if c.overlay != nil {
		c.overlay.Close()
	}
	c.ch.Disconnect()
}
