package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
)

// CoordinatorState is the termination state machine position.
type CoordinatorState int

const (
	CoordIdle CoordinatorState = iota
	CoordPollOpen
	CoordTallying
	CoordClosing
	CoordClosed
)

// Recorder is the capture side the coordinator controls on close. Stop must
// be idempotent.
type Recorder interface {
	Stop(ctx context.Context)
	FinalVideoURL() string
}

// Completer flushes the final recording locator to the session-completion
// endpoint.
type Completer interface {
	CompleteSession(ctx context.Context, sessionID, finalVideoURL string, participantCount int) error
}

// Coordinator implements quorum-based session close. The host opens a poll;
// every vote update re-tallies; a strict majority of affirmative votes fires
// the close sequence exactly once, even when a local tally races a remote
// close event.
type Coordinator struct {
	sessionID string
	isHost    bool
	store     *Store
	pub       Publisher
	completer Completer
	recorder  Recorder
	navigate  func()
	logger    *zap.Logger

	mu     sync.Mutex
	state  CoordinatorState
	closed bool // single-fire latch for the close sequence
}

// NewCoordinator creates a termination coordinator for one session.
func NewCoordinator(sessionID string, isHost bool, store *Store, pub Publisher, completer Completer, recorder Recorder, navigate func(), logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if navigate == nil {
		navigate = func() {}
	}
	return &Coordinator{
		sessionID: sessionID,
		isHost:    isHost,
		store:     store,
		pub:       pub,
		completer: completer,
		recorder:  recorder,
		navigate:  navigate,
		logger:    logger,
	}
}

// Attach wires the coordinator into the router's poll, vote, and close hooks.
func (c *Coordinator) Attach(r *Router) {
	r.OnPoll(func(p models.Poll) { c.pollOpened() })
	r.OnVote(c.voteRecorded)
	r.OnClose(func(models.ClosePayload) { c.remoteClose() })
}

// State returns the current machine state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartPoll publishes the end-of-session poll. Host-only.
func (c *Coordinator) StartPoll() error {
	if !c.isHost {
		return nil
	}
	c.mu.Lock()
	if c.state != CoordIdle {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	poll := models.Poll{Question: models.DefaultPollQuestion, CreatedAt: time.Now().UnixMilli()}
	err := c.pub.Publish(models.EventPoll, poll)
	if err != nil {
		c.logger.Warn("poll publish queued", zap.Error(err))
	}
	return err
}

// NotifyRecording broadcasts the host-authoritative recording status.
func (c *Coordinator) NotifyRecording(isRecording bool) {
	if !c.isHost {
		return
	}
	_ = c.pub.Publish(models.EventRecording, models.RecordingStatusUpdate{
		IsRecording: isRecording,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
}

func (c *Coordinator) pollOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CoordIdle {
		c.state = CoordPollOpen
	}
}

// voteRecorded re-tallies after every vote update. Closing requires a strict
// majority: yesVotes > totalVotes/2, so 1-of-2 and 2-of-4 do not close but
// 2-of-3 does.
func (c *Coordinator) voteRecorded() {
	c.mu.Lock()
	if c.state == CoordPollOpen {
		c.state = CoordTallying
	}
	if c.state != CoordTallying {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	yes, total := c.store.VoteTally()
	if total == 0 || 2*yes <= total {
		return
	}
	c.logger.Info("quorum reached", zap.Int("yes", yes), zap.Int("total", total))
	c.close(true)
}

// remoteClose short-circuits straight to closed without re-evaluating votes.
// The close event is not re-published.
func (c *Coordinator) remoteClose() {
	c.close(false)
}

// Close runs the close sequence directly (e.g. host forcing the end).
func (c *Coordinator) Close() {
	c.close(true)
}

// close executes the close sequence at most once: stop recorders, then for a
// locally-triggered close flush the final locator and publish close, navigate
// away. A remote close only tears down locally; the closing participant
// already flushed. The latch makes concurrent triggers a no-op.
func (c *Coordinator) close(publishClose bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = CoordClosing
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	finalURL := ""
	if c.recorder != nil {
		c.recorder.Stop(ctx)
		finalURL = c.recorder.FinalVideoURL()
	}

	if publishClose && c.completer != nil {
		if err := c.completer.CompleteSession(ctx, c.sessionID, finalURL, c.store.ParticipantCount()); err != nil {
			c.logger.Error("complete-session flush failed", zap.Error(err))
		}
	}

	if publishClose {
		if err := c.pub.Publish(models.EventClose, models.ClosePayload{SessionID: c.sessionID}); err != nil {
			c.logger.Warn("close publish queued", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.state = CoordClosed
	c.mu.Unlock()
	c.logger.Info("session closed", zap.String("session_id", c.sessionID))

	c.navigate()
}
