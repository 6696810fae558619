package capture

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// StreamState is the per-capture-stream lifecycle position.
type StreamState int

const (
	StateUninitialized StreamState = iota
	StateInitializing
	StateRecording
	StateProcessing
	StateCompleted
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotRecording reports a stop on a recorder that never reached recording.
var ErrNotRecording = errors.New("capture: recorder is not recording")

// Recorder accumulates one stream's chunks during recording and concatenates
// them into a single payload at stop time. The recorder exclusively owns its
// stream once started.
type Recorder struct {
	kind   string
	logger *zap.Logger

	mu     sync.Mutex
	state  StreamState
	stream Stream
	chunks [][]byte
	done   chan struct{}
}

// NewRecorder creates a recorder for one stream kind ("canvas" or "audio").
func NewRecorder(kind string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{kind: kind, logger: logger, state: StateUninitialized}
}

// State returns the current lifecycle state.
func (r *Recorder) State() StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Kind returns the stream kind.
func (r *Recorder) Kind() string { return r.kind }

// SetInitializing moves uninitialized → initializing. Called once the capture
// surface signals readiness and the permission grant resolved.
func (r *Recorder) SetInitializing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateUninitialized {
		r.state = StateInitializing
	}
}

// Fail forces the failed state from any non-terminal state.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCompleted || r.state == StateFailed {
		return
	}
	r.state = StateFailed
	r.logger.Warn("capture stream failed", zap.String("kind", r.kind), zap.Error(err))
}

// Start takes ownership of the stream and moves initializing → recording.
// Chunks are accumulated until Stop.
func (r *Recorder) Start(stream Stream) error {
	r.mu.Lock()
	if r.state != StateInitializing {
		st := r.state
		r.mu.Unlock()
		return errors.New("capture: cannot start recorder in state " + st.String())
	}
	r.stream = stream
	r.state = StateRecording
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("recording started", zap.String("kind", r.kind))
	go r.collect(stream)
	return nil
}

func (r *Recorder) collect(stream Stream) {
	defer close(r.done)
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		r.mu.Lock()
		r.chunks = append(r.chunks, buf)
		r.mu.Unlock()
	}
	// An uncaught stream error forces failed; a clean close is the normal
	// stop path.
	if err := stream.Err(); err != nil {
		r.Fail(err)
	}
}

// Stop closes the stream, waits for the last chunks, and returns the
// concatenated payload, moving recording → processing. Idempotent: a second
// stop is a no-op returning the same payload.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	switch r.state {
	case StateRecording:
		r.state = StateProcessing
	case StateProcessing, StateCompleted:
		done := r.done
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		return r.payload(), nil
	default:
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	stream := r.stream
	done := r.done
	r.mu.Unlock()

	_ = stream.Close()
	<-done

	r.mu.Lock()
	failed := r.state == StateFailed
	r.mu.Unlock()
	if failed {
		return nil, errors.New("capture: " + r.kind + " recorder failed")
	}
	r.logger.Info("recording stopped", zap.String("kind", r.kind), zap.Int("chunks", len(r.chunks)))
	return r.payload(), nil
}

// Complete marks the stream completed after its payload was handled.
func (r *Recorder) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateProcessing {
		r.state = StateCompleted
	}
}

func (r *Recorder) payload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := 0
	for _, c := range r.chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}
