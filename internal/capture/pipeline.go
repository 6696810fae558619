package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
	"github.com/inklive/collab/internal/upload"
)

// StateListener observes per-stream lifecycle transitions (e.g. so the host
// can broadcast recording status).
type StateListener func(kind string, state StreamState)

// Pipeline owns both capture streams for one session: the canvas recorder,
// the audio recorder, and the transcription slicer on a cloned microphone
// stream. Media stream objects are exclusively owned here once acquired; the
// session state is only read, never written.
type Pipeline struct {
	sessionID   string
	surface     Surface
	mic         Microphone
	uploader    *upload.Uploader
	transcriber *Transcriber
	listener    StateListener
	logger      *zap.Logger

	canvas *Recorder
	audio  *Recorder

	mu            sync.Mutex
	finalVideoURL string
	stopped       bool

	cancelTranscribe context.CancelFunc
	transcribeDone   chan struct{}
}

// NewPipeline creates a capture pipeline for one session.
func NewPipeline(sessionID string, surface Surface, mic Microphone, uploader *upload.Uploader, transcriber *Transcriber, listener StateListener, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if listener == nil {
		listener = func(string, StreamState) {}
	}
	return &Pipeline{
		sessionID:   sessionID,
		surface:     surface,
		mic:         mic,
		uploader:    uploader,
		transcriber: transcriber,
		listener:    listener,
		logger:      logger,
		canvas:      NewRecorder(models.RecordingKindCanvas, logger),
		audio:       NewRecorder(models.RecordingKindAudio, logger),
	}
}

// CanvasState returns the canvas stream's lifecycle state.
func (p *Pipeline) CanvasState() StreamState { return p.canvas.State() }

// AudioState returns the audio stream's lifecycle state.
func (p *Pipeline) AudioState() StreamState { return p.audio.State() }

// Start initializes both capture streams. Call it once the capture surface
// has signaled readiness; the microphone permission resolves inside. Either
// stream failing is terminal for that stream only; the other proceeds.
func (p *Pipeline) Start(ctx context.Context) {
	p.startAudio(ctx)
	p.startCanvas()
}

func (p *Pipeline) startAudio(ctx context.Context) {
	p.audio.SetInitializing()
	p.listener(models.RecordingKindAudio, StateInitializing)

	stream, err := p.mic.Open(ctx)
	if err != nil {
		p.audio.Fail(err)
		p.listener(models.RecordingKindAudio, StateFailed)
		return
	}

	// The transcription slicer gets its own cloned handle; the recorder's
	// stream is never shared by reference.
	if p.transcriber != nil {
		if clone, cloneErr := stream.Clone(); cloneErr != nil {
			p.logger.Warn("transcript stream clone failed", zap.Error(cloneErr))
		} else {
			tctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			p.mu.Lock()
			p.cancelTranscribe = cancel
			p.transcribeDone = done
			p.mu.Unlock()
			go func() {
				defer close(done)
				p.transcriber.Run(tctx, clone)
			}()
		}
	}

	if err := p.audio.Start(stream); err != nil {
		p.audio.Fail(err)
		p.listener(models.RecordingKindAudio, StateFailed)
		return
	}
	p.listener(models.RecordingKindAudio, StateRecording)
}

func (p *Pipeline) startCanvas() {
	p.canvas.SetInitializing()
	p.listener(models.RecordingKindCanvas, StateInitializing)

	stream, err := openCanvasStream(p.surface)
	if err != nil {
		p.canvas.Fail(err)
		p.listener(models.RecordingKindCanvas, StateFailed)
		return
	}
	if err := p.canvas.Start(stream); err != nil {
		p.canvas.Fail(err)
		p.listener(models.RecordingKindCanvas, StateFailed)
		return
	}
	p.listener(models.RecordingKindCanvas, StateRecording)
}

// Stop halts both recorders and uploads their payloads. Idempotent: the
// second and later calls are no-ops. Upload exhaustion marks the stream
// failed but never aborts the session.
func (p *Pipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancelTranscribe
	done := p.transcribeDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.finish(ctx, p.canvas)
	p.finish(ctx, p.audio)
}

func (p *Pipeline) finish(ctx context.Context, r *Recorder) {
	payload, err := r.Stop()
	if err != nil {
		if err != ErrNotRecording {
			p.listener(r.Kind(), StateFailed)
		}
		return
	}
	p.listener(r.Kind(), StateProcessing)
	if len(payload) == 0 {
		r.Complete()
		p.listener(r.Kind(), StateCompleted)
		return
	}

	url, err := p.uploader.Upload(ctx, p.sessionID, r.Kind(), payload)
	if err != nil {
		r.Fail(err)
		p.listener(r.Kind(), StateFailed)
		return
	}
	if r.Kind() == models.RecordingKindCanvas && url != "" {
		p.mu.Lock()
		p.finalVideoURL = url
		p.mu.Unlock()
	}
	r.Complete()
	p.listener(r.Kind(), StateCompleted)
	p.logger.Info("capture stream uploaded",
		zap.String("kind", r.Kind()),
		zap.Int("bytes", len(payload)),
		zap.String("video_url", url))
}

// FinalVideoURL returns the canvas recording's server-assigned locator, if
// the upload acknowledged one.
func (p *Pipeline) FinalVideoURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalVideoURL
}
