// Package capture drives local media capture: the whiteboard capture surface
// and the microphone, each feeding a recorder with its own lifecycle, plus the
// periodic transcription slicer.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Capture errors.
var (
	// ErrNoVideoTracks reports a capture stream that opened but carries no
	// video track; the caller falls through to the next strategy.
	ErrNoVideoTracks = errors.New("capture: stream has no video tracks")
	// ErrCaptureFailed is terminal for one stream after all fallback
	// strategies are exhausted. The other stream continues independently.
	ErrCaptureFailed = errors.New("capture: all capture strategies failed")
)

// Stream is an owned media stream. Chunks delivers encoded data on the
// recorder flush cadence; the channel closes when the stream ends. Err
// reports why, if the end was not a clean stop. Close stops the underlying
// tracks and must be idempotent.
//
// A stream is never shared by reference between two consumers: Clone opens an
// independent handle on the same source for a second consumer (e.g. the
// transcription slicer on the microphone).
type Stream interface {
	VideoTracks() int
	Chunks() <-chan []byte
	Err() error
	Clone() (Stream, error)
	Close() error
}

// Surface is the whiteboard capture surface: the drawable area exposed as a
// recordable stream.
type Surface interface {
	// CaptureStream opens a stream at the given frame rate. frameRate 0 asks
	// for the surface default (the fallback call signature some
	// implementations require).
	CaptureStream(frameRate int) (Stream, error)
}

// Microphone grants access to the local audio stream; Open resolves the
// permission prompt.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// defaultFrameRate is the preferred canvas capture rate.
const defaultFrameRate = 30

// openCanvasStream tries capture strategies in order: the preferred frame
// rate first, then the surface-default signature. Exhausting both is terminal
// for the canvas stream.
func openCanvasStream(surface Surface) (Stream, error) {
	stream, err := surface.CaptureStream(defaultFrameRate)
	if err == nil {
		if stream.VideoTracks() > 0 {
			return stream, nil
		}
		_ = stream.Close()
		err = ErrNoVideoTracks
	}
	firstErr := err

	stream, err = surface.CaptureStream(0)
	if err == nil {
		return stream, nil
	}
	return nil, fmt.Errorf("%w (preferred: %v, fallback: %v)", ErrCaptureFailed, firstErr, err)
}
