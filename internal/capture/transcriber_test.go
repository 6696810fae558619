package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTranscriptBackend struct {
	mu     sync.Mutex
	slices [][]byte
	fail   bool
}

func (f *fakeTranscriptBackend) UpdateTranscript(ctx context.Context, sessionID string, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("speech service unavailable")
	}
	cp := make([]byte, len(audio))
	copy(cp, audio)
	f.slices = append(f.slices, cp)
	return nil
}

func (f *fakeTranscriptBackend) shipped() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.slices))
	copy(out, f.slices)
	return out
}

func TestTranscriberShipsAccumulatedSlices(t *testing.T) {
	backend := &fakeTranscriptBackend{}
	tr := NewTranscriber("s1", backend, 20*time.Millisecond, nil)
	stream := newFakeStream(0)

	done := make(chan struct{})
	go func() {
		tr.Run(context.Background(), stream)
		close(done)
	}()

	stream.feed([]byte("one "), []byte("two"))
	deadline := time.Now().Add(2 * time.Second)
	for len(backend.shipped()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	slices := backend.shipped()
	if len(slices) == 0 {
		t.Fatal("no slice shipped on the interval")
	}
	if !bytes.Equal(slices[0], []byte("one two")) {
		t.Fatalf("slice = %q, want accumulated chunks", slices[0])
	}

	stream.Close()
	<-done
}

func TestTranscriberShipsFinalPartialSliceOnCancel(t *testing.T) {
	backend := &fakeTranscriptBackend{}
	tr := NewTranscriber("s1", backend, time.Hour, nil) // interval never fires
	stream := newFakeStream(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, stream)
		close(done)
	}()

	stream.feed([]byte("tail"))
	// Let the run loop drain the chunk before cancelling.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	slices := backend.shipped()
	if len(slices) != 1 || !bytes.Equal(slices[0], []byte("tail")) {
		t.Fatalf("final slices = %q, want the buffered tail shipped once", slices)
	}
}

func TestTranscriberDropsFailedSlicesAndContinues(t *testing.T) {
	backend := &fakeTranscriptBackend{fail: true}
	tr := NewTranscriber("s1", backend, 10*time.Millisecond, nil)
	stream := newFakeStream(0)

	done := make(chan struct{})
	go func() {
		tr.Run(context.Background(), stream)
		close(done)
	}()

	stream.feed([]byte("lost"))
	time.Sleep(50 * time.Millisecond)

	backend.mu.Lock()
	backend.fail = false
	backend.mu.Unlock()
	stream.feed([]byte("kept"))

	deadline := time.Now().Add(2 * time.Second)
	for len(backend.shipped()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stream.Close()
	<-done

	slices := backend.shipped()
	if len(slices) == 0 {
		t.Fatal("transcriber stopped after a dropped slice")
	}
	for _, s := range slices {
		if bytes.Contains(s, []byte("lost")) {
			t.Fatalf("dropped slice was retried: %q", s)
		}
	}
}
