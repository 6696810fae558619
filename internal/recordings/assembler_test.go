package recordings

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOutOfOrderChunksReassembleInIndexOrder(t *testing.T) {
	a := NewAssembler(time.Minute, nil)
	sessionID := uuid.New()

	id, err := a.Begin(sessionID, "canvas", 3)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	parts := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	for _, i := range []int{2, 0, 1} {
		complete, err := a.Add(id, sessionID, i, 3, parts[i])
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if complete != (i == 1) {
			t.Fatalf("add %d complete = %v", i, complete)
		}
	}

	gotSession, kind, payload, err := a.Assemble(id)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if gotSession != sessionID || kind != "canvas" {
		t.Fatalf("assemble returned %s/%s", gotSession, kind)
	}
	want := []byte("first-second-third")
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = %q, want %q", payload, want)
	}
	if len(payload) != len(parts[0])+len(parts[1])+len(parts[2]) {
		t.Fatal("assembled size differs from the sum of part sizes")
	}
	if a.PendingCount() != 0 {
		t.Fatal("assembled upload still pending")
	}
}

func TestDuplicateChunkAcceptedSilently(t *testing.T) {
	a := NewAssembler(time.Minute, nil)
	sessionID := uuid.New()
	id, _ := a.Begin(sessionID, "audio", 2)

	if _, err := a.Add(id, sessionID, 0, 2, []byte("aa")); err != nil {
		t.Fatalf("add: %v", err)
	}
	// A retried part must not fail or double-count.
	if _, err := a.Add(id, sessionID, 0, 2, []byte("aa")); err != nil {
		t.Fatalf("retried add: %v", err)
	}
	complete, err := a.Add(id, sessionID, 1, 2, []byte("bb"))
	if err != nil || !complete {
		t.Fatalf("final add complete=%v err=%v", complete, err)
	}

	_, _, payload, err := a.Assemble(id)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !bytes.Equal(payload, []byte("aabb")) {
		t.Fatalf("payload = %q", payload)
	}
}

func TestIncompleteAssembleFails(t *testing.T) {
	a := NewAssembler(time.Minute, nil)
	sessionID := uuid.New()
	id, _ := a.Begin(sessionID, "canvas", 2)
	_, _ = a.Add(id, sessionID, 0, 2, []byte("aa"))

	if _, _, _, err := a.Assemble(id); !errors.Is(err, ErrUploadIncomplete) {
		t.Fatalf("err = %v, want ErrUploadIncomplete", err)
	}
	// The incomplete upload stays pending for late chunks.
	if a.PendingCount() != 1 {
		t.Fatal("incomplete upload was discarded")
	}
}

func TestChunkValidation(t *testing.T) {
	a := NewAssembler(time.Minute, nil)
	sessionID := uuid.New()
	id, _ := a.Begin(sessionID, "canvas", 2)

	if _, err := a.Add(uuid.New(), sessionID, 0, 2, nil); !errors.Is(err, ErrUnknownUpload) {
		t.Fatalf("unknown upload: %v", err)
	}
	if _, err := a.Add(id, uuid.New(), 0, 2, nil); !errors.Is(err, ErrUploadMismatch) {
		t.Fatalf("session mismatch: %v", err)
	}
	if _, err := a.Add(id, sessionID, 0, 3, nil); !errors.Is(err, ErrUploadMismatch) {
		t.Fatalf("total mismatch: %v", err)
	}
	if _, err := a.Add(id, sessionID, 2, 2, nil); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("out of range: %v", err)
	}
	if _, err := a.Add(id, sessionID, -1, 2, nil); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("negative index: %v", err)
	}
}

func TestSweepEvictsAbandonedUploads(t *testing.T) {
	a := NewAssembler(10*time.Millisecond, nil)
	sessionID := uuid.New()
	id, _ := a.Begin(sessionID, "canvas", 2)
	_, _ = a.Add(id, sessionID, 0, 2, []byte("aa"))

	time.Sleep(30 * time.Millisecond)
	a.Sweep()

	if a.PendingCount() != 0 {
		t.Fatal("abandoned upload survived the sweep")
	}
	if _, err := a.Add(id, sessionID, 1, 2, []byte("bb")); !errors.Is(err, ErrUnknownUpload) {
		t.Fatalf("late chunk after eviction: %v", err)
	}
}
