package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/inklive/collab/internal/models"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	urls  []string
}

func (f *fakeCompleter) CompleteSession(ctx context.Context, sessionID, finalVideoURL string, participantCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.urls = append(f.urls, finalVideoURL)
	return nil
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	stops int32
	url   string
}

func (f *fakeRecorder) Stop(ctx context.Context) { atomic.AddInt32(&f.stops, 1) }
func (f *fakeRecorder) FinalVideoURL() string    { return f.url }

var _ Recorder = (*fakeRecorder)(nil)

func quorumFixture(t *testing.T) (*Store, *Router, *Coordinator, *fakeCompleter, *fakeRecorder, *int32) {
	t.Helper()
	store := NewStore()
	pub := &capturingPublisher{}
	r := NewRouter(store, pub, "host", nil)
	completer := &fakeCompleter{}
	recorder := &fakeRecorder{url: "https://cdn.test/recordings/s1/canvas.webm"}
	var navigated int32
	c := NewCoordinator("s1", true, store, pub, completer, recorder, func() { atomic.AddInt32(&navigated, 1) }, nil)
	c.Attach(r)
	return store, r, c, completer, recorder, &navigated
}

func openPoll(t *testing.T, r *Router) {
	t.Helper()
	r.handlePoll(mustJSON(t, models.Poll{Question: models.DefaultPollQuestion, CreatedAt: 1}))
}

func vote(t *testing.T, r *Router, id string, yes bool) {
	t.Helper()
	r.handleVote(mustJSON(t, models.Vote{ParticipantID: id, Vote: yes}))
}

func TestSingleYesVoteIsAMajority(t *testing.T) {
	_, r, c, completer, _, _ := quorumFixture(t)

	openPoll(t, r)
	vote(t, r, "p1", true)

	if c.State() != CoordClosed {
		t.Fatalf("state = %v, want closed on 1 yes of 1", c.State())
	}
	if completer.count() != 1 {
		t.Fatalf("CompleteSession called %d times, want 1", completer.count())
	}
}

func TestTwoOfThreeCloses(t *testing.T) {
	_, r, c, completer, recorder, navigated := quorumFixture(t)

	openPoll(t, r)
	vote(t, r, "p1", true)
	_ = c
	vote(t, r, "p2", false)
	if c.State() == CoordClosed {
		t.Fatal("1 yes of 2 closed the session")
	}
	vote(t, r, "p3", true)

	if c.State() != CoordClosed {
		t.Fatalf("state = %v, want closed on 2 yes of 3", c.State())
	}
	if completer.count() != 1 {
		t.Fatalf("CompleteSession called %d times, want 1", completer.count())
	}
	if got := atomic.LoadInt32(&recorder.stops); got != 1 {
		t.Fatalf("recorder stopped %d times, want 1", got)
	}
	if atomic.LoadInt32(navigated) != 1 {
		t.Fatal("navigate not invoked exactly once")
	}
	if completer.urls[0] != "https://cdn.test/recordings/s1/canvas.webm" {
		t.Fatalf("final video url = %q", completer.urls[0])
	}
}

func TestBareMajorityDoesNotClose(t *testing.T) {
	cases := []struct {
		name  string
		votes []bool
	}{
		{"one-of-two", []bool{true, false}},
		{"two-of-four", []bool{true, true, false, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, r, c, completer, _, _ := quorumFixture(t)
			openPoll(t, r)
			for i, v := range tc.votes {
				vote(t, r, string(rune('a'+i)), v)
			}
			if c.State() == CoordClosed {
				t.Fatal("closed without a strict majority")
			}
			if completer.count() != 0 {
				t.Fatal("CompleteSession called without quorum")
			}
		})
	}
}

func TestVoteFlipCountsOncePerParticipant(t *testing.T) {
	store, r, c, _, _, _ := quorumFixture(t)

	openPoll(t, r)
	vote(t, r, "p1", false)
	vote(t, r, "p2", false)
	vote(t, r, "p1", true) // flip, not an extra ballot

	if yes, total := store.VoteTally(); yes != 1 || total != 2 {
		t.Fatalf("tally = %d/%d, want 1/2", yes, total)
	}
	if c.State() == CoordClosed {
		t.Fatal("closed at 1 yes of 2")
	}
}

func TestRemoteCloseShortCircuits(t *testing.T) {
	pubEvents := &capturingPublisher{}
	store := NewStore()
	r := NewRouter(store, pubEvents, "viewer", nil)
	completer := &fakeCompleter{}
	recorder := &fakeRecorder{}
	var navigated int32
	c := NewCoordinator("s1", false, store, pubEvents, completer, recorder, func() { atomic.AddInt32(&navigated, 1) }, nil)
	c.Attach(r)

	r.handleClose(mustJSON(t, models.ClosePayload{SessionID: "s1"}))

	if c.State() != CoordClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}
	// A remotely triggered close is never re-published, and the closing
	// participant already flushed complete-session.
	for _, e := range pubEvents.events {
		if e == models.EventClose {
			t.Fatal("remote close was re-published")
		}
	}
	if completer.count() != 0 {
		t.Fatalf("remote close flushed complete-session %d times, want 0", completer.count())
	}
	if got := atomic.LoadInt32(&recorder.stops); got != 1 {
		t.Fatalf("recorder stopped %d times, want 1", got)
	}
	if atomic.LoadInt32(&navigated) != 1 {
		t.Fatal("navigate not invoked")
	}
}

func TestRacingCloseRunsSequenceOnce(t *testing.T) {
	_, r, c, completer, recorder, navigated := quorumFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.Close()
			} else {
				r.handleClose(mustJSON(t, models.ClosePayload{SessionID: "s1"}))
			}
		}(i)
	}
	wg.Wait()

	// Whichever trigger wins the latch, the sequence runs once. A winning
	// remote close skips the flush entirely.
	if completer.count() > 1 {
		t.Fatalf("CompleteSession called %d times, want at most 1", completer.count())
	}
	if got := atomic.LoadInt32(&recorder.stops); got != 1 {
		t.Fatalf("recorder stopped %d times, want 1", got)
	}
	if atomic.LoadInt32(navigated) != 1 {
		t.Fatal("navigate invoked more than once")
	}
}

func TestStartPollIsHostOnly(t *testing.T) {
	pub := &capturingPublisher{}
	store := NewStore()
	viewer := NewCoordinator("s1", false, store, pub, &fakeCompleter{}, nil, nil, nil)
	if err := viewer.StartPoll(); err != nil {
		t.Fatalf("viewer StartPoll: %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("non-host published a poll")
	}

	host := NewCoordinator("s1", true, store, pub, &fakeCompleter{}, nil, nil, nil)
	if err := host.StartPoll(); err != nil {
		t.Fatalf("host StartPoll: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0] != models.EventPoll {
		t.Fatalf("published %v, want [poll]", pub.events)
	}
}
