package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/inklive/collab/config"
	"github.com/inklive/collab/internal/channel"
	"github.com/inklive/collab/internal/models"
)

type stubConn struct {
	mu      sync.Mutex
	written []models.Envelope
	closed  chan struct{}
	once    sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{closed: make(chan struct{})}
}

func (c *stubConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(models.Envelope))
	return nil
}

func (c *stubConn) ReadJSON(v interface{}) error {
	<-c.closed
	return errors.New("closed")
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) events() []models.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventType, len(c.written))
	for i, env := range c.written {
		out[i] = env.Event
	}
	return out
}

type stubDialer struct {
	conn *stubConn
}

func (d *stubDialer) Dial(ctx context.Context, rawURL string) (channel.Conn, error) {
	return d.conn, nil
}

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		Channel: config.ChannelConfig{
			WSURL:              "ws://relay.test/ws",
			ReconnectAttempts:  1,
			ReconnectDelaySec:  1,
			ConnectTimeoutSec:  1,
			PingIntervalSec:    3600,
			OutboxBatchSize:    5,
			OutboxBatchDelayMs: 1,
		},
		Capture: config.CaptureConfig{
			TranscriptSliceSec:    15,
			ChunkSizeBytes:        1 << 20,
			UploadRetries:         1,
			UploadRetryBackoffSec: 1,
		},
		API: config.APIConfig{BaseURL: apiURL},
	}
}

func sessionBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]string{
				"title":    "Geometry",
				"category": "math",
				"status":   "live",
				"host_id":  "host-1",
			},
		})
	}))
}

func waitForEvent(t *testing.T, conn *stubConn, want models.EventType) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range conn.events() {
			if e == want {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("event %s never written; got %v", want, conn.events())
}

func TestJoinConnectsAndAnnounces(t *testing.T) {
	ts := sessionBackend(t)
	defer ts.Close()

	conn := newStubConn()
	core := New(testConfig(ts.URL), Options{
		SessionID:     "7b0e8a20-0000-4000-8000-000000000001",
		ParticipantID: "p1",
		Token:         "tok",
		Dialer:        &stubDialer{conn: conn},
	}, nil)
	defer core.Leave(context.Background())

	if err := core.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	waitForEvent(t, conn, models.EventJoin)

	sess := core.Store().Session()
	if sess == nil || sess.Title != "Geometry" || sess.HostParticipantID != "host-1" {
		t.Fatalf("cached session = %+v", sess)
	}
	if core.Store().ParticipantCount() != 1 {
		t.Fatal("local participant missing from the roster")
	}
}

func TestActionsBeforeJoinRejected(t *testing.T) {
	ts := sessionBackend(t)
	defer ts.Close()

	core := New(testConfig(ts.URL), Options{
		SessionID: "7b0e8a20-0000-4000-8000-000000000001",
		Dialer:    &stubDialer{conn: newStubConn()},
	}, nil)

	if err := core.SendChat("early"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("chat before join: %v", err)
	}
	if err := core.Vote(true); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("vote before join: %v", err)
	}
}

func TestSendChatAppendsLocallyAndPublishes(t *testing.T) {
	ts := sessionBackend(t)
	defer ts.Close()

	conn := newStubConn()
	core := New(testConfig(ts.URL), Options{
		SessionID:     "7b0e8a20-0000-4000-8000-000000000001",
		ParticipantID: "p1",
		Dialer:        &stubDialer{conn: conn},
	}, nil)
	defer core.Leave(context.Background())

	if err := core.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitForEvent(t, conn, models.EventJoin)

	if err := core.SendChat("hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitForEvent(t, conn, models.EventChat)

	msgs := core.Store().Messages()
	if len(msgs) != 1 || msgs[0].Text != "hello" || msgs[0].SenderID != "p1" {
		t.Fatalf("local messages = %v", msgs)
	}
}

func TestLeaveAnnouncesAndDisconnects(t *testing.T) {
	ts := sessionBackend(t)
	defer ts.Close()

	conn := newStubConn()
	core := New(testConfig(ts.URL), Options{
		SessionID:     "7b0e8a20-0000-4000-8000-000000000001",
		ParticipantID: "p1",
		Dialer:        &stubDialer{conn: conn},
	}, nil)

	if err := core.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitForEvent(t, conn, models.EventJoin)

	core.Leave(context.Background())
	waitForEvent(t, conn, models.EventLeave)

	if core.Channel().State() != channel.StateDisconnected {
		t.Fatalf("channel state = %v after leave", core.Channel().State())
	}
	// Leave is idempotent.
	core.Leave(context.Background())
}

func TestGeneratedParticipantID(t *testing.T) {
	ts := sessionBackend(t)
	defer ts.Close()

	core := New(testConfig(ts.URL), Options{
		SessionID: "7b0e8a20-0000-4000-8000-000000000001",
		Dialer:    &stubDialer{conn: newStubConn()},
	}, nil)
	if core.ParticipantID() == "" {
		t.Fatal("no participant id generated")
	}
}
