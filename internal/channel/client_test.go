package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inklive/collab/internal/models"
)

// fakeConn records written envelopes and serves inbound envelopes from a
// channel. ReadJSON blocks until an envelope arrives or the conn closes.
type fakeConn struct {
	mu      sync.Mutex
	written []models.Envelope
	inbound chan models.Envelope
	closed  chan struct{}
	once    sync.Once

	failWrites bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan models.Envelope, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("write on broken conn")
	}
	env, ok := v.(models.Envelope)
	if !ok {
		return fmt.Errorf("unexpected write type %T", v)
	}
	f.written = append(f.written, env)
	return nil
}

func (f *fakeConn) ReadJSON(v interface{}) error {
	select {
	case env := <-f.inbound:
		*(v.(*models.Envelope)) = env
		return nil
	case <-f.closed:
		return errors.New("conn closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) writtenEvents() []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Envelope, len(f.written))
	copy(out, f.written)
	return out
}

// fakeDialer hands out conns in sequence; a nil entry means the dial fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	next := d.conns[0]
	d.conns = d.conns[1:]
	if next == nil {
		return nil, errors.New("dial refused")
	}
	return next, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testOptions(d Dialer) Options {
	return Options{
		WSURL:             "ws://relay.test/ws",
		ReconnectAttempts: 2,
		ReconnectDelay:    5 * time.Millisecond,
		ConnectTimeout:    time.Second,
		PingInterval:      time.Hour, // keep the liveness probe out of tests
		OutboxBatchSize:   5,
		OutboxBatchDelay:  time.Millisecond,
		Dialer:            d,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectPublishesJoinFirst(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	c := NewClient("sess-1", "participant-abcdef", "tok", testOptions(d), nil)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	events := conn.writtenEvents()
	if len(events) == 0 || events[0].Event != models.EventJoin {
		t.Fatalf("first write = %v, want join", events)
	}
	var p models.JoinPayload
	if err := json.Unmarshal(events[0].Data, &p); err != nil {
		t.Fatalf("join payload: %v", err)
	}
	if p.ParticipantID != "participant-abcdef" {
		t.Errorf("join participant_id = %q", p.ParticipantID)
	}
	if p.Name != "User parti" {
		t.Errorf("join name = %q, want derived display name", p.Name)
	}
}

func TestPublishWhileDisconnectedQueues(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	defer c.Disconnect()

	for i := 0; i < 3; i++ {
		err := c.Publish(models.EventChat, models.ChatMessage{SenderID: "p1", Text: fmt.Sprintf("m%d", i)})
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("publish %d: err = %v, want ErrNotConnected", i, err)
		}
	}
	if got := c.Outbox().Len(); got != 3 {
		t.Fatalf("outbox len = %d, want 3", got)
	}
}

func TestOutboxDrainsInOrderExactlyOnce(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	defer c.Disconnect()

	const n = 12 // more than two batches
	for i := 0; i < n; i++ {
		_ = c.Publish(models.EventChat, models.ChatMessage{SenderID: "p1", Text: fmt.Sprintf("m%d", i), Timestamp: int64(i)})
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = []*fakeConn{conn}
	d.mu.Unlock()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "outbox drained", func() bool { return c.Outbox().Len() == 0 })

	var chats []models.ChatMessage
	waitFor(t, "all chats written", func() bool {
		chats = chats[:0]
		for _, env := range conn.writtenEvents() {
			if env.Event != models.EventChat {
				continue
			}
			var m models.ChatMessage
			if err := json.Unmarshal(env.Data, &m); err != nil {
				t.Fatalf("chat payload: %v", err)
			}
			chats = append(chats, m)
		}
		return len(chats) >= n
	})

	if len(chats) != n {
		t.Fatalf("wrote %d chats, want exactly %d", len(chats), n)
	}
	for i, m := range chats {
		if want := fmt.Sprintf("m%d", i); m.Text != want {
			t.Fatalf("chat %d = %q, want %q (order violated)", i, m.Text, want)
		}
	}
}

func TestDispatchReachesSubscribers(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	defer c.Disconnect()

	got := make(chan models.ChatMessage, 1)
	c.Subscribe(models.EventChat, func(data json.RawMessage) {
		var m models.ChatMessage
		_ = json.Unmarshal(data, &m)
		got <- m
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	data, _ := json.Marshal(models.ChatMessage{SenderID: "p2", Text: "hello"})
	conn.inbound <- models.Envelope{Event: models.EventChat, Data: data}

	select {
	case m := <-got:
		if m.SenderID != "p2" || m.Text != "hello" {
			t.Fatalf("dispatched %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestUnknownEventDropped(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	defer c.Disconnect()

	called := make(chan struct{}, 1)
	c.Subscribe(models.EventChat, func(json.RawMessage) { called <- struct{}{} })

	_ = c.Connect(context.Background())
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	conn.inbound <- models.Envelope{Event: models.EventType("bogus"), Data: json.RawMessage(`{}`)}
	data, _ := json.Marshal(models.ChatMessage{SenderID: "p2", Text: "after"})
	conn.inbound <- models.Envelope{Event: models.EventChat, Data: data}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("known event after unknown one never dispatched")
	}
	select {
	case <-called:
		t.Fatal("unknown event was dispatched")
	default:
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{first, second}}
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	defer c.Disconnect()

	_ = c.Connect(context.Background())
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	first.Close() // read loop sees the error and triggers reconnect
	waitFor(t, "reconnected", func() bool {
		return c.State() == StateConnected && d.dialCount() == 2
	})

	// The new connection re-announces the join.
	waitFor(t, "join on new conn", func() bool {
		events := second.writtenEvents()
		return len(events) > 0 && events[0].Event == models.EventJoin
	})
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{first}} // every later dial refused
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	defer c.Disconnect()

	_ = c.Connect(context.Background())
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	first.Close()
	waitFor(t, "terminal fault", func() bool { return c.State() == StateFailed })

	if err := c.Err(); !errors.Is(err, ErrReconnectFailed) {
		t.Fatalf("Err() = %v, want ErrReconnectFailed", err)
	}
	// Publishes after the terminal fault still queue rather than vanish.
	if err := c.Publish(models.EventChat, models.ChatMessage{Text: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("publish after failure: %v", err)
	}
	if c.Outbox().Len() == 0 {
		t.Fatal("event after terminal fault was dropped")
	}
}

// overlapConn fails the one-concurrent-writer contract check: it counts
// WriteJSON calls that execute while another is still in flight.
type overlapConn struct {
	*fakeConn
	inFlight atomic.Int32
	overlaps atomic.Int32
	writes   atomic.Int32
}

func (o *overlapConn) WriteJSON(v interface{}) error {
	if o.inFlight.Add(1) > 1 {
		o.overlaps.Add(1)
	}
	time.Sleep(50 * time.Microsecond)
	o.inFlight.Add(-1)
	o.writes.Add(1)
	return nil
}

type connDialer struct{ conn Conn }

func (d connDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	return d.conn, nil
}

func TestWritesNeverOverlapOnOneConnection(t *testing.T) {
	conn := &overlapConn{fakeConn: newFakeConn()}
	opts := testOptions(connDialer{conn: conn})
	opts.PingInterval = time.Millisecond // liveness probe competes with publishers
	c := NewClient("sess-1", "p1", "tok", opts, nil)
	defer c.Disconnect()

	_ = c.Connect(context.Background())
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	const publishers, perPublisher = 4, 200
	var wg sync.WaitGroup
	for g := 0; g < publishers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_ = c.Publish(models.EventChat, models.ChatMessage{SenderID: "p1", Text: fmt.Sprintf("g%d-m%d", g, i)})
			}
		}(g)
	}
	wg.Wait()

	waitFor(t, "all publishes written", func() bool {
		return int(conn.writes.Load()) >= publishers*perPublisher
	})
	if n := conn.overlaps.Load(); n != 0 {
		t.Fatalf("observed %d overlapping WriteJSON calls on one connection", n)
	}
}

func TestPublishAfterDisconnectReturnsErrClosed(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient("sess-1", "p1", "tok", testOptions(d), nil)
	c.Disconnect()
	if err := c.Publish(models.EventChat, models.ChatMessage{Text: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close: %v", err)
	}
}
