package session

import (
	"encoding/json"
	"testing"

	"github.com/inklive/collab/internal/models"
)

type capturingPublisher struct {
	events []models.EventType
}

func (p *capturingPublisher) Publish(event models.EventType, payload interface{}) error {
	p.events = append(p.events, event)
	return nil
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestJoinUpsertsAndFiresHookOnceForRemote(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	var hooked []string
	r.OnJoin(func(p models.Participant) { hooked = append(hooked, p.ID) })

	r.handleJoin(mustJSON(t, models.JoinPayload{ParticipantID: "remote-1", Name: "User remot"}))
	r.handleJoin(mustJSON(t, models.JoinPayload{ParticipantID: "remote-1", Name: "User remot"}))
	r.handleJoin(mustJSON(t, models.JoinPayload{ParticipantID: "local", Name: "User local"}))

	if got := store.ParticipantCount(); got != 2 {
		t.Fatalf("participant count = %d, want 2", got)
	}
	// Re-join of a known participant and the local echo fire no hook.
	if len(hooked) != 1 || hooked[0] != "remote-1" {
		t.Fatalf("join hook fired for %v, want [remote-1]", hooked)
	}
}

func TestChatDropsImmediateRedelivery(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	m := models.ChatMessage{SenderID: "p1", Text: "hi", Timestamp: 1000}
	r.handleChat(mustJSON(t, m))
	r.handleChat(mustJSON(t, m)) // at-least-once redelivery
	r.handleChat(mustJSON(t, models.ChatMessage{SenderID: "p1", Text: "hi", Timestamp: 2000}))

	if got := len(store.Messages()); got != 2 {
		t.Fatalf("message count = %d, want 2 (duplicate dropped)", got)
	}
}

func TestWhiteboardDropsStaleSnapshot(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	newer := models.WhiteboardSnapshot{
		Elements:  []json.RawMessage{json.RawMessage(`{"type":"rect","w":10}`)},
		Timestamp: 2000,
	}
	older := models.WhiteboardSnapshot{
		Elements:  []json.RawMessage{json.RawMessage(`{"type":"line"}`)},
		Timestamp: 1000,
	}
	r.handleWhiteboard(mustJSON(t, newer))
	r.handleWhiteboard(mustJSON(t, older))

	cur := store.Whiteboard()
	if cur == nil || cur.Timestamp != 2000 {
		t.Fatalf("whiteboard = %+v, want the newer snapshot kept", cur)
	}
	if string(cur.Elements[0]) != `{"type":"rect","w":10}` {
		t.Fatalf("element body not preserved byte-for-byte: %s", cur.Elements[0])
	}
}

func TestWhiteboardRoundTripPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"elements":[{"type":"freedraw","points":[[0,1],[2,3]],"customExt":{"a":true}}],"view_state":{"zoom":1.5},"timestamp":42}`)
	var snap models.WhiteboardSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got, want map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if err := json.Unmarshal(raw, &want); err != nil {
		t.Fatalf("reparse original: %v", err)
	}
	gotEl, _ := json.Marshal(got["elements"])
	wantEl, _ := json.Marshal(want["elements"])
	if string(gotEl) != string(wantEl) {
		t.Fatalf("elements changed across round trip:\n got %s\nwant %s", gotEl, wantEl)
	}
}

func TestVoteBeforePollIsDropped(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	voted := 0
	r.OnVote(func() { voted++ })

	r.handleVote(mustJSON(t, models.Vote{ParticipantID: "p1", Vote: true}))
	if yes, total := store.VoteTally(); yes != 0 || total != 0 {
		t.Fatalf("tally after orphan vote = %d/%d, want 0/0", yes, total)
	}
	if voted != 0 {
		t.Fatal("vote hook fired for a dropped vote")
	}

	r.handlePoll(mustJSON(t, models.Poll{Question: models.DefaultPollQuestion, CreatedAt: 1}))
	r.handleVote(mustJSON(t, models.Vote{ParticipantID: "p1", Vote: true}))
	if yes, total := store.VoteTally(); yes != 1 || total != 1 {
		t.Fatalf("tally = %d/%d, want 1/1", yes, total)
	}
	if voted != 1 {
		t.Fatalf("vote hook fired %d times, want 1", voted)
	}
}

func TestDuplicatePollDeliveryIgnored(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	opened := 0
	r.OnPoll(func(models.Poll) { opened++ })

	poll := models.Poll{Question: models.DefaultPollQuestion, CreatedAt: 7}
	r.handlePoll(mustJSON(t, poll))
	store.RecordVote(models.Vote{ParticipantID: "p1", Vote: true})
	r.handlePoll(mustJSON(t, poll)) // redelivery must not clear votes

	if opened != 1 {
		t.Fatalf("poll hook fired %d times, want 1", opened)
	}
	if _, total := store.VoteTally(); total != 1 {
		t.Fatalf("redelivered poll cleared the vote set: total = %d", total)
	}
}

func TestParticipantsBroadcastReplacesRoster(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	store.UpsertParticipant(models.Participant{ID: "stale"})
	r.handleParticipants(mustJSON(t, models.ParticipantsPayload{
		Users: []models.Participant{{ID: "a"}, {ID: "b"}},
	}))

	if got := store.ParticipantCount(); got != 2 {
		t.Fatalf("roster size = %d, want 2 (replaced, not merged)", got)
	}
}

func TestSignalOnlyDispatchedWhenAddressedLocally(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	var got []models.SignalPayload
	r.OnSignal(func(s models.SignalPayload) { got = append(got, s) })

	r.handleSignal(mustJSON(t, models.SignalPayload{From: "a", To: "someone-else", Kind: "offer"}))
	r.handleSignal(mustJSON(t, models.SignalPayload{From: "a", To: "local", Kind: "offer"}))

	if len(got) != 1 || got[0].From != "a" {
		t.Fatalf("signal hook got %v, want exactly the addressed signal", got)
	}
}

func TestPingRepliesPong(t *testing.T) {
	pub := &capturingPublisher{}
	r := NewRouter(NewStore(), pub, "local", nil)

	r.handlePing(nil)
	if len(pub.events) != 1 || pub.events[0] != models.EventPong {
		t.Fatalf("published %v, want [pong]", pub.events)
	}
}

func TestMalformedPayloadsDropped(t *testing.T) {
	store := NewStore()
	r := NewRouter(store, &capturingPublisher{}, "local", nil)

	r.handleJoin(json.RawMessage(`{"participant_id":""}`))
	r.handleJoin(json.RawMessage(`not json`))
	r.handleChat(json.RawMessage(`[]`))
	r.handleVote(json.RawMessage(`{"participant_id":""}`))

	if store.ParticipantCount() != 0 || len(store.Messages()) != 0 {
		t.Fatal("malformed payloads mutated state")
	}
}
