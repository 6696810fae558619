package session

import (
	"testing"
	"time"

	"github.com/inklive/collab/internal/models"
)

func TestUpsertParticipantKeepsJoinTime(t *testing.T) {
	s := NewStore()
	joined := time.Now().Add(-time.Minute)
	s.UpsertParticipant(models.Participant{ID: "a", Name: "User a", JoinedAt: joined})
	s.UpsertParticipant(models.Participant{ID: "a", Name: "User a", JoinedAt: time.Now()})

	got := s.Participants()
	if len(got) != 1 {
		t.Fatalf("roster size = %d, want 1", len(got))
	}
	if !got[0].JoinedAt.Equal(joined) {
		t.Fatalf("JoinedAt = %v, want original %v", got[0].JoinedAt, joined)
	}
}

func TestParticipantsOrderedByJoinTime(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.UpsertParticipant(models.Participant{ID: "c", JoinedAt: base.Add(2 * time.Second)})
	s.UpsertParticipant(models.Participant{ID: "a", JoinedAt: base})
	s.UpsertParticipant(models.Participant{ID: "b", JoinedAt: base.Add(time.Second)})

	got := s.Participants()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("roster[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestVoteWithoutPollIsDropped(t *testing.T) {
	s := NewStore()
	if s.RecordVote(models.Vote{ParticipantID: "a", Vote: true}) {
		t.Fatal("vote recorded with no active poll")
	}
	if yes, total := s.VoteTally(); yes != 0 || total != 0 {
		t.Fatalf("tally = %d/%d, want 0/0", yes, total)
	}
}

func TestStartPollClearsEarlierVotes(t *testing.T) {
	s := NewStore()
	s.StartPoll(models.Poll{Question: "Is your doubt resolved?", CreatedAt: time.Now().UnixMilli()})
	s.RecordVote(models.Vote{ParticipantID: "a", Vote: true})
	s.RecordVote(models.Vote{ParticipantID: "b", Vote: false})

	s.StartPoll(models.Poll{Question: "Is your doubt resolved?", CreatedAt: time.Now().UnixMilli() + 1})
	if yes, total := s.VoteTally(); yes != 0 || total != 0 {
		t.Fatalf("tally after new poll = %d/%d, want 0/0", yes, total)
	}
}

func TestVoteFlipKeepsOneEntryPerParticipant(t *testing.T) {
	s := NewStore()
	s.StartPoll(models.Poll{Question: "Is your doubt resolved?", CreatedAt: time.Now().UnixMilli()})
	s.RecordVote(models.Vote{ParticipantID: "a", Vote: false})
	s.RecordVote(models.Vote{ParticipantID: "a", Vote: true})

	if yes, total := s.VoteTally(); yes != 1 || total != 1 {
		t.Fatalf("tally = %d/%d, want 1/1", yes, total)
	}
}

func TestReplaceParticipantsDropsAbsentEntries(t *testing.T) {
	s := NewStore()
	s.UpsertParticipant(models.Participant{ID: "a", JoinedAt: time.Now()})
	s.UpsertParticipant(models.Participant{ID: "b", JoinedAt: time.Now()})

	s.ReplaceParticipants([]models.Participant{{ID: "b", JoinedAt: time.Now()}})
	if n := s.ParticipantCount(); n != 1 {
		t.Fatalf("roster size = %d, want 1", n)
	}
	if got := s.Participants(); got[0].ID != "b" {
		t.Fatalf("roster[0] = %s, want b", got[0].ID)
	}
}
