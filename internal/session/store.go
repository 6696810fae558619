// Package session holds the canonical in-memory session state, the inbound
// event router, and the quorum-based termination coordinator.
package session

import (
	"sort"
	"sync"

	"github.com/inklive/collab/internal/models"
)

// Store is the canonical in-memory session state. Each field has a single
// writing component: messages append-only, participants upsert/remove by id,
// whiteboard replace-whole, poll/votes replace-on-new-poll plus
// accumulate-on-vote, recording status replace. Reads are synchronous and the
// store performs no I/O.
type Store struct {
	mu           sync.RWMutex
	session      *models.Session
	messages     []models.ChatMessage
	participants map[string]models.Participant
	whiteboard   *models.WhiteboardSnapshot
	poll         *models.Poll
	votes        map[string]bool
	recording    models.RecordingStatusUpdate
}

// NewStore creates an empty session state store.
func NewStore() *Store {
	return &Store{
		participants: make(map[string]models.Participant),
		votes:        make(map[string]bool),
	}
}

// SetSession caches the session row fetched on join. The copy may go stale;
// it is refreshed, never merged.
func (s *Store) SetSession(sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// Session returns the cached session row (may be nil before join completes).
func (s *Store) Session() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// AppendMessage appends a chat message in local receipt order.
func (s *Store) AppendMessage(m models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// LastMessage returns the most recent message and whether one exists.
func (s *Store) LastMessage() (models.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return models.ChatMessage{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Messages returns a copy of the message log.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// UpsertParticipant adds or refreshes a participant by id.
func (s *Store) UpsertParticipant(p models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.participants[p.ID]; ok {
		// Keep the original join time on re-join or refresh.
		if !existing.JoinedAt.IsZero() {
			p.JoinedAt = existing.JoinedAt
		}
	}
	s.participants[p.ID] = p
}

// RemoveParticipant removes a participant by id.
func (s *Store) RemoveParticipant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, id)
}

// ReplaceParticipants replaces the whole roster (server broadcast).
func (s *Store) ReplaceParticipants(users []models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = make(map[string]models.Participant, len(users))
	for _, u := range users {
		s.participants[u.ID] = u
	}
}

// Participants returns the roster ordered by join time.
func (s *Store) Participants() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// ParticipantCount returns the roster size.
func (s *Store) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// SetWhiteboard replaces the whiteboard snapshot. Last writer wins at
// snapshot granularity; the local copy is always either a local edit or the
// most recently received remote snapshot, never a merge.
func (s *Store) SetWhiteboard(snap *models.WhiteboardSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whiteboard = snap
}

// Whiteboard returns the current snapshot (may be nil).
func (s *Store) Whiteboard() *models.WhiteboardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.whiteboard
}

// StartPoll installs a new active poll and clears the vote set.
func (s *Store) StartPoll(p models.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poll = &p
	s.votes = make(map[string]bool)
}

// ClosePoll clears the active poll and vote set.
func (s *Store) ClosePoll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poll = nil
	s.votes = make(map[string]bool)
}

// ActivePoll returns the active poll, if any.
func (s *Store) ActivePoll() *models.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poll
}

// RecordVote records one participant's vote. Returns false when no poll is
// active (the vote is dropped, not an error).
func (s *Store) RecordVote(v models.Vote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poll == nil {
		return false
	}
	s.votes[v.ParticipantID] = v.Vote
	return true
}

// VoteTally returns the affirmative and total vote counts so far.
func (s *Store) VoteTally() (yes, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.votes {
		if v {
			yes++
		}
		total++
	}
	return yes, total
}

// SetRecordingStatus replaces the host-authoritative recording status.
func (s *Store) SetRecordingStatus(r models.RecordingStatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = r
}

// RecordingStatus returns the current recording status.
func (s *Store) RecordingStatus() models.RecordingStatusUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}
