package recordings

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownUpload    = errors.New("unknown upload id")
	ErrUploadMismatch   = errors.New("chunk does not match upload")
	ErrUploadIncomplete = errors.New("upload incomplete")
	ErrChunkOutOfRange  = errors.New("chunk index out of range")
)

type pendingUpload struct {
	sessionID uuid.UUID
	kind      string
	total     int
	parts     map[int][]byte
	received  int
	updatedAt time.Time
}

// Assembler collects indexed chunks under a server-issued upload id and
// reassembles them in order once all parts arrived. Abandoned uploads are
// evicted after a TTL.
type Assembler struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingUpload
	ttl     time.Duration
	logger  *zap.Logger
}

// NewAssembler creates an assembler. ttl bounds how long a partial upload
// may sit idle.
func NewAssembler(ttl time.Duration, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		pending: make(map[uuid.UUID]*pendingUpload),
		ttl:     ttl,
		logger:  logger,
	}
}

// Begin opens a new chunked upload and issues its correlation id.
func (a *Assembler) Begin(sessionID uuid.UUID, kind string, totalChunks int) (uuid.UUID, error) {
	if totalChunks < 1 {
		return uuid.Nil, fmt.Errorf("invalid total_chunks %d", totalChunks)
	}
	id := uuid.New()
	a.mu.Lock()
	a.pending[id] = &pendingUpload{
		sessionID: sessionID,
		kind:      kind,
		total:     totalChunks,
		parts:     make(map[int][]byte, totalChunks),
		updatedAt: time.Now(),
	}
	a.mu.Unlock()
	return id, nil
}

// Add stores one chunk. complete reports whether every part has arrived.
func (a *Assembler) Add(uploadID uuid.UUID, sessionID uuid.UUID, index, totalChunks int, payload []byte) (complete bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[uploadID]
	if !ok {
		return false, ErrUnknownUpload
	}
	if p.sessionID != sessionID || p.total != totalChunks {
		return false, ErrUploadMismatch
	}
	if index < 0 || index >= p.total {
		return false, ErrChunkOutOfRange
	}
	if _, dup := p.parts[index]; dup {
		// Chunk retries resend the same part; accept silently.
		p.updatedAt = time.Now()
		return p.received == p.total, nil
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	p.parts[index] = buf
	p.received++
	p.updatedAt = time.Now()
	return p.received == p.total, nil
}

// Assemble concatenates all parts in index order and forgets the upload.
// The result's length always equals the sum of the part lengths.
func (a *Assembler) Assemble(uploadID uuid.UUID) (sessionID uuid.UUID, kind string, payload []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[uploadID]
	if !ok {
		return uuid.Nil, "", nil, ErrUnknownUpload
	}
	if p.received != p.total {
		return uuid.Nil, "", nil, fmt.Errorf("%w: %d of %d chunks", ErrUploadIncomplete, p.received, p.total)
	}

	var size int
	for _, part := range p.parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	for i := 0; i < p.total; i++ {
		out = append(out, p.parts[i]...)
	}
	delete(a.pending, uploadID)
	return p.sessionID, p.kind, out, nil
}

// Sweep drops partial uploads idle past the TTL. Call it periodically.
func (a *Assembler) Sweep() {
	cutoff := time.Now().Add(-a.ttl)
	a.mu.Lock()
	for id, p := range a.pending {
		if p.updatedAt.Before(cutoff) {
			delete(a.pending, id)
			a.logger.Info("abandoned chunked upload evicted",
				zap.String("upload_id", id.String()),
				zap.String("session_id", p.sessionID.String()),
				zap.Int("received", p.received),
				zap.Int("total", p.total))
		}
	}
	a.mu.Unlock()
}

// PendingCount reports how many chunked uploads are in flight.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
