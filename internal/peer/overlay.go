package peer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
)

// Signaler publishes signaling payloads back through the session channel.
// The overlay never opens its own transport.
type Signaler interface {
	Publish(event models.EventType, payload interface{}) error
}

// Playback receives remote audio tracks and is told when to drop them.
type Playback interface {
	Attach(participantID string, track *webrtc.TrackRemote)
	Detach(participantID string)
}

// AudioSource supplies the local audio track added to every peer connection.
// Returning nil is valid: the connection is created receive-only.
type AudioSource interface {
	Track() (webrtc.TrackLocal, error)
}

const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"

	// One delayed recreate per peer; a second failure degrades the link.
	recreateDelay = 2 * time.Second
)

type peerLink struct {
	pc        *webrtc.PeerConnection
	offerer   bool
	recreated bool
	degraded  bool
	pending   []webrtc.ICECandidateInit
}

// Overlay maintains direct peer audio connections with every other
// participant, using the session channel as the signaling relay. Failures
// here degrade audio only; the rest of the session is untouched.
type Overlay struct {
	localID  string
	sig      Signaler
	playback Playback
	source   AudioSource
	logger   *zap.Logger
	cfg      webrtc.Configuration

	mu     sync.Mutex
	links  map[string]*peerLink
	closed bool
}

// NewOverlay creates the overlay. iceServers may be empty; a public STUN
// server is used as the default.
func NewOverlay(localID string, sig Signaler, playback Playback, source AudioSource, iceServers []string, logger *zap.Logger) *Overlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := webrtc.Configuration{}
	for _, u := range iceServers {
		if u == "" {
			continue
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &Overlay{
		localID:  localID,
		sig:      sig,
		playback: playback,
		source:   source,
		logger:   logger,
		cfg:      cfg,
		links:    make(map[string]*peerLink),
	}
}

// HandleJoin starts an offer toward a newly joined participant. Wire it to
// the router's join hook.
func (o *Overlay) HandleJoin(p models.Participant) {
	if p.ID == o.localID {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, ok := o.links[p.ID]; ok {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.offer(p.ID, false)
}

// HandleLeave tears down the peer connection for a departed participant.
func (o *Overlay) HandleLeave(participantID string) {
	o.mu.Lock()
	link, ok := o.links[participantID]
	if ok {
		delete(o.links, participantID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if link.pc != nil {
		_ = link.pc.Close()
	}
	o.playback.Detach(participantID)
}

// HandleSignal consumes a signal addressed to the local participant. Wire it
// to the router's signal hook.
func (o *Overlay) HandleSignal(sig models.SignalPayload) {
	switch sig.Kind {
	case signalOffer:
		o.answer(sig)
	case signalAnswer:
		o.acceptAnswer(sig)
	case signalCandidate:
		o.addCandidate(sig)
	default:
		o.logger.Debug("unknown signal kind dropped", zap.String("kind", sig.Kind))
	}
}

// Degraded reports whether the link to the given participant gave up after
// its recreate attempt. Local capture keeps working regardless.
func (o *Overlay) Degraded(participantID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	link, ok := o.links[participantID]
	return ok && link.degraded
}

// Close tears down every peer connection. Idempotent.
func (o *Overlay) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	links := o.links
	o.links = make(map[string]*peerLink)
	o.mu.Unlock()

	for id, link := range links {
		if link.pc != nil {
			_ = link.pc.Close()
		}
		o.playback.Detach(id)
	}
}

func (o *Overlay) newPeerConnection(remoteID string) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(o.cfg)
	if err != nil {
		return nil, err
	}

	if o.source != nil {
		if track, trackErr := o.source.Track(); trackErr != nil {
			o.logger.Warn("local audio track unavailable, receive-only link", zap.Error(trackErr))
		} else if track != nil {
			if _, addErr := pc.AddTrack(track); addErr != nil {
				o.logger.Warn("add local audio track failed", zap.Error(addErr))
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		o.send(remoteID, signalCandidate, "", b)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.playback.Attach(remoteID, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			o.linkFailed(remoteID)
		}
	})

	return pc, nil
}

func (o *Overlay) offer(remoteID string, isRecreate bool) {
	pc, err := o.newPeerConnection(remoteID)
	if err != nil {
		o.logger.Warn("peer connection create failed", zap.String("peer", remoteID), zap.Error(err))
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = pc.Close()
		return
	}
	o.links[remoteID] = &peerLink{pc: pc, offerer: true, recreated: isRecreate}
	o.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		o.logger.Warn("create offer failed", zap.String("peer", remoteID), zap.Error(err))
		o.linkFailed(remoteID)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		o.logger.Warn("set local description failed", zap.String("peer", remoteID), zap.Error(err))
		o.linkFailed(remoteID)
		return
	}
	o.send(remoteID, signalOffer, offer.SDP, nil)
}

func (o *Overlay) answer(sig models.SignalPayload) {
	remoteID := sig.From

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	// Glare: both sides offered at once. The lower id yields and answers.
	if link, ok := o.links[remoteID]; ok && link.offerer && o.localID > remoteID {
		o.mu.Unlock()
		return
	}
	if link, ok := o.links[remoteID]; ok && link.pc != nil {
		_ = link.pc.Close()
	}
	o.mu.Unlock()

	pc, err := o.newPeerConnection(remoteID)
	if err != nil {
		o.logger.Warn("peer connection create failed", zap.String("peer", remoteID), zap.Error(err))
		return
	}

	o.mu.Lock()
	prev := o.links[remoteID]
	link := &peerLink{pc: pc}
	if prev != nil {
		link.recreated = prev.recreated
	}
	o.links[remoteID] = link
	o.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
		o.logger.Warn("set remote offer failed", zap.String("peer", remoteID), zap.Error(err))
		o.linkFailed(remoteID)
		return
	}
	o.drainPending(remoteID, pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		o.logger.Warn("create answer failed", zap.String("peer", remoteID), zap.Error(err))
		o.linkFailed(remoteID)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		o.logger.Warn("set local description failed", zap.String("peer", remoteID), zap.Error(err))
		o.linkFailed(remoteID)
		return
	}
	o.send(remoteID, signalAnswer, answer.SDP, nil)
}

func (o *Overlay) acceptAnswer(sig models.SignalPayload) {
	o.mu.Lock()
	link, ok := o.links[sig.From]
	o.mu.Unlock()
	if !ok || link.pc == nil {
		return
	}
	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
		o.logger.Warn("set remote answer failed", zap.String("peer", sig.From), zap.Error(err))
		o.linkFailed(sig.From)
		return
	}
	o.drainPending(sig.From, link.pc)
}

func (o *Overlay) addCandidate(sig models.SignalPayload) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Candidate, &init); err != nil {
		o.logger.Debug("malformed ICE candidate dropped", zap.String("peer", sig.From), zap.Error(err))
		return
	}

	o.mu.Lock()
	link, ok := o.links[sig.From]
	if ok && link.pc != nil && link.pc.RemoteDescription() == nil {
		// Candidates can outrun the SDP through the relay; hold them.
		link.pending = append(link.pending, init)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	if !ok || link.pc == nil {
		return
	}
	if err := link.pc.AddICECandidate(init); err != nil {
		o.logger.Debug("add ICE candidate failed", zap.String("peer", sig.From), zap.Error(err))
	}
}

func (o *Overlay) drainPending(remoteID string, pc *webrtc.PeerConnection) {
	o.mu.Lock()
	link, ok := o.links[remoteID]
	var pending []webrtc.ICECandidateInit
	if ok {
		pending = link.pending
		link.pending = nil
	}
	o.mu.Unlock()
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			o.logger.Debug("add buffered ICE candidate failed", zap.String("peer", remoteID), zap.Error(err))
		}
	}
}

func (o *Overlay) linkFailed(remoteID string) {
	o.mu.Lock()
	link, ok := o.links[remoteID]
	if !ok || o.closed {
		o.mu.Unlock()
		return
	}
	pc := link.pc
	link.pc = nil
	wasOfferer := link.offerer
	if link.recreated {
		link.degraded = true
		o.mu.Unlock()
		if pc != nil {
			_ = pc.Close()
		}
		o.playback.Detach(remoteID)
		o.logger.Warn("peer audio degraded after recreate failure", zap.String("peer", remoteID))
		return
	}
	link.recreated = true
	o.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
	o.playback.Detach(remoteID)
	o.logger.Info("peer link failed, scheduling recreate",
		zap.String("peer", remoteID),
		zap.Duration("delay", recreateDelay))

	time.AfterFunc(recreateDelay, func() {
		o.mu.Lock()
		link, ok := o.links[remoteID]
		stale := !ok || o.closed || link.degraded || link.pc != nil
		o.mu.Unlock()
		if stale {
			return
		}
		if wasOfferer {
			o.offer(remoteID, true)
		}
		// The answering side waits for the offerer's recreated offer.
	})
}

func (o *Overlay) send(remoteID, kind, sdp string, candidate json.RawMessage) {
	err := o.sig.Publish(models.EventSignal, models.SignalPayload{
		From:      o.localID,
		To:        remoteID,
		Kind:      kind,
		SDP:       sdp,
		Candidate: candidate,
	})
	if err != nil {
		o.logger.Debug("signal publish queued or failed", zap.String("peer", remoteID), zap.Error(err))
	}
}
