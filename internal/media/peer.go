package media

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Peer is one user's media footprint inside a Room: a send transport for
// their outgoing tracks, a recv transport for consuming, and the
// producer/consumer bookkeeping for both. No media is relayed onto the recv
// transport. Mirrors the
// reference SFU's per-client peer state, generalized from "webinar speaker"
// to "any conference participant who produces or consumes media".
type Peer struct {
	UserID string

	mu          sync.Mutex
	sendPC      *webrtc.PeerConnection
	recvPC      *webrtc.PeerConnection
	producers   map[string]*ProducerInfo
	consumers   map[string]*ConsumerInfo
	localTrack  map[string]*webrtc.TrackLocalStaticRTP // producerID -> local track mirroring the remote codec; not added to any PeerConnection or written to
	pendingKind map[ProducerKind]string                // kind -> producerID awaiting its remote track
	onTrack     func(producerID string, kind ProducerKind, track *webrtc.TrackRemote)

	logger *zap.Logger
}

func newPeer(userID string, api *webrtc.API, iceServers []webrtc.ICEServer, logger *zap.Logger) (*Peer, error) {
	cfg := webrtc.Configuration{ICEServers: iceServers}

	sendPC, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	recvPC, err := api.NewPeerConnection(cfg)
	if err != nil {
		_ = sendPC.Close()
		return nil, err
	}

	p := &Peer{
		UserID:      userID,
		sendPC:      sendPC,
		recvPC:      recvPC,
		producers:   make(map[string]*ProducerInfo),
		consumers:   make(map[string]*ConsumerInfo),
		localTrack:  make(map[string]*webrtc.TrackLocalStaticRTP),
		pendingKind: make(map[ProducerKind]string),
		logger:      logger.With(zap.String("user_id", userID)),
	}
	sendPC.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.handleRemoteTrack(track)
	})
	return p, nil
}

// ExpectProducer arms the peer to match the next remote track of kind
// arriving on the send transport back to producerID, once the client's
// SDP offer actually starts that media flowing.
func (p *Peer) ExpectProducer(producerID string, kind ProducerKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingKind[kind] = producerID
}

// SetTrackHandler registers the callback invoked when a remote track
// arrives matching a producer armed via ExpectProducer.
func (p *Peer) SetTrackHandler(cb func(producerID string, kind ProducerKind, track *webrtc.TrackRemote)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = cb
}

func (p *Peer) handleRemoteTrack(track *webrtc.TrackRemote) {
	kind := trackKind(track)
	p.mu.Lock()
	producerID, ok := p.pendingKind[kind]
	cb := p.onTrack
	if ok {
		delete(p.pendingKind, kind)
	}
	p.mu.Unlock()
	if !ok || cb == nil {
		p.logger.Warn("remote track with no matching pending producer", zap.String("kind", string(kind)))
		return
	}

	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err == nil {
		p.mu.Lock()
		p.localTrack[producerID] = local
		p.mu.Unlock()
	} else {
		p.logger.Warn("failed to create local relay track", zap.Error(err))
	}

	cb(producerID, kind, track)
}

func trackKind(track *webrtc.TrackRemote) ProducerKind {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

// forwardRemoteRTP reads raw RTP packets off track until it ends or errors,
// marshaling each back to wire bytes on out, then closes out. Used to give
// the Transcription Engine its read of a producer's audio; it is the only
// reader of the remote track.
func forwardRemoteRTP(track *webrtc.TrackRemote, out chan<- []byte, logger *zap.Logger) {
	defer close(out)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		select {
		case out <- raw:
		default:
			logger.Debug("rtp forward channel full, dropping packet")
		}
	}
}

// Descriptors returns the send+recv transport descriptors handed back to
// the client on ensure_peer.
func (p *Peer) Descriptors() (send TransportDescriptor, recv TransportDescriptor) {
	return TransportDescriptor{ID: p.UserID + ":send"}, TransportDescriptor{ID: p.UserID + ":recv"}
}

func (p *Peer) transportByID(transportID string) *webrtc.PeerConnection {
	switch {
	case len(transportID) > 5 && transportID[len(transportID)-5:] == ":send":
		return p.sendPC
	case len(transportID) > 5 && transportID[len(transportID)-5:] == ":recv":
		return p.recvPC
	default:
		return nil
	}
}

// Close tears down both transports, which cascades to every producer and
// consumer pion/webrtc owns for them.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendPC != nil {
		_ = p.sendPC.Close()
	}
	if p.recvPC != nil {
		_ = p.recvPC.Close()
	}
}

func (p *Peer) addProducer(info *ProducerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[info.ID] = info
}

func (p *Peer) addConsumer(info *ConsumerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[info.ID] = info
}

// resumeConsumer flips a consumer's Paused flag to false, reporting
// whether a consumer with that ID was found.
func (p *Peer) resumeConsumer(consumerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.consumers[consumerID]
	if !ok {
		return false
	}
	info.Paused = false
	return true
}

func (p *Peer) producerSnapshot() []*ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ProducerInfo, 0, len(p.producers))
	for _, pr := range p.producers {
		out = append(out, pr)
	}
	return out
}

func newProducerInfo(id string, kind ProducerKind, ownerUserID string) *ProducerInfo {
	return &ProducerInfo{ID: id, Kind: kind, OwnerUserID: ownerUserID, CreatedAt: time.Now()}
}
