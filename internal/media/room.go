// Package media implements the Worker Pool and Room Manager: the
// mediasoup-style selective-forwarding layer conference signaling drives.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-conferencing/core/internal/apperr"
	"github.com/aura-conferencing/core/internal/metrics"
)

// Room is the ephemeral per-conference media session: one Room exists only
// while the conference's status is InProgress.
type Room struct {
	ConfID string
	worker *Worker

	mu    sync.RWMutex
	peers map[string]*Peer // userID -> Peer
}

// EventSink receives the room-level events the Room Manager must fan out
// to connected clients; the signaling/integration layer implements it on
// top of the WS Fanout (internal/realtime).
type EventSink interface {
	NewProducer(confID, producerID, ownerUserID string, kind ProducerKind, excludeUserID string)
	PeerLeft(confID, userID string)
	// RoomClosed is invoked with a snapshot of the user IDs that were in
	// the room immediately before it closed — the room itself is already
	// gone from the registry by the time this fires, so the Room Manager
	// hands the survivor list along rather than making the sink re-query.
	RoomClosed(confID string, survivorUserIDs []string)
}

// AudioProducerHook is invoked whenever a new audio producer's RTP starts
// flowing, so the Transcription Engine can attach an ingestion pipeline to
// it. rtpCh yields each packet's raw bytes (spec §4.6's "plain-RTP copy")
// and closes when the underlying track ends.
type AudioProducerHook func(confID, producerID, userID string, rtpCh <-chan []byte)

// RoomManager owns every live Room, keyed by conference ID, behind a
// sharded concurrent map so unrelated conferences never contend on the
// same lock; a room-scoped RWMutex then serializes mutation within one
// conference.
type RoomManager struct {
	rooms      *ShardedMap[*Room]
	pool       *WorkerPool
	iceServers []webrtc.ICEServer
	sink       EventSink
	onAudio    AudioProducerHook
	logger     *zap.Logger
}

// NewRoomManager builds a Room Manager backed by pool. sink receives fanout
// events; onAudio, if non-nil, is called for every new audio producer.
func NewRoomManager(pool *WorkerPool, iceServers []webrtc.ICEServer, sink EventSink, onAudio AudioProducerHook, logger *zap.Logger) *RoomManager {
	return &RoomManager{
		rooms:      NewShardedMap[*Room](),
		pool:       pool,
		iceServers: iceServers,
		sink:       sink,
		onAudio:    onAudio,
		logger:     logger,
	}
}

// CreateRoom creates the Room for confID, failing AlreadyExists if one is
// already live. Returns the router's RTP capabilities.
func (rm *RoomManager) CreateRoom(confID string) (RtpCapabilities, error) {
	worker, err := rm.pool.NextWorker()
	if err != nil {
		return RtpCapabilities{}, apperr.Wrap(apperr.Internal, "no media worker available", err)
	}
	room := &Room{ConfID: confID, worker: worker, peers: make(map[string]*Peer)}
	if !rm.rooms.SetIfAbsent(confID, room) {
		return RtpCapabilities{}, apperr.New(apperr.AlreadyExists, fmt.Sprintf("room already exists for conference %s", confID))
	}
	rm.logger.Info("room created", zap.String("conf_id", confID))
	metrics.SetRooms(float64(rm.rooms.Len()))
	return defaultRtpCapabilities(), nil
}

func (rm *RoomManager) getRoom(confID string) (*Room, error) {
	room, ok := rm.rooms.Get(confID)
	if !ok {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("no room for conference %s", confID))
	}
	return room, nil
}

// EnsurePeer idempotently creates (or returns the existing) Peer for
// userID within confID's room, returning its send/recv transport
// descriptors. Concurrent callers for the same (confID, userID) never
// produce more than one Peer — the room lock serializes the check+create.
func (rm *RoomManager) EnsurePeer(confID, userID string) (sendT, recvT TransportDescriptor, err error) {
	room, err := rm.getRoom(confID)
	if err != nil {
		return TransportDescriptor{}, TransportDescriptor{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if existing, ok := room.peers[userID]; ok {
		s, r := existing.Descriptors()
		return s, r, nil
	}

	peer, err := newPeer(userID, room.worker.API(), rm.iceServers, rm.logger)
	if err != nil {
		return TransportDescriptor{}, TransportDescriptor{}, apperr.Wrap(apperr.Internal, "create peer transports", err)
	}
	peer.SetTrackHandler(func(producerID string, kind ProducerKind, track *webrtc.TrackRemote) {
		rm.onRemoteTrack(confID, userID, producerID, kind, track)
	})
	room.peers[userID] = peer
	metrics.SetPeers(confID, float64(len(room.peers)))
	s, r := peer.Descriptors()
	return s, r, nil
}

// ConnectTransport checks that userID's peer and the named transport exist
// in confID's room. It does not start a DTLS/ICE handshake and ignores the
// DTLS parameters: with pion/webrtc that handshake is driven by an SDP
// offer/answer exchange, and no signaling frame in this codebase carries
// SDP. The call is idempotent bookkeeping for the signaling state machine.
func (rm *RoomManager) ConnectTransport(confID, userID, transportID string, _ DTLSParameters) error {
	room, err := rm.getRoom(confID)
	if err != nil {
		return err
	}
	room.mu.RLock()
	peer, ok := room.peers[userID]
	room.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "peer not found")
	}
	if peer.transportByID(transportID) == nil {
		return apperr.New(apperr.NotFound, fmt.Sprintf("transport %s not found", transportID))
	}
	return nil
}

// Produce creates a producer of kind on userID's send transport and fans
// out media:new_producer to every other peer in the room.
func (rm *RoomManager) Produce(confID, userID, transportID string, kind ProducerKind) (string, error) {
	room, err := rm.getRoom(confID)
	if err != nil {
		return "", err
	}

	room.mu.Lock()
	peer, ok := room.peers[userID]
	if !ok {
		room.mu.Unlock()
		return "", apperr.New(apperr.NotFound, "peer not found")
	}
	if peer.transportByID(transportID) == nil {
		room.mu.Unlock()
		return "", apperr.New(apperr.NotFound, fmt.Sprintf("transport %s not found", transportID))
	}
	producerID := fmt.Sprintf("%s:%s:%d", userID, kind, len(peer.producers)+1)
	info := newProducerInfo(producerID, kind, userID)
	if kind == KindAudio {
		info.PlainRTPCopy = true
	}
	peer.addProducer(info)
	peer.ExpectProducer(producerID, kind)
	room.mu.Unlock()

	if rm.sink != nil {
		rm.sink.NewProducer(confID, producerID, userID, kind, userID)
	}
	return producerID, nil
}

// onRemoteTrack is a Peer's track handler: once the client's SDP offer
// actually starts a producer's media flowing, the matching ProducerKind's
// RTP becomes available here. Only audio is wired into the Transcription
// Engine (spec §4.6 is audio-only). No track's RTP is forwarded to other
// peers' recv transports, and video/screen tracks are not read at all.
func (rm *RoomManager) onRemoteTrack(confID, userID, producerID string, kind ProducerKind, track *webrtc.TrackRemote) {
	if kind != KindAudio || rm.onAudio == nil {
		return
	}
	rtpCh := make(chan []byte, 64)
	go forwardRemoteRTP(track, rtpCh, rm.logger)
	rm.onAudio(confID, producerID, userID, rtpCh)
}

// Consume validates the requesting peer's capabilities against the
// producer's kind and, if compatible, creates a paused consumer on the
// recv transport.
func (rm *RoomManager) Consume(confID, userID, producerID string, caps RtpCapabilities) (ConsumerDescriptor, error) {
	room, err := rm.getRoom(confID)
	if err != nil {
		return ConsumerDescriptor{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	peer, ok := room.peers[userID]
	if !ok {
		return ConsumerDescriptor{}, apperr.New(apperr.NotFound, "peer not found")
	}

	var producerKind ProducerKind
	found := false
	for _, other := range room.peers {
		for _, p := range other.producerSnapshot() {
			if p.ID == producerID {
				producerKind = p.Kind
				found = true
			}
		}
	}
	if !found {
		return ConsumerDescriptor{}, apperr.New(apperr.NotFound, "producer not found")
	}
	if !canConsume(caps, producerKind) {
		return ConsumerDescriptor{}, apperr.New(apperr.Validation, "rtp capabilities incompatible with producer kind")
	}

	consumerID := fmt.Sprintf("%s:consume:%s", userID, producerID)
	info := &ConsumerInfo{ID: consumerID, ProducerID: producerID, Kind: producerKind, Paused: true}
	peer.addConsumer(info)

	return ConsumerDescriptor{ConsumerID: consumerID, ProducerID: producerID, Kind: producerKind, Paused: true}, nil
}

// ResumeConsumer unpauses a previously-created consumer for userID in
// confID's room.
func (rm *RoomManager) ResumeConsumer(confID, userID, consumerID string) error {
	room, err := rm.getRoom(confID)
	if err != nil {
		return err
	}

	room.mu.RLock()
	peer, ok := room.peers[userID]
	room.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "peer not found")
	}

	if !peer.resumeConsumer(consumerID) {
		return apperr.New(apperr.NotFound, fmt.Sprintf("consumer %s not found", consumerID))
	}
	return nil
}

func canConsume(caps RtpCapabilities, kind ProducerKind) bool {
	for _, c := range caps.Codecs {
		if c.Kind == string(kind) || (kind == KindScreen && c.Kind == "video") {
			return true
		}
	}
	return false
}

// CloseParticipant closes userID's transports (cascading to their
// producers/consumers) and fans out media:peer_left to survivors.
func (rm *RoomManager) CloseParticipant(confID, userID string) error {
	room, err := rm.getRoom(confID)
	if err != nil {
		return err
	}
	room.mu.Lock()
	peer, ok := room.peers[userID]
	if ok {
		delete(room.peers, userID)
	}
	room.mu.Unlock()

	if !ok {
		return apperr.New(apperr.NotFound, "peer not found")
	}
	peer.Close()
	metrics.SetPeers(confID, float64(rm.ParticipantCount(confID)))

	if rm.sink != nil {
		rm.sink.PeerLeft(confID, userID)
	}
	return nil
}

// RemoveRoom closes the room and every remaining peer in it, fanning out
// media:room_closed to survivors.
func (rm *RoomManager) RemoveRoom(confID string) error {
	room, ok := rm.rooms.Delete(confID)
	if !ok {
		return apperr.New(apperr.NotFound, fmt.Sprintf("no room for conference %s", confID))
	}

	room.mu.Lock()
	peers := make([]*Peer, 0, len(room.peers))
	userIDs := make([]string, 0, len(room.peers))
	for uid, p := range room.peers {
		peers = append(peers, p)
		userIDs = append(userIDs, uid)
	}
	room.peers = make(map[string]*Peer)
	room.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	if rm.sink != nil {
		rm.sink.RoomClosed(confID, userIDs)
	}
	metrics.SetRooms(float64(rm.rooms.Len()))
	metrics.SetPeers(confID, 0)
	rm.logger.Info("room removed", zap.String("conf_id", confID))
	return nil
}

// RoomCount returns the number of currently live rooms.
func (rm *RoomManager) RoomCount() int { return rm.rooms.Len() }

// HasRoom reports whether a room exists for confID.
func (rm *RoomManager) HasRoom(confID string) bool {
	_, ok := rm.rooms.Get(confID)
	return ok
}

// PeerUserIDs returns a snapshot of the user IDs currently in confID's
// room, or nil if no room exists. Used by the integration layer to resolve
// fanout recipients for room-level events.
func (rm *RoomManager) PeerUserIDs(confID string) []string {
	room, ok := rm.rooms.Get(confID)
	if !ok {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]string, 0, len(room.peers))
	for uid := range room.peers {
		out = append(out, uid)
	}
	return out
}

// ParticipantCount returns the number of peers currently in confID's room,
// or 0 if no room exists.
func (rm *RoomManager) ParticipantCount(confID string) int {
	room, ok := rm.rooms.Get(confID)
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.peers)
}
