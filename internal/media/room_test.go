package media

import (
	"testing"

	"go.uber.org/zap"
)

type fakeSink struct {
	newProducerCalls []string
	peerLeftCalls    []string
	roomClosedConfs  []string
	roomClosedUsers  [][]string
}

func (s *fakeSink) NewProducer(confID, producerID, ownerUserID string, kind ProducerKind, excludeUserID string) {
	s.newProducerCalls = append(s.newProducerCalls, producerID)
}

func (s *fakeSink) PeerLeft(confID, userID string) {
	s.peerLeftCalls = append(s.peerLeftCalls, userID)
}

func (s *fakeSink) RoomClosed(confID string, survivorUserIDs []string) {
	s.roomClosedConfs = append(s.roomClosedConfs, confID)
	s.roomClosedUsers = append(s.roomClosedUsers, survivorUserIDs)
}

func newTestRoomManager(t *testing.T, sink EventSink) *RoomManager {
	t.Helper()
	pool, err := NewWorkerPool(testSettings(2), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error building worker pool: %v", err)
	}
	return NewRoomManager(pool, nil, sink, nil, zap.NewNop())
}

func TestRoomManager_CreateRoom_RejectsDuplicate(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})

	if _, err := rm.CreateRoom("conf1"); err != nil {
		t.Fatalf("unexpected error creating room: %v", err)
	}
	if _, err := rm.CreateRoom("conf1"); err == nil {
		t.Fatal("expected AlreadyExists error creating a duplicate room")
	}
	if rm.RoomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", rm.RoomCount())
	}
}

func TestRoomManager_EnsurePeer_Idempotent(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	if _, err := rm.CreateRoom("conf1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1, r1, err := rm.EnsurePeer("conf1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, r2, err := rm.EnsurePeer("conf1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1.ID != s2.ID || r1.ID != r2.ID {
		t.Fatal("expected EnsurePeer to return the same transport descriptors for the same user")
	}
	if rm.ParticipantCount("conf1") != 1 {
		t.Fatalf("expected 1 participant, got %d", rm.ParticipantCount("conf1"))
	}
}

func TestRoomManager_EnsurePeer_NoRoom(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	if _, _, err := rm.EnsurePeer("missing", "u1"); err == nil {
		t.Fatal("expected NotFound error for a nonexistent room")
	}
}

func TestRoomManager_ParticipantCounting(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")

	rm.EnsurePeer("conf1", "u1")
	rm.EnsurePeer("conf1", "u2")
	if got := rm.ParticipantCount("conf1"); got != 2 {
		t.Fatalf("expected 2 participants, got %d", got)
	}

	ids := rm.PeerUserIDs("conf1")
	if len(ids) != 2 {
		t.Fatalf("expected 2 peer ids, got %v", ids)
	}
}

func TestRoomManager_Produce_FansOutToSink(t *testing.T) {
	sink := &fakeSink{}
	rm := newTestRoomManager(t, sink)
	rm.CreateRoom("conf1")
	sendT, _, err := rm.EnsurePeer("conf1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	producerID, err := rm.Produce("conf1", "u1", sendT.ID, KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producerID == "" {
		t.Fatal("expected a non-empty producer id")
	}
	if len(sink.newProducerCalls) != 1 || sink.newProducerCalls[0] != producerID {
		t.Fatalf("expected NewProducer fanout for %s, got %v", producerID, sink.newProducerCalls)
	}
}

func TestRoomManager_Produce_UnknownTransport(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")
	rm.EnsurePeer("conf1", "u1")

	if _, err := rm.Produce("conf1", "u1", "bogus-transport", KindAudio); err == nil {
		t.Fatal("expected error for an unknown transport id")
	}
}

func TestRoomManager_Consume_IncompatibleCapabilities(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")
	sendT, _, _ := rm.EnsurePeer("conf1", "u1")
	rm.EnsurePeer("conf1", "u2")
	producerID, err := rm.Produce("conf1", "u1", sendT.ID, KindVideo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	audioOnly := RtpCapabilities{Codecs: []CodecCapability{{Kind: "audio"}}}
	if _, err := rm.Consume("conf1", "u2", producerID, audioOnly); err == nil {
		t.Fatal("expected incompatible capabilities to be rejected")
	}
}

func TestRoomManager_Consume_Success(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")
	sendT, _, _ := rm.EnsurePeer("conf1", "u1")
	rm.EnsurePeer("conf1", "u2")
	producerID, err := rm.Produce("conf1", "u1", sendT.ID, KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	caps := RtpCapabilities{Codecs: []CodecCapability{{Kind: "audio"}}}
	desc, err := rm.Consume("conf1", "u2", producerID, caps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !desc.Paused {
		t.Error("expected a newly created consumer to start paused")
	}
	if desc.ProducerID != producerID {
		t.Errorf("expected producer id %s, got %s", producerID, desc.ProducerID)
	}
}

func TestRoomManager_ResumeConsumer_FlipsPaused(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")
	sendT, _, _ := rm.EnsurePeer("conf1", "u1")
	rm.EnsurePeer("conf1", "u2")
	producerID, err := rm.Produce("conf1", "u1", sendT.ID, KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	caps := RtpCapabilities{Codecs: []CodecCapability{{Kind: "audio"}}}
	desc, err := rm.Consume("conf1", "u2", producerID, caps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !desc.Paused {
		t.Fatal("expected a newly created consumer to start paused")
	}

	if err := rm.ResumeConsumer("conf1", "u2", desc.ConsumerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	room, _ := rm.rooms.Get("conf1")
	room.mu.RLock()
	peer := room.peers["u2"]
	room.mu.RUnlock()
	peer.mu.Lock()
	info := peer.consumers[desc.ConsumerID]
	peer.mu.Unlock()
	if info == nil {
		t.Fatal("expected consumer to still exist after resume")
	}
	if info.Paused {
		t.Fatal("expected ResumeConsumer to flip Paused to false")
	}
}

func TestRoomManager_ResumeConsumer_UnknownConsumer(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")
	rm.EnsurePeer("conf1", "u1")

	if err := rm.ResumeConsumer("conf1", "u1", "missing"); err == nil {
		t.Fatal("expected an error for an unknown consumer")
	}
}

func TestRoomManager_CloseParticipant_FansOutPeerLeft(t *testing.T) {
	sink := &fakeSink{}
	rm := newTestRoomManager(t, sink)
	rm.CreateRoom("conf1")
	rm.EnsurePeer("conf1", "u1")

	if err := rm.CloseParticipant("conf1", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rm.ParticipantCount("conf1") != 0 {
		t.Fatalf("expected 0 participants after close, got %d", rm.ParticipantCount("conf1"))
	}
	if len(sink.peerLeftCalls) != 1 || sink.peerLeftCalls[0] != "u1" {
		t.Fatalf("expected PeerLeft fanout for u1, got %v", sink.peerLeftCalls)
	}
}

func TestRoomManager_CloseParticipant_NotFound(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	rm.CreateRoom("conf1")

	if err := rm.CloseParticipant("conf1", "ghost"); err == nil {
		t.Fatal("expected NotFound error closing a participant that never joined")
	}
}

func TestRoomManager_RemoveRoom_FansOutRoomClosed(t *testing.T) {
	sink := &fakeSink{}
	rm := newTestRoomManager(t, sink)
	rm.CreateRoom("conf1")
	rm.EnsurePeer("conf1", "u1")
	rm.EnsurePeer("conf1", "u2")

	if err := rm.RemoveRoom("conf1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rm.HasRoom("conf1") {
		t.Fatal("expected room to be gone after RemoveRoom")
	}
	if len(sink.roomClosedConfs) != 1 || sink.roomClosedConfs[0] != "conf1" {
		t.Fatalf("expected RoomClosed fanout for conf1, got %v", sink.roomClosedConfs)
	}
	if len(sink.roomClosedUsers[0]) != 2 {
		t.Fatalf("expected 2 survivor user ids, got %v", sink.roomClosedUsers[0])
	}
}

func TestRoomManager_RemoveRoom_NotFound(t *testing.T) {
	rm := newTestRoomManager(t, &fakeSink{})
	if err := rm.RemoveRoom("missing"); err == nil {
		t.Fatal("expected NotFound error removing a nonexistent room")
	}
}
