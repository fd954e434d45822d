package signaling

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/aura-conferencing/core/internal/apperr"
	"github.com/aura-conferencing/core/internal/media"
)

type fakeRooms struct {
	rooms           map[string]bool
	ensurePeerErr   error
	produceErr      error
	consumeErr      error
	connectErr      error
	closeErr        error
	resumeErr       error
	lastClosed      []string
	resumedConsumer string
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: map[string]bool{}}
}

func (f *fakeRooms) CreateRoom(confID string) (media.RtpCapabilities, error) {
	if f.rooms[confID] {
		return media.RtpCapabilities{}, apperr.New(apperr.AlreadyExists, "room exists")
	}
	f.rooms[confID] = true
	return media.RtpCapabilities{}, nil
}

func (f *fakeRooms) EnsurePeer(confID, userID string) (media.TransportDescriptor, media.TransportDescriptor, error) {
	if f.ensurePeerErr != nil {
		return media.TransportDescriptor{}, media.TransportDescriptor{}, f.ensurePeerErr
	}
	return media.TransportDescriptor{ID: "send-" + userID}, media.TransportDescriptor{ID: "recv-" + userID}, nil
}

func (f *fakeRooms) ConnectTransport(confID, userID, transportID string, dtls media.DTLSParameters) error {
	return f.connectErr
}

func (f *fakeRooms) Produce(confID, userID, transportID string, kind media.ProducerKind) (string, error) {
	if f.produceErr != nil {
		return "", f.produceErr
	}
	return "producer-1", nil
}

func (f *fakeRooms) Consume(confID, userID, producerID string, caps media.RtpCapabilities) (media.ConsumerDescriptor, error) {
	if f.consumeErr != nil {
		return media.ConsumerDescriptor{}, f.consumeErr
	}
	return media.ConsumerDescriptor{ConsumerID: "consumer-1", ProducerID: producerID}, nil
}

func (f *fakeRooms) CloseParticipant(confID, userID string) error {
	f.lastClosed = append(f.lastClosed, confID)
	return f.closeErr
}

func (f *fakeRooms) ResumeConsumer(confID, userID, consumerID string) error {
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumedConsumer = consumerID
	return nil
}

func (f *fakeRooms) HasRoom(confID string) bool { return f.rooms[confID] }

type sentFrame struct {
	userID string
	frame  Frame
}

type fakeSender struct {
	sent       []sentFrame
	broadcasts []sentFrame
}

func (s *fakeSender) SendToUser(userID string, frame Frame) {
	s.sent = append(s.sent, sentFrame{userID, frame})
}

func (s *fakeSender) Broadcast(userIDs []string, frame Frame) {
	for _, uid := range userIDs {
		s.broadcasts = append(s.broadcasts, sentFrame{uid, frame})
	}
}

type fakeChannels struct {
	members map[string][]string
}

func (c *fakeChannels) MemberUserIDs(channelID string) ([]string, error) {
	return c.members[channelID], nil
}

func newDispatcher(userID string, rooms RoomOps, sender Sender) *Dispatcher {
	channels := &fakeChannels{members: map[string][]string{}}
	allUsers := func() []string { return []string{userID} }
	return New(userID, rooms, sender, channels, allUsers, zap.NewNop())
}

func TestDispatcher_InitialState(t *testing.T) {
	d := newDispatcher("u1", newFakeRooms(), &fakeSender{})
	if d.State() != Connected {
		t.Fatalf("expected initial state Connected, got %v", d.State())
	}
}

func TestDispatcher_MalformedFrameDropped(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher("u1", newFakeRooms(), sender)
	d.Dispatch([]byte("not json"))

	if len(sender.sent) != 0 {
		t.Fatal("expected malformed frame to produce no response")
	}
	if d.State() != Connected {
		t.Fatal("expected malformed frame not to change state")
	}
}

func TestDispatcher_UnknownFrameTypeDropped(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher("u1", newFakeRooms(), sender)
	d.Dispatch([]byte(`{"type":"totally_unknown"}`))

	if len(sender.sent) != 0 {
		t.Fatal("expected unrecognized frame type to be a no-op")
	}
}

func TestDispatcher_Ping(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher("u1", newFakeRooms(), sender)
	d.Dispatch([]byte(`{"type":"ping"}`))

	if len(sender.sent) != 1 || sender.sent[0].frame.Type != "pong" {
		t.Fatalf("expected a pong reply, got %v", sender.sent)
	}
}

func TestDispatcher_MediaJoinTransitionsToJoined(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := newDispatcher("u1", rooms, sender)

	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))

	if d.State() != Joined {
		t.Fatalf("expected state Joined after media:join, got %v", d.State())
	}
	if !rooms.HasRoom("conf1") {
		t.Fatal("expected media:join to create the room")
	}

	var sawCaps, sawTransports bool
	for _, sf := range sender.sent {
		if sf.frame.Type == "media:router_capabilities" {
			sawCaps = true
		}
		if sf.frame.Type == "media:transport_created" {
			sawTransports = true
		}
	}
	if !sawCaps || !sawTransports {
		t.Fatalf("expected router_capabilities and transport_created frames, got %v", sender.sent)
	}
}

func TestDispatcher_MediaJoinRejoinsExistingRoom(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	rooms.rooms["conf1"] = true // already exists
	d := newDispatcher("u1", rooms, sender)

	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))

	if d.State() != Joined {
		t.Fatalf("expected joining an already-existing room to reach Joined, got state %v", d.State())
	}
}

func TestDispatcher_MediaJoinPropagatesEnsurePeerError(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	rooms.ensurePeerErr = errors.New("boom")
	d := newDispatcher("u1", rooms, sender)

	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))

	if d.State() == Joined {
		t.Fatal("expected EnsurePeer failure to prevent transition to Joined")
	}
	var sawErr bool
	for _, sf := range sender.sent {
		if sf.frame.Type == "error" {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("expected an error frame back to the client")
	}
}

func TestDispatcher_ProduceRequiresJoinedState(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := newDispatcher("u1", rooms, sender)

	// not joined yet
	d.Dispatch([]byte(`{"type":"media:produce","data":{"transport_id":"t1","kind":"audio"}}`))

	if len(sender.sent) != 0 {
		t.Fatal("expected produce before join to be ignored")
	}
}

func TestDispatcher_ProduceAfterJoin(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := newDispatcher("u1", rooms, sender)
	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))
	sender.sent = nil

	d.Dispatch([]byte(`{"type":"media:produce","data":{"transport_id":"t1","kind":"audio"}}`))

	if len(sender.sent) != 1 || sender.sent[0].frame.Type != "media:produced" {
		t.Fatalf("expected media:produced reply, got %v", sender.sent)
	}
}

func TestDispatcher_ResumeConsumerUnpausesConsumer(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := newDispatcher("u1", rooms, sender)
	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))

	d.Dispatch([]byte(`{"type":"media:resume_consumer","data":{"consumer_id":"consumer-1"}}`))

	if rooms.resumedConsumer != "consumer-1" {
		t.Fatalf("expected ResumeConsumer to be called with consumer-1, got %q", rooms.resumedConsumer)
	}
}

func TestDispatcher_ResumeConsumerPropagatesError(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	rooms.resumeErr = apperr.New(apperr.NotFound, "consumer not found")
	d := newDispatcher("u1", rooms, sender)
	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))
	sender.sent = nil

	d.Dispatch([]byte(`{"type":"media:resume_consumer","data":{"consumer_id":"consumer-1"}}`))

	if len(sender.sent) != 1 || sender.sent[0].frame.Type != "error" {
		t.Fatalf("expected an error frame, got %v", sender.sent)
	}
}

func TestDispatcher_MediaLeaveReturnsToConnected(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := newDispatcher("u1", rooms, sender)
	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))

	d.Dispatch([]byte(`{"type":"media:leave","data":{"conference_id":"conf1"}}`))

	if d.State() != Connected {
		t.Fatalf("expected state Connected after leaving the only joined conference, got %v", d.State())
	}
	if len(rooms.lastClosed) != 1 || rooms.lastClosed[0] != "conf1" {
		t.Fatalf("expected CloseParticipant called for conf1, got %v", rooms.lastClosed)
	}
}

func TestDispatcher_CloseClosesAllJoinedConferences(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := newDispatcher("u1", rooms, sender)
	d.Dispatch([]byte(`{"type":"media:join","data":{"conference_id":"conf1"}}`))

	d.Close()

	if d.State() != Terminal {
		t.Fatalf("expected Terminal state after Close, got %v", d.State())
	}
	if len(rooms.lastClosed) != 1 || rooms.lastClosed[0] != "conf1" {
		t.Fatalf("expected CloseParticipant on disconnect, got %v", rooms.lastClosed)
	}
}

func TestDispatcher_TypingBroadcastsExcludingSelf(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	channels := &fakeChannels{members: map[string][]string{"chan1": {"u1", "u2", "u3"}}}
	d := New("u1", rooms, sender, channels, func() []string { return nil }, zap.NewNop())

	d.Dispatch([]byte(`{"type":"typing:start","data":{"channel_id":"chan1"}}`))

	if len(sender.broadcasts) != 2 {
		t.Fatalf("expected broadcast to the other 2 members, got %d", len(sender.broadcasts))
	}
	for _, b := range sender.broadcasts {
		if b.userID == "u1" {
			t.Fatal("expected typing broadcast to exclude the sender")
		}
	}
}

func TestDispatcher_PresenceBroadcastsToAllUsers(t *testing.T) {
	sender := &fakeSender{}
	rooms := newFakeRooms()
	d := New("u1", rooms, sender, &fakeChannels{}, func() []string { return []string{"u1", "u2"} }, zap.NewNop())

	d.Dispatch([]byte(`{"type":"presence:update","data":{"presence":"away"}}`))

	if len(sender.broadcasts) != 2 {
		t.Fatalf("expected presence broadcast to all users, got %d", len(sender.broadcasts))
	}
}
