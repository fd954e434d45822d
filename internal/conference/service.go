package conference

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conferencing/core/internal/apperr"
	"github.com/aura-conferencing/core/internal/media"
	"github.com/aura-conferencing/core/internal/realtime"
	"github.com/aura-conferencing/core/internal/transcription"
)

const meetingCodeAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// Service is the conference lifecycle glue (§4.10): it drives the Room
// Manager and Transcription Engine from conference.start/join/leave/end,
// and implements media.EventSink so Room Manager events reach the WS
// Fanout as the right signaling frames.
type Service struct {
	repo   *Repository
	rooms  *media.RoomManager
	engine *transcription.Engine
	fanout *realtime.Fanout
	bridge *realtime.RedisBridge
	logger *zap.Logger
}

// NewService wires the lifecycle glue around its collaborators. bridge may
// be nil, in which case fanout is purely local to this process (single
// instance deployments).
func NewService(repo *Repository, rooms *media.RoomManager, engine *transcription.Engine, fanout *realtime.Fanout, bridge *realtime.RedisBridge, logger *zap.Logger) *Service {
	return &Service{repo: repo, rooms: rooms, engine: engine, fanout: fanout, bridge: bridge, logger: logger}
}

// Create inserts a new Scheduled conference with a freshly generated
// meeting code, per the builder-shaped-constructor note in spec §9: only
// the fields that matter at creation time are required, the rest default.
func (s *Service) Create(ctx context.Context, tenantID, subject, organizerID string, autoTranscription bool, backend string) (*Conference, error) {
	code, err := generateMeetingCode()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate meeting code", err)
	}
	conf := &Conference{
		TenantID:             tenantID,
		Subject:              subject,
		Status:               StatusScheduled,
		OrganizerID:          organizerID,
		MeetingCode:          code,
		AutoTranscription:    autoTranscription,
		TranscriptionBackend: backend,
	}
	if err := s.repo.Create(ctx, conf); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create conference", err)
	}
	return conf, nil
}

// JoinURL builds the client-facing join link for a conference's meeting
// code (spec §6: "returns conference with meeting_code and join_url").
func (conf *Conference) JoinURL(publicBaseURL string) string {
	return fmt.Sprintf("%s/join/%s", publicBaseURL, conf.MeetingCode)
}

func generateMeetingCode() (string, error) {
	groups := make([]string, 3)
	for g := range groups {
		b := make([]byte, 3)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(meetingCodeAlphabet))))
			if err != nil {
				return "", err
			}
			b[i] = meetingCodeAlphabet[n.Int64()]
		}
		groups[g] = string(b)
	}
	return fmt.Sprintf("%s-%s-%s", groups[0], groups[1], groups[2]), nil
}

// Start transitions a conference to InProgress and creates its Room,
// returning the router's RTP capabilities. If AutoTranscription is set on
// the conference, transcription is enabled for it immediately.
func (s *Service) Start(ctx context.Context, tenantID, confID string) (media.RtpCapabilities, error) {
	conf, err := s.repo.GetByID(ctx, tenantID, confID)
	if err != nil {
		return media.RtpCapabilities{}, apperr.Wrap(apperr.NotFound, "conference not found", err)
	}

	caps, err := s.rooms.CreateRoom(confID)
	if err != nil && apperr.KindOf(err) != apperr.AlreadyExists {
		return media.RtpCapabilities{}, err
	}

	if err := s.repo.UpdateStatus(ctx, tenantID, confID, StatusInProgress); err != nil {
		return media.RtpCapabilities{}, apperr.Wrap(apperr.Internal, "update conference status", err)
	}

	if conf.AutoTranscription {
		s.engine.EnableConference(confID, conf.TranscriptionBackend)
	}
	if s.bridge != nil {
		if _, err := s.bridge.SubscribeConference(confID, func(payload []byte) {
			s.fanout.Broadcast(s.rooms.PeerUserIDs(confID), realtime.Frame{Type: "relay", Data: payload})
		}); err != nil {
			s.logger.Warn("redis bridge subscribe failed", zap.String("conf_id", confID), zap.Error(err))
		}
	}
	return caps, nil
}

// End removes the conference's Room (fanning out media:room_closed to
// survivors via RoomClosed), disables transcription, and marks the
// conference Ended.
func (s *Service) End(ctx context.Context, tenantID, confID string) error {
	if err := s.rooms.RemoveRoom(confID); err != nil && apperr.KindOf(err) != apperr.NotFound {
		return err
	}
	s.engine.DisableConference(confID)
	if err := s.repo.UpdateStatus(ctx, tenantID, confID, StatusEnded); err != nil {
		return apperr.Wrap(apperr.Internal, "update conference status", err)
	}
	return nil
}

// Join records a participant's join in persistence. The media-level join
// (transport/peer creation) happens over the WS signaling path (§4.3); this
// is the HTTP-side bookkeeping the lifecycle endpoint in §6 performs.
func (s *Service) Join(ctx context.Context, tenantID, confID, userID, displayName string) error {
	conf, err := s.repo.GetByID(ctx, tenantID, confID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "conference not found", err)
	}
	if conf.Status != StatusInProgress {
		return apperr.New(apperr.BadRequest, "conference does not have an active conference")
	}
	if err := s.repo.AddParticipant(ctx, &Participant{ConferenceID: confID, UserID: userID, DisplayName: displayName}); err != nil {
		return apperr.Wrap(apperr.Internal, "add participant", err)
	}
	return s.repo.IncrementParticipantCount(ctx, confID, 1)
}

// Leave closes the participant's media state (if any), fans out
// media:peer_left, marks the DB session left, and decrements the
// currently-connected participant count.
func (s *Service) Leave(ctx context.Context, tenantID, confID, userID string) error {
	if err := s.rooms.CloseParticipant(confID, userID); err != nil && apperr.KindOf(err) != apperr.NotFound {
		s.logger.Warn("close_participant on leave", zap.String("conf_id", confID), zap.Error(err))
	}
	if err := s.repo.MarkParticipantLeft(ctx, confID, userID); err != nil {
		return apperr.Wrap(apperr.Internal, "mark participant left", err)
	}
	return s.repo.IncrementParticipantCount(ctx, confID, -1)
}

// ValidateChatAllowed enforces the two conference-chat invariants from
// spec §8 scenarios 5/6: the conference must be InProgress, and the caller
// must currently be a participant.
func (s *Service) ValidateChatAllowed(ctx context.Context, tenantID, confID, userID string) error {
	conf, err := s.repo.GetByID(ctx, tenantID, confID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "conference not found", err)
	}
	if conf.Status != StatusInProgress {
		return apperr.New(apperr.BadRequest, "conference does not have an active conference")
	}
	if !s.rooms.HasRoom(confID) {
		return apperr.New(apperr.Forbidden, "not a participant of this conference")
	}
	isPeer := false
	for _, uid := range s.rooms.PeerUserIDs(confID) {
		if uid == userID {
			isPeer = true
			break
		}
	}
	if !isPeer {
		return apperr.New(apperr.Forbidden, "not a participant of this conference")
	}
	return nil
}

// OnAudioProducer is the media.AudioProducerHook wired into the Room
// Manager: every new audio producer starts a transcription pipeline for
// it. speakerName defaults to the user ID; language is left empty so the
// ASR backend auto-detects it.
func (s *Service) OnAudioProducer(confID, producerID, userID string, rtpCh <-chan []byte) {
	s.engine.StartPipeline(context.Background(), confID, producerID, userID, userID, "", rtpCh)
}

// OnProducerClosed stops a producer's transcription pipeline, if any.
func (s *Service) OnProducerClosed(confID, producerID string) {
	s.engine.StopProducer(confID, producerID)
}

var _ media.EventSink = (*Service)(nil)

// NewProducer implements media.EventSink: fans out media:new_producer to
// every other peer currently in the room.
func (s *Service) NewProducer(confID, producerID, ownerUserID string, kind media.ProducerKind, excludeUserID string) {
	targets := excludeUser(s.rooms.PeerUserIDs(confID), excludeUserID)
	s.broadcast(confID, targets, frameOf("media:new_producer", map[string]interface{}{
		"conference_id": confID,
		"producer_id":   producerID,
		"user_id":       ownerUserID,
		"kind":          kind,
	}))
}

// PeerLeft implements media.EventSink: fans out media:peer_left to the
// survivors remaining in the room.
func (s *Service) PeerLeft(confID, userID string) {
	s.broadcast(confID, s.rooms.PeerUserIDs(confID), frameOf("media:peer_left", map[string]string{
		"conference_id": confID,
		"user_id":       userID,
	}))
}

// RoomClosed implements media.EventSink: fans out media:room_closed to
// the survivor snapshot the Room Manager captured before tearing the room
// down.
func (s *Service) RoomClosed(confID string, survivorUserIDs []string) {
	s.broadcast(confID, survivorUserIDs, frameOf("media:room_closed", map[string]string{
		"conference_id": confID,
	}))
}

// broadcast delivers frame to every connection of every user in userIDs on
// this instance, and — when a RedisBridge is configured — republishes it so
// instances holding other peers of the same conference deliver it too.
func (s *Service) broadcast(confID string, userIDs []string, frame realtime.Frame) {
	s.fanout.Broadcast(userIDs, frame)
	if s.bridge == nil {
		return
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := s.bridge.Publish(confID, b); err != nil {
		s.logger.Warn("redis bridge publish failed", zap.String("conf_id", confID), zap.Error(err))
	}
}

// SubscribeTranscripts forwards transcript events to every current
// participant of their conference, mapped to conference:transcript
// frames. Run as its own goroutine for the lifetime of the process (§4.9:
// "a single logical subscriber inside the signaling layer").
func (s *Service) SubscribeTranscripts(ctx context.Context) {
	ch, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(ev.ConferenceID, s.rooms.PeerUserIDs(ev.ConferenceID), frameOf("conference:transcript", map[string]interface{}{
				"conference_id": ev.ConferenceID,
				"user_id":       ev.UserID,
				"speaker_name":  ev.SpeakerName,
				"text":          ev.Text,
				"language":      ev.Language,
				"start_time":    ev.StartTimeSecs,
				"end_time":      ev.EndTimeSecs,
			}))
		}
	}
}

// SweepIdleRooms closes rooms that have zero connected peers and whose
// conference was last updated more than idleFor ago, per the Open Question
// resolution in SPEC_FULL.md (disabled by default; see DESIGN.md).
func (s *Service) SweepIdleRooms(ctx context.Context, interval, idleFor time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			confs, err := s.repo.ListActiveConferences(ctx)
			if err != nil {
				s.logger.Warn("idle sweep: list active conferences", zap.Error(err))
				continue
			}
			for _, conf := range confs {
				if s.rooms.ParticipantCount(conf.ID) == 0 && time.Since(conf.UpdatedAt) > idleFor {
					s.logger.Info("idle sweep closing room", zap.String("conf_id", conf.ID))
					_ = s.End(ctx, conf.TenantID, conf.ID)
				}
			}
		}
	}
}

func excludeUser(userIDs []string, exclude string) []string {
	out := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		if uid != exclude {
			out = append(out, uid)
		}
	}
	return out
}

func frameOf(typ string, data interface{}) realtime.Frame {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte("{}")
	}
	return realtime.Frame{Type: typ, Data: b}
}
