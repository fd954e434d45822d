// Package conference ties the Room Manager, Transcription Engine, WS
// fanout, and the Conference/Participant persistence layer together into
// the lifecycle operations the HTTP and signaling surfaces call into.
package conference

import "time"

// Status is the conference lifecycle state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
	StatusCancelled  Status = "cancelled"
)

// Conference is the minimal persisted slice of conference state this core
// needs: scheduling, lifecycle, and per-conference feature flags. Every
// other reference-repo concern (ads, polls, registrations, billing,
// analytics) is out of scope.
type Conference struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	ChannelID            string     `json:"channel_id,omitempty"`
	Subject              string     `json:"subject"`
	Status               Status     `json:"status"`
	ScheduledStartTime   *time.Time `json:"scheduled_start_time,omitempty"`
	ActualStartTime      *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime        *time.Time `json:"actual_end_time,omitempty"`
	OrganizerID          string     `json:"organizer_id"`
	MeetingCode          string     `json:"meeting_code"`
	MuteOnEntry          bool       `json:"mute_on_entry"`
	AutoTranscription    bool       `json:"auto_transcription"`
	TranscriptionBackend string     `json:"transcription_backend,omitempty"`
	ParticipantCount     int        `json:"participant_count"`
	PeakParticipantCount int        `json:"peak_participant_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Participant tracks one user's currently-connected membership in a
// conference. "currently-connected" semantics: ParticipantCount above is
// incremented on join and decremented on leave, matching the reference
// behavior rather than a total-ever-joined counter.
type Participant struct {
	ID           string
	ConferenceID string
	UserID       string
	DisplayName  string
	JoinedAt     time.Time
	LeftAt       *time.Time
}
