package conference

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles conference and participant persistence, tenant-scoped
// raw SQL over pgx, mirroring the reference repository's $N-placeholder /
// RETURNING / COALESCE partial-update idiom for exactly the two tables
// this core needs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a conference repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new conference. conf.MeetingCode must already be set by
// the caller (the Service layer generates it before persisting).
func (r *Repository) Create(ctx context.Context, conf *Conference) error {
	const q = `INSERT INTO conferences (id, tenant_id, channel_id, subject, status, scheduled_start_time, organizer_id, meeting_code, mute_on_entry, auto_transcription, transcription_backend)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q,
		conf.TenantID, conf.ChannelID, conf.Subject, conf.Status, conf.ScheduledStartTime,
		conf.OrganizerID, conf.MeetingCode, conf.MuteOnEntry, conf.AutoTranscription, conf.TranscriptionBackend,
	).Scan(&conf.ID, &conf.CreatedAt, &conf.UpdatedAt)
}

// GetByID returns a conference by ID, tenant-scoped.
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*Conference, error) {
	const q = `SELECT id, tenant_id, channel_id, subject, status, scheduled_start_time, actual_start_time, actual_end_time,
		organizer_id, meeting_code, mute_on_entry, auto_transcription, transcription_backend, participant_count, peak_participant_count, created_at, updated_at
		FROM conferences WHERE id = $1 AND tenant_id = $2`
	var conf Conference
	err := r.pool.QueryRow(ctx, q, id, tenantID).Scan(
		&conf.ID, &conf.TenantID, &conf.ChannelID, &conf.Subject, &conf.Status,
		&conf.ScheduledStartTime, &conf.ActualStartTime, &conf.ActualEndTime,
		&conf.OrganizerID, &conf.MeetingCode, &conf.MuteOnEntry, &conf.AutoTranscription, &conf.TranscriptionBackend,
		&conf.ParticipantCount, &conf.PeakParticipantCount, &conf.CreatedAt, &conf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

// UpdateStatus transitions a conference's status, stamping actual start/end
// times as appropriate.
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, status Status) error {
	const q = `UPDATE conferences SET status = $1,
		actual_start_time = CASE WHEN $1 = 'in_progress' AND actual_start_time IS NULL THEN NOW() ELSE actual_start_time END,
		actual_end_time = CASE WHEN $1 = 'ended' THEN NOW() ELSE actual_end_time END,
		updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3`
	_, err := r.pool.Exec(ctx, q, status, id, tenantID)
	return err
}

// IncrementParticipantCount bumps (or decrements, via negative delta) the
// currently-connected participant count and the high-water mark.
func (r *Repository) IncrementParticipantCount(ctx context.Context, id string, delta int) error {
	const q = `UPDATE conferences SET
		participant_count = GREATEST(participant_count + $1, 0),
		peak_participant_count = GREATEST(peak_participant_count, participant_count + $1),
		updated_at = NOW()
		WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, delta, id)
	return err
}

// Delete soft-deletes a conference by marking it cancelled.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	return r.UpdateStatus(ctx, tenantID, id, StatusCancelled)
}

// AddParticipant records a participant join.
func (r *Repository) AddParticipant(ctx context.Context, p *Participant) error {
	const q = `INSERT INTO participants (id, conference_id, user_id, display_name, joined_at)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW())
		RETURNING id, joined_at`
	return r.pool.QueryRow(ctx, q, p.ConferenceID, p.UserID, p.DisplayName).Scan(&p.ID, &p.JoinedAt)
}

// MarkParticipantLeft stamps a participant's leave time.
func (r *Repository) MarkParticipantLeft(ctx context.Context, conferenceID, userID string) error {
	const q = `UPDATE participants SET left_at = NOW()
		WHERE conference_id = $1 AND user_id = $2 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, conferenceID, userID)
	return err
}

// ListActiveConferences returns conferences currently in progress, used by
// the idle-room sweep to decide what's still live.
func (r *Repository) ListActiveConferences(ctx context.Context) ([]Conference, error) {
	const q = `SELECT id, tenant_id, channel_id, subject, status, scheduled_start_time, actual_start_time, actual_end_time,
		organizer_id, meeting_code, mute_on_entry, auto_transcription, transcription_backend, participant_count, peak_participant_count, created_at, updated_at
		FROM conferences WHERE status = 'in_progress'`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conference
	for rows.Next() {
		var conf Conference
		if err := rows.Scan(
			&conf.ID, &conf.TenantID, &conf.ChannelID, &conf.Subject, &conf.Status,
			&conf.ScheduledStartTime, &conf.ActualStartTime, &conf.ActualEndTime,
			&conf.OrganizerID, &conf.MeetingCode, &conf.MuteOnEntry, &conf.AutoTranscription, &conf.TranscriptionBackend,
			&conf.ParticipantCount, &conf.PeakParticipantCount, &conf.CreatedAt, &conf.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, conf)
	}
	return out, rows.Err()
}
