package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/call-memento/internal/domain"
	"github.com/acme/call-memento/internal/repository"
)

// CallRepository implements repository.CallRecords using PostgreSQL.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs a new repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

type callRow struct {
	ID              uuid.UUID  `db:"id"`
	OwnerID         uuid.UUID  `db:"owner_id"`
	CallSID         *string    `db:"call_sid"`
	Status          string     `db:"status"`
	EncryptedHandle string     `db:"encrypted_handle"`
	DialString      *string    `db:"dial_string"`
	Instructions    *string    `db:"instructions"`
	Attempts        int        `db:"attempts"`
	FirstAttemptAt  *time.Time `db:"first_attempt_at"`
	LastAttemptAt   *time.Time `db:"last_attempt_at"`
	NextRetryAt     *time.Time `db:"next_retry_at"`
	LastError       *string    `db:"last_error"`
	RecordingURL    *string    `db:"recording_url"`
	RecordingSID    *string    `db:"recording_sid"`
	VideoStatus     string     `db:"video_status"`
	VideoURL        *string    `db:"video_url"`
	VideoKey        *string    `db:"video_key"`
	VideoError      *string    `db:"video_error"`
	PromptText      *string    `db:"prompt_text"`
	UserPhotoURL    *string    `db:"user_photo_url"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r callRow) toDomain() domain.CallRecord {
	return domain.CallRecord{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		CallSID: r.CallSID,
		Status:  domain.CallStatus(r.Status),
		Destination: domain.Destination{
			EncryptedHandle: r.EncryptedHandle,
			DialString:      r.DialString,
		},
		Instructions:   r.Instructions,
		Attempts:       r.Attempts,
		FirstAttemptAt: r.FirstAttemptAt,
		LastAttemptAt:  r.LastAttemptAt,
		NextRetryAt:    r.NextRetryAt,
		LastError:      r.LastError,
		RecordingURL:   r.RecordingURL,
		RecordingSID:   r.RecordingSID,
		VideoStatus:    domain.VideoStatus(r.VideoStatus),
		VideoURL:       r.VideoURL,
		VideoKey:       r.VideoKey,
		VideoError:     r.VideoError,
		PromptText:     r.PromptText,
		UserPhotoURL:   r.UserPhotoURL,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const callColumns = `id, owner_id, call_sid, status, encrypted_handle, dial_string,
	instructions, attempts, first_attempt_at, last_attempt_at, next_retry_at, last_error,
	recording_url, recording_sid, video_status, video_url, video_key,
	video_error, prompt_text, user_photo_url, created_at, updated_at`

// Create inserts a new call record.
func (r *CallRepository) Create(ctx context.Context, record *domain.CallRecord) error {
	q := `INSERT INTO call_records (
		id, owner_id, status, encrypted_handle, dial_string, instructions,
		attempts, video_status, prompt_text, user_photo_url, created_at, updated_at
	) VALUES (
		:id, :owner_id, :status, :encrypted_handle, :dial_string, :instructions,
		:attempts, :video_status, :prompt_text, :user_photo_url, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":               record.ID,
		"owner_id":         record.OwnerID,
		"status":           record.Status,
		"encrypted_handle": record.Destination.EncryptedHandle,
		"dial_string":      record.Destination.DialString,
		"instructions":     record.Instructions,
		"attempts":         record.Attempts,
		"video_status":     record.VideoStatus,
		"prompt_text":      record.PromptText,
		"user_photo_url":   record.UserPhotoURL,
		"created_at":       record.CreatedAt,
		"updated_at":       record.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("call repo: insert: %w", err)
	}
	return nil
}

// Get fetches a call record by id.
func (r *CallRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE id = $1`

	var row callRow
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&row); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get: %w", err)
	}

	record := row.toDomain()
	return &record, nil
}

// GetByCallSID fetches a call record by the telephony session id.
func (r *CallRepository) GetByCallSID(ctx context.Context, callSID string) (*domain.CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE call_sid = $1`

	var row callRow
	if err := r.db.QueryRowxContext(ctx, q, callSID).StructScan(&row); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get by call sid: %w", err)
	}

	record := row.toDomain()
	return &record, nil
}

// MarkAttempted stamps the attempt and transitions promptReady -> attempted.
// The conditional WHERE keeps attempts monotonic and the transition
// forward-only under concurrent deliveries of the same job.
func (r *CallRepository) MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := `UPDATE call_records SET
		status = $1,
		attempts = attempts + 1,
		first_attempt_at = COALESCE(first_attempt_at, $2),
		last_attempt_at = $2,
		next_retry_at = NULL,
		updated_at = $2
	 WHERE id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, q, domain.CallStatusAttempted, at, id, domain.CallStatusPromptReady)
	if err != nil {
		return fmt.Errorf("call repo: mark attempted: %w", err)
	}
	return guardAffected(res, id)
}

// SetCallSID records the carrier's identifier for the live call.
func (r *CallRepository) SetCallSID(ctx context.Context, id uuid.UUID, callSID string) error {
	q := `UPDATE call_records SET call_sid = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, q, callSID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("call repo: set call sid: %w", err)
	}
	return guardAffected(res, id)
}

// ScheduleRetry advances next_retry_at without consuming an attempt.
func (r *CallRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error {
	q := `UPDATE call_records SET next_retry_at = $1, updated_at = $2
	 WHERE id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, q, nextRetryAt, time.Now().UTC(), id, domain.CallStatusPromptReady)
	if err != nil {
		return fmt.Errorf("call repo: schedule retry: %w", err)
	}
	return guardAffected(res, id)
}

// ReturnToPromptReady moves attempted -> promptReady after a retryable
// call outcome, keeping the attempt counted.
func (r *CallRepository) ReturnToPromptReady(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error {
	q := `UPDATE call_records SET status = $1, next_retry_at = $2, updated_at = $3
	 WHERE id = $4 AND status = $5`

	res, err := r.db.ExecContext(ctx, q, domain.CallStatusPromptReady, nextRetryAt, time.Now().UTC(), id, domain.CallStatusAttempted)
	if err != nil {
		return fmt.Errorf("call repo: return to prompt ready: %w", err)
	}
	return guardAffected(res, id)
}

// MarkComplete transitions to the absorbing complete status. A record that
// is already terminal is left untouched and reported as ErrConflict so the
// caller can treat duplicate webhooks as no-ops.
func (r *CallRepository) MarkComplete(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE call_records SET status = $1, next_retry_at = NULL, updated_at = $2
	 WHERE id = $3 AND status NOT IN ($4, $5)`

	res, err := r.db.ExecContext(ctx, q, domain.CallStatusComplete, time.Now().UTC(), id,
		domain.CallStatusComplete, domain.CallStatusFailed)
	if err != nil {
		return fmt.Errorf("call repo: mark complete: %w", err)
	}
	return guardAffected(res, id)
}

// MarkFailed transitions to the absorbing failed status with a reason.
func (r *CallRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	q := `UPDATE call_records SET status = $1, last_error = $2, next_retry_at = NULL, updated_at = $3
	 WHERE id = $4 AND status NOT IN ($5, $6)`

	res, err := r.db.ExecContext(ctx, q, domain.CallStatusFailed, reason, time.Now().UTC(), id,
		domain.CallStatusComplete, domain.CallStatusFailed)
	if err != nil {
		return fmt.Errorf("call repo: mark failed: %w", err)
	}
	return guardAffected(res, id)
}

// SetRecording stores the recording reference from the recording webhook.
func (r *CallRepository) SetRecording(ctx context.Context, id uuid.UUID, recordingURL, recordingSID string) error {
	q := `UPDATE call_records SET recording_url = $1, recording_sid = $2, updated_at = $3 WHERE id = $4`

	res, err := r.db.ExecContext(ctx, q, recordingURL, recordingSID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("call repo: set recording: %w", err)
	}
	return guardAffected(res, id)
}

// SetVideoStatus moves the media pipeline state.
func (r *CallRepository) SetVideoStatus(ctx context.Context, id uuid.UUID, status domain.VideoStatus) error {
	q := `UPDATE call_records SET video_status = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, q, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("call repo: set video status: %w", err)
	}
	return guardAffected(res, id)
}

// SetVideoResult records the produced artifact and clears any prior error.
func (r *CallRepository) SetVideoResult(ctx context.Context, id uuid.UUID, videoURL, videoKey string) error {
	q := `UPDATE call_records SET video_status = $1, video_url = $2, video_key = $3,
		video_error = NULL, updated_at = $4 WHERE id = $5`

	res, err := r.db.ExecContext(ctx, q, domain.VideoStatusCompleted, videoURL, videoKey, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("call repo: set video result: %w", err)
	}
	return guardAffected(res, id)
}

// SetVideoFailure stores the failure message verbatim for display.
func (r *CallRepository) SetVideoFailure(ctx context.Context, id uuid.UUID, message string) error {
	q := `UPDATE call_records SET video_status = $1, video_error = $2, updated_at = $3 WHERE id = $4`

	res, err := r.db.ExecContext(ctx, q, domain.VideoStatusFailed, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("call repo: set video failure: %w", err)
	}
	return guardAffected(res, id)
}

// SetPromptText persists generated prompt text, making the generation step
// idempotent across job redelivery.
func (r *CallRepository) SetPromptText(ctx context.Context, id uuid.UUID, text string) error {
	q := `UPDATE call_records SET prompt_text = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, q, text, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("call repo: set prompt text: %w", err)
	}
	return guardAffected(res, id)
}

func guardAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call repo: rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return repository.ErrConflict
	}
	return nil
}
