package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-memento/internal/domain"
	apperrors "github.com/acme/call-memento/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a guarded transition was refused because the
	// stored status no longer permits it.
	ErrConflict = apperrors.ErrConflict
)

// CallRecords persists the call aggregate.
type CallRecords interface {
	Create(ctx context.Context, record *domain.CallRecord) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallRecord, error)
	GetByCallSID(ctx context.Context, callSID string) (*domain.CallRecord, error)

	// MarkAttempted stamps attempt bookkeeping, clears next_retry_at, and
	// moves the record to attempted. Refused (ErrConflict) unless the stored
	// status is promptReady. Called before dialing, so the attempt is
	// counted even when initiation then fails.
	MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetCallSID stores the carrier call SID once initiation succeeded.
	SetCallSID(ctx context.Context, id uuid.UUID, callSID string) error

	// ScheduleRetry records the next permissible dial instant without
	// consuming an attempt. The record stays promptReady.
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error

	// ReturnToPromptReady moves an attempted record back to promptReady
	// with a future retry time (post-webhook no-answer/busy/failed path).
	ReturnToPromptReady(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error

	// MarkComplete is refused for records already terminal.
	MarkComplete(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	SetRecording(ctx context.Context, id uuid.UUID, recordingURL, recordingSID string) error

	SetVideoStatus(ctx context.Context, id uuid.UUID, status domain.VideoStatus) error
	SetVideoResult(ctx context.Context, id uuid.UUID, videoURL, videoKey string) error
	SetVideoFailure(ctx context.Context, id uuid.UUID, message string) error
	SetPromptText(ctx context.Context, id uuid.UUID, text string) error
}

// AttemptLog appends dial-attempt audit events.
type AttemptLog interface {
	Append(ctx context.Context, event domain.AttemptEvent) error
	ListByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.AttemptEvent, error)
}
