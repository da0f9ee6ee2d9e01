package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates lifecycle stages for a call record.
//
// Status only moves forward; Complete and Failed are absorbing.
type CallStatus string

const (
	CallStatusCreated     CallStatus = "created"
	CallStatusPromptReady CallStatus = "promptReady"
	CallStatusAttempted   CallStatus = "attempted"
	CallStatusComplete    CallStatus = "complete"
	CallStatusFailed      CallStatus = "failed"
)

// IsTerminal reports whether no further automatic transition occurs.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusComplete || s == CallStatusFailed
}

// VideoStatus enumerates the media pipeline state. Transitions only start
// once the call record is Complete.
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusGenerating VideoStatus = "generating"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Destination is the call target. The encrypted handle is opaque to the
// core; DialString is only populated once external decryption resolved it.
type Destination struct {
	EncryptedHandle string
	DialString      *string
}

// CallRecord is the aggregate root driving a single outbound call.
type CallRecord struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	CallSID *string

	Status      CallStatus
	Destination Destination

	// Instructions is the speech-engine prompt required before dialing.
	// A promptReady record without instructions is a consistency fault.
	Instructions *string

	Attempts       int
	FirstAttemptAt *time.Time
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time

	// LastError holds the reason a record reached failed.
	LastError *string

	RecordingURL *string
	RecordingSID *string

	VideoStatus  VideoStatus
	VideoURL     *string
	VideoKey     *string
	VideoError   *string
	PromptText   *string
	UserPhotoURL *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttemptOutcome labels the result of one dial attempt for the audit log.
type AttemptOutcome string

const (
	AttemptOutcomeDialed     AttemptOutcome = "dialed"
	AttemptOutcomeDeferred   AttemptOutcome = "deferred"
	AttemptOutcomeCompleted  AttemptOutcome = "completed"
	AttemptOutcomeNoAnswer   AttemptOutcome = "no-answer"
	AttemptOutcomeBusy       AttemptOutcome = "busy"
	AttemptOutcomeFailed     AttemptOutcome = "failed"
	AttemptOutcomeCarrierErr AttemptOutcome = "carrier-error"
	AttemptOutcomeExhausted  AttemptOutcome = "exhausted"
)

// AttemptEvent is one append-only row in the attempt audit log.
type AttemptEvent struct {
	CallID     uuid.UUID
	AttemptNum int
	Outcome    AttemptOutcome
	Detail     string
	NextRetry  *time.Time
	OccurredAt time.Time
}
