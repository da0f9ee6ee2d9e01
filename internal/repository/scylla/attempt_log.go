package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/call-memento/internal/domain"
)

// AttemptLog persists the append-only dial-attempt audit trail in Scylla.
type AttemptLog struct {
	session *gocql.Session
}

// NewAttemptLog creates a new attempt log.
func NewAttemptLog(session *gocql.Session) *AttemptLog {
	return &AttemptLog{session: session}
}

// Append writes one attempt event.
func (l *AttemptLog) Append(ctx context.Context, event domain.AttemptEvent) error {
	if err := l.session.Query(`INSERT INTO attempts_by_call (call_id, occurred_at, attempt_num, outcome, detail, next_retry)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.CallID.String(), event.OccurredAt, event.AttemptNum, string(event.Outcome), event.Detail, event.NextRetry,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt log: insert: %w", err)
	}
	return nil
}

// ListByCall returns the most recent attempt events for a call.
func (l *AttemptLog) ListByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.AttemptEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	iter := l.session.Query(`SELECT occurred_at, attempt_num, outcome, detail, next_retry
		FROM attempts_by_call WHERE call_id = ? LIMIT ?`, callID.String(), limit).
		WithContext(ctx).Iter()

	var (
		occurredAt time.Time
		attemptNum int
		outcome    string
		detail     string
		nextRetry  *time.Time
	)

	events := make([]domain.AttemptEvent, 0, limit)
	for iter.Scan(&occurredAt, &attemptNum, &outcome, &detail, &nextRetry) {
		ev := domain.AttemptEvent{
			CallID:     callID,
			AttemptNum: attemptNum,
			Outcome:    domain.AttemptOutcome(outcome),
			Detail:     detail,
			OccurredAt: occurredAt,
		}
		if nextRetry != nil {
			t := *nextRetry
			ev.NextRetry = &t
		}
		events = append(events, ev)
		nextRetry = nil
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt log: iter close: %w", err)
	}
	return events, nil
}
