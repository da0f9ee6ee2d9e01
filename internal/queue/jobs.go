package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind tags the payload carried by a job envelope.
type JobKind string

const (
	JobKindPlaceCall     JobKind = "place-call"
	JobKindGenerateMedia JobKind = "generate-media"
)

// Job is the queued unit of work. Delivery is at-least-once: the same job
// may reach a handler more than once, so handlers re-check record state
// before acting.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        JobKind         `json:"kind"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Payload     json.RawMessage `json:"payload"`
}

// PlaceCallPayload asks the call processor to dial a record.
type PlaceCallPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// GenerateMediaPayload asks the media worker to build the keepsake video.
type GenerateMediaPayload struct {
	CallID       uuid.UUID `json:"call_id"`
	RecordingURL string    `json:"recording_url"`
	RecordingSID string    `json:"recording_sid"`
}

// PlaceCall decodes the payload for a place-call job.
func (j *Job) PlaceCall() (PlaceCallPayload, error) {
	var p PlaceCallPayload
	if j.Kind != JobKindPlaceCall {
		return p, fmt.Errorf("job %s: kind %q is not %q", j.ID, j.Kind, JobKindPlaceCall)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("job %s: decode place-call payload: %w", j.ID, err)
	}
	return p, nil
}

// GenerateMedia decodes the payload for a generate-media job.
func (j *Job) GenerateMedia() (GenerateMediaPayload, error) {
	var p GenerateMediaPayload
	if j.Kind != JobKindGenerateMedia {
		return p, fmt.Errorf("job %s: kind %q is not %q", j.ID, j.Kind, JobKindGenerateMedia)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("job %s: decode generate-media payload: %w", j.ID, err)
	}
	return p, nil
}

func newJob(kind JobKind, payload any, notBefore time.Time) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("queue: marshal %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	scheduled := notBefore
	if scheduled.IsZero() {
		scheduled = now
	}
	return Job{
		ID:          uuid.New(),
		Kind:        kind,
		ScheduledAt: scheduled.UTC(),
		EnqueuedAt:  now,
		Payload:     raw,
	}, nil
}
