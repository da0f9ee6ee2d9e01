package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/compliance"
	"github.com/acme/call-memento/internal/domain"
	"github.com/acme/call-memento/internal/queue"
	"github.com/acme/call-memento/internal/repository"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// mediaGraceDelay delays the generate-media job slightly so the carrier's
// recording webhook usually lands before the pipeline fetches the file.
const mediaGraceDelay = time.Minute

// Enqueuer is the slice of the queue client the service publishes through.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, kind queue.JobKind, payload any, notBefore time.Time) (uuid.UUID, error)
}

// Counter reads the per-destination daily attempt counter.
type Counter interface {
	Get(ctx context.Context, destination string, localDay time.Time) (int64, error)
}

// Service owns call records from trigger through the carrier webhooks.
type Service struct {
	records    repository.CallRecords
	attempts   repository.AttemptLog
	scheduler  *compliance.Scheduler
	counter    Counter
	enqueuer   Enqueuer
	placeQueue string
	mediaQueue string
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(
	records repository.CallRecords,
	attempts repository.AttemptLog,
	scheduler *compliance.Scheduler,
	counter Counter,
	enqueuer Enqueuer,
	placeQueue, mediaQueue string,
	log *logger.Logger,
) *Service {
	return &Service{
		records:    records,
		attempts:   attempts,
		scheduler:  scheduler,
		counter:    counter,
		enqueuer:   enqueuer,
		placeQueue: placeQueue,
		mediaQueue: mediaQueue,
		logger:     log.Named("callsvc"),
		now:        time.Now,
	}
}

// TriggerCallInput describes a new keepsake call request.
type TriggerCallInput struct {
	OwnerID         uuid.UUID
	EncryptedHandle string
	DialString      string
	Instructions    string
	UserPhotoURL    string
}

// TriggerCall creates the record and queues the first dial. Records arrive
// promptReady because the instructions travel with the request.
func (s *Service) TriggerCall(ctx context.Context, input TriggerCallInput) (*domain.CallRecord, error) {
	if input.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner_id required", apperrors.ErrValidation)
	}
	if input.EncryptedHandle == "" && input.DialString == "" {
		return nil, fmt.Errorf("%w: destination required", apperrors.ErrValidation)
	}
	if input.Instructions == "" {
		return nil, fmt.Errorf("%w: instructions required", apperrors.ErrValidation)
	}

	now := s.now().UTC()
	rec := &domain.CallRecord{
		ID:      uuid.New(),
		OwnerID: input.OwnerID,
		Status:  domain.CallStatusPromptReady,
		Destination: domain.Destination{
			EncryptedHandle: input.EncryptedHandle,
		},
		Instructions: &input.Instructions,
		VideoStatus:  domain.VideoStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if input.DialString != "" {
		rec.Destination.DialString = &input.DialString
	}
	if input.UserPhotoURL != "" {
		rec.UserPhotoURL = &input.UserPhotoURL
	}

	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	if _, err := s.enqueuer.Enqueue(ctx, s.placeQueue, queue.JobKindPlaceCall,
		queue.PlaceCallPayload{CallID: rec.ID}, time.Time{}); err != nil {
		return nil, fmt.Errorf("enqueue place-call: %w", err)
	}

	s.logger.Info("call triggered",
		zap.String("call_id", rec.ID.String()),
		zap.String("owner_id", rec.OwnerID.String()))
	return rec, nil
}

// GetCall loads one record.
func (s *Service) GetCall(ctx context.Context, id uuid.UUID) (*domain.CallRecord, error) {
	return s.records.Get(ctx, id)
}

// CallStatusEvent is a carrier call-status callback.
type CallStatusEvent struct {
	CallSID    string
	CallStatus string
}

// HandleCallStatus applies a call-status webhook to the record. The guarded
// terminal transition makes duplicate deliveries no-ops: a second completed
// webhook finds the record already terminal and changes nothing.
func (s *Service) HandleCallStatus(ctx context.Context, callID uuid.UUID, event CallStatusEvent) error {
	rec, err := s.records.Get(ctx, callID)
	if err != nil {
		return err
	}

	status := strings.ToLower(event.CallStatus)
	switch status {
	case "completed":
		return s.complete(ctx, rec)
	case "no-answer", "busy", "failed":
		return s.redialOrFail(ctx, rec, status)
	case "initiated", "ringing", "answered", "in-progress":
		s.logger.Debug("call progress",
			zap.String("call_id", rec.ID.String()),
			zap.String("status", status))
		return nil
	default:
		s.logger.Warn("unknown call status ignored",
			zap.String("call_id", rec.ID.String()),
			zap.String("status", event.CallStatus))
		return nil
	}
}

func (s *Service) complete(ctx context.Context, rec *domain.CallRecord) error {
	err := s.records.MarkComplete(ctx, rec.ID)
	if errors.Is(err, repository.ErrConflict) {
		// Either a duplicate delivery, or the carrier retrying because the
		// first delivery marked the record complete and then failed to
		// enqueue the media job. While the pipeline has not started the
		// enqueue is still owed; the media worker's own state check makes
		// an extra job harmless.
		if rec.Status == domain.CallStatusComplete && rec.VideoStatus == domain.VideoStatusPending {
			return s.enqueueMedia(ctx, rec)
		}
		s.logger.Debug("duplicate completion webhook",
			zap.String("call_id", rec.ID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.enqueueMedia(ctx, rec); err != nil {
		return err
	}

	s.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: rec.Attempts,
		Outcome:    domain.AttemptOutcomeCompleted,
		OccurredAt: s.now().UTC(),
	})
	s.logger.Info("call completed", zap.String("call_id", rec.ID.String()))
	return nil
}

// enqueueMedia queues the generation job. The short delay gives the
// recording webhook time to store the media URL first.
func (s *Service) enqueueMedia(ctx context.Context, rec *domain.CallRecord) error {
	payload := queue.GenerateMediaPayload{CallID: rec.ID}
	if rec.RecordingURL != nil {
		payload.RecordingURL = *rec.RecordingURL
	}
	if rec.RecordingSID != nil {
		payload.RecordingSID = *rec.RecordingSID
	}
	if _, err := s.enqueuer.Enqueue(ctx, s.mediaQueue, queue.JobKindGenerateMedia,
		payload, s.now().Add(mediaGraceDelay)); err != nil {
		return fmt.Errorf("enqueue generate-media: %w", err)
	}
	return nil
}

// redialOrFail runs the same compliance gate as the pre-dial path. The
// attempt that produced this webhook stays counted; only the timing of the
// next dial is decided here.
func (s *Service) redialOrFail(ctx context.Context, rec *domain.CallRecord, status string) error {
	now := s.now().UTC()

	dial := ""
	if rec.Destination.DialString != nil {
		dial = *rec.Destination.DialString
	}

	hist := compliance.History{
		Attempts:       rec.Attempts,
		FirstAttemptAt: rec.FirstAttemptAt,
	}
	if dial != "" {
		used, err := s.counter.Get(ctx, dial, s.scheduler.LocalDay(dial, now))
		if err != nil {
			return err
		}
		hist.UsedToday = used
	}

	decision := s.scheduler.Decide(dial, hist, now)
	outcome := outcomeForStatus(status)

	if decision.Exhausted {
		reason := fmt.Sprintf("%s after %d attempts, retry horizon exceeded", status, rec.Attempts)
		if err := s.records.MarkFailed(ctx, rec.ID, reason); err != nil && !errors.Is(err, repository.ErrConflict) {
			return err
		}
		s.audit(ctx, domain.AttemptEvent{
			CallID:     rec.ID,
			AttemptNum: rec.Attempts,
			Outcome:    domain.AttemptOutcomeExhausted,
			Detail:     reason,
			OccurredAt: now,
		})
		s.logger.Info("record failed, horizon exhausted",
			zap.String("call_id", rec.ID.String()),
			zap.String("last_status", status))
		return nil
	}

	nextAt := decision.NextAttemptAt
	if decision.Allow {
		// Inside the window right now; redial at the next slot rather than
		// immediately hammering a line that just declined.
		nextAt = s.scheduler.NextSlot(dial, now)
	}

	err := s.records.ReturnToPromptReady(ctx, rec.ID, nextAt)
	if errors.Is(err, repository.ErrConflict) {
		s.logger.Debug("stale status webhook, record moved on",
			zap.String("call_id", rec.ID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.enqueuer.Enqueue(ctx, s.placeQueue, queue.JobKindPlaceCall,
		queue.PlaceCallPayload{CallID: rec.ID}, nextAt); err != nil {
		return fmt.Errorf("enqueue redial: %w", err)
	}

	s.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: rec.Attempts,
		Outcome:    outcome,
		NextRetry:  &nextAt,
		OccurredAt: now,
	})
	s.logger.Info("call not answered, redial scheduled",
		zap.String("call_id", rec.ID.String()),
		zap.String("status", status),
		zap.Time("next_retry_at", nextAt))
	return nil
}

// RecordingEvent is a carrier recording-status callback.
type RecordingEvent struct {
	RecordingSID    string
	RecordingURL    string
	RecordingStatus string
}

// HandleRecordingStatus stores the finished recording reference.
func (s *Service) HandleRecordingStatus(ctx context.Context, callID uuid.UUID, event RecordingEvent) error {
	if !strings.EqualFold(event.RecordingStatus, "completed") {
		s.logger.Debug("ignoring recording status",
			zap.String("call_id", callID.String()),
			zap.String("status", event.RecordingStatus))
		return nil
	}
	if event.RecordingURL == "" {
		return fmt.Errorf("%w: recording url missing", apperrors.ErrValidation)
	}
	return s.records.SetRecording(ctx, callID, event.RecordingURL, event.RecordingSID)
}

// Attempts lists the audit trail for a call.
func (s *Service) Attempts(ctx context.Context, callID uuid.UUID, limit int) ([]domain.AttemptEvent, error) {
	return s.attempts.ListByCall(ctx, callID, limit)
}

func outcomeForStatus(status string) domain.AttemptOutcome {
	switch status {
	case "no-answer":
		return domain.AttemptOutcomeNoAnswer
	case "busy":
		return domain.AttemptOutcomeBusy
	default:
		return domain.AttemptOutcomeFailed
	}
}

func (s *Service) audit(ctx context.Context, event domain.AttemptEvent) {
	if err := s.attempts.Append(ctx, event); err != nil {
		s.logger.Warn("attempt log append failed",
			zap.String("call_id", event.CallID.String()),
			zap.Error(err))
	}
}
