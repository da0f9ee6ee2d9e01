package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/compliance"
	"github.com/acme/call-memento/internal/domain"
	"github.com/acme/call-memento/internal/queue"
	"github.com/acme/call-memento/internal/repository"
	"github.com/acme/call-memento/internal/telephony"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// requeueDelay spaces out redelivery after transient infrastructure
// failures. Retries are fresh jobs, never Kafka redelivery loops.
const requeueDelay = time.Minute

// Enqueuer is the slice of the queue client the processor re-enqueues
// through.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, kind queue.JobKind, payload any, notBefore time.Time) (uuid.UUID, error)
}

// Counter is the per-destination daily attempt counter.
type Counter interface {
	Increment(ctx context.Context, destination string, localDay time.Time) (int64, error)
	Get(ctx context.Context, destination string, localDay time.Time) (int64, error)
}

// Processor executes one place-call job: reload the record, run the
// compliance gate, consume a daily-counter slot, stamp the attempt and
// dial. Every outcome lands in the attempt log.
type Processor struct {
	records   repository.CallRecords
	attempts  repository.AttemptLog
	scheduler *compliance.Scheduler
	counter   Counter
	resolver  telephony.Resolver
	initiator telephony.Initiator
	enqueuer  Enqueuer
	queueName string
	logger    *logger.Logger
	now       func() time.Time
}

func NewProcessor(
	records repository.CallRecords,
	attempts repository.AttemptLog,
	scheduler *compliance.Scheduler,
	counter Counter,
	resolver telephony.Resolver,
	initiator telephony.Initiator,
	enqueuer Enqueuer,
	queueName string,
	log *logger.Logger,
) *Processor {
	return &Processor{
		records:   records,
		attempts:  attempts,
		scheduler: scheduler,
		counter:   counter,
		resolver:  resolver,
		initiator: initiator,
		enqueuer:  enqueuer,
		queueName: queueName,
		logger:    log.Named("callworker"),
		now:       time.Now,
	}
}

// Handle processes one delivered place-call job.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	payload, err := job.PlaceCall()
	if err != nil {
		return err
	}

	tracer := otel.Tracer("memento.callworker")
	ctx, span := tracer.Start(ctx, "call.place", trace.WithAttributes(
		attribute.String("call.id", payload.CallID.String()),
		attribute.String("job.id", job.ID.String()),
	))
	defer span.End()

	rec, err := p.records.Get(ctx, payload.CallID)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn("place-call job for unknown record", zap.String("call_id", payload.CallID.String()))
		return nil
	}
	if err != nil {
		return p.requeue(ctx, job, err)
	}

	// At-least-once delivery: a record that already moved past promptReady
	// was handled by an earlier delivery of this job.
	if rec.Status != domain.CallStatusPromptReady {
		p.logger.Debug("record not dialable, skipping",
			zap.String("call_id", rec.ID.String()),
			zap.String("status", string(rec.Status)))
		return nil
	}

	if rec.Instructions == nil || *rec.Instructions == "" {
		err := fmt.Errorf("%w: promptReady record %s has no instructions", apperrors.ErrDataConsistency, rec.ID)
		p.logger.Error("abandoning job", zap.Error(err))
		span.RecordError(err)
		return err
	}

	now := p.now().UTC()

	dial, err := p.resolver.Resolve(ctx, rec.Destination)
	if err != nil {
		return p.handleResolutionFailure(ctx, rec, now, err)
	}

	localDay := p.scheduler.LocalDay(dial, now)
	used, err := p.counter.Get(ctx, dial, localDay)
	if err != nil {
		return p.requeue(ctx, job, err)
	}

	hist := compliance.History{
		Attempts:       rec.Attempts,
		FirstAttemptAt: rec.FirstAttemptAt,
		UsedToday:      used,
	}
	decision := p.scheduler.Decide(dial, hist, now)

	if decision.Exhausted {
		return p.exhaust(ctx, rec, decision.Reason)
	}
	if !decision.Allow {
		return p.deferDial(ctx, rec, decision.NextAttemptAt, decision.Reason)
	}

	// Consume a daily-counter slot before dialing. A concurrent worker may
	// have taken the last one between the read and here.
	count, err := p.counter.Increment(ctx, dial, localDay)
	if err != nil {
		return p.requeue(ctx, job, err)
	}
	if dailyCap := p.scheduler.DailyCap(); dailyCap > 0 && count > int64(dailyCap) {
		hist.UsedToday = count
		lost := p.scheduler.Decide(dial, hist, now)
		return p.deferDial(ctx, rec, lost.NextAttemptAt, lost.Reason)
	}

	// Stamp the attempt before dialing so a crash between dial and write
	// can never under-count attempts against the compliance policy.
	if err := p.records.MarkAttempted(ctx, rec.ID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			p.logger.Debug("lost attempt race", zap.String("call_id", rec.ID.String()))
			return nil
		}
		return p.requeue(ctx, job, err)
	}
	attemptNum := rec.Attempts + 1

	init, err := p.initiator.Initiate(ctx, rec, dial)
	if err != nil {
		return p.handleInitiationFailure(ctx, rec, dial, now, attemptNum, err)
	}

	if err := p.records.SetCallSID(ctx, rec.ID, init.CallSID); err != nil {
		p.logger.Error("store call sid", zap.String("call_id", rec.ID.String()), zap.Error(err))
	}

	p.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: attemptNum,
		Outcome:    domain.AttemptOutcomeDialed,
		Detail:     init.CallSID,
		OccurredAt: now,
	})

	p.logger.Info("call dialed",
		zap.String("call_id", rec.ID.String()),
		zap.String("call_sid", init.CallSID),
		zap.Int("attempt", attemptNum))
	return nil
}

// handleResolutionFailure distinguishes "not decrypted yet" (reschedule,
// attempt not consumed) from a genuinely unresolvable destination (failed).
func (p *Processor) handleResolutionFailure(ctx context.Context, rec *domain.CallRecord, now time.Time, cause error) error {
	if errors.Is(cause, apperrors.ErrDecryptionPending) {
		nextAt := p.scheduler.NextSlot("", now)
		return p.deferDial(ctx, rec, nextAt, "destination decryption pending")
	}

	reason := cause.Error()
	if err := p.records.MarkFailed(ctx, rec.ID, reason); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	p.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: rec.Attempts,
		Outcome:    domain.AttemptOutcomeFailed,
		Detail:     reason,
		OccurredAt: now,
	})
	p.logger.Warn("destination unresolvable, record failed",
		zap.String("call_id", rec.ID.String()),
		zap.String("reason", reason))
	return nil
}

// handleInitiationFailure runs after the attempt was stamped. Carrier
// transport errors reschedule at the next slot because no webhook will
// arrive to drive the record forward; configuration and resolution errors
// are final.
func (p *Processor) handleInitiationFailure(ctx context.Context, rec *domain.CallRecord, dial string, now time.Time, attemptNum int, cause error) error {
	if errors.Is(cause, apperrors.ErrConfiguration) || errors.Is(cause, apperrors.ErrDestinationResolution) {
		reason := cause.Error()
		if err := p.records.MarkFailed(ctx, rec.ID, reason); err != nil && !errors.Is(err, repository.ErrConflict) {
			return err
		}
		p.audit(ctx, domain.AttemptEvent{
			CallID:     rec.ID,
			AttemptNum: attemptNum,
			Outcome:    domain.AttemptOutcomeFailed,
			Detail:     reason,
			OccurredAt: now,
		})
		return nil
	}

	nextAt := p.scheduler.NextSlot(dial, now)
	if err := p.records.ReturnToPromptReady(ctx, rec.ID, nextAt); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	if _, err := p.enqueuer.Enqueue(ctx, p.queueName, queue.JobKindPlaceCall, queue.PlaceCallPayload{CallID: rec.ID}, nextAt); err != nil {
		p.logger.Error("re-enqueue after carrier failure", zap.String("call_id", rec.ID.String()), zap.Error(err))
		return err
	}

	p.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: attemptNum,
		Outcome:    domain.AttemptOutcomeCarrierErr,
		Detail:     cause.Error(),
		NextRetry:  &nextAt,
		OccurredAt: now,
	})
	p.logger.Warn("carrier rejected initiation, rescheduled",
		zap.String("call_id", rec.ID.String()),
		zap.Time("next_retry_at", nextAt),
		zap.Error(cause))
	return nil
}

// deferDial reschedules a compliant record without consuming an attempt.
func (p *Processor) deferDial(ctx context.Context, rec *domain.CallRecord, nextAt time.Time, reason string) error {
	if err := p.records.ScheduleRetry(ctx, rec.ID, nextAt); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	if _, err := p.enqueuer.Enqueue(ctx, p.queueName, queue.JobKindPlaceCall, queue.PlaceCallPayload{CallID: rec.ID}, nextAt); err != nil {
		return err
	}

	p.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: rec.Attempts,
		Outcome:    domain.AttemptOutcomeDeferred,
		Detail:     reason,
		NextRetry:  &nextAt,
		OccurredAt: p.now().UTC(),
	})
	p.logger.Info("dial deferred",
		zap.String("call_id", rec.ID.String()),
		zap.Time("next_retry_at", nextAt),
		zap.String("reason", reason))
	return nil
}

// exhaust fails a record whose retry horizon has passed. It never dials.
func (p *Processor) exhaust(ctx context.Context, rec *domain.CallRecord, reason string) error {
	if err := p.records.MarkFailed(ctx, rec.ID, reason); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	p.audit(ctx, domain.AttemptEvent{
		CallID:     rec.ID,
		AttemptNum: rec.Attempts,
		Outcome:    domain.AttemptOutcomeExhausted,
		Detail:     reason,
		OccurredAt: p.now().UTC(),
	})
	p.logger.Info("retry horizon exhausted, record failed",
		zap.String("call_id", rec.ID.String()),
		zap.Int("attempts", rec.Attempts))
	return nil
}

// requeue hands the job back to the queue after a transient infrastructure
// error.
func (p *Processor) requeue(ctx context.Context, job queue.Job, cause error) error {
	p.logger.Warn("transient failure, requeueing job",
		zap.String("job_id", job.ID.String()),
		zap.Error(cause))
	if _, err := p.enqueuer.Enqueue(ctx, p.queueName, job.Kind, job.Payload, p.now().Add(requeueDelay)); err != nil {
		return fmt.Errorf("requeue job %s: %w (original: %v)", job.ID, err, cause)
	}
	return nil
}

func (p *Processor) audit(ctx context.Context, event domain.AttemptEvent) {
	if err := p.attempts.Append(ctx, event); err != nil {
		p.logger.Warn("attempt log append failed",
			zap.String("call_id", event.CallID.String()),
			zap.Error(err))
	}
}
