package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/compliance"
	"github.com/acme/call-memento/internal/domain"
	"github.com/acme/call-memento/internal/queue"
	"github.com/acme/call-memento/internal/repository"
	"github.com/acme/call-memento/internal/telephony"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

const testDial = "+12125551234" // America/New_York

type fakeRecords struct {
	rec *domain.CallRecord

	markAttempted int
	scheduled     []time.Time
	returned      []time.Time
	failedReason  string
	callSID       string
}

func (f *fakeRecords) Create(context.Context, *domain.CallRecord) error { return nil }

func (f *fakeRecords) Get(_ context.Context, id uuid.UUID) (*domain.CallRecord, error) {
	if f.rec == nil || f.rec.ID != id {
		return nil, repository.ErrNotFound
	}
	copied := *f.rec
	return &copied, nil
}

func (f *fakeRecords) GetByCallSID(context.Context, string) (*domain.CallRecord, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeRecords) MarkAttempted(_ context.Context, id uuid.UUID, at time.Time) error {
	if f.rec.Status != domain.CallStatusPromptReady {
		return repository.ErrConflict
	}
	f.markAttempted++
	f.rec.Status = domain.CallStatusAttempted
	f.rec.Attempts++
	if f.rec.FirstAttemptAt == nil {
		f.rec.FirstAttemptAt = &at
	}
	f.rec.LastAttemptAt = &at
	f.rec.NextRetryAt = nil
	return nil
}

func (f *fakeRecords) SetCallSID(_ context.Context, _ uuid.UUID, callSID string) error {
	f.callSID = callSID
	return nil
}

func (f *fakeRecords) ScheduleRetry(_ context.Context, _ uuid.UUID, nextRetryAt time.Time) error {
	if f.rec.Status != domain.CallStatusPromptReady {
		return repository.ErrConflict
	}
	f.scheduled = append(f.scheduled, nextRetryAt)
	f.rec.NextRetryAt = &nextRetryAt
	return nil
}

func (f *fakeRecords) ReturnToPromptReady(_ context.Context, _ uuid.UUID, nextRetryAt time.Time) error {
	if f.rec.Status != domain.CallStatusAttempted {
		return repository.ErrConflict
	}
	f.returned = append(f.returned, nextRetryAt)
	f.rec.Status = domain.CallStatusPromptReady
	f.rec.NextRetryAt = &nextRetryAt
	return nil
}

func (f *fakeRecords) MarkComplete(context.Context, uuid.UUID) error { return nil }

func (f *fakeRecords) MarkFailed(_ context.Context, _ uuid.UUID, reason string) error {
	if f.rec.Status.IsTerminal() {
		return repository.ErrConflict
	}
	f.rec.Status = domain.CallStatusFailed
	f.failedReason = reason
	return nil
}

func (f *fakeRecords) SetRecording(context.Context, uuid.UUID, string, string) error { return nil }
func (f *fakeRecords) SetVideoStatus(context.Context, uuid.UUID, domain.VideoStatus) error {
	return nil
}
func (f *fakeRecords) SetVideoResult(context.Context, uuid.UUID, string, string) error { return nil }
func (f *fakeRecords) SetVideoFailure(context.Context, uuid.UUID, string) error        { return nil }
func (f *fakeRecords) SetPromptText(context.Context, uuid.UUID, string) error          { return nil }

type fakeAttempts struct {
	events []domain.AttemptEvent
}

func (f *fakeAttempts) Append(_ context.Context, event domain.AttemptEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAttempts) ListByCall(context.Context, uuid.UUID, int) ([]domain.AttemptEvent, error) {
	return f.events, nil
}

type fakeCounter struct {
	count int64
}

func (f *fakeCounter) Increment(context.Context, string, time.Time) (int64, error) {
	f.count++
	return f.count, nil
}

func (f *fakeCounter) Get(context.Context, string, time.Time) (int64, error) {
	return f.count, nil
}

type fakeInitiator struct {
	calls int
	sid   string
	err   error
}

func (f *fakeInitiator) Initiate(context.Context, *domain.CallRecord, string) (telephony.Initiation, error) {
	f.calls++
	if f.err != nil {
		return telephony.Initiation{}, f.err
	}
	return telephony.Initiation{CallSID: f.sid}, nil
}

type fakeEnqueuer struct {
	jobs []time.Time
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ string, _ queue.JobKind, _ any, notBefore time.Time) (uuid.UUID, error) {
	f.jobs = append(f.jobs, notBefore)
	return uuid.New(), nil
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, domain.Destination) (string, error) {
	return "", r.err
}

func testScheduler() *compliance.Scheduler {
	return compliance.NewScheduler(compliance.Policy{
		WindowStartHour: 9,
		WindowEndHour:   20,
		SlotHours:       []int{10, 14, 18},
		DailyCap:        3,
		MaxRetryDays:    5,
	}, compliance.DefaultNorthAmericanTable())
}

type fixture struct {
	records   *fakeRecords
	attempts  *fakeAttempts
	counter   *fakeCounter
	initiator *fakeInitiator
	enqueuer  *fakeEnqueuer
	processor *Processor
}

func newFixture(rec *domain.CallRecord, now time.Time) *fixture {
	f := &fixture{
		records:   &fakeRecords{rec: rec},
		attempts:  &fakeAttempts{},
		counter:   &fakeCounter{},
		initiator: &fakeInitiator{sid: "CA123"},
		enqueuer:  &fakeEnqueuer{},
	}
	f.processor = NewProcessor(
		f.records, f.attempts, testScheduler(), f.counter,
		telephony.StaticResolver{}, f.initiator, f.enqueuer,
		"place-call", &logger.Logger{Logger: zap.NewNop()},
	)
	f.processor.now = func() time.Time { return now }
	return f
}

func promptReadyRecord() *domain.CallRecord {
	dial := testDial
	instructions := "wish grandma a happy birthday"
	return &domain.CallRecord{
		ID:     uuid.New(),
		Status: domain.CallStatusPromptReady,
		Destination: domain.Destination{
			EncryptedHandle: "enc-1",
			DialString:      &dial,
		},
		Instructions: &instructions,
		VideoStatus:  domain.VideoStatusPending,
	}
}

func placeCallJob(id uuid.UUID) queue.Job {
	return queue.Job{
		ID:      uuid.New(),
		Kind:    queue.JobKindPlaceCall,
		Payload: []byte(`{"call_id":"` + id.String() + `"}`),
	}
}

// 14:30 UTC in June is 10:30 in New York, inside the calling window.
var insideWindow = time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

func TestHandleDialsInsideWindow(t *testing.T) {
	rec := promptReadyRecord()
	f := newFixture(rec, insideWindow)

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.initiator.calls != 1 {
		t.Errorf("initiator calls = %d, want 1", f.initiator.calls)
	}
	if f.records.markAttempted != 1 {
		t.Errorf("attempts stamped = %d, want 1", f.records.markAttempted)
	}
	if f.records.callSID != "CA123" {
		t.Errorf("call sid = %q", f.records.callSID)
	}
	if f.counter.count != 1 {
		t.Errorf("daily counter = %d, want 1", f.counter.count)
	}
	if len(f.attempts.events) != 1 || f.attempts.events[0].Outcome != domain.AttemptOutcomeDialed {
		t.Errorf("audit events = %+v", f.attempts.events)
	}
}

func TestHandleDefersOutsideWindow(t *testing.T) {
	// 02:00 UTC on June 11 is 22:00 on June 10 in New York.
	lateNight := time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC)
	rec := promptReadyRecord()
	f := newFixture(rec, lateNight)

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.initiator.calls != 0 {
		t.Fatal("dialed outside the calling window")
	}
	if f.records.markAttempted != 0 {
		t.Error("deferral must not consume an attempt")
	}
	if len(f.records.scheduled) != 1 {
		t.Fatalf("scheduled retries = %d, want 1", len(f.records.scheduled))
	}

	ny, _ := time.LoadLocation("America/New_York")
	next := f.records.scheduled[0].In(ny)
	if next.Day() != 11 || next.Hour() != 10 {
		t.Errorf("next retry = %v, want June 11 10:00 local", next)
	}
	if len(f.enqueuer.jobs) != 1 || !f.enqueuer.jobs[0].Equal(f.records.scheduled[0]) {
		t.Errorf("re-enqueue times = %v", f.enqueuer.jobs)
	}
}

func TestHandleFailsExhaustedRecordWithoutDialing(t *testing.T) {
	rec := promptReadyRecord()
	first := insideWindow.AddDate(0, 0, -6)
	rec.Attempts = 3
	rec.FirstAttemptAt = &first
	f := newFixture(rec, insideWindow)

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.initiator.calls != 0 {
		t.Fatal("exhausted record was dialed")
	}
	if f.records.rec.Status != domain.CallStatusFailed {
		t.Errorf("status = %s, want failed", f.records.rec.Status)
	}
	if f.counter.count != 0 {
		t.Error("exhaustion must not consume a daily-counter slot")
	}
	if len(f.attempts.events) != 1 || f.attempts.events[0].Outcome != domain.AttemptOutcomeExhausted {
		t.Errorf("audit events = %+v", f.attempts.events)
	}
}

func TestHandleDefersAtDailyCap(t *testing.T) {
	rec := promptReadyRecord()
	f := newFixture(rec, insideWindow)
	f.counter.count = 3

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.initiator.calls != 0 {
		t.Fatal("dialed past the daily cap")
	}
	if len(f.records.scheduled) != 1 {
		t.Fatalf("scheduled retries = %d, want 1", len(f.records.scheduled))
	}
	ny, _ := time.LoadLocation("America/New_York")
	next := f.records.scheduled[0].In(ny)
	if next.Day() != 11 || next.Hour() != 10 {
		t.Errorf("next retry = %v, want tomorrow's first slot", next)
	}
}

func TestHandleCarrierFailureReschedulesKeepingAttempt(t *testing.T) {
	rec := promptReadyRecord()
	f := newFixture(rec, insideWindow)
	f.initiator.err = apperrors.ErrCarrier

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.records.markAttempted != 1 {
		t.Error("carrier failure must keep the stamped attempt")
	}
	if f.records.rec.Status != domain.CallStatusPromptReady {
		t.Errorf("status = %s, want promptReady for redial", f.records.rec.Status)
	}
	if len(f.records.returned) != 1 {
		t.Fatalf("returns to promptReady = %d, want 1", len(f.records.returned))
	}
	ny, _ := time.LoadLocation("America/New_York")
	next := f.records.returned[0].In(ny)
	if next.Hour() != 14 {
		t.Errorf("next retry hour = %d, want 14 (next slot after 10:30)", next.Hour())
	}
	if len(f.attempts.events) != 1 || f.attempts.events[0].Outcome != domain.AttemptOutcomeCarrierErr {
		t.Errorf("audit events = %+v", f.attempts.events)
	}
}

func TestHandleDecryptionPendingDefersWithoutAttempt(t *testing.T) {
	rec := promptReadyRecord()
	f := newFixture(rec, insideWindow)
	f.processor.resolver = failingResolver{err: apperrors.ErrDecryptionPending}

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.initiator.calls != 0 || f.records.markAttempted != 0 {
		t.Error("decryption pending must not dial or consume an attempt")
	}
	if len(f.records.scheduled) != 1 {
		t.Fatalf("scheduled retries = %d, want 1", len(f.records.scheduled))
	}
	if len(f.attempts.events) != 1 || f.attempts.events[0].Detail != "destination decryption pending" {
		t.Errorf("audit events = %+v", f.attempts.events)
	}
}

func TestHandleUnresolvableDestinationFails(t *testing.T) {
	rec := promptReadyRecord()
	f := newFixture(rec, insideWindow)
	f.processor.resolver = failingResolver{err: apperrors.ErrDestinationResolution}

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.records.rec.Status != domain.CallStatusFailed {
		t.Errorf("status = %s, want failed", f.records.rec.Status)
	}
	if f.initiator.calls != 0 {
		t.Error("unresolvable destination was dialed")
	}
}

func TestHandleSkipsNonPromptReadyRecord(t *testing.T) {
	rec := promptReadyRecord()
	rec.Status = domain.CallStatusComplete
	f := newFixture(rec, insideWindow)

	if err := f.processor.Handle(context.Background(), placeCallJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.initiator.calls != 0 || f.records.markAttempted != 0 {
		t.Error("duplicate delivery must be a no-op")
	}
}

func TestHandleMissingInstructionsIsConsistencyFault(t *testing.T) {
	rec := promptReadyRecord()
	rec.Instructions = nil
	f := newFixture(rec, insideWindow)

	err := f.processor.Handle(context.Background(), placeCallJob(rec.ID))
	if !errors.Is(err, apperrors.ErrDataConsistency) {
		t.Fatalf("err = %v, want data consistency fault", err)
	}
	if f.initiator.calls != 0 {
		t.Error("faulted record was dialed")
	}
	if f.records.rec.Status != domain.CallStatusPromptReady {
		t.Errorf("status = %s, fault must not transition the record", f.records.rec.Status)
	}
}

func TestHandleUnknownRecordIsNoOp(t *testing.T) {
	f := newFixture(promptReadyRecord(), insideWindow)

	if err := f.processor.Handle(context.Background(), placeCallJob(uuid.New())); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.initiator.calls != 0 {
		t.Error("unknown record triggered a dial")
	}
}
