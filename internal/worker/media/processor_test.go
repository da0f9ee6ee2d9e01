package media

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/audio"
	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/internal/domain"
	mediaclient "github.com/acme/call-memento/internal/media"
	"github.com/acme/call-memento/internal/notify"
	"github.com/acme/call-memento/internal/queue"
	"github.com/acme/call-memento/internal/repository"
	"github.com/acme/call-memento/pkg/logger"
)

type fakeRecords struct {
	rec *domain.CallRecord

	videoStatus  domain.VideoStatus
	videoURL     string
	videoKey     string
	videoFailure string
	promptText   string
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
func (f *fakeRecords) MarkAttempted(context.Context, uuid.UUID, time.Time) error { return nil }
func (f *fakeRecords) SetCallSID(context.Context, uuid.UUID, string) error { return nil }
func (f *fakeRecords) ScheduleRetry(context.Context, uuid.UUID, time.Time) error { return nil }
func (f *fakeRecords) ReturnToPromptReady(context.Context, uuid.UUID, time.Time) error {
	return nil
}
func (f *fakeRecords) MarkComplete(context.Context, uuid.UUID) error { return nil }
func (f *fakeRecords) MarkFailed(context.Context, uuid.UUID, string) error { return nil }
func (f *fakeRecords) SetRecording(context.Context, uuid.UUID, string, string) error {
	return nil
}

func (f *fakeRecords) SetVideoStatus(_ context.Context, _ uuid.UUID, status domain.VideoStatus) error {
	f.videoStatus = status
	f.rec.VideoStatus = status
	return nil
}

func (f *fakeRecords) SetVideoResult(_ context.Context, _ uuid.UUID, videoURL, videoKey string) error {
	f.videoStatus = domain.VideoStatusCompleted
	f.rec.VideoStatus = domain.VideoStatusCompleted
	f.videoURL = videoURL
	f.videoKey = videoKey
	return nil
}

func (f *fakeRecords) SetVideoFailure(_ context.Context, _ uuid.UUID, message string) error {
	f.videoStatus = domain.VideoStatusFailed
	f.rec.VideoStatus = domain.VideoStatusFailed
	f.videoFailure = message
	return nil
}

func (f *fakeRecords) SetPromptText(_ context.Context, _ uuid.UUID, text string) error {
	f.promptText = text
	f.rec.PromptText = &text
	return nil
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) FetchRecording(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakeGenerator struct {
	promptCalls int
	videoReq    mediaclient.VideoRequest
}

func (g *fakeGenerator) GeneratePrompt(context.Context, string, time.Duration) (string, error) {
	g.promptCalls++
	return "a warm birthday wish", nil
}

func (g *fakeGenerator) GenerateImage(context.Context, string, string) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func (g *fakeGenerator) GenerateVideo(_ context.Context, req mediaclient.VideoRequest) ([]byte, error) {
	g.videoReq = req
	return []byte("mp4-bytes"), nil
}

type fakeStore struct {
	uploads map[string][]byte
}

func (s *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[key] = data
	return "https://store.test/" + key, nil
}

func (s *fakeStore) SignedURL(key string) string { return "https://store.test/" + key }

type fakeNotifier struct {
	events []notify.VideoReady
}

func (n *fakeNotifier) NotifyVideoReady(_ context.Context, event notify.VideoReady) error {
	n.events = append(n.events, event)
	return nil
}

func stereoRecording(frames int) []byte {
	data := make([]byte, frames*4)
	return audio.EncodeWAV(data, 2, 8000)
}

func completeRecord() *domain.CallRecord {
	instructions := "wish grandma a happy birthday"
	return &domain.CallRecord{
		ID:           uuid.New(),
		OwnerID:      uuid.New(),
		Status:       domain.CallStatusComplete,
		Instructions: &instructions,
		VideoStatus:  domain.VideoStatusPending,
	}
}

func mediaJob(id uuid.UUID) queue.Job {
	return queue.Job{
		ID:      uuid.New(),
		Kind:    queue.JobKindGenerateMedia,
		Payload: []byte(`{"call_id":"` + id.String() + `","recording_url":"https://carrier.test/rec","recording_sid":"RE1"}`),
	}
}

func newTestProcessor(t *testing.T, rec *domain.CallRecord, fetcher *fakeFetcher) (*Processor, *fakeRecords, *fakeGenerator, *fakeStore, *fakeNotifier) {
	t.Helper()
	records := &fakeRecords{rec: rec}
	gen := &fakeGenerator{}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	p := NewProcessor(records, fetcher, gen, store, notifier,
		config.MediaConfig{TempDir: t.TempDir()},
		&logger.Logger{Logger: zap.NewNop()})
	return p, records, gen, store, notifier
}

func TestHandleGeneratesVideo(t *testing.T) {
	rec := completeRecord()
	fetcher := &fakeFetcher{data: stereoRecording(8000)} // one second
	p, records, gen, store, notifier := newTestProcessor(t, rec, fetcher)

	if err := p.Handle(context.Background(), mediaJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if records.videoStatus != domain.VideoStatusCompleted {
		t.Fatalf("video status = %s, failure = %q", records.videoStatus, records.videoFailure)
	}
	if records.videoKey != "calls/"+rec.ID.String()+"/keepsake.mp4" {
		t.Errorf("video key = %q", records.videoKey)
	}
	if records.promptText == "" {
		t.Error("prompt text was not persisted")
	}

	prefix := "calls/" + rec.ID.String()
	for _, key := range []string{prefix + "/owner.wav", prefix + "/callee.wav", prefix + "/keepsake.mp4"} {
		if _, ok := store.uploads[key]; !ok {
			t.Errorf("missing upload %q", key)
		}
	}

	if gen.videoReq.Duration != time.Second {
		t.Errorf("video duration = %v, want 1s", gen.videoReq.Duration)
	}
	if len(notifier.events) != 1 || notifier.events[0].CallID != rec.ID.String() {
		t.Errorf("notifications = %+v", notifier.events)
	}
}

func TestHandleTrackSplitFailureIsRecordedVerbatim(t *testing.T) {
	rec := completeRecord()
	fetcher := &fakeFetcher{data: []byte("definitely not a wav file")}
	p, records, _, _, notifier := newTestProcessor(t, rec, fetcher)

	if err := p.Handle(context.Background(), mediaJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if records.videoStatus != domain.VideoStatusFailed {
		t.Fatalf("video status = %s, want failed", records.videoStatus)
	}
	if !strings.Contains(records.videoFailure, "split-tracks") {
		t.Errorf("failure message %q does not name the failed step", records.videoFailure)
	}
	if len(notifier.events) != 0 {
		t.Error("failed pipeline must not notify")
	}
}

func TestHandleReusesExistingPromptText(t *testing.T) {
	rec := completeRecord()
	existing := "already written"
	rec.PromptText = &existing
	fetcher := &fakeFetcher{data: stereoRecording(800)}
	p, _, gen, _, _ := newTestProcessor(t, rec, fetcher)

	if err := p.Handle(context.Background(), mediaJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if gen.promptCalls != 0 {
		t.Errorf("prompt generated %d times for a record that already has one", gen.promptCalls)
	}
	if gen.videoReq.Prompt != existing {
		t.Errorf("video prompt = %q, want existing text", gen.videoReq.Prompt)
	}
}

func TestHandleCompletedVideoIsNoOp(t *testing.T) {
	rec := completeRecord()
	rec.VideoStatus = domain.VideoStatusCompleted
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	p, records, _, _, _ := newTestProcessor(t, rec, fetcher)

	if err := p.Handle(context.Background(), mediaJob(rec.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if records.videoFailure != "" {
		t.Error("redelivered job touched a completed record")
	}
}
