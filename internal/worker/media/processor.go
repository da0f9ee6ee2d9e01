package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/audio"
	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/internal/domain"
	mediaclient "github.com/acme/call-memento/internal/media"
	"github.com/acme/call-memento/internal/notify"
	"github.com/acme/call-memento/internal/queue"
	"github.com/acme/call-memento/internal/repository"
	"github.com/acme/call-memento/internal/telephony"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// Generator is the slice of the collaborator client the pipeline drives.
type Generator interface {
	GeneratePrompt(ctx context.Context, instructions string, duration time.Duration) (string, error)
	GenerateImage(ctx context.Context, prompt, photoURL string) ([]byte, error)
	GenerateVideo(ctx context.Context, req mediaclient.VideoRequest) ([]byte, error)
}

// ObjectStore stages tracks and stores the finished video.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	SignedURL(key string) string
}

// Notifier delivers the best-effort completion webhook.
type Notifier interface {
	NotifyVideoReady(ctx context.Context, event notify.VideoReady) error
}

// Processor turns a finished dual-channel recording into the keepsake
// video. Each stage can fail independently; the first failure stops the
// pipeline and its message is persisted verbatim on the record.
type Processor struct {
	records  repository.CallRecords
	fetcher  telephony.RecordingFetcher
	gen      Generator
	store    ObjectStore
	notifier Notifier
	cfg      config.MediaConfig
	logger   *logger.Logger
}

func NewProcessor(
	records repository.CallRecords,
	fetcher telephony.RecordingFetcher,
	gen Generator,
	store ObjectStore,
	notifier Notifier,
	cfg config.MediaConfig,
	log *logger.Logger,
) *Processor {
	return &Processor{
		records:  records,
		fetcher:  fetcher,
		gen:      gen,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   log.Named("mediaworker"),
	}
}

// Handle processes one generate-media job.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	payload, err := job.GenerateMedia()
	if err != nil {
		return err
	}

	tracer := otel.Tracer("memento.mediaworker")
	ctx, span := tracer.Start(ctx, "media.generate", trace.WithAttributes(
		attribute.String("call.id", payload.CallID.String()),
	))
	defer span.End()

	rec, err := p.records.Get(ctx, payload.CallID)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn("generate-media job for unknown record",
			zap.String("call_id", payload.CallID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	// Redelivered job after a finished run.
	if rec.VideoStatus == domain.VideoStatusCompleted {
		p.logger.Debug("video already generated, skipping",
			zap.String("call_id", rec.ID.String()))
		return nil
	}

	if err := p.records.SetVideoStatus(ctx, rec.ID, domain.VideoStatusGenerating); err != nil {
		return err
	}

	if err := p.generate(ctx, rec, payload); err != nil {
		span.RecordError(err)
		p.logger.Error("media pipeline failed",
			zap.String("call_id", rec.ID.String()),
			zap.Error(err))
		if persistErr := p.records.SetVideoFailure(ctx, rec.ID, err.Error()); persistErr != nil {
			p.logger.Error("persist video failure", zap.Error(persistErr))
		}
		return nil
	}
	return nil
}

func (p *Processor) generate(ctx context.Context, rec *domain.CallRecord, payload queue.GenerateMediaPayload) error {
	tempDir, err := os.MkdirTemp(p.cfg.TempDir, "memento-"+rec.ID.String()+"-")
	if err != nil {
		return apperrors.Step("workspace", err)
	}
	defer os.RemoveAll(tempDir)

	// Step 1: authenticated recording download into the scoped workspace.
	recordingURL := payload.RecordingURL
	if recordingURL == "" && rec.RecordingURL != nil {
		recordingURL = *rec.RecordingURL
	}
	if recordingURL == "" {
		return apperrors.Step("download-recording", errors.New("record has no recording url"))
	}
	raw, err := p.fetcher.FetchRecording(ctx, recordingURL)
	if err != nil {
		return apperrors.Step("download-recording", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "recording.wav"), raw, 0o600); err != nil {
		return apperrors.Step("download-recording", err)
	}

	// Step 2: split the dual-channel recording into per-speaker tracks and
	// stage them where the video collaborator can reach them.
	wav, err := audio.ParseWAV(raw)
	if err != nil {
		return apperrors.Step("split-tracks", err)
	}
	ownerTrack, calleeTrack, err := wav.SplitStereo()
	if err != nil {
		return apperrors.Step("split-tracks", err)
	}
	prefix := "calls/" + rec.ID.String()
	ownerURL, err := p.store.Upload(ctx, prefix+"/owner.wav", ownerTrack, "audio/wav")
	if err != nil {
		return apperrors.Step("split-tracks", err)
	}
	calleeURL, err := p.store.Upload(ctx, prefix+"/callee.wav", calleeTrack, "audio/wav")
	if err != nil {
		return apperrors.Step("split-tracks", err)
	}

	// Step 3: duration straight from the header.
	duration := wav.Duration()
	if duration <= 0 {
		return apperrors.Step("probe-duration", errors.New("recording has zero duration"))
	}

	// Step 4: prompt copy, generated only when the record has none.
	prompt, err := p.resolvePrompt(ctx, rec, duration)
	if err != nil {
		return apperrors.Step("prompt-text", err)
	}

	// Step 5: the keepsake still.
	photoURL := ""
	if rec.UserPhotoURL != nil {
		photoURL = *rec.UserPhotoURL
	}
	image, err := p.gen.GenerateImage(ctx, prompt, photoURL)
	if err != nil {
		return apperrors.Step("image", err)
	}

	// Step 6: multi-speaker synthesis, polled to completion.
	video, err := p.gen.GenerateVideo(ctx, mediaclient.VideoRequest{
		Prompt:      prompt,
		ImageB64:    encodeImage(image),
		OwnerTrack:  ownerURL,
		CalleeTrack: calleeURL,
		Duration:    duration,
	})
	if err != nil {
		return apperrors.Step("video-synthesis", err)
	}

	// Step 7: durable upload. The key is persisted so fresh URLs can be
	// minted after the signed one expires.
	videoKey := prefix + "/keepsake.mp4"
	videoURL, err := p.store.Upload(ctx, videoKey, video, "video/mp4")
	if err != nil {
		return apperrors.Step("upload-video", err)
	}
	if err := p.records.SetVideoResult(ctx, rec.ID, videoURL, videoKey); err != nil {
		return apperrors.Step("upload-video", err)
	}

	// Step 8: best effort only.
	if err := p.notifier.NotifyVideoReady(ctx, notify.VideoReady{
		CallID:   rec.ID.String(),
		OwnerID:  rec.OwnerID.String(),
		VideoURL: videoURL,
	}); err != nil {
		p.logger.Warn("owner notification failed",
			zap.String("call_id", rec.ID.String()),
			zap.Error(err))
	}

	p.logger.Info("keepsake video ready",
		zap.String("call_id", rec.ID.String()),
		zap.String("video_key", videoKey),
		zap.Duration("call_duration", duration))
	return nil
}

func (p *Processor) resolvePrompt(ctx context.Context, rec *domain.CallRecord, duration time.Duration) (string, error) {
	if rec.PromptText != nil && *rec.PromptText != "" {
		return *rec.PromptText, nil
	}

	instructions := ""
	if rec.Instructions != nil {
		instructions = *rec.Instructions
	}
	prompt, err := p.gen.GeneratePrompt(ctx, instructions, duration)
	if err != nil {
		return "", err
	}
	if err := p.records.SetPromptText(ctx, rec.ID, prompt); err != nil {
		return "", fmt.Errorf("persist prompt text: %w", err)
	}
	return prompt, nil
}
