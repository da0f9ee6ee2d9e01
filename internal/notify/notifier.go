package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/pkg/logger"
)

// VideoReady is the payload posted to the owner's webhook once the keepsake
// video is available.
type VideoReady struct {
	CallID   string `json:"call_id"`
	OwnerID  string `json:"owner_id"`
	VideoURL string `json:"video_url"`
}

// Notifier posts completion events to the configured owner webhook. It is
// strictly best effort: callers log the returned error and move on.
type Notifier struct {
	cfg    config.NotifyConfig
	http   *http.Client
	logger *logger.Logger
}

func NewNotifier(cfg config.NotifyConfig, log *logger.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: log.Named("notify"),
	}
}

// NotifyVideoReady posts the event. A missing webhook URL is not an error,
// it just means nobody subscribed.
func (n *Notifier) NotifyVideoReady(ctx context.Context, event VideoReady) error {
	if n.cfg.WebhookURL == "" {
		n.logger.Debug("no webhook configured, skipping notification",
			zap.String("call_id", event.CallID))
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook: status %d", resp.StatusCode)
	}
	return nil
}
