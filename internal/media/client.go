package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/config"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// Client talks to the generation collaborators: a text model for prompt
// copy, an image model for the keepsake still, and a video synthesizer
// that lip-syncs the two call tracks onto the still.
type Client struct {
	cfg    config.MediaConfig
	http   *http.Client
	logger *logger.Logger
}

func NewClient(cfg config.MediaConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: log.Named("media"),
	}
}

// GeneratePrompt asks the text collaborator for video prompt copy based on
// the call's speech instructions.
func (c *Client) GeneratePrompt(ctx context.Context, instructions string, duration time.Duration) (string, error) {
	req := map[string]any{
		"instructions":     instructions,
		"duration_seconds": int(duration.Seconds()),
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := c.postJSON(ctx, c.cfg.TextEndpoint, req, &resp); err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", fmt.Errorf("%w: text collaborator returned empty prompt", apperrors.ErrNoOutput)
	}
	return resp.Text, nil
}

// GenerateImage produces the keepsake still. When the owner supplied a
// photo it is edited in place; otherwise the image is generated from the
// prompt alone.
func (c *Client) GenerateImage(ctx context.Context, prompt, photoURL string) ([]byte, error) {
	req := map[string]any{"prompt": prompt}
	if photoURL != "" {
		req["source_url"] = photoURL
	}
	var resp struct {
		ImageB64 string `json:"image_b64"`
	}
	if err := c.postJSON(ctx, c.cfg.ImageEndpoint, req, &resp); err != nil {
		return nil, err
	}
	if resp.ImageB64 == "" {
		return nil, fmt.Errorf("%w: image collaborator returned no image", apperrors.ErrNoOutput)
	}
	img, err := base64.StdEncoding.DecodeString(resp.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("%w: image payload not decodable", apperrors.ErrNoOutput)
	}
	return img, nil
}

// VideoRequest describes one multi-speaker synthesis job.
type VideoRequest struct {
	Prompt      string
	ImageB64    string
	OwnerTrack  string
	CalleeTrack string
	Duration    time.Duration
}

// GenerateVideo submits the synthesis job and polls it to completion,
// bounded by the configured wait ceiling. Returns the finished video bytes.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error) {
	submit := map[string]any{
		"prompt":           req.Prompt,
		"image_b64":        req.ImageB64,
		"track_urls":       []string{req.OwnerTrack, req.CalleeTrack},
		"duration_seconds": int(req.Duration.Seconds()),
	}
	var created struct {
		JobID string `json:"job_id"`
	}
	if err := c.postJSON(ctx, c.cfg.VideoEndpoint, submit, &created); err != nil {
		return nil, err
	}
	if created.JobID == "" {
		return nil, fmt.Errorf("%w: video collaborator returned no job id", apperrors.ErrNoOutput)
	}

	videoURL, err := c.pollVideo(ctx, created.JobID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, videoURL)
}

func (c *Client) pollVideo(ctx context.Context, jobID string) (string, error) {
	deadline := time.Now().Add(c.cfg.WaitCeiling)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var status struct {
			Status   string `json:"status"`
			VideoURL string `json:"video_url"`
			Error    string `json:"error"`
		}
		if err := c.getJSON(ctx, c.cfg.VideoEndpoint+"/"+jobID, &status); err != nil {
			return "", err
		}

		switch status.Status {
		case "completed":
			if status.VideoURL == "" {
				return "", fmt.Errorf("%w: completed video job has no url", apperrors.ErrNoOutput)
			}
			return status.VideoURL, nil
		case "failed":
			return "", fmt.Errorf("%w: video synthesis failed: %s", apperrors.ErrNoOutput, status.Error)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: video job %s still pending after %s", apperrors.ErrUnavailable, jobID, c.cfg.WaitCeiling)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: video download status %d", apperrors.ErrUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty video body", apperrors.ErrNoOutput)
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: collaborator status %d", apperrors.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("collaborator rejected request: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Debug("undecodable collaborator response", zap.Error(err))
		return fmt.Errorf("%w: undecodable response", apperrors.ErrNoOutput)
	}
	return nil
}
