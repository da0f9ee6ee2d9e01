package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/acme/call-memento/internal/config"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// Store is an HMAC-presigned client for the object store that keeps call
// tracks and finished videos. Objects are addressed {endpoint}/{bucket}/{key};
// every request carries an expiring signature, so the URLs handed out to
// collaborators and owners stay self-contained.
type Store struct {
	cfg    config.StorageConfig
	http   *http.Client
	now    func() time.Time
	logger *logger.Logger
}

func NewStore(cfg config.StorageConfig, log *logger.Logger) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: storage endpoint and bucket required", apperrors.ErrConfiguration)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: storage credentials required", apperrors.ErrConfiguration)
	}
	return &Store{
		cfg:    cfg,
		http:   &http.Client{Timeout: 5 * time.Minute},
		now:    time.Now,
		logger: log.Named("storage"),
	}, nil
}

// Upload writes the object and returns a signed read URL for it.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	target := s.sign(http.MethodPut, key, s.now().Add(s.urlTTL()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: storage put: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("%w: storage put status %d for %s", apperrors.ErrUnavailable, resp.StatusCode, key)
	}

	return s.SignedURL(key), nil
}

// SignedURL mints a fresh expiring read URL for a stored object. Persisted
// keys stay valid forever; persisted URLs do not.
func (s *Store) SignedURL(key string) string {
	return s.sign(http.MethodGet, key, s.now().Add(s.urlTTL()))
}

func (s *Store) urlTTL() time.Duration {
	if s.cfg.URLTTL <= 0 {
		return 24 * time.Hour
	}
	return s.cfg.URLTTL
}

func (s *Store) sign(method, key string, expires time.Time) string {
	exp := strconv.FormatInt(expires.Unix(), 10)

	mac := hmac.New(sha256.New, []byte(s.cfg.SecretKey))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", method, s.cfg.Bucket, key, exp)
	sig := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("AccessKey", s.cfg.AccessKey)
	q.Set("Expires", exp)
	q.Set("Signature", sig)

	return fmt.Sprintf("%s/%s/%s?%s", s.cfg.Endpoint, s.cfg.Bucket, url.PathEscape(key), q.Encode())
}
