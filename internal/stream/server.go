package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/bridge"
	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/pkg/logger"
)

const readDeadline = 90 * time.Second

// recordIDParameter is the custom stream parameter the call initiator sets
// on the TwiML <Stream> so the media socket can be tied back to its record.
const recordIDParameter = "recordId"

// carrierEvent is the envelope of the carrier's media-stream protocol.
// Events other than connected/start/media/stop are ignored.
type carrierEvent struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Start     *startEvent `json:"start"`
	Media     *mediaEvent `json:"media"`
}

type startEvent struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type mediaEvent struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// outboundMedia is what we send back down the carrier socket.
type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// Server terminates the carrier's media-stream WebSocket and feeds frames
// into the bridge.
type Server struct {
	cfg    config.StreamConfig
	bridge *bridge.Bridge
	logger *logger.Logger

	upgrader websocket.Upgrader
	http     *http.Server
}

func NewServer(cfg config.StreamConfig, br *bridge.Bridge, log *logger.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		bridge: br,
		logger: log.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The carrier does not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handle)
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("media stream listener up",
		zap.String("addr", s.http.Addr),
		zap.String("path", s.cfg.Path))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stream server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	writer := &socketWriter{conn: conn, timeout: s.cfg.WriteTimeout}

	var (
		streamSID string
		sess      *bridge.Session
	)
	defer func() {
		if streamSID != "" {
			s.bridge.Release(streamSID)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("carrier socket closed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var event carrierEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			s.logger.Warn("unparseable carrier event", zap.Error(err))
			continue
		}

		switch event.Event {
		case "connected":
			s.logger.Debug("carrier stream connected")

		case "start":
			if event.Start == nil {
				continue
			}
			streamSID = event.Start.StreamSID
			if streamSID == "" {
				streamSID = event.StreamSID
			}
			writer.streamSID = streamSID

			callID := event.Start.CustomParameters[recordIDParameter]
			if callID == "" {
				s.logger.Error("start event without record id, dropping stream",
					zap.String("stream_sid", streamSID),
					zap.String("call_sid", event.Start.CallSID))
				continue
			}

			s.logger.Info("carrier stream started",
				zap.String("stream_sid", streamSID),
				zap.String("call_id", callID),
				zap.String("encoding", event.Start.MediaFormat.Encoding))

			sess, err = s.bridge.Start(r.Context(), streamSID, callID, writer)
			if err != nil {
				s.logger.Error("bridge start failed",
					zap.String("call_id", callID),
					zap.Error(err))
			}

		case "media":
			if event.Media == nil || sess == nil {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(event.Media.Payload)
			if err != nil {
				s.logger.Warn("bad media payload encoding", zap.Error(err))
				continue
			}
			sess.Submit(frame)

		case "stop":
			s.logger.Info("carrier stream stopped", zap.String("stream_sid", streamSID))
			return

		default:
			// Marks, DTMF and anything newer are irrelevant here.
		}
	}
}

// socketWriter serializes outbound media writes onto the carrier socket.
type socketWriter struct {
	conn      *websocket.Conn
	streamSID string
	timeout   time.Duration
	mu        sync.Mutex
}

func (w *socketWriter) WriteMedia(payload string) error {
	msg := outboundMedia{Event: "media", StreamSID: w.streamSID}
	msg.Media.Payload = payload

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.WriteJSON(msg)
}
