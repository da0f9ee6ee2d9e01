package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/pkg/logger"
)

// clientEvent is the envelope for messages sent to the engine.
type clientEvent struct {
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
}

type sessionConfig struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

// serverEvent is the envelope for messages received from the engine. Only
// the event types the bridge cares about are decoded; everything else is
// skipped by type.
type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Session is one live realtime connection to the speech engine. Audio going
// to the engine is appended via AppendAudio; audio coming back is delivered
// on the Audio channel as raw little-endian PCM16 at the engine's native
// sample rate. The channel closes when the engine hangs up or Close is
// called.
type Session struct {
	conn   *websocket.Conn
	audio  chan []byte
	logger *logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a realtime session and configures it with the call's speech
// instructions before returning. The caller owns the session and must Close
// it.
func Dial(ctx context.Context, cfg config.SpeechConfig, instructions string, log *logger.Logger) (*Session, error) {
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	url := cfg.URL
	if cfg.Model != "" {
		url += "?model=" + cfg.Model
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("speech engine dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("speech engine dial: %w", err)
	}

	s := &Session{
		conn:   conn,
		audio:  make(chan []byte, 32),
		logger: log.Named("speech"),
		done:   make(chan struct{}),
	}

	update := clientEvent{
		Type: "session.update",
		Session: &sessionConfig{
			Modalities:        []string{"audio", "text"},
			Instructions:      instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     &turnDetection{Type: "server_vad"},
		},
	}
	if err := s.writeJSON(update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("speech engine session.update: %w", err)
	}

	go s.readLoop()

	return s, nil
}

// AppendAudio forwards one frame of little-endian PCM16 to the engine's
// input buffer.
func (s *Session) AppendAudio(pcm []byte) error {
	event := struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
	if err := s.writeJSON(event); err != nil {
		return fmt.Errorf("speech engine append: %w", err)
	}
	return nil
}

// Audio delivers the engine's response audio. Closed on session end.
func (s *Session) Audio() <-chan []byte {
	return s.audio
}

// Done is closed once the read loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the connection down. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func closeDeadline() time.Time {
	return time.Now().Add(2 * time.Second)
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.audio)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("engine socket closed", zap.Error(err))
			}
			return
		}

		var event serverEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			s.logger.Warn("unparseable engine event", zap.Error(err))
			continue
		}

		switch event.Type {
		case "response.audio.delta":
			pcm, err := base64.StdEncoding.DecodeString(event.Delta)
			if err != nil {
				s.logger.Warn("bad audio delta encoding", zap.Error(err))
				continue
			}
			select {
			case s.audio <- pcm:
			default:
				// The bridge consumer stalled; drop rather than block the
				// read loop and back up the socket.
			}
		case "error":
			if event.Error != nil {
				s.logger.Warn("engine error event",
					zap.String("error_type", event.Error.Type),
					zap.String("message", event.Error.Message))
			}
		default:
			// Lifecycle and transcript events are not needed here.
		}
	}
}
