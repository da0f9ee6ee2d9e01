package bridge

import (
	"encoding/base64"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/audio"
	"github.com/acme/call-memento/pkg/logger"
)

const (
	carrierSampleRate = 8000

	// Warn about dropped frames only every droppedWarnEvery drops. During
	// engine setup the carrier keeps sending 20 ms frames and logging each
	// one would flood.
	droppedWarnEvery = 50
)

// MediaWriter sends one outbound media payload back to the carrier socket.
type MediaWriter interface {
	WriteMedia(payload string) error
}

// Session is the per-call relay between the carrier stream and the speech
// engine. Inbound frames pass through a bounded channel to a single pump
// goroutine, so the socket reader never blocks on the engine.
type Session struct {
	streamSID string
	callID    string
	ratio     int
	out       MediaWriter
	logger    *logger.Logger

	engine engineSession
	frames chan []byte

	dropped  atomic.Uint64
	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(streamSID, callID string, ratio, buffer int, out MediaWriter, log *logger.Logger) *Session {
	return &Session{
		streamSID: streamSID,
		callID:    callID,
		ratio:     ratio,
		out:       out,
		logger:    log,
		frames:    make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

func (s *Session) attach(engine engineSession) {
	s.engine = engine
}

// run starts the pumps. An inert session (no engine) starts nothing; its
// frames are dropped at submit time.
func (s *Session) run() {
	if s.engine == nil {
		close(s.done)
		return
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		s.pumpInbound()
	}()
	go func() {
		defer pumps.Done()
		s.pumpOutbound()
	}()
	go func() {
		pumps.Wait()
		close(s.done)
	}()
}

// Submit hands one inbound μ-law frame to the session. Frames that cannot
// be queued are dropped and counted, never buffered unbounded.
func (s *Session) Submit(mulaw []byte) {
	s.mu.Lock()
	if s.engine == nil || s.stopped {
		s.mu.Unlock()
		s.countDrop()
		return
	}
	select {
	case s.frames <- mulaw:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.countDrop()
	}
}

// Dropped reports how many inbound frames were discarded.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Session) countDrop() {
	n := s.dropped.Add(1)
	if n%droppedWarnEvery == 0 {
		s.logger.Warn("dropping inbound audio",
			zap.String("call_id", s.callID),
			zap.String("stream_sid", s.streamSID),
			zap.Uint64("dropped", n))
	}
}

// pumpInbound decodes carrier μ-law to linear samples, upsamples to the
// engine rate and appends to the engine's input buffer.
func (s *Session) pumpInbound() {
	for frame := range s.frames {
		samples := audio.DecodeMuLawFrame(frame)
		wide := audio.Upsample(samples, s.ratio)
		if err := s.engine.AppendAudio(audio.PCMToBytes(wide)); err != nil {
			s.countDrop()
		}
	}
}

// pumpOutbound narrows engine audio back to 8 kHz μ-law and writes it to
// the carrier. It drains the engine channel to completion so the final
// audio of a turn is flushed even while the session is stopping.
func (s *Session) pumpOutbound() {
	for pcm := range s.engine.Audio() {
		samples := audio.BytesToPCM(pcm)
		narrow := audio.Downsample(samples, s.ratio)
		payload := base64.StdEncoding.EncodeToString(audio.EncodeMuLawFrame(narrow))
		if err := s.out.WriteMedia(payload); err != nil {
			s.logger.Debug("carrier write failed",
				zap.String("stream_sid", s.streamSID),
				zap.Error(err))
			return
		}
	}
}

// stop closes the inbound path, shuts the engine session down and waits for
// the pumps to flush.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.engine != nil {
			close(s.frames)
		}
		s.mu.Unlock()
		if s.engine == nil {
			return
		}
		_ = s.engine.Close()
		<-s.done
	})
}
