package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/internal/speech"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// InstructionSource resolves the speech instructions for a call. The bridge
// checks the prime cache first and falls back to the call record.
type InstructionSource interface {
	Instructions(ctx context.Context, callID string) (string, error)
}

// CachedSource layers the Redis prime cache over a record lookup.
type CachedSource struct {
	Cache  *speech.PrimeCache
	Lookup func(ctx context.Context, callID string) (string, error)
}

func (s CachedSource) Instructions(ctx context.Context, callID string) (string, error) {
	if s.Cache != nil {
		text, err := s.Cache.Lookup(ctx, callID)
		if err == nil && text != "" {
			return text, nil
		}
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return "", err
		}
	}
	if s.Lookup == nil {
		return "", apperrors.ErrNotFound
	}
	return s.Lookup(ctx, callID)
}

// engineSession is what a bridge session needs from the speech engine.
// speech.Session satisfies it.
type engineSession interface {
	AppendAudio(pcm []byte) error
	Audio() <-chan []byte
	Done() <-chan struct{}
	Close() error
}

// Bridge owns every live audio session, keyed by the carrier's stream SID.
type Bridge struct {
	cfg    config.SpeechConfig
	buffer int
	source InstructionSource
	logger *logger.Logger

	dial func(ctx context.Context, instructions string) (engineSession, error)

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(cfg config.SpeechConfig, streamCfg config.StreamConfig, source InstructionSource, log *logger.Logger) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		buffer:   streamCfg.FrameBuffer,
		source:   source,
		logger:   log.Named("bridge"),
		sessions: make(map[string]*Session),
	}
	if b.buffer <= 0 {
		b.buffer = 64
	}
	b.dial = func(ctx context.Context, instructions string) (engineSession, error) {
		return speech.Dial(ctx, cfg, instructions, log)
	}
	return b
}

// Start creates the session for a stream that just sent its start event.
// When the call's instructions cannot be resolved the session still exists
// but stays inert: frames are counted and dropped so the socket handler has
// somewhere to put them without growing memory.
func (b *Bridge) Start(ctx context.Context, streamSID, callID string, out MediaWriter) (*Session, error) {
	ratio := b.cfg.SampleRate / carrierSampleRate
	if ratio < 1 || b.cfg.SampleRate%carrierSampleRate != 0 {
		return nil, fmt.Errorf("engine sample rate %d is not a multiple of %d", b.cfg.SampleRate, carrierSampleRate)
	}

	sess := newSession(streamSID, callID, ratio, b.buffer, out, b.logger)

	instructions, err := b.source.Instructions(ctx, callID)
	if err != nil || instructions == "" {
		b.logger.Warn("no instructions for call, bridge inert",
			zap.String("call_id", callID),
			zap.String("stream_sid", streamSID),
			zap.Error(err))
	} else {
		engine, err := b.dial(ctx, instructions)
		if err != nil {
			b.logger.Error("speech engine dial failed, bridge inert",
				zap.String("call_id", callID),
				zap.Error(err))
		} else {
			sess.attach(engine)
		}
	}

	b.mu.Lock()
	b.sessions[streamSID] = sess
	b.mu.Unlock()

	sess.run()
	return sess, nil
}

// Get returns the live session for a stream SID.
func (b *Bridge) Get(streamSID string) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[streamSID]
	return sess, ok
}

// Release stops the session and forgets it. No session outlives its call.
func (b *Bridge) Release(streamSID string) {
	b.mu.Lock()
	sess, ok := b.sessions[streamSID]
	delete(b.sessions, streamSID)
	b.mu.Unlock()

	if ok {
		sess.stop()
	}
}
