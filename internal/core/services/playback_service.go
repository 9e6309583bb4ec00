package services

import (
	"context"
	"sync"
	"time"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"

	"go.uber.org/zap"
)

// playbackService owns the audio sink and the listener-facing playback
// state. The listening flag is UI state only: clearing it does not stop the
// media, so audio keeps playing while the user navigates elsewhere. Only
// ForceRestart tears the connection down.
type playbackService struct {
	listener     ports.ListenerHandler
	sink         ports.AudioSink
	restartDelay time.Duration
	logger       *zap.SugaredLogger

	mu             sync.Mutex
	isListening    bool
	muted          bool
	volume         float64
	nextSubscriber int
	subscribers    map[int]func(domain.ListenerAudioState)

	unsubscribe func()
}

func NewPlaybackService(
	listener ports.ListenerHandler,
	sink ports.AudioSink,
	restartDelay time.Duration,
	logger *zap.SugaredLogger,
) ports.PlaybackManager {
	s := &playbackService{
		listener:     listener,
		sink:         sink,
		restartDelay: restartDelay,
		logger:       logger,
		volume:       1.0,
		subscribers:  make(map[int]func(domain.ListenerAudioState)),
	}
	s.unsubscribe = listener.SubscribeStatus(func(domain.ListenerStatus) {
		s.notify()
	})
	return s
}

func (s *playbackService) StartListening(ctx context.Context) error {
	s.mu.Lock()
	s.isListening = true
	s.applyGainLocked()
	s.mu.Unlock()
	s.notify()

	return s.listener.Resync(ctx)
}

// StopListeningUI flips the UI flag only. The peer link and the audio keep
// running; this mirrors leaving the player screen without stopping playback.
func (s *playbackService) StopListeningUI() {
	s.mu.Lock()
	s.isListening = false
	s.mu.Unlock()
	s.notify()
}

// ForceRestart is the single escape hatch from a wedged or errored
// connection: full teardown, a short settle delay, then a fresh join.
func (s *playbackService) ForceRestart(ctx context.Context) error {
	s.logger.Infow("forcing playback restart")

	if err := s.listener.Close(ctx); err != nil {
		return err
	}

	select {
	case <-time.After(s.restartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.isListening = true
	s.applyGainLocked()
	s.mu.Unlock()
	s.notify()

	return s.listener.Resync(ctx)
}

func (s *playbackService) ToggleMute() {
	s.mu.Lock()
	s.muted = !s.muted
	s.applyGainLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *playbackService) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	s.mu.Lock()
	s.volume = v
	s.applyGainLocked()
	s.mu.Unlock()
	s.notify()
}

// applyGainLocked pushes effective gain to the sink. Mute drives gain to
// zero without overwriting the stored volume. Caller holds s.mu.
func (s *playbackService) applyGainLocked() {
	if s.muted {
		s.sink.SetGain(0)
		return
	}
	s.sink.SetGain(s.volume)
}

func (s *playbackService) GetState() domain.ListenerAudioState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ListenerAudioState{
		IsListening: s.isListening,
		Muted:       s.muted,
		Volume:      s.volume,
		Status:      s.listener.Status(),
	}
}

func (s *playbackService) Subscribe(fn func(domain.ListenerAudioState)) func() {
	s.mu.Lock()
	id := s.nextSubscriber
	s.nextSubscriber++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *playbackService) notify() {
	state := s.GetState()

	s.mu.Lock()
	fns := make([]func(domain.ListenerAudioState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
