package webrtc

import (
	"io"
	"math"
	"sync"
	"sync/atomic"

	"djlive/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTPSink is the listener-side playback boundary. It drains the remote
// track and hands Opus payloads to an optional writer (a pipe into a local
// decoder, typically). Gain zero drops payloads without stopping the drain,
// so the stream stays alive while muted.
type RTPSink struct {
	logger *zap.SugaredLogger

	gainBits uint64

	mu     sync.Mutex
	out    io.Writer
	cancel chan struct{}
}

var _ ports.AudioSink = (*RTPSink)(nil)

func NewRTPSink(out io.Writer, logger *zap.SugaredLogger) *RTPSink {
	s := &RTPSink{out: out, logger: logger}
	s.SetGain(1.0)
	return s
}

func (s *RTPSink) Attach(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.cancel != nil {
		close(s.cancel)
	}
	cancel := make(chan struct{})
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Infow("audio sink attached", "track_id", track.ID(), "codec", track.Codec().MimeType)

	go s.drain(track, cancel)
}

func (s *RTPSink) drain(track *webrtc.TrackRemote, cancel chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-cancel:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			s.logger.Debugw("audio sink track ended", "error", err)
			return
		}

		if s.Gain() == 0 {
			continue
		}

		s.mu.Lock()
		out := s.out
		s.mu.Unlock()
		if out == nil {
			continue
		}
		if _, err := out.Write(buf[:n]); err != nil {
			s.logger.Warnw("error writing to audio output", "error", err)
		}
	}
}

func (s *RTPSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
}

func (s *RTPSink) SetGain(gain float64) {
	atomic.StoreUint64(&s.gainBits, math.Float64bits(gain))
}

func (s *RTPSink) Gain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.gainBits))
}
