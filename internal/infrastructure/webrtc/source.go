package webrtc

import (
	"errors"
	"fmt"
	"net"

	"djlive/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTPSource turns a local RTP stream into a broadcastable track. The
// broadcaster agent points an encoder (ffmpeg, gstreamer) at the UDP port
// and the pump copies packets onto the track.
type RTPSource struct {
	track  *webrtc.TrackLocalStaticRTP
	conn   *net.UDPConn
	logger *zap.SugaredLogger

	closed chan struct{}
}

// NewRTPSource binds the UDP listener and creates the Opus track. A bind
// failure means no usable audio source exists.
func NewRTPSource(listenAddr string, logger *zap.SugaredLogger) (*RTPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"djlive-audio",
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	return &RTPSource{
		track:  track,
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

// Track exposes the local track to the fan-out manager.
func (s *RTPSource) Track() webrtc.TrackLocal {
	return s.track
}

// Start pumps RTP packets from UDP onto the track until Close.
func (s *RTPSource) Start() {
	go s.pump()
}

func (s *RTPSource) pump() {
	packetBuffer := make([]byte, 1500) // MTU size
	rtpPacket := &rtp.Packet{}
	var packetCount uint64

	s.logger.Infow("audio source pump started", "addr", s.conn.LocalAddr().String())

	for {
		n, _, err := s.conn.ReadFromUDP(packetBuffer)
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Warnw("error reading audio source", "error", err)
			}
			return
		}

		if err := rtpPacket.Unmarshal(packetBuffer[:n]); err != nil {
			s.logger.Warnw("error unmarshaling RTP packet", "error", err)
			continue
		}

		if err := s.track.WriteRTP(rtpPacket); err != nil {
			// No attached links is normal between sessions.
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debugw("error writing RTP packet to track", "error", err)
			}
		}

		packetCount++
		if packetCount%1000 == 0 {
			s.logger.Debugw("audio source stats",
				"packets", packetCount,
				"sequence", rtpPacket.SequenceNumber,
			)
		}
	}
}

func (s *RTPSource) Close() error {
	close(s.closed)
	return s.conn.Close()
}
