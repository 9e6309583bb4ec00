package webrtc

import (
	"context"
	"fmt"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the ICE setup shared by every peer connection. STUN only:
// peers that cannot traverse their NAT simply fail and surface as a link
// error.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory builds one Connector per peer link.
type Factory struct {
	config Config
	logger *zap.SugaredLogger
}

var _ ports.ConnectorFactory = (*Factory)(nil)

func NewFactory(config Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{config: config, logger: logger}
}

func (f *Factory) NewConnector(ctx context.Context) (ports.PeerConnector, error) {
	config := webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return &Connector{pc: pc, logger: f.logger}, nil
}

// Connector adapts one pion PeerConnection to the negotiation surface the
// core services consume.
type Connector struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger
}

var _ ports.PeerConnector = (*Connector)(nil)

func (c *Connector) AddAudioTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	go c.drainSenderRTCP(sender)
	return nil
}

// drainSenderRTCP keeps interceptor pipelines running and logs receiver
// reports for visibility into downstream quality.
func (c *Connector) drainSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			switch p := packet.(type) {
			case *rtcp.ReceiverReport:
				for _, report := range p.Reports {
					if report.FractionLost > 0 {
						c.logger.Debugw("downstream loss reported",
							"fraction_lost", report.FractionLost,
							"jitter", report.Jitter,
						)
					}
				}
			case *rtcp.TransportLayerNack:
				c.logger.Debugw("nack received", "media_ssrc", p.MediaSSRC)
			}
		}
	}
}

func (c *Connector) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (c *Connector) CreateAnswer(ctx context.Context, remoteOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteOffer}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (c *Connector) SetRemoteAnswer(ctx context.Context, sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func (c *Connector) AddICECandidate(candidate string) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (c *Connector) OnLocalCandidate(fn func(candidate string)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks end of gathering; trickle consumers ignore it.
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON().Candidate)
	})
}

func (c *Connector) OnStateChange(fn func(domain.LinkState)) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Infow("peer connection state changed", "state", state)

		switch state {
		case webrtc.PeerConnectionStateConnected:
			fn(domain.LinkStateConnected)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			fn(domain.LinkStateFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(domain.LinkStateClosed)
		}
	})
}

func (c *Connector) OnRemoteTrack(fn func(track *webrtc.TrackRemote)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Infow("remote track received",
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		go c.drainReceiverRTCP(receiver)
		fn(track)
	})
}

func (c *Connector) drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (c *Connector) Close() error {
	return c.pc.Close()
}
