package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"djlive/internal/core/domain"
	"djlive/internal/core/services"
	signalrelay "djlive/internal/infrastructure/signal"
	webrtcinfra "djlive/internal/infrastructure/webrtc"
	"djlive/pkg/config"
	"djlive/pkg/logger"
	"djlive/pkg/retry"

	"github.com/pion/webrtc/v3"
)

// The broadcaster agent: claims the broadcaster role, pumps a local RTP
// stream into per-listener peer connections, and renegotiates as listeners
// come and go.
func main() {
	var (
		partyID   = flag.String("party", "dj-1", "party ID for this broadcaster")
		label     = flag.String("label", "Live DJ Session", "display label for the session")
		rtpListen = flag.String("rtp-listen", "127.0.0.1:5004", "UDP address to receive Opus RTP on")
		relayURL  = flag.String("relay", "ws://localhost:8081/ws", "signaling relay websocket URL")
		cfgPath   = flag.String("config", "configs/config.yaml", "config file path")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	selfID := domain.PartyID(*partyID)

	// The agent shares the relay's JWT secret and mints its own token.
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	token, err := authService.GenerateToken(selfID, *partyID, []string{domain.CapabilityBroadcast})
	if err != nil {
		log.Fatalw("failed to generate token", "error", err)
	}

	// Audio source must exist before the role is claimed; without it there
	// is nothing to broadcast.
	source, err := webrtcinfra.NewRTPSource(*rtpListen, log)
	if err != nil {
		log.Fatalw("no usable audio source", "error", err)
	}
	defer source.Close()
	source.Start()

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: s.URLs})
	}
	webrtcCfg := webrtcinfra.Config{ICEServers: iceServers}
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	factory := webrtcinfra.NewFactory(webrtcCfg, log)

	retryCfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	client := signalrelay.NewClient(*relayURL, token, retryCfg, log)

	fanout := services.NewFanoutService(selfID, factory, client, log)

	granted := make(chan struct{})
	denied := make(chan string, 1)

	client.On(domain.MsgRoleGranted, func(ctx context.Context, env domain.Envelope) {
		close(granted)
	})
	client.On(domain.MsgRoleDenied, func(ctx context.Context, env domain.Envelope) {
		var payload domain.RoleDeniedPayload
		json.Unmarshal(env.Payload, &payload)
		denied <- payload.Reason
	})
	client.On(domain.MsgListenerReady, func(ctx context.Context, env domain.Envelope) {
		if err := fanout.OnListenerReady(ctx, env.SenderID); err != nil {
			log.Warnw("failed to handle listener ready", "listener", env.SenderID, "error", err)
		}
	})
	client.On(domain.MsgAnswer, func(ctx context.Context, env domain.Envelope) {
		var payload domain.DescriptionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			log.Warnw("bad answer payload", "error", err)
			return
		}
		if err := fanout.OnAnswer(ctx, env.SenderID, payload.SDP); err != nil {
			log.Warnw("failed to handle answer", "listener", env.SenderID, "error", err)
		}
	})
	client.On(domain.MsgICECandidate, func(ctx context.Context, env domain.Envelope) {
		var payload domain.CandidatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			log.Warnw("bad candidate payload", "error", err)
			return
		}
		if err := fanout.OnICECandidate(ctx, env.SenderID, payload.Candidate); err != nil {
			log.Debugw("candidate dropped", "listener", env.SenderID, "error", err)
		}
	})
	client.On(domain.MsgError, func(ctx context.Context, env domain.Envelope) {
		var payload domain.ErrorPayload
		json.Unmarshal(env.Payload, &payload)
		log.Warnw("relay error", "code", payload.Code, "message", payload.Message)
	})

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalw("failed to connect to relay", "error", err)
	}
	defer client.Close()

	if err := client.SendTo(ctx, "", domain.Envelope{
		Type:     domain.MsgRoleRequest,
		SenderID: selfID,
		Payload:  domain.MustMarshal(domain.RoleRequestPayload{DisplayLabel: *label}),
	}); err != nil {
		log.Fatalw("failed to request broadcaster role", "error", err)
	}

	select {
	case <-granted:
		log.Infow("broadcaster role granted", "party", selfID, "label", *label)
	case reason := <-denied:
		log.Fatalw("broadcaster role denied", "reason", reason)
	case <-time.After(10 * time.Second):
		log.Fatal("timed out waiting for role grant")
	}

	if err := fanout.Start(ctx, source.Track()); err != nil {
		log.Fatalw("failed to start fan-out", "error", err)
	}

	log.Infow("broadcasting", "rtp_listen", *rtpListen)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	case <-client.Done():
		log.Warn("relay connection lost")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fanout.Stop(stopCtx); err != nil {
		log.Warnw("error stopping fan-out", "error", err)
	}

	log.Info("broadcast ended")
}
