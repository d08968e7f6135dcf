package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/relayclient"
	"github.com/dkeye/meshvoice/internal/adapters/rtc"
	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/app/session"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newJoinCmd(c *cli) *cobra.Command {
	var (
		share       string
		metricsAddr string
		statusEvery time.Duration
	)
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and stay until interrupted or removed",
		Example: `  meshvoice join dm:42 --user alice --relay http://localhost:8080
  meshvoice join voice:7 --share camera --metrics-addr :9100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := domain.ParseRoomKey(args[0])
			if err != nil {
				return err
			}
			var kind core.ShareKind
			switch share {
			case "":
			case string(core.ShareScreen), string(core.ShareCamera):
				kind = core.ShareKind(share)
			default:
				return fmt.Errorf("unknown share source %q", share)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if metricsAddr != "" {
				go serveMetrics(ctx, metricsAddr)
			}
			return runJoin(ctx, c.cfg.Session, room, kind, statusEvery)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&share, "share", "", "start sharing after join: screen or camera")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.DurationVar(&statusEvery, "status-interval", 5*time.Second, "how often to log the room status")
	fs.Float64("tone-hz", 0, "synthetic microphone tone; 0 sends silence")
	fs.Bool("display", false, "allow screen capture")
	fs.Bool("auto-camera-fallback", false, "restart sharing from the camera when a screen share ends")
	fs.Bool("push", true, "use the relay push stream to wake signal polling")
	fs.StringSlice("ice-server", nil, "ICE server URL (repeatable)")
	return cmd
}

func runJoin(ctx context.Context, sc config.SessionConfig, room domain.RoomKey, share core.ShareKind, statusEvery time.Duration) error {
	raw := sc.UserID
	if raw == "" {
		raw = string(domain.NewUserID())
	}
	self, err := domain.ParseUserID(raw)
	if err != nil {
		return err
	}

	peers, err := rtc.NewFactory(self, sc.ICEServers)
	if err != nil {
		return err
	}
	amplitude := 0.0
	if sc.ToneHz > 0 {
		amplitude = 0.3
	}
	capture := rtc.NewCapturer(self, rtc.CaptureOptions{ToneHz: sc.ToneHz, Amplitude: amplitude, Display: sc.Display})
	client, err := relayclient.New(sc.RelayURL, relayclient.Options{Push: sc.PushSignals})
	if err != nil {
		return err
	}
	defer client.Close()

	s := session.New(session.Config{
		Self:               self,
		ReconcileInterval:  sc.ReconcileInterval,
		PollInterval:       sc.PollInterval,
		RenegotiateDelay:   sc.RenegotiateDelay,
		MaxRetries:         sc.MaxRetries,
		Speaking:           media.DetectorOptions{Interval: sc.SpeakingInterval, Threshold: sc.SpeakingThreshold},
		AutoCameraFallback: sc.AutoCameraFallback,
		PushSignals:        sc.PushSignals,
		OnGain: func(peer domain.UserID, track core.RemoteTrack, gain float64) {
			log.Debug().Str("module", "cmd.join").Str("peer", string(peer)).Str("track", track.ID()).Float64("gain", gain).Msg("output gain")
		},
	}, session.Deps{Directory: client, Relay: client, Peers: peers, Capture: capture})

	if err := s.Join(ctx, room); err != nil {
		return err
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Leave(leaveCtx); err != nil {
			log.Warn().Err(err).Str("module", "cmd.join").Msg("leave")
		}
	}()
	log.Info().Str("module", "cmd.join").Str("room", string(room)).Str("user", string(self)).Msg("joined")

	if share != "" {
		if err := s.StartShare(ctx, share); err != nil {
			log.Error().Err(err).Str("module", "cmd.join").Str("kind", string(share)).Msg("start share")
		}
	}

	t := time.NewTicker(statusEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		st := s.Status()
		if st.State == session.Idle {
			if st.Removed {
				return domain.ErrKicked
			}
			if err := s.LastError(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
		logStatus(st)
	}
}

func logStatus(st session.Status) {
	ev := log.Info().Str("module", "cmd.join").Str("room", string(st.Room)).
		Bool("muted", st.EffectiveMuted).Str("sharing", string(st.Sharing))
	speaking := 0
	for _, p := range st.Participants {
		if p.Speaking {
			speaking++
		}
	}
	ev.Int("participants", len(st.Participants)).Int("speaking", speaking).Msg("status")
	for _, p := range st.Participants {
		if p.Self {
			continue
		}
		log.Debug().Str("module", "cmd.join").Str("peer", string(p.UserID)).Str("connection", p.Connection).
			Str("negotiation", p.Negotiation).Bool("speaking", p.Speaking).Bool("presenting", p.Presenting).Msg("peer")
	}
}

func serveMetrics(ctx context.Context, addr string) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info().Str("module", "cmd.join").Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("module", "cmd.join").Msg("metrics server")
	}
}
