// Package http exposes the directory service and the signal relay over REST,
// with a websocket push channel for appended signals.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/adapters/signal"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a stable client token in the session cookie and
// exposes it as "client_token" on the context.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int((7 * 24 * time.Hour).Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions(api.SessionCookie, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{
		orch:    o,
		limiter: signal.NewRoomRateLimiter(cfg.SignalRateLimit, cfg.SignalRateInterval),
		ws: signal.NewSignalWSController(o, signal.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
		}),
	}

	v1 := r.Group("/api")
	v1.GET("/rooms", h.listRooms)

	room := v1.Group("/rooms/:room")
	room.GET("/participants", h.listParticipants)
	room.PUT("/participants/:user", h.setPresence)
	room.DELETE("/participants/:user", h.clearPresence)
	room.PATCH("/participants/:user", h.setState)
	room.PUT("/participants/:user/force", h.force)
	room.POST("/participants/:user/kick", h.kick)

	room.POST("/signals", h.appendSignal)
	room.GET("/signals", h.querySignals)
	room.GET("/signals/latest", h.latestSignal)
	room.GET("/signals/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		h.ws.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
