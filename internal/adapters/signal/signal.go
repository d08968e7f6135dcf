// Package signal serves the websocket push channel of the signal relay: it
// notifies a registered participant of every signal addressed to them and
// accepts appends over the same socket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrBackpressure = errors.New("backpressure")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{Orch: o, opts: opts}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte
	room domain.RoomKey
	user domain.UserID

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request for the participant bound to the
// caller's client token in the :room of the route. The stream ends when the
// binding is removed (leave, kick, room eviction) or the socket closes.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := app.SessionID(c.GetString("client_token"))
	room, err := domain.ParseRoomKey(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	user, ids, release, err := ctl.Orch.Subscribe(sid, room, cancel)
	if err != nil {
		cancel()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		cancel()
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, 32),
		room: room,
		user: user,
	}
	metrics.PushSubscribers.Inc()

	go func() {
		defer func() {
			release()
			cancel()
			conn.Close()
			metrics.PushSubscribers.Dec()
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("WS connection closed")
		}()
		var wg conc.WaitGroup
		wg.Go(func() {
			ctl.writePump(ctx, conn)
			_ = ws.Close()
		})
		wg.Go(func() {
			ctl.forward(ctx, conn, ids)
			cancel()
		})
		wg.Go(func() {
			ctl.readPump(ctx, sid, conn)
			cancel()
		})
		wg.Wait()
	}()
}

// forward turns relay notifications into frames, applying the policy to slow
// subscribers.
func (ctl *SignalWSController) forward(ctx context.Context, c *WsSignalConn, ids <-chan int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-ids:
			err := ctl.sendJSON(c, api.Frame{Type: api.FrameSignal, Room: c.room, ID: id})
			if !errors.Is(err, ErrBackpressure) {
				continue
			}
			action := app.DropFrame
			if ctl.Orch.Policy != nil {
				action = ctl.Orch.Policy.OnBackPressure(c.room, c.user)
			}
			switch action {
			case app.KickMember:
				log.Warn().Str("module", "signal").Str("user", string(c.user)).Msg("closing slow subscriber")
				return
			default:
				metrics.PushFramesDroppedTotal.Inc()
			}
		}
	}
}
