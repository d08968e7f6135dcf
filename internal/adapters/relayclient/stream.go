package relayclient

import (
	"context"
	"strings"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gorilla/websocket"
)

type pushStream struct {
	room   domain.RoomKey
	cancel context.CancelFunc
	done   chan struct{}
}

// ensureStream starts the push stream for room, replacing a stream of another room.
func (c *Client) ensureStream(room domain.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	if c.stream != nil {
		if c.stream.room == room {
			return
		}
		c.stream.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	ps := &pushStream{room: room, cancel: cancel, done: make(chan struct{})}
	c.stream = ps
	go func() {
		defer close(ps.done)
		c.runStream(ctx, room)
	}()
}

func (c *Client) stopStream() {
	c.mu.Lock()
	ps := c.stream
	c.stream = nil
	c.mu.Unlock()
	if ps != nil {
		ps.cancel()
		<-ps.done
	}
}

func (c *Client) runStream(ctx context.Context, room domain.RoomKey) {
	backoff := c.opts.RetryMin
	for {
		connected, err := c.streamOnce(ctx, room)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.opts.RetryMin
		}
		c.log.Debug().Err(err).Str("room", string(room)).Dur("retry_in", backoff).Msg("push stream ended")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.opts.RetryMax)
	}
}

func (c *Client) streamOnce(ctx context.Context, room domain.RoomKey) (bool, error) {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path += roomPath(room, "signals", "ws")

	d := websocket.Dialer{Jar: c.jar, HandshakeTimeout: c.opts.Timeout}
	ws, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return false, err
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	c.log.Info().Str("room", string(room)).Msg("push stream connected")
	// Signals appended while disconnected are picked up by one poll.
	c.wake()
	for {
		var f api.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return true, err
		}
		if f.Type == api.FrameSignal {
			c.wake()
		}
	}
}
