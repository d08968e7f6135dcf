package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/store"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type appendFrame struct {
	Type    string          `json:"type"`
	Target  domain.UserID   `json:"target_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	_ = ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}

func (ctl *SignalWSController) handleWhoAmI(c *WsSignalConn) {
	_ = ctl.sendJSON(c, struct {
		Type string         `json:"type"`
		User domain.UserID  `json:"user_id"`
		Room domain.RoomKey `json:"room_key"`
	}{Type: "whoami", User: c.user, Room: c.room})
}

// handleAppend appends an offer, answer or candidate sent over the socket and
// acknowledges it with the assigned id.
func (ctl *SignalWSController) handleAppend(ctx context.Context, sid app.SessionID, c *WsSignalConn, data []byte) {
	var f appendFrame
	if err := json.Unmarshal(data, &f); err != nil || len(f.Payload) == 0 {
		ctl.sendError(c, "bad_payload")
		return
	}
	id, err := ctl.Orch.AppendSignal(ctx, sid, domain.Signal{
		Room:      c.room,
		Sender:    c.user,
		Recipient: f.Target,
		Kind:      domain.SignalKind(f.Type),
		Payload:   f.Payload,
	})
	switch {
	case errors.Is(err, domain.ErrForbidden):
		ctl.sendError(c, "forbidden")
		return
	case errors.Is(err, store.ErrInvalidSignal):
		ctl.sendError(c, "invalid_signal")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Msg("append signal")
		ctl.sendError(c, "internal")
		return
	}
	_ = ctl.sendJSON(c, api.Frame{Type: api.FrameAppended, Room: c.room, ID: id})
}
