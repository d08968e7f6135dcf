package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the typed view over a SignalRelay. It does not deduplicate;
// consumers rely on the watermark returned by Poll.
type Transport struct {
	relay core.SignalRelay
	log   zerolog.Logger
}

func NewTransport(relay core.SignalRelay) *Transport {
	return &Transport{
		relay: relay,
		log:   log.With().Str("module", "mesh.transport").Logger(),
	}
}

// Send appends one signal. Failures are wrapped in domain.ErrTransport and not retried.
func (t *Transport) Send(ctx context.Context, room domain.RoomKey, sender, recipient domain.UserID, kind domain.SignalKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	sig := domain.Signal{
		Room:      room,
		Sender:    sender,
		Recipient: recipient,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	id, err := t.relay.Append(ctx, sig)
	if err != nil {
		metrics.TransportErrorsTotal.WithLabelValues("send").Inc()
		return fmt.Errorf("%w: append %s to %s: %v", domain.ErrTransport, kind, recipient, err)
	}
	metrics.SignalsTotal.WithLabelValues(string(kind), "out").Inc()
	t.log.Debug().Str("room", string(room)).Str("to", string(recipient)).Str("kind", string(kind)).Int64("id", id).Msg("signal sent")
	return nil
}

// Poll returns the signals addressed to self with id > since in ascending order,
// and the new watermark. The watermark covers every signal seen, including
// echoes and signals for other recipients that were filtered out.
func (t *Transport) Poll(ctx context.Context, room domain.RoomKey, self domain.UserID, since int64) ([]domain.Signal, int64, error) {
	batch, err := t.relay.Query(ctx, room, self, since)
	if err != nil {
		metrics.TransportErrorsTotal.WithLabelValues("poll").Inc()
		return nil, since, fmt.Errorf("%w: query since %d: %v", domain.ErrTransport, since, err)
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	mark := since
	out := make([]domain.Signal, 0, len(batch))
	for _, sig := range batch {
		if sig.ID <= since {
			continue
		}
		if sig.ID > mark {
			mark = sig.ID
		}
		if !sig.AddressedTo(self) || !sig.Kind.Valid() {
			continue
		}
		metrics.SignalsTotal.WithLabelValues(string(sig.Kind), "in").Inc()
		out = append(out, sig)
	}
	return out, mark, nil
}

// Latest returns the relay's current high-water id for self, used as the initial
// watermark so signals from earlier sessions in the room are not replayed.
func (t *Transport) Latest(ctx context.Context, room domain.RoomKey, self domain.UserID) (int64, error) {
	id, err := t.relay.LatestID(ctx, room, self)
	if err != nil {
		metrics.TransportErrorsTotal.WithLabelValues("latest").Inc()
		return 0, fmt.Errorf("%w: latest id: %v", domain.ErrTransport, err)
	}
	return id, nil
}
