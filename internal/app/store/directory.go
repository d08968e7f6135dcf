package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/rs/zerolog/log"
)

type RoomInfo struct {
	Key          domain.RoomKey `json:"room_key"`
	Participants int            `json:"participants"`
}

// Directory is a threadsafe in-memory Directory Service. A room exists only
// while it has at least one participant.
type Directory struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomKey]map[domain.UserID]*domain.Participant
	limit   int
	onEmpty []func(domain.RoomKey)
	now     func() time.Time
}

// NewDirectory creates a directory. limit <= 0 means no per-room cap.
func NewDirectory(limit int) *Directory {
	return &Directory{
		rooms: make(map[domain.RoomKey]map[domain.UserID]*domain.Participant),
		limit: limit,
		now:   time.Now,
	}
}

// OnRoomEmpty registers fn to run after the last participant of a room leaves.
// Must be called before the directory is shared.
func (d *Directory) OnRoomEmpty(fn func(domain.RoomKey)) {
	d.onEmpty = append(d.onEmpty, fn)
}

func (d *Directory) ListParticipants(_ context.Context, room domain.RoomKey) ([]domain.Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.rooms[room]
	out := make([]domain.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// SetPresence upserts the caller's row. Forced flags survive a rejoin.
func (d *Directory) SetPresence(_ context.Context, room domain.RoomKey, user domain.UserID, muted, deafened bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[domain.UserID]*domain.Participant)
	}
	if p, ok := members[user]; ok {
		p.Muted, p.Deafened = muted, deafened
		return nil
	}
	if d.limit > 0 && len(members) >= d.limit {
		return domain.ErrRoomFull
	}
	members[user] = &domain.Participant{
		UserID:   user,
		Muted:    muted,
		Deafened: deafened,
		JoinedAt: d.now().UTC(),
	}
	if !ok {
		d.rooms[room] = members
		metrics.DirectoryRooms.Inc()
	}
	metrics.DirectoryParticipants.Inc()
	log.Info().Str("module", "store.directory").Str("room", string(room)).Str("user", string(user)).Msg("participant joined")
	return nil
}

func (d *Directory) ClearPresence(_ context.Context, room domain.RoomKey, user domain.UserID) error {
	d.remove(room, user, "left")
	return nil
}

func (d *Directory) SetParticipantState(_ context.Context, room domain.RoomKey, user domain.UserID, muted, deafened bool) error {
	return d.update(room, user, func(p *domain.Participant) {
		p.Muted, p.Deafened = muted, deafened
	})
}

func (d *Directory) ForceParticipantState(_ context.Context, room domain.RoomKey, user domain.UserID, forcedMuted, forcedDeafened bool) error {
	err := d.update(room, user, func(p *domain.Participant) {
		p.ForcedMuted, p.ForcedDeafened = forcedMuted, forcedDeafened
	})
	if err == nil {
		log.Info().Str("module", "store.directory").Str("room", string(room)).Str("user", string(user)).
			Bool("forced_muted", forcedMuted).Bool("forced_deafened", forcedDeafened).Msg("forced state")
	}
	return err
}

func (d *Directory) KickParticipant(_ context.Context, room domain.RoomKey, user domain.UserID) error {
	if !d.remove(room, user, "kicked") {
		return domain.ErrNotFound
	}
	return nil
}

func (d *Directory) Rooms() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoomInfo, 0, len(d.rooms))
	for key, members := range d.rooms {
		out = append(out, RoomInfo{Key: key, Participants: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Present reports whether user currently has a row in room.
func (d *Directory) Present(room domain.RoomKey, user domain.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[room][user]
	return ok
}

func (d *Directory) update(room domain.RoomKey, user domain.UserID, fn func(*domain.Participant)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.rooms[room][user]
	if !ok {
		return domain.ErrNotFound
	}
	fn(p)
	return nil
}

func (d *Directory) remove(room domain.RoomKey, user domain.UserID, reason string) bool {
	d.mu.Lock()
	members := d.rooms[room]
	if _, ok := members[user]; !ok {
		d.mu.Unlock()
		return false
	}
	delete(members, user)
	metrics.DirectoryParticipants.Dec()
	empty := len(members) == 0
	if empty {
		delete(d.rooms, room)
		metrics.DirectoryRooms.Dec()
	}
	d.mu.Unlock()

	log.Info().Str("module", "store.directory").Str("room", string(room)).Str("user", string(user)).Str("reason", reason).Msg("participant removed")
	if empty {
		for _, fn := range d.onEmpty {
			fn(room)
		}
	}
	return true
}
