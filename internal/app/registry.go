package app

import (
	"context"
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionID is the client token carried by the session cookie.
type SessionID string

type sessionEntry struct {
	Room    domain.RoomKey
	User    domain.UserID
	streams map[uint64]context.CancelFunc
}

// Registry binds client tokens to the presence they registered, so push
// streams and appends can be authorized against it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
	seq      uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*sessionEntry)}
}

func (r *Registry) BindPresence(sid SessionID, room domain.RoomKey, user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		e = &sessionEntry{streams: make(map[uint64]context.CancelFunc)}
		r.sessions[sid] = e
	}
	e.Room, e.User = room, user
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Msg("bound presence")
}

// Bound returns the user sid registered in room.
func (r *Registry) Bound(sid SessionID, room domain.RoomKey) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == "" || e.Room != room {
		return "", false
	}
	return e.User, true
}

func (r *Registry) RoomOf(sid SessionID) (domain.RoomKey, domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == "" {
		return "", "", false
	}
	return e.Room, e.User, true
}

// AddStream registers the cancel func of a push stream opened by sid. The
// returned release must be called when the stream ends.
func (r *Registry) AddStream(sid SessionID, cancel context.CancelFunc) (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		e = &sessionEntry{streams: make(map[uint64]context.CancelFunc)}
		r.sessions[sid] = e
	}
	r.seq++
	id := r.seq
	e.streams[id] = cancel
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.sessions[sid]; ok {
			delete(e.streams, id)
		}
	}
}

// RemoveRoom drops the presence binding of sid and closes its push streams.
func (r *Registry) RemoveRoom(sid SessionID) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	var cancels []context.CancelFunc
	if ok {
		e.Room, e.User = "", ""
		for id, c := range e.streams {
			cancels = append(cancels, c)
			delete(e.streams, id)
		}
	}
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

func (r *Registry) Unbind(sid SessionID) {
	r.RemoveRoom(sid)
	r.mu.Lock()
	delete(r.sessions, sid)
	r.mu.Unlock()
}

type regSnap struct {
	SID  SessionID
	User domain.UserID
}

func (r *Registry) MembersOfRoom(room domain.RoomKey) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Room == room {
			out = append(out, regSnap{SID: sid, User: e.User})
		}
	}
	return out
}

// Streams is the number of open push streams of sid.
func (r *Registry) Streams(sid SessionID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return len(e.streams)
	}
	return 0
}
