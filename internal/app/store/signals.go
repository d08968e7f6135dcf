package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrInvalidSignal = errors.New("invalid signal")

// DefaultRetention is the number of signals kept per room.
const DefaultRetention = 4096

// SignalLog is a threadsafe in-memory Signal Relay. IDs are global and strictly
// increasing, so they also increase per recipient.
type SignalLog struct {
	mu        sync.RWMutex
	lastID    int64
	rooms     map[domain.RoomKey][]domain.Signal
	retention int
	subs      map[domain.RoomKey]map[chan int64]domain.UserID
}

func NewSignalLog(retention int) *SignalLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SignalLog{
		rooms:     make(map[domain.RoomKey][]domain.Signal),
		retention: retention,
		subs:      make(map[domain.RoomKey]map[chan int64]domain.UserID),
	}
}

func (l *SignalLog) Append(_ context.Context, sig domain.Signal) (int64, error) {
	if !sig.Kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSignal, sig.Kind)
	}
	if sig.Room == "" || sig.Sender == "" {
		return 0, fmt.Errorf("%w: missing room or sender", ErrInvalidSignal)
	}
	l.mu.Lock()
	l.lastID++
	sig.ID = l.lastID
	entries := append(l.rooms[sig.Room], sig)
	if len(entries) > l.retention {
		entries = append([]domain.Signal(nil), entries[len(entries)-l.retention:]...)
	}
	l.rooms[sig.Room] = entries
	for ch, user := range l.subs[sig.Room] {
		if !sig.AddressedTo(user) {
			continue
		}
		select {
		case ch <- sig.ID:
		default:
		}
	}
	l.mu.Unlock()

	metrics.RelaySignalsAppendedTotal.WithLabelValues(string(sig.Kind)).Inc()
	return sig.ID, nil
}

// Query returns signals of room with id > since that target recipient, are
// broadcast, or were sent by recipient, ascending by id.
func (l *SignalLog) Query(_ context.Context, room domain.RoomKey, recipient domain.UserID, since int64) ([]domain.Signal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Signal
	for _, sig := range l.rooms[room] {
		if sig.ID > since && visibleTo(sig, recipient) {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (l *SignalLog) LatestID(_ context.Context, room domain.RoomKey, recipient domain.UserID) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.rooms[room]
	for i := len(entries) - 1; i >= 0; i-- {
		if visibleTo(entries[i], recipient) {
			return entries[i].ID, nil
		}
	}
	return 0, nil
}

// Subscribe returns a channel that receives the id of every signal appended to
// room and addressed to user. Slow subscribers miss wakeups rather than block
// appends.
func (l *SignalLog) Subscribe(room domain.RoomKey, user domain.UserID) (<-chan int64, func()) {
	ch := make(chan int64, 16)
	l.mu.Lock()
	if l.subs[room] == nil {
		l.subs[room] = make(map[chan int64]domain.UserID)
	}
	l.subs[room][ch] = user
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[room], ch)
			if len(l.subs[room]) == 0 {
				delete(l.subs, room)
			}
			l.mu.Unlock()
		})
	}
}

// Prune drops the log of room. Wired to Directory.OnRoomEmpty.
func (l *SignalLog) Prune(room domain.RoomKey) {
	l.mu.Lock()
	n := len(l.rooms[room])
	delete(l.rooms, room)
	l.mu.Unlock()
	if n > 0 {
		log.Debug().Str("module", "store.signals").Str("room", string(room)).Int("signals", n).Msg("pruned room log")
	}
}

func (l *SignalLog) Len(room domain.RoomKey) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms[room])
}

func visibleTo(sig domain.Signal, user domain.UserID) bool {
	return sig.Recipient == "" || sig.Recipient == user || sig.Sender == user
}
