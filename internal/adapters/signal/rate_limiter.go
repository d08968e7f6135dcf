package signal

import (
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/domain"
	"golang.org/x/time/rate"
)

// RoomRateLimiter hands every user a token bucket of limit appends refilled
// over interval. Buckets that have refilled completely are swept once per
// interval so departed users do not accumulate.
type RoomRateLimiter struct {
	mu        sync.Mutex
	buckets   map[domain.UserID]*rate.Limiter
	every     rate.Limit
	burst     int
	interval  time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	rl := &RoomRateLimiter{
		buckets:  make(map[domain.UserID]*rate.Limiter),
		burst:    limit,
		interval: interval,
		now:      time.Now,
	}
	if limit > 0 && interval > 0 {
		rl.every = rate.Every(interval / time.Duration(limit))
	}
	return rl
}

// Allow spends one token of uid's bucket. A non-positive limit allows everything.
func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	if rl == nil || rl.burst <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.interval {
		rl.sweep(now)
	}
	b, ok := rl.buckets[uid]
	if !ok {
		b = rate.NewLimiter(rl.every, rl.burst)
		rl.buckets[uid] = b
	}
	return b.AllowN(now, 1)
}

func (rl *RoomRateLimiter) sweep(now time.Time) {
	rl.lastSweep = now
	for uid, b := range rl.buckets {
		if b.TokensAt(now) >= float64(rl.burst) {
			delete(rl.buckets, uid)
		}
	}
}

func (rl *RoomRateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
