package testutil

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Track is an in-memory media track usable as both core.LocalTrack and core.RemoteTrack.
type Track struct {
	id   string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	live    bool
	level   float64
	done    chan struct{}
}

func NewTrack(id string, kind webrtc.RTPCodecType) *Track {
	return &Track{id: id, kind: kind, enabled: true, live: true, done: make(chan struct{})}
}

func NewAudioTrack(id string) *Track { return NewTrack(id, webrtc.RTPCodecTypeAudio) }
func NewVideoTrack(id string) *Track { return NewTrack(id, webrtc.RTPCodecTypeVideo) }

func (t *Track) ID() string                { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Done() <-chan struct{}     { return t.done }

func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	t.live = false
	close(t.done)
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetLevel(v float64) {
	t.mu.Lock()
	t.level = v
	t.mu.Unlock()
}

// Level is zero while the track is disabled.
func (t *Track) Level() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.live {
		return 0
	}
	return t.level
}
