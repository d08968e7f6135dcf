package media

import (
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// GainFunc receives the effective gain of one remote output whenever it changes.
type GainFunc func(peer domain.UserID, track core.RemoteTrack, gain float64)

// Mixer routes remote audio to outputs. Each output plays at the per-user volume
// in [0,1]; while deafened every output is silent. Volumes set before a peer's
// audio arrives are remembered.
type Mixer struct {
	mu       sync.Mutex
	volumes  map[domain.UserID]float64
	outputs  map[*Output]struct{}
	deafened bool
	onGain   GainFunc
}

func NewMixer(onGain GainFunc) *Mixer {
	return &Mixer{
		volumes: make(map[domain.UserID]float64),
		outputs: make(map[*Output]struct{}),
		onGain:  onGain,
	}
}

// Output is one rendered remote audio track.
type Output struct {
	m     *Mixer
	peer  domain.UserID
	track core.RemoteTrack
	gain  float64
}

func (m *Mixer) Attach(peer domain.UserID, track core.RemoteTrack) core.AudioOutput {
	m.mu.Lock()
	o := &Output{m: m, peer: peer, track: track}
	m.outputs[o] = struct{}{}
	o.gain = m.gainLocked(peer)
	gain := o.gain
	m.mu.Unlock()
	m.notify(o, gain)
	return o
}

func (o *Output) Close() {
	o.m.mu.Lock()
	delete(o.m.outputs, o)
	o.m.mu.Unlock()
}

func (o *Output) Gain() float64 {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	return o.gain
}

// SetVolume clamps v to [0,1] and applies it to every output of peer.
func (m *Mixer) SetVolume(peer domain.UserID, v float64) float64 {
	v = clamp01(v)
	m.mu.Lock()
	m.volumes[peer] = v
	changed := m.refreshLocked(func(o *Output) bool { return o.peer == peer })
	m.mu.Unlock()
	m.notifyAll(changed)
	return v
}

func (m *Mixer) Volume(peer domain.UserID) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volumeLocked(peer)
}

func (m *Mixer) SetDeafened(v bool) {
	m.mu.Lock()
	m.deafened = v
	changed := m.refreshLocked(func(*Output) bool { return true })
	m.mu.Unlock()
	m.notifyAll(changed)
}

func (m *Mixer) Deafened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deafened
}

// Gain is the effective gain a new output for peer would get.
func (m *Mixer) Gain(peer domain.UserID) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gainLocked(peer)
}

// Outputs is the number of attached outputs.
func (m *Mixer) Outputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outputs)
}

// Reset forgets volumes and the deafened flag. Outputs are closed by their owners.
func (m *Mixer) Reset() {
	m.mu.Lock()
	clear(m.volumes)
	m.deafened = false
	m.mu.Unlock()
}

func (m *Mixer) volumeLocked(peer domain.UserID) float64 {
	if v, ok := m.volumes[peer]; ok {
		return v
	}
	return 1
}

func (m *Mixer) gainLocked(peer domain.UserID) float64 {
	if m.deafened {
		return 0
	}
	return m.volumeLocked(peer)
}

func (m *Mixer) refreshLocked(match func(*Output) bool) []*Output {
	var changed []*Output
	for o := range m.outputs {
		if !match(o) {
			continue
		}
		if g := m.gainLocked(o.peer); g != o.gain {
			o.gain = g
			changed = append(changed, o)
		}
	}
	return changed
}

func (m *Mixer) notifyAll(outs []*Output) {
	for _, o := range outs {
		m.notify(o, o.Gain())
	}
}

func (m *Mixer) notify(o *Output, gain float64) {
	if m.onGain != nil {
		m.onGain(o.peer, o.track, gain)
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
