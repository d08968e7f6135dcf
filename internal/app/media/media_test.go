package media

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/testutil"
)

func TestLocalState_EffectiveMutedAndLocks(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		s := LocalState{
			Muted:          mask&1 != 0,
			Deafened:       mask&2 != 0,
			ForcedMuted:    mask&4 != 0,
			ForcedDeafened: mask&8 != 0,
		}
		want := s.Muted || s.Deafened || s.ForcedMuted || s.ForcedDeafened
		if got := s.EffectiveMuted(); got != want {
			t.Fatalf("%+v EffectiveMuted = %v, want %v", s, got, want)
		}
		if got, want := s.CanToggleMute(), !s.ForcedMuted && !s.ForcedDeafened; got != want {
			t.Fatalf("%+v CanToggleMute = %v, want %v", s, got, want)
		}
		if got, want := s.CanToggleDeafen(), !s.ForcedDeafened; got != want {
			t.Fatalf("%+v CanToggleDeafen = %v, want %v", s, got, want)
		}
	}
}

func TestLocalState_WithForced(t *testing.T) {
	s := LocalState{Muted: true}.WithForced(domain.Participant{ForcedDeafened: true})
	if !s.Muted || !s.ForcedDeafened || s.ForcedMuted {
		t.Fatalf("WithForced = %+v", s)
	}
	if !s.EffectiveDeafened() {
		t.Fatal("forced deafen does not deafen")
	}
}

func TestMixer_VolumeAndDeafen(t *testing.T) {
	var mu sync.Mutex
	last := map[domain.UserID]float64{}
	m := NewMixer(func(peer domain.UserID, _ core.RemoteTrack, gain float64) {
		mu.Lock()
		last[peer] = gain
		mu.Unlock()
	})

	if v := m.SetVolume("u2", 0.4); v != 0.4 {
		t.Fatalf("SetVolume = %v, want 0.4", v)
	}
	o2 := m.Attach("u2", testutil.NewAudioTrack("a2")).(*Output)
	o3 := m.Attach("u3", testutil.NewAudioTrack("a3")).(*Output)
	if o2.Gain() != 0.4 || o3.Gain() != 1 {
		t.Fatalf("gains = %v, %v; want 0.4, 1", o2.Gain(), o3.Gain())
	}

	m.SetDeafened(true)
	if o2.Gain() != 0 || o3.Gain() != 0 {
		t.Fatalf("deafened gains = %v, %v; want 0, 0", o2.Gain(), o3.Gain())
	}
	// Volume changes while deafened are remembered but stay silent.
	m.SetVolume("u3", 0.7)
	if o3.Gain() != 0 {
		t.Fatalf("gain while deafened = %v, want 0", o3.Gain())
	}
	m.SetDeafened(false)
	if o2.Gain() != 0.4 || o3.Gain() != 0.7 {
		t.Fatalf("restored gains = %v, %v; want 0.4, 0.7", o2.Gain(), o3.Gain())
	}
	mu.Lock()
	if last["u3"] != 0.7 {
		t.Fatalf("last notified u3 gain = %v, want 0.7", last["u3"])
	}
	mu.Unlock()

	if v := m.SetVolume("u2", 3); v != 1 {
		t.Fatalf("clamped volume = %v, want 1", v)
	}
	if v := m.SetVolume("u2", -1); v != 0 {
		t.Fatalf("clamped volume = %v, want 0", v)
	}

	o2.Close()
	o3.Close()
	if n := m.Outputs(); n != 0 {
		t.Fatalf("outputs = %d, want 0", n)
	}
}

func noise(r *rand.Rand, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = (r.Float64()*2 - 1) * amp
	}
	return out
}

func TestAnalyser_LevelTracksEnergy(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	read := func(amp float64) float64 {
		a := NewAnalyser(DefaultFFTSize)
		var lvl float64
		for i := 0; i < 40; i++ {
			a.WriteFloat(noise(r, DefaultFFTSize, amp))
			lvl = a.Level()
		}
		return lvl
	}

	if lvl := NewAnalyser(0).Level(); lvl != 0 {
		t.Fatalf("silence level = %v, want 0", lvl)
	}
	loud := read(0.5)
	quiet := read(0.0005)
	if loud < 0.5 || loud > 1 {
		t.Fatalf("loud level = %v, want in [0.5,1]", loud)
	}
	if quiet >= DefaultSpeakingThreshold {
		t.Fatalf("quiet level = %v, want below %v", quiet, DefaultSpeakingThreshold)
	}
}

func TestAnalyser_WritePCM(t *testing.T) {
	a := NewAnalyser(64)
	pcm := make([]int16, 64)
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 20; i++ {
		for j := range pcm {
			pcm[j] = int16(r.IntN(32000) - 16000)
		}
		a.WritePCM(pcm)
		a.Level()
	}
	if lvl := a.Level(); lvl < DefaultSpeakingThreshold {
		t.Fatalf("level = %v, want above threshold", lvl)
	}
	a.Reset()
	if lvl := a.Level(); lvl != 0 {
		t.Fatalf("level after reset = %v, want 0", lvl)
	}
}

type levelSource struct{ v atomic.Uint64 }

func (l *levelSource) set(v float64) { l.v.Store(uint64(v * 1e6)) }
func (l *levelSource) Level() float64 { return float64(l.v.Load()) / 1e6 }

func TestDetector_EdgeTriggered(t *testing.T) {
	var edges []bool
	set := NewSpeakingSet(func(_ domain.UserID, speaking bool) { edges = append(edges, speaking) })
	src := &levelSource{}
	d := newDetector("u2", src, set, DetectorOptions{Threshold: 0.5})

	src.set(0.9)
	for i := 0; i < 10; i++ {
		d.sample()
	}
	if !set.Has("u2") {
		t.Fatal("u2 not speaking")
	}
	src.set(0)
	for i := 0; i < 10; i++ {
		d.sample()
	}
	if set.Has("u2") {
		t.Fatal("u2 still speaking")
	}
	if len(edges) != 2 || !edges[0] || edges[1] {
		t.Fatalf("edges = %v, want [true false]", edges)
	}
}

func TestSpeakingSet_MultipleSources(t *testing.T) {
	set := NewSpeakingSet(nil)
	a, b := new(int), new(int)
	if !set.Set("u1", a, true) {
		t.Fatal("first source did not add u1")
	}
	if set.Set("u1", b, true) {
		t.Fatal("second source re-added u1")
	}
	if set.Set("u1", a, false) {
		t.Fatal("u1 removed while another source speaks")
	}
	if !set.Set("u1", b, false) {
		t.Fatal("last source did not remove u1")
	}
	if set.Set("u1", b, false) {
		t.Fatal("duplicate remove reported a change")
	}
	set.Set("u2", a, true)
	set.Set("u3", a, true)
	set.Clear()
	if got := set.List(); len(got) != 0 {
		t.Fatalf("List after Clear = %v", got)
	}
}

func TestMonitor_StopRemovesUser(t *testing.T) {
	set := NewSpeakingSet(nil)
	m := &Monitor{Set: set, Opts: DetectorOptions{Interval: time.Millisecond, Threshold: 0.1}}
	src := &levelSource{}
	src.set(1)
	stop := m.Watch("u1", src)
	testutil.WaitFor(t, time.Second, "u1 speaking", func() bool { return set.Has("u1") })
	stop()
	stop()
	if set.Has("u1") {
		t.Fatal("u1 still speaking after stop")
	}
}
