package media

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSpeakingInterval  = 16 * time.Millisecond
	DefaultSpeakingThreshold = 0.08
	// speakingWindow is the number of samples averaged per decision.
	speakingWindow = 4
)

// SpeakingSet is the set of users currently judged to be speaking. A user may
// be backed by several sources; it leaves the set when none of them speaks.
type SpeakingSet struct {
	mu       sync.Mutex
	active   map[domain.UserID]map[any]struct{}
	onChange func(user domain.UserID, speaking bool)
}

func NewSpeakingSet(onChange func(domain.UserID, bool)) *SpeakingSet {
	return &SpeakingSet{
		active:   make(map[domain.UserID]map[any]struct{}),
		onChange: onChange,
	}
}

// Set records whether source of user is speaking and reports whether the
// user's membership in the set changed.
func (s *SpeakingSet) Set(user domain.UserID, source any, speaking bool) bool {
	s.mu.Lock()
	srcs := s.active[user]
	before := len(srcs) > 0
	if speaking {
		if srcs == nil {
			srcs = make(map[any]struct{})
			s.active[user] = srcs
		}
		srcs[source] = struct{}{}
	} else if srcs != nil {
		delete(srcs, source)
		if len(srcs) == 0 {
			delete(s.active, user)
		}
	}
	after := len(s.active[user]) > 0
	s.mu.Unlock()

	if before == after {
		return false
	}
	if after {
		metrics.SpeakingParticipants.Inc()
	} else {
		metrics.SpeakingParticipants.Dec()
	}
	if s.onChange != nil {
		s.onChange(user, after)
	}
	return true
}

func (s *SpeakingSet) Has(user domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[user]) > 0
}

func (s *SpeakingSet) List() []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserID, 0, len(s.active))
	for u := range s.active {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *SpeakingSet) Clear() {
	for _, u := range s.List() {
		s.mu.Lock()
		srcs := make([]any, 0, len(s.active[u]))
		for src := range s.active[u] {
			srcs = append(srcs, src)
		}
		s.mu.Unlock()
		for _, src := range srcs {
			s.Set(u, src, false)
		}
	}
}

type DetectorOptions struct {
	Interval  time.Duration
	Threshold float64
}

func (o DetectorOptions) withDefaults() DetectorOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultSpeakingInterval
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultSpeakingThreshold
	}
	return o
}

// Detector samples one LevelSource on a fixed cadence and reports edges into
// a SpeakingSet.
type Detector struct {
	user domain.UserID
	src  core.LevelSource
	set  *SpeakingSet
	opts DetectorOptions

	window []float64
	next   int
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newDetector(user domain.UserID, src core.LevelSource, set *SpeakingSet, opts DetectorOptions) *Detector {
	return &Detector{
		user:   user,
		src:    src,
		set:    set,
		opts:   opts.withDefaults(),
		window: make([]float64, 0, speakingWindow),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// StartDetector starts sampling src for user. Stop must be called to release it.
func StartDetector(user domain.UserID, src core.LevelSource, set *SpeakingSet, opts DetectorOptions) *Detector {
	d := newDetector(user, src, set, opts)
	go d.run()
	return d
}

func (d *Detector) run() {
	defer close(d.done)
	t := time.NewTicker(d.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			d.sample()
		}
	}
}

// sample takes one reading and returns the averaged level.
func (d *Detector) sample() float64 {
	lvl := d.src.Level()
	if len(d.window) < speakingWindow {
		d.window = append(d.window, lvl)
	} else {
		d.window[d.next] = lvl
		d.next = (d.next + 1) % speakingWindow
	}
	var sum float64
	for _, v := range d.window {
		sum += v
	}
	avg := sum / float64(len(d.window))
	d.set.Set(d.user, d, avg > d.opts.Threshold)
	return avg
}

// Stop ends sampling and removes this detector's contribution from the set.
func (d *Detector) Stop() {
	d.once.Do(func() {
		close(d.stop)
		<-d.done
		d.set.Set(d.user, d, false)
	})
}

// Monitor starts a Detector per watched source.
type Monitor struct {
	Set  *SpeakingSet
	Opts DetectorOptions
}

func (m *Monitor) Watch(user domain.UserID, src core.LevelSource) func() {
	d := StartDetector(user, src, m.Set, m.Opts)
	log.Debug().Str("module", "media.speaking").Str("user", string(user)).Msg("detector started")
	return d.Stop
}
