package rtc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoDisplay = errors.New("no display source available")

const (
	pcmuRate    = 8000
	frameLength = 20 * time.Millisecond
	frameSize   = pcmuRate * int(frameLength/time.Millisecond) / 1000
)

// CaptureOptions configures the headless capture sources.
type CaptureOptions struct {
	// ToneHz and Amplitude shape the synthetic microphone; zero amplitude is silence.
	ToneHz    float64
	Amplitude float64
	// Display enables the idle screen source. Without it screen capture fails.
	Display bool
}

// Capturer produces PCMU microphone tracks and idle VP8 share tracks.
type Capturer struct {
	self domain.UserID
	opts CaptureOptions
	log  zerolog.Logger
}

func NewCapturer(self domain.UserID, opts CaptureOptions) *Capturer {
	return &Capturer{
		self: self,
		opts: opts,
		log:  log.With().Str("module", "adapters.rtc.capture").Str("user", string(self)).Logger(),
	}
}

func (c *Capturer) CaptureAudio(ctx context.Context, cons core.AudioConstraints) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	track, err := c.newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuRate, Channels: 1}, "mic")
	if err != nil {
		return nil, err
	}
	track.analyser = media.NewAnalyser(media.DefaultFFTSize)
	go track.generate(c.opts.ToneHz, c.opts.Amplitude)
	c.log.Info().Str("constraints", cons.Name).Float64("tone_hz", c.opts.ToneHz).Msg("synthetic microphone started")
	return &Stream{tracks: []*LocalTrack{track}}, nil
}

func (c *Capturer) CaptureShare(ctx context.Context, kind core.ShareKind) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind == core.ShareScreen && !c.opts.Display {
		return nil, ErrNoDisplay
	}
	track, err := c.newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, string(kind))
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("kind", string(kind)).Msg("idle share source started")
	return &Stream{tracks: []*LocalTrack{track}}, nil
}

func (c *Capturer) newTrack(capability webrtc.RTPCodecCapability, label string) (*LocalTrack, error) {
	id := fmt.Sprintf("%s-%s", label, uuid.NewString())
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, string(c.self))
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", label, err)
	}
	t := &LocalTrack{local: local, done: make(chan struct{}), log: c.log.With().Str("track_id", id).Logger()}
	t.enabled.Store(true)
	return t, nil
}

type Stream struct {
	tracks []*LocalTrack
}

func (s *Stream) Tracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// LocalTrack is a captured track bound to a pion static sample track.
type LocalTrack struct {
	local    *webrtc.TrackLocalStaticSample
	analyser *media.Analyser
	enabled  atomic.Bool
	log      zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.local }
func (t *LocalTrack) ID() string                    { return t.local.ID() }
func (t *LocalTrack) Kind() webrtc.RTPCodecType     { return t.local.Kind() }
func (t *LocalTrack) Done() <-chan struct{}         { return t.done }
func (t *LocalTrack) SetEnabled(v bool)             { t.enabled.Store(v) }
func (t *LocalTrack) Enabled() bool                 { return t.enabled.Load() }

func (t *LocalTrack) Live() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Level is the analysed level of what is being sent; disabled tracks send silence.
func (t *LocalTrack) Level() float64 {
	if t.analyser == nil || !t.Enabled() || !t.Live() {
		return 0
	}
	return t.analyser.Level()
}

// generate writes one PCMU frame per frameLength until the track stops.
func (t *LocalTrack) generate(hz, amplitude float64) {
	ticker := time.NewTicker(frameLength)
	defer ticker.Stop()
	pcm := make([]int16, frameSize)
	var payload []byte
	var n int
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		for i := range pcm {
			pcm[i] = 0
			if t.Enabled() && amplitude > 0 {
				v := amplitude * math.Sin(2*math.Pi*hz*float64(n+i)/pcmuRate)
				pcm[i] = int16(math.Max(-1, math.Min(1, v)) * math.MaxInt16)
			}
		}
		n += len(pcm)
		t.analyser.WritePCM(pcm)
		payload = encodeMuLaw(payload[:0], pcm)
		if err := t.local.WriteSample(pmedia.Sample{Data: payload, Duration: frameLength}); err != nil {
			t.log.Debug().Err(err).Msg("write sample")
		}
	}
}
