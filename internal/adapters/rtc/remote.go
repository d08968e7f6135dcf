package rtc

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// maxAudioLevel is the quietest value of the ssrc audio-level extension (-127 dBov).
const maxAudioLevel = 127

// RemoteTrack reads a received track until it ends. Audio level comes from
// decoded PCMU payload when that codec was negotiated, otherwise from the
// sender's audio-level header extension.
type RemoteTrack struct {
	src      *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	log      zerolog.Logger

	pcmu     bool
	levelExt uint8
	analyser *media.Analyser
	extLevel atomic.Uint64

	stopped  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

func newRemoteTrack(src *webrtc.TrackRemote, receiver *webrtc.RTPReceiver, logger zerolog.Logger) *RemoteTrack {
	t := &RemoteTrack{
		src:      src,
		receiver: receiver,
		log:      logger.With().Str("track_id", src.ID()).Logger(),
		done:     make(chan struct{}),
	}
	if src.Kind() == webrtc.RTPCodecTypeAudio {
		t.pcmu = strings.EqualFold(src.Codec().MimeType, webrtc.MimeTypePCMU)
		if t.pcmu {
			t.analyser = media.NewAnalyser(media.DefaultFFTSize)
		}
		for _, ext := range receiver.GetParameters().HeaderExtensions {
			if ext.URI == sdp.AudioLevelURI {
				t.levelExt = uint8(ext.ID)
			}
		}
	}
	return t
}

func (t *RemoteTrack) ID() string                { return t.src.ID() }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.src.Kind() }
func (t *RemoteTrack) Done() <-chan struct{}     { return t.done }

func (t *RemoteTrack) Live() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Stop ends the track locally. The reader exits once the receiver is stopped.
func (t *RemoteTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if err := t.receiver.Stop(); err != nil {
		t.log.Debug().Err(err).Msg("stop receiver")
	}
	t.finish()
}

func (t *RemoteTrack) Level() float64 {
	if !t.Live() {
		return 0
	}
	if t.analyser != nil {
		return t.analyser.Level()
	}
	return math.Float64frombits(t.extLevel.Load())
}

func (t *RemoteTrack) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// read consumes RTP packets, the same loop a forwarding relay runs, and feeds
// the level estimators.
func (t *RemoteTrack) read() {
	defer t.finish()
	var pcm []int16
	for {
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			if !t.stopped.Load() {
				t.log.Debug().Err(err).Msg("remote track ended")
			}
			return
		}
		if t.src.Kind() != webrtc.RTPCodecTypeAudio {
			continue
		}
		if t.levelExt != 0 {
			t.observeExtension(pkt)
		}
		if t.analyser != nil {
			pcm = decodeMuLaw(pcm[:0], pkt.Payload)
			t.analyser.WritePCM(pcm)
		}
	}
}

func (t *RemoteTrack) observeExtension(pkt *rtp.Packet) {
	raw := pkt.GetExtension(t.levelExt)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	level := 1 - float64(ext.Level)/maxAudioLevel
	t.extLevel.Store(math.Float64bits(level))
}
