package rtc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/testutil"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

func TestMuLaw_RoundTripStaysWithinQuantization(t *testing.T) {
	in := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000, 32767, -32767}
	payload := encodeMuLaw(nil, in)
	if len(payload) != len(in) {
		t.Fatalf("payload = %d bytes, want one per sample", len(payload))
	}
	out := decodeMuLaw(nil, payload)
	for i, x := range in {
		got := out[i]
		diff := int(got) - int(x)
		if diff < 0 {
			diff = -diff
		}
		mag := int(x)
		if mag < 0 {
			mag = -mag
		}
		if diff > mag/8+64 {
			t.Fatalf("decode(encode(%d)) = %d", x, got)
		}
		if x > 200 && got <= 0 || x < -200 && got >= 0 {
			t.Fatalf("sign lost for %d: %d", x, got)
		}
	}
	if b := encodeMuLaw(nil, []int16{0})[0]; b != 0xFF {
		t.Fatalf("encode(0) = %#x, want 0xff", b)
	}
}

func TestCapturer_MicrophoneAndShareSources(t *testing.T) {
	ctx := context.Background()
	c := NewCapturer("u1", CaptureOptions{ToneHz: 440, Amplitude: 0.5})

	mic, err := c.CaptureAudio(ctx, core.AudioConstraints{Name: "enhanced"})
	if err != nil {
		t.Fatalf("CaptureAudio: %v", err)
	}
	defer mic.Stop()
	tracks := mic.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != webrtc.RTPCodecTypeAudio || !strings.HasPrefix(tracks[0].ID(), "mic-") {
		t.Fatalf("mic tracks = %+v", tracks)
	}
	track := tracks[0]
	testutil.WaitFor(t, 2*time.Second, "tone level", func() bool { return track.Level() > 0 })
	track.SetEnabled(false)
	if track.Level() != 0 {
		t.Fatalf("disabled track level = %v", track.Level())
	}

	if _, err := c.CaptureShare(ctx, core.ShareScreen); !errors.Is(err, ErrNoDisplay) {
		t.Fatalf("screen without display err = %v", err)
	}
	cam, err := c.CaptureShare(ctx, core.ShareCamera)
	if err != nil {
		t.Fatalf("CaptureShare camera: %v", err)
	}
	camTrack := cam.Tracks()[0]
	if camTrack.Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("camera kind = %v", camTrack.Kind())
	}
	cam.Stop()
	select {
	case <-camTrack.Done():
	default:
		t.Fatalf("camera track not done after Stop")
	}
	if camTrack.Live() {
		t.Fatalf("camera track live after Stop")
	}
}

func TestConnection_OfferAnswerReachesStable(t *testing.T) {
	fa, err := NewFactory("u1", nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	fb, err := NewFactory("u2", nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	a, err := fa.NewPeer("u2", core.PeerEvents{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer a.Close()
	b, err := fb.NewPeer("u1", core.PeerEvents{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer b.Close()

	mic, err := NewCapturer("u1", CaptureOptions{}).CaptureAudio(context.Background(), core.AudioConstraints{Name: "bare"})
	if err != nil {
		t.Fatalf("CaptureAudio: %v", err)
	}
	defer mic.Stop()
	snd, err := a.AddTrack(mic.Tracks()[0])
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if snd.TrackID() != mic.Tracks()[0].ID() {
		t.Fatalf("sender track id = %q", snd.TrackID())
	}
	if _, err := a.AddTrack(testutil.NewAudioTrack("foreign")); !errors.Is(err, ErrForeignTrack) {
		t.Fatalf("foreign track err = %v", err)
	}

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		t.Fatalf("parse offer: %v", err)
	}
	var hasLevel bool
	for _, md := range parsed.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key == "extmap" && strings.Contains(attr.Value, sdp.AudioLevelURI) {
				hasLevel = true
			}
		}
	}
	if !hasLevel {
		t.Fatalf("offer does not negotiate the audio level extension:\n%s", offer.SDP)
	}

	if err := a.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription offer: %v", err)
	}
	if a.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("offerer state = %v", a.SignalingState())
	}
	if err := b.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription offer: %v", err)
	}
	answer, err := b.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := b.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription answer: %v", err)
	}
	if err := a.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription answer: %v", err)
	}
	if a.SignalingState() != webrtc.SignalingStateStable || b.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("states = %v / %v", a.SignalingState(), b.SignalingState())
	}
	if a.RemoteDescription() == nil || b.RemoteDescription() == nil {
		t.Fatalf("remote descriptions missing")
	}

	if err := a.RemoveTrack(snd); err != nil {
		t.Fatalf("RemoveTrack: %v", err)
	}
}
