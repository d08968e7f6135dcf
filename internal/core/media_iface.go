package core

import (
	"context"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection the mesh drives.
// Implementations must be safe to call from the session's owner loop while their
// event callbacks fire on other goroutines.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	// AddTrack attaches a local track and returns a handle for RemoveTrack.
	AddTrack(LocalTrack) (Sender, error)
	RemoveTrack(Sender) error
	Close() error
}

// PeerEvents are the per-connection event subscriptions. Callbacks may run on any
// goroutine; the consumer is responsible for hopping onto its owner loop.
type PeerEvents struct {
	OnICECandidate          func(webrtc.ICECandidateInit)
	OnTrack                 func(RemoteTrack)
	OnConnectionStateChange func(webrtc.PeerConnectionState)
}

type PeerFactory interface {
	NewPeer(peer domain.UserID, events PeerEvents) (PeerConnection, error)
}

// Sender is an opaque handle for a track attached to a PeerConnection.
type Sender interface {
	TrackID() string
}

// LevelSource exposes the current averaged audio magnitude of a stream in [0,1].
type LevelSource interface {
	Level() float64
}

type MediaTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// Live is false once the track has been stopped or has ended.
	Live() bool
	Stop()
	// Done is closed when the track ends for any reason.
	Done() <-chan struct{}
}

// LocalTrack is a captured track owned by this participant.
type LocalTrack interface {
	MediaTrack
	LevelSource
	SetEnabled(bool)
	Enabled() bool
}

// RemoteTrack is a track received from a peer.
type RemoteTrack interface {
	MediaTrack
	LevelSource
}

// LocalStream groups tracks produced by one capture call.
type LocalStream interface {
	Tracks() []LocalTrack
	Stop()
}

// AudioConstraints is one entry of the microphone fallback chain.
type AudioConstraints struct {
	Name             string
	NoiseSuppression bool
	EchoCancellation bool
	AutoGainControl  bool
}

type ShareKind string

const (
	ShareScreen ShareKind = "screen"
	ShareCamera ShareKind = "camera"
)

// Capturer provides the platform capture primitives.
type Capturer interface {
	CaptureAudio(ctx context.Context, c AudioConstraints) (LocalStream, error)
	CaptureShare(ctx context.Context, kind ShareKind) (LocalStream, error)
}

// AudioOutput is the rendering endpoint for one peer's remote audio.
type AudioOutput interface {
	Close()
}

// AudioRenderer routes remote audio to outputs honoring deafen and per-user volume.
type AudioRenderer interface {
	Attach(peer domain.UserID, track RemoteTrack) AudioOutput
}
