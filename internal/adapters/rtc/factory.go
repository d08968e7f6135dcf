// Package rtc implements the mesh's peer connection and capture contracts on
// top of pion/webrtc.
package rtc

import (
	"fmt"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

func DefaultWebRTCConfig(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = DefaultICEServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// Factory creates pion peer connections sharing one API instance.
type Factory struct {
	api  *webrtc.API
	cfg  webrtc.Configuration
	self domain.UserID
}

// NewFactory registers the default codecs, the ssrc audio-level header
// extension and the default interceptors (NACK, RTCP reports, TWCC).
func NewFactory(self domain.UserID, iceServers []string) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("failed to register audio level extension: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &Factory{api: api, cfg: DefaultWebRTCConfig(iceServers), self: self}, nil
}

func (f *Factory) NewPeer(peer domain.UserID, events core.PeerEvents) (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("module", "adapters.rtc").Str("user", string(f.self)).Str("peer", string(peer)).Logger()
	return newConnection(pc, peer, events, logger), nil
}
