package rtc

import (
	"errors"
	"fmt"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrForeignTrack = errors.New("track was not captured by this adapter")

// pionTrack is implemented by local tracks that can be bound to a pion sender.
type pionTrack interface {
	TrackLocal() webrtc.TrackLocal
}

type sender struct {
	id  string
	rtp *webrtc.RTPSender
}

func (s *sender) TrackID() string { return s.id }

// Connection adapts a pion PeerConnection to core.PeerConnection.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.UserID
	log  zerolog.Logger
}

func newConnection(pc *webrtc.PeerConnection, peer domain.UserID, events core.PeerEvents, logger zerolog.Logger) *Connection {
	c := &Connection{pc: pc, peer: peer, log: logger}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if events.OnConnectionStateChange != nil {
			events.OnConnectionStateChange(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && events.OnICECandidate != nil {
			events.OnICECandidate(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("remote track")
		rt := newRemoteTrack(track, receiver, c.log)
		go rt.read()
		if events.OnTrack != nil {
			events.OnTrack(rt)
		}
	})
	return c
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *Connection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// AddTrack attaches a track captured by this package and drains its RTCP.
func (c *Connection) AddTrack(t core.LocalTrack) (core.Sender, error) {
	pt, ok := t.(pionTrack)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrForeignTrack, t.ID())
	}
	rtpSender, err := c.pc.AddTrack(pt.TrackLocal())
	if err != nil {
		return nil, err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()
	return &sender{id: t.ID(), rtp: rtpSender}, nil
}

func (c *Connection) RemoveTrack(s core.Sender) error {
	ps, ok := s.(*sender)
	if !ok {
		return fmt.Errorf("%w: sender %s", ErrForeignTrack, s.TrackID())
	}
	return c.pc.RemoveTrack(ps.rtp)
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Info().Msg("closed")
	return nil
}
