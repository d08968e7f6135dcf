package testutil

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrWrongState = errors.New("InvalidStateError: wrong signaling state")

// Factory creates Peers and remembers the latest one per remote user.
type Factory struct {
	Self domain.UserID

	mu      sync.Mutex
	peers   map[domain.UserID]*Peer
	created []domain.UserID
	Err     error
}

func NewFactory(self domain.UserID) *Factory {
	return &Factory{Self: self, peers: make(map[domain.UserID]*Peer)}
}

func (f *Factory) NewPeer(peer domain.UserID, events core.PeerEvents) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p := &Peer{
		self:      f.Self,
		remote:    peer,
		events:    events,
		signaling: webrtc.SignalingStateStable,
		state:     webrtc.PeerConnectionStateNew,
		senders:   make(map[string]*fakeSender),
		incoming:  make(map[string]*Track),
	}
	f.peers[peer] = p
	f.created = append(f.created, peer)
	return p, nil
}

func (f *Factory) Peer(id domain.UserID) *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[id]
}

// Created lists every peer id passed to NewPeer, in order.
func (f *Factory) Created() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UserID(nil), f.created...)
}

type fakeSender struct {
	track core.LocalTrack
}

func (s *fakeSender) TrackID() string { return s.track.ID() }

// Peer models the signaling state machine of a WebRTC peer connection. Its
// session descriptions list the attached tracks; applying a remote description
// fires OnTrack for new tracks and ends tracks that disappeared.
type Peer struct {
	self   domain.UserID
	remote domain.UserID
	events core.PeerEvents

	mu          sync.Mutex
	signaling   webrtc.SignalingState
	state       webrtc.PeerConnectionState
	local       *webrtc.SessionDescription
	remoteDesc  *webrtc.SessionDescription
	prevLocal   *webrtc.SessionDescription
	prevRemote  *webrtc.SessionDescription
	senders     map[string]*fakeSender
	incoming    map[string]*Track
	candidates  []webrtc.ICECandidateInit
	offers      int
	answers     int
	gathered    int
	closed      bool
	FailOffer   error
	RejectStale bool
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, errors.New("connection closed")
	}
	if p.FailOffer != nil {
		return webrtc.SessionDescription{}, p.FailOffer
	}
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.sdpLocked("offer", p.offers)}, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, ErrWrongState
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.sdpLocked("answer", p.answers)}, nil
}

func (p *Peer) sdpLocked(kind string, n int) string {
	ids := make([]string, 0, len(p.senders))
	for id := range p.senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	fmt.Fprintf(&b, "fake %s %s %d\n", kind, p.self, n)
	for _, id := range ids {
		fmt.Fprintf(&b, "track %s %s\n", p.senders[id].track.Kind(), id)
	}
	return b.String()
}

func (p *Peer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	var complete bool
	switch d.Type {
	case webrtc.SDPTypeRollback:
		switch p.signaling {
		case webrtc.SignalingStateHaveLocalOffer:
			p.local = p.prevLocal
		case webrtc.SignalingStateHaveRemoteOffer:
			p.remoteDesc = p.prevRemote
		default:
			p.mu.Unlock()
			return ErrWrongState
		}
		p.signaling = webrtc.SignalingStateStable
		p.mu.Unlock()
		return nil
	case webrtc.SDPTypeOffer:
		if p.signaling != webrtc.SignalingStateStable {
			p.mu.Unlock()
			return ErrWrongState
		}
		p.prevLocal = p.local
		p.signaling = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if p.signaling != webrtc.SignalingStateHaveRemoteOffer {
			p.mu.Unlock()
			return ErrWrongState
		}
		p.signaling = webrtc.SignalingStateStable
		complete = true
	default:
		p.mu.Unlock()
		return fmt.Errorf("unsupported sdp type %s", d.Type)
	}
	desc := d
	p.local = &desc
	p.gathered++
	cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%s-%s-%d 1 udp 1 127.0.0.1 9 typ host", p.self, p.remote, p.gathered)}
	p.mu.Unlock()

	if p.events.OnICECandidate != nil {
		p.events.OnICECandidate(cand)
	}
	if complete {
		p.connect()
	}
	return nil
}

func (p *Peer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	var complete bool
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if p.signaling != webrtc.SignalingStateStable {
			p.mu.Unlock()
			return ErrWrongState
		}
		p.prevRemote = p.remoteDesc
		p.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if p.signaling != webrtc.SignalingStateHaveLocalOffer {
			p.mu.Unlock()
			return ErrWrongState
		}
		p.signaling = webrtc.SignalingStateStable
		complete = true
	default:
		p.mu.Unlock()
		return fmt.Errorf("unsupported sdp type %s", d.Type)
	}
	desc := d
	p.remoteDesc = &desc
	added, ended := p.syncIncomingLocked(d.SDP)
	p.mu.Unlock()

	for _, t := range ended {
		t.Stop()
	}
	if p.events.OnTrack != nil {
		for _, t := range added {
			p.events.OnTrack(t)
		}
	}
	if complete {
		p.connect()
	}
	return nil
}

func (p *Peer) syncIncomingLocked(sdp string) (added, ended []*Track) {
	listed := make(map[string]webrtc.RTPCodecType)
	for _, line := range strings.Split(sdp, "\n") {
		f := strings.Fields(line)
		if len(f) == 3 && f[0] == "track" {
			listed[f[2]] = webrtc.NewRTPCodecType(f[1])
		}
	}
	for id, kind := range listed {
		if _, ok := p.incoming[id]; ok {
			continue
		}
		t := NewTrack(id, kind)
		p.incoming[id] = t
		added = append(added, t)
	}
	for id, t := range p.incoming {
		if _, ok := listed[id]; !ok {
			delete(p.incoming, id)
			ended = append(ended, t)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].id < added[j].id })
	return added, ended
}

// connect moves a fresh connection to connected after its first completed exchange.
func (p *Peer) connect() {
	p.mu.Lock()
	if p.closed || p.state != webrtc.PeerConnectionStateNew {
		p.mu.Unlock()
		return
	}
	p.state = webrtc.PeerConnectionStateConnected
	p.mu.Unlock()
	if p.events.OnConnectionStateChange != nil {
		p.events.OnConnectionStateChange(webrtc.PeerConnectionStateConnected)
	}
}

func (p *Peer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return nil
	}
	d := *p.remoteDesc
	return &d
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errors.New("InvalidStateError: remote description not set")
	}
	if p.RejectStale && strings.Contains(c.Candidate, "stale") {
		return errors.New("stale candidate")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) AddTrack(t core.LocalTrack) (core.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("connection closed")
	}
	if _, ok := p.senders[t.ID()]; ok {
		return nil, fmt.Errorf("track %s already attached", t.ID())
	}
	s := &fakeSender{track: t}
	p.senders[t.ID()] = s
	return s, nil
}

func (p *Peer) RemoveTrack(s core.Sender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.senders[s.TrackID()]; !ok {
		return fmt.Errorf("sender %s not attached", s.TrackID())
	}
	delete(p.senders, s.TrackID())
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.state = webrtc.PeerConnectionStateClosed
	p.signaling = webrtc.SignalingStateClosed
	incoming := p.incoming
	p.incoming = make(map[string]*Track)
	p.mu.Unlock()

	for _, t := range incoming {
		t.Stop()
	}
	if p.events.OnConnectionStateChange != nil {
		p.events.OnConnectionStateChange(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

// SetConnectionState forces a state transition and fires the callback.
func (p *Peer) SetConnectionState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	if p.events.OnConnectionStateChange != nil {
		p.events.OnConnectionStateChange(s)
	}
}

// FireTrack delivers a remote track as if it arrived on the wire.
func (p *Peer) FireTrack(t *Track) {
	p.mu.Lock()
	p.incoming[t.ID()] = t
	p.mu.Unlock()
	if p.events.OnTrack != nil {
		p.events.OnTrack(t)
	}
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

// SenderIDs lists the ids of attached local tracks.
func (p *Peer) SenderIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.senders))
	for id := range p.senders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Incoming returns the remote tracks currently received.
func (p *Peer) Incoming() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Track, 0, len(p.incoming))
	for _, t := range p.incoming {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
