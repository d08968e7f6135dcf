package mesh

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRenegotiateDelay = 250 * time.Millisecond
	DefaultMaxRetries       = 40
	DefaultOfferTimeout     = 10 * time.Second
)

// SpeakingWatcher starts speaking detection for one audio source and returns
// the function that stops it.
type SpeakingWatcher interface {
	Watch(user domain.UserID, src core.LevelSource) (stop func())
}

type Options struct {
	Room      domain.RoomKey
	Self      domain.UserID
	Loop      *Loop
	Factory   core.PeerFactory
	Transport *Transport
	Renderer  core.AudioRenderer
	Speaking  SpeakingWatcher
	Scheduler Scheduler

	RenegotiateDelay time.Duration
	MaxRetries       int
	// OfferTimeout is how long a delivered offer may wait for its answer
	// before Redrive replaces it.
	OfferTimeout time.Duration
}

// Manager owns every peer connection entry of one session. All methods except
// the constructor must be called on the Loop.
type Manager struct {
	ctx    context.Context
	opts   Options
	peers  map[domain.UserID]*entry
	cands  *CandidateBuffer
	local  []core.LocalTrack
	share  []core.LocalTrack
	sched  Scheduler
	cycles uint64
	now    func() time.Time
	log    zerolog.Logger
}

func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.RenegotiateDelay <= 0 {
		opts.RenegotiateDelay = DefaultRenegotiateDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.OfferTimeout <= 0 {
		opts.OfferTimeout = DefaultOfferTimeout
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = WallClock()
	}
	return &Manager{
		ctx:   ctx,
		opts:  opts,
		peers: make(map[domain.UserID]*entry),
		cands: NewCandidateBuffer(),
		sched: sched,
		now:   time.Now,
		log: log.With().
			Str("module", "mesh.peers").
			Str("room", string(opts.Room)).
			Str("self", string(opts.Self)).
			Logger(),
	}
}

// GetOrCreate returns the connection for peer, creating and wiring it when
// missing. With initiate set a negotiation is started for a new entry.
func (m *Manager) GetOrCreate(peer domain.UserID, initiate bool) (core.PeerConnection, error) {
	e, err := m.getOrCreate(peer, initiate)
	if err != nil {
		return nil, err
	}
	return e.conn, nil
}

func (m *Manager) getOrCreate(peer domain.UserID, initiate bool) (*entry, error) {
	if e, ok := m.peers[peer]; ok {
		return e, nil
	}
	e := &entry{
		peer:         peer,
		initiator:    initiate,
		shareSenders: make(map[string]core.Sender),
		video:        make(map[string]core.RemoteTrack),
	}
	conn, err := m.opts.Factory.NewPeer(peer, m.events(e))
	if err != nil {
		return nil, err
	}
	e.conn = conn
	m.peers[peer] = e

	for _, t := range m.local {
		if s, err := conn.AddTrack(t); err == nil {
			e.localSenders = append(e.localSenders, s)
		} else {
			m.log.Warn().Err(err).Str("peer", string(peer)).Str("track", t.ID()).Msg("add local track")
		}
	}
	for _, t := range m.share {
		m.attachShareTrack(e, t)
	}

	role := "responder"
	if initiate {
		role = "initiator"
	}
	metrics.PeerConnectionsCreatedTotal.WithLabelValues(role).Inc()
	metrics.ActivePeers.Inc()
	m.log.Info().Str("peer", string(peer)).Str("role", role).Msg("peer connection created")

	if initiate {
		m.Renegotiate(peer)
	}
	return e, nil
}

// events builds the per-connection subscriptions. Every callback hops onto the
// loop and checks that e is still the current entry for its peer.
func (m *Manager) events(e *entry) core.PeerEvents {
	peer := e.peer
	onLoop := func(fn func()) {
		m.opts.Loop.Post(func() {
			if m.peers[peer] != e {
				return
			}
			fn()
		})
	}
	return core.PeerEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			onLoop(func() { m.sendAsync(e, domain.SignalCandidate, c, nil) })
		},
		OnTrack: func(t core.RemoteTrack) {
			onLoop(func() { m.onRemoteTrack(e, t) })
		},
		OnConnectionStateChange: func(s webrtc.PeerConnectionState) {
			onLoop(func() { m.onConnectionState(e, s) })
		},
	}
}

func (m *Manager) onConnectionState(e *entry, s webrtc.PeerConnectionState) {
	m.log.Debug().Str("peer", string(e.peer)).Str("state", s.String()).Msg("connection state")
	switch s {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		m.Destroy(e.peer, s.String())
	}
}

func (m *Manager) onRemoteTrack(e *entry, t core.RemoteTrack) {
	peer := e.peer
	switch t.Kind() {
	case webrtc.RTPCodecTypeAudio:
		ra := &remoteAudio{track: t}
		if m.opts.Renderer != nil {
			ra.out = m.opts.Renderer.Attach(peer, t)
		}
		if m.opts.Speaking != nil {
			ra.stopSpeaking = m.opts.Speaking.Watch(peer, t)
		}
		e.audio = append(e.audio, ra)
		m.log.Info().Str("peer", string(peer)).Str("track", t.ID()).Msg("remote audio attached")
	case webrtc.RTPCodecTypeVideo:
		e.video[t.ID()] = t
		m.log.Info().Str("peer", string(peer)).Str("track", t.ID()).Msg("peer presenting")
	default:
		return
	}
	go func() {
		select {
		case <-t.Done():
		case <-m.opts.Loop.Done():
			return
		}
		m.opts.Loop.Post(func() {
			if m.peers[peer] != e {
				return
			}
			m.onRemoteTrackEnded(e, t)
		})
	}()
}

func (m *Manager) onRemoteTrackEnded(e *entry, t core.RemoteTrack) {
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		delete(e.video, t.ID())
		return
	}
	for i, ra := range e.audio {
		if ra.track == t {
			ra.release()
			e.audio = append(e.audio[:i], e.audio[i+1:]...)
			return
		}
	}
}

// Destroy tears down one peer entry and its candidate queue. Unknown peers are a no-op.
func (m *Manager) Destroy(peer domain.UserID, reason string) {
	m.cands.Drop(peer)
	e, ok := m.peers[peer]
	if !ok {
		return
	}
	delete(m.peers, peer)
	e.release()
	if err := e.conn.Close(); err != nil {
		m.log.Debug().Err(err).Str("peer", string(peer)).Msg("close peer connection")
	}
	metrics.ActivePeers.Dec()
	metrics.PeerTeardownsTotal.WithLabelValues(reason).Inc()
	m.log.Info().Str("peer", string(peer)).Str("reason", reason).Msg("peer connection destroyed")
}

// DestroyAll tears down every peer and forgets local and share tracks. The
// tracks themselves are owned and stopped by the caller.
func (m *Manager) DestroyAll() {
	for _, peer := range m.Peers() {
		m.Destroy(peer, "session")
	}
	m.cands.Reset()
	m.local = nil
	m.share = nil
}

// SetLocalTracks sets the tracks attached to every connection created from now on.
func (m *Manager) SetLocalTracks(tracks []core.LocalTrack) {
	m.local = append([]core.LocalTrack(nil), tracks...)
}

// AttachShare adds tracks to every existing peer, records the senders and
// renegotiates each peer that received one. New peers get them at creation.
func (m *Manager) AttachShare(tracks []core.LocalTrack) {
	m.share = append([]core.LocalTrack(nil), tracks...)
	for _, peer := range m.Peers() {
		e := m.peers[peer]
		attached := false
		for _, t := range tracks {
			if m.attachShareTrack(e, t) {
				attached = true
			}
		}
		if attached {
			m.Renegotiate(peer)
		}
	}
}

func (m *Manager) attachShareTrack(e *entry, t core.LocalTrack) bool {
	if _, ok := e.shareSenders[t.ID()]; ok {
		return false
	}
	s, err := e.conn.AddTrack(t)
	if err != nil {
		m.log.Warn().Err(err).Str("peer", string(e.peer)).Str("track", t.ID()).Msg("add share track")
		return false
	}
	e.shareSenders[t.ID()] = s
	return true
}

// DetachShare removes the recorded share senders from every peer.
func (m *Manager) DetachShare(renegotiate bool) {
	m.share = nil
	for _, peer := range m.Peers() {
		e := m.peers[peer]
		if len(e.shareSenders) == 0 {
			continue
		}
		for id, s := range e.shareSenders {
			if err := e.conn.RemoveTrack(s); err != nil {
				m.log.Debug().Err(err).Str("peer", string(peer)).Str("track", id).Msg("remove share track")
			}
			delete(e.shareSenders, id)
		}
		if renegotiate {
			m.Renegotiate(peer)
		}
	}
}

func (m *Manager) Peers() []domain.UserID {
	out := make([]domain.UserID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) Has(peer domain.UserID) bool {
	_, ok := m.peers[peer]
	return ok
}

func (m *Manager) State(peer domain.UserID) (webrtc.PeerConnectionState, bool) {
	e, ok := m.peers[peer]
	if !ok {
		return webrtc.PeerConnectionStateUnknown, false
	}
	return e.conn.ConnectionState(), true
}

// SenderCount is the number of local and share tracks attached to peer.
func (m *Manager) SenderCount(peer domain.UserID) int {
	e, ok := m.peers[peer]
	if !ok {
		return 0
	}
	return len(e.localSenders) + len(e.shareSenders)
}

func (m *Manager) Presenting(peer domain.UserID) bool {
	e, ok := m.peers[peer]
	return ok && len(e.video) > 0
}

func (m *Manager) Candidates() *CandidateBuffer { return m.cands }

// PeerStatus is a read-only view of one entry.
type PeerStatus struct {
	Peer        domain.UserID
	State       webrtc.PeerConnectionState
	Signaling   webrtc.SignalingState
	Negotiation string
	Initiator   bool
	Presenting  bool
	Senders     int
}

func (m *Manager) Snapshot() []PeerStatus {
	out := make([]PeerStatus, 0, len(m.peers))
	for _, peer := range m.Peers() {
		e := m.peers[peer]
		out = append(out, PeerStatus{
			Peer:        peer,
			State:       e.conn.ConnectionState(),
			Signaling:   e.conn.SignalingState(),
			Negotiation: e.state.String(),
			Initiator:   e.initiator,
			Presenting:  len(e.video) > 0,
			Senders:     len(e.localSenders) + len(e.shareSenders),
		})
	}
	return out
}

// HandleSignal dispatches one polled signal. Races are logged and swallowed.
func (m *Manager) HandleSignal(sig domain.Signal) {
	var err error
	switch sig.Kind {
	case domain.SignalOffer:
		err = m.handleOffer(sig)
	case domain.SignalAnswer:
		err = m.handleAnswer(sig)
	case domain.SignalCandidate:
		err = m.handleCandidate(sig)
	}
	if err == nil {
		return
	}
	l := m.log.Debug()
	if !errors.Is(err, domain.ErrNegotiationRace) {
		l = m.log.Warn()
	}
	l.Err(err).Str("peer", string(sig.Sender)).Str("kind", string(sig.Kind)).Int64("id", sig.ID).Msg("signal not applied")
}

type negState int

const (
	negIdle negState = iota
	negOffering
	negAnswering
)

func (s negState) String() string {
	switch s {
	case negOffering:
		return "offering"
	case negAnswering:
		return "answering"
	}
	return "idle"
}

type entry struct {
	peer      domain.UserID
	conn      core.PeerConnection
	initiator bool

	state        negState
	cycle        uint64
	queued       bool
	retryPending bool
	retries      int
	cancelRetry  func()
	// needsOffer is set when an offer could not be delivered; the next
	// reconciliation pass re-drives it.
	needsOffer bool
	offeredAt  time.Time

	localSenders []core.Sender
	shareSenders map[string]core.Sender
	audio        []*remoteAudio
	video        map[string]core.RemoteTrack
}

func (e *entry) release() {
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	for _, ra := range e.audio {
		ra.release()
	}
	e.audio = nil
	for id, t := range e.video {
		t.Stop()
		delete(e.video, id)
	}
}

type remoteAudio struct {
	track        core.RemoteTrack
	out          core.AudioOutput
	stopSpeaking func()
}

func (r *remoteAudio) release() {
	r.track.Stop()
	if r.stopSpeaking != nil {
		r.stopSpeaking()
		r.stopSpeaking = nil
	}
	if r.out != nil {
		r.out.Close()
		r.out = nil
	}
}
