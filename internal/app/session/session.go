// Package session sequences capture, presence, membership reconciliation and
// signal polling for one local participant, and exposes the voice controls.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/app/mesh"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	Idle State = iota
	Joining
	Active
	Leaving
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	DefaultReconcileInterval = time.Second
	DefaultPollInterval      = time.Second
)

// micConstraints is tried in order until a capture succeeds.
var micConstraints = []core.AudioConstraints{
	{Name: "enhanced", NoiseSuppression: true, EchoCancellation: true, AutoGainControl: true},
	{Name: "basic", EchoCancellation: true},
	{Name: "bare"},
}

type Config struct {
	Self              domain.UserID
	ReconcileInterval time.Duration
	PollInterval      time.Duration
	RenegotiateDelay  time.Duration
	MaxRetries        int
	Speaking          media.DetectorOptions
	// AutoCameraFallback restarts sharing from the camera when a screen share
	// ends outside of StopShare.
	AutoCameraFallback bool
	// PushSignals polls immediately on relay notifications when the relay
	// implements core.SignalNotifier.
	PushSignals bool
	// CanModerate reports whether the local user may moderate room. Nil allows.
	CanModerate func(domain.RoomKey) bool
	// Scheduler overrides the renegotiation retry clock.
	Scheduler mesh.Scheduler
	// OnGain is called when a remote output's effective gain changes.
	OnGain media.GainFunc
}

type Deps struct {
	Directory core.Directory
	Relay     core.SignalRelay
	Peers     core.PeerFactory
	Capture   core.Capturer
}

// Session is the voice session state machine Idle -> Joining -> Active ->
// Leaving -> Idle. User actions are serialized; the peer set is owned by a
// mesh.Loop per active session.
type Session struct {
	cfg       Config
	dir       core.Directory
	relay     core.SignalRelay
	transport *mesh.Transport
	peers     core.PeerFactory
	capture   core.Capturer
	mixer     *media.Mixer
	speaking  *media.SpeakingSet
	log       zerolog.Logger

	op sync.Mutex

	mu      sync.RWMutex
	state   State
	room    domain.RoomKey
	local   media.LocalState
	roster  []domain.Participant
	lastErr error
	removed bool
	sharing core.ShareKind
	gen     uint64
	rt      *runtime
}

// runtime is the per-join state. Its fields are set before the workers start
// and cleared after they stop, except where noted.
type runtime struct {
	gen    uint64
	room   domain.RoomKey
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	loop   *mesh.Loop
	mgr    *mesh.Manager
	rec    *mesh.Reconciler

	mic         core.LocalStream
	stopMicTalk func()

	// loop-owned
	seenSelf bool
	// poll goroutine owned
	mark int64

	// guarded by Session.op
	share     core.LocalStream
	shareKind core.ShareKind
	shareDone chan struct{}
}

func New(cfg Config, deps Deps) *Session {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Session{
		cfg:       cfg,
		dir:       deps.Directory,
		relay:     deps.Relay,
		transport: mesh.NewTransport(deps.Relay),
		peers:     deps.Peers,
		capture:   deps.Capture,
		mixer:     media.NewMixer(cfg.OnGain),
		speaking:  media.NewSpeakingSet(nil),
		log:       log.With().Str("module", "session").Str("user", string(cfg.Self)).Logger(),
	}
}

func (s *Session) Self() domain.UserID { return s.cfg.Self }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Room() domain.RoomKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) Local() media.LocalState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Join captures the microphone, registers presence and starts the
// reconciliation and polling loops. Joining another room while active leaves
// the current one first; joining the current room again is a no-op.
func (s *Session) Join(ctx context.Context, room domain.RoomKey) error {
	room, err := domain.ParseRoomKey(string(room))
	if err != nil {
		return err
	}
	s.op.Lock()
	defer s.op.Unlock()

	if cur := s.current(); cur != nil {
		if cur.room == room {
			return nil
		}
		s.leaveLocked(ctx, true, nil)
	}

	s.mu.Lock()
	s.state = Joining
	s.room = room
	s.lastErr = nil
	s.removed = false
	s.gen++
	gen := s.gen
	local := media.LocalState{Muted: s.local.Muted, Deafened: s.local.Deafened}
	s.local = local
	s.mu.Unlock()

	mic, err := s.captureMic(ctx)
	if err != nil {
		s.fail(err)
		return err
	}
	// The watermark is taken before presence is visible: nobody addresses us
	// earlier, so nothing relevant can fall below it.
	mark, err := s.transport.Latest(ctx, room, s.cfg.Self)
	if err != nil {
		s.log.Warn().Err(err).Str("room", string(room)).Msg("latest signal id unavailable, polling from start")
		mark = 0
	}
	if err := s.dir.SetPresence(ctx, room, s.cfg.Self, local.Muted, local.Deafened); err != nil {
		mic.Stop()
		if !errors.Is(err, domain.ErrRoomFull) {
			metrics.TransportErrorsTotal.WithLabelValues("directory").Inc()
			err = fmt.Errorf("%w: set presence: %w", domain.ErrTransport, err)
		}
		s.fail(err)
		return err
	}

	rt := s.newRuntime(ctx, gen, room, mic)
	rt.mark = mark

	s.mu.Lock()
	s.rt = rt
	s.state = Active
	s.mu.Unlock()
	s.updateLocal(func(media.LocalState) media.LocalState { return local })

	rt.group.Go(func() error { return rt.loop.Run(context.Background()) })
	rt.group.Go(func() error { return s.reconcileLoop(rt) })
	rt.group.Go(func() error { return s.pollLoop(rt) })

	s.log.Info().Str("room", string(room)).Int64("watermark", rt.mark).Msg("joined voice room")
	return nil
}

func (s *Session) newRuntime(ctx context.Context, gen uint64, room domain.RoomKey, mic core.LocalStream) *runtime {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	loop := mesh.NewLoop()
	rt := &runtime{
		gen:    gen,
		room:   room,
		ctx:    gctx,
		cancel: cancel,
		group:  g,
		loop:   loop,
		rec:    mesh.NewReconciler(),
		mic:    mic,
	}
	monitor := &media.Monitor{Set: s.speaking, Opts: s.cfg.Speaking}
	rt.mgr = mesh.NewManager(gctx, mesh.Options{
		Room:             room,
		Self:             s.cfg.Self,
		Loop:             loop,
		Factory:          s.peers,
		Transport:        s.transport,
		Renderer:         s.mixer,
		Speaking:         monitor,
		Scheduler:        s.cfg.Scheduler,
		RenegotiateDelay: s.cfg.RenegotiateDelay,
		MaxRetries:       s.cfg.MaxRetries,
	})
	rt.mgr.SetLocalTracks(mic.Tracks())
	for _, t := range mic.Tracks() {
		rt.stopMicTalk = monitor.Watch(s.cfg.Self, t)
		break
	}
	return rt
}

func (s *Session) captureMic(ctx context.Context) (core.LocalStream, error) {
	var errs []error
	for _, c := range micConstraints {
		stream, err := s.capture.CaptureAudio(ctx, c)
		if err == nil {
			if len(stream.Tracks()) == 0 {
				stream.Stop()
				errs = append(errs, fmt.Errorf("%s: no audio track", c.Name))
				continue
			}
			s.log.Debug().Str("constraints", c.Name).Msg("microphone captured")
			return stream, nil
		}
		s.log.Warn().Err(err).Str("constraints", c.Name).Msg("microphone capture failed")
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: microphone: %w", domain.ErrCapture, errors.Join(errs...))
}

// Leave stops the loops, tears down every peer and local track and clears
// presence. It is a no-op when idle.
func (s *Session) Leave(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	s.leaveLocked(ctx, true, nil)
	return nil
}

func (s *Session) leaveLocked(ctx context.Context, notify bool, cause error) {
	rt := s.current()
	if rt == nil {
		return
	}
	s.mu.Lock()
	s.state = Leaving
	s.mu.Unlock()

	// Workers stop first so nothing recreates peers after DestroyAll.
	rt.cancel()
	if err := rt.loop.Do(context.WithoutCancel(ctx), rt.mgr.DestroyAll); err != nil {
		rt.loop.Stop()
		_ = rt.group.Wait()
		rt.mgr.DestroyAll()
	}
	rt.loop.Stop()
	_ = rt.group.Wait()

	if rt.share != nil {
		close(rt.shareDone)
		rt.share.Stop()
		rt.share = nil
	}
	if rt.stopMicTalk != nil {
		rt.stopMicTalk()
	}
	rt.mic.Stop()
	s.speaking.Clear()

	if notify {
		if err := s.dir.ClearPresence(ctx, rt.room, s.cfg.Self); err != nil {
			metrics.TransportErrorsTotal.WithLabelValues("directory").Inc()
			s.log.Warn().Err(err).Str("room", string(rt.room)).Msg("clear presence failed")
		}
	}

	s.mu.Lock()
	s.rt = nil
	s.state = Idle
	s.room = ""
	s.roster = nil
	s.sharing = ""
	s.lastErr = cause
	s.removed = errors.Is(cause, domain.ErrKicked)
	s.local.ForcedMuted = false
	s.local.ForcedDeafened = false
	s.mu.Unlock()
	s.log.Info().Str("room", string(rt.room)).Bool("removed", errors.Is(cause, domain.ErrKicked)).Msg("left voice room")
}

func (s *Session) current() *runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rt
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = Idle
	s.room = ""
	s.lastErr = err
	s.mu.Unlock()
	s.log.Error().Err(err).Msg("join failed")
}

func (s *Session) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// updateLocal applies fn to the local flags and pushes the result to the
// microphone tracks and the mixer under the same lock.
func (s *Session) updateLocal(fn func(media.LocalState) media.LocalState) (prev, next media.LocalState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.local
	next = fn(prev)
	s.local = next
	if s.rt != nil {
		for _, t := range s.rt.mic.Tracks() {
			t.SetEnabled(!next.EffectiveMuted())
		}
	}
	s.mixer.SetDeafened(next.EffectiveDeafened())
	return prev, next
}
