package session

import (
	"context"
	"time"

	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/app/mesh"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
)

func (s *Session) reconcileLoop(rt *runtime) error {
	t := time.NewTicker(s.cfg.ReconcileInterval)
	defer t.Stop()
	for {
		s.reconcile(rt)
		select {
		case <-rt.ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// reconcile lists participants off-loop and applies the plan on the loop.
func (s *Session) reconcile(rt *runtime) {
	snap, err := s.dir.ListParticipants(rt.ctx, rt.room)
	if err != nil {
		if rt.ctx.Err() == nil {
			metrics.TransportErrorsTotal.WithLabelValues("directory").Inc()
			s.log.Warn().Err(err).Str("room", string(rt.room)).Msg("list participants failed")
		}
		return
	}

	var kicked bool
	err = rt.loop.Do(rt.ctx, func() {
		if rt.ctx.Err() != nil {
			return
		}
		plan := rt.rec.Plan(s.cfg.Self, snap, rt.mgr.Peers())
		if !plan.SelfPresent {
			// Presence may not be visible yet right after joining.
			kicked = rt.seenSelf
			return
		}
		rt.seenSelf = true
		for _, id := range plan.Disconnect {
			rt.mgr.Destroy(id, "left")
		}
		for _, c := range plan.Connect {
			if _, err := rt.mgr.GetOrCreate(c.Peer, c.Initiate); err != nil {
				s.log.Error().Err(err).Str("peer", string(c.Peer)).Msg("create peer connection")
			}
		}
		rt.mgr.Redrive()
		s.applySnapshot(plan)
	})
	if err != nil || !kicked {
		return
	}
	s.log.Warn().Str("room", string(rt.room)).Msg("no longer listed in room, treating as kick")
	go s.handleKick(rt.gen)
}

func (s *Session) applySnapshot(plan mesh.Plan) {
	s.mu.Lock()
	s.roster = plan.Roster
	s.mu.Unlock()

	self := *plan.Self
	prev, next := s.updateLocal(func(cur media.LocalState) media.LocalState { return cur.WithForced(self) })
	if next != prev {
		s.log.Info().Bool("forced_muted", next.ForcedMuted).Bool("forced_deafened", next.ForcedDeafened).Msg("moderator state changed")
	}
}

func (s *Session) handleKick(gen uint64) {
	s.op.Lock()
	defer s.op.Unlock()
	s.mu.RLock()
	stale := s.gen != gen || s.rt == nil
	s.mu.RUnlock()
	if stale {
		return
	}
	s.leaveLocked(context.Background(), false, domain.ErrKicked)
}

func (s *Session) pollLoop(rt *runtime) error {
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	var wake <-chan struct{}
	if n, ok := s.relay.(core.SignalNotifier); ok && s.cfg.PushSignals {
		wake = n.Notify()
	}
	s.poll(rt)
	for {
		select {
		case <-rt.ctx.Done():
			return nil
		case <-t.C:
		case <-wake:
		}
		s.poll(rt)
	}
}

func (s *Session) poll(rt *runtime) {
	sigs, mark, err := s.transport.Poll(rt.ctx, rt.room, s.cfg.Self, rt.mark)
	if err != nil {
		if rt.ctx.Err() == nil {
			s.log.Warn().Err(err).Str("room", string(rt.room)).Msg("signal poll failed")
		}
		return
	}
	rt.mark = mark
	if len(sigs) == 0 {
		return
	}
	_ = rt.loop.Do(rt.ctx, func() {
		if rt.ctx.Err() != nil {
			return
		}
		for _, sig := range sigs {
			rt.mgr.HandleSignal(sig)
		}
	})
}
