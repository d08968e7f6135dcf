package mesh

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/pion/webrtc/v4"
)

var rollback = webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}

// Renegotiate requests an offer/answer cycle with peer. At most one cycle is in
// flight per peer. A request that finds a cycle in flight, or a non-stable
// signaling state, is queued and retried after RenegotiateDelay.
func (m *Manager) Renegotiate(peer domain.UserID) {
	m.renegotiate(peer, false)
}

func (m *Manager) renegotiate(peer domain.UserID, retry bool) {
	e, ok := m.peers[peer]
	if !ok {
		return
	}
	if retry {
		e.retryPending = false
		e.cancelRetry = nil
		if !e.queued {
			return
		}
	}
	if e.state != negIdle || e.conn.SignalingState() != webrtc.SignalingStateStable {
		e.queued = true
		m.scheduleRetry(e)
		return
	}
	m.startOffer(e)
}

func (m *Manager) scheduleRetry(e *entry) {
	if e.retryPending {
		return
	}
	if e.retries >= m.opts.MaxRetries {
		m.log.Warn().Str("peer", string(e.peer)).Int("retries", e.retries).Msg("renegotiation dropped")
		e.queued = false
		e.retries = 0
		e.needsOffer = true
		return
	}
	e.retries++
	e.retryPending = true
	metrics.RenegotiationRetriesTotal.Inc()
	peer := e.peer
	e.cancelRetry = m.sched.After(m.opts.RenegotiateDelay, func() {
		m.opts.Loop.Post(func() {
			if m.peers[peer] != e {
				return
			}
			m.renegotiate(peer, true)
		})
	})
}

func (m *Manager) startOffer(e *entry) {
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	e.retryPending = false
	e.queued = false
	e.needsOffer = false
	e.retries = 0
	cycle := m.beginCycle(e, negOffering)

	offer, err := e.conn.CreateOffer()
	if err == nil {
		err = e.conn.SetLocalDescription(offer)
	}
	if err != nil {
		m.log.Debug().Err(err).Str("peer", string(e.peer)).Msg("offer not created")
		e.needsOffer = true
		m.endCycle(e, cycle)
		return
	}
	m.sendAsync(e, domain.SignalOffer, offer, func(err error) {
		if e.cycle == cycle {
			if err != nil {
				if e.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
					_ = e.conn.SetLocalDescription(rollback)
				}
				e.needsOffer = true
			} else {
				e.offeredAt = m.now()
			}
		}
		m.endCycle(e, cycle)
	})
}

func (m *Manager) beginCycle(e *entry, s negState) uint64 {
	m.cycles++
	e.state = s
	e.cycle = m.cycles
	return e.cycle
}

// endCycle clears the in-flight marker of cycle and re-enters immediately if
// another request was queued meanwhile.
func (m *Manager) endCycle(e *entry, cycle uint64) {
	if e.cycle != cycle {
		return
	}
	e.state = negIdle
	if e.queued {
		m.renegotiate(e.peer, false)
	}
}

// Redrive restarts offers that were dropped after too many retries, that
// could not be delivered, or whose answer has not arrived within OfferTimeout.
// A local offer still waiting for its answer is rolled back first; a late
// answer for it is then discarded as stale.
func (m *Manager) Redrive() {
	now := m.now()
	for _, peer := range m.Peers() {
		e := m.peers[peer]
		if e.state != negIdle || e.retryPending {
			continue
		}
		stale := e.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer &&
			!e.offeredAt.IsZero() && now.Sub(e.offeredAt) > m.opts.OfferTimeout
		if !e.needsOffer && !stale {
			continue
		}
		if e.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			if err := e.conn.SetLocalDescription(rollback); err != nil {
				continue
			}
		}
		m.log.Debug().Str("peer", string(peer)).Bool("stale", stale).Msg("re-driving offer")
		m.Renegotiate(peer)
	}
}

func (m *Manager) sendAsync(e *entry, kind domain.SignalKind, payload any, done func(error)) {
	peer := e.peer
	go func() {
		err := m.opts.Transport.Send(m.ctx, m.opts.Room, m.opts.Self, peer, kind, payload)
		if err != nil {
			m.log.Warn().Err(err).Str("peer", string(peer)).Str("kind", string(kind)).Msg("signal send failed")
		}
		if done == nil {
			return
		}
		m.opts.Loop.Post(func() {
			if m.peers[peer] != e {
				return
			}
			done(err)
		})
	}()
}

func (m *Manager) handleOffer(sig domain.Signal) error {
	desc, err := decodeDescription(sig, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	e, err := m.getOrCreate(sig.Sender, false)
	if err != nil {
		return fmt.Errorf("create peer %s: %w", sig.Sender, err)
	}
	if e.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		// Glare. The side that initiates for this pair keeps its offer; the
		// other side rolls back, answers, and re-offers afterwards.
		if domain.ShouldInitiate(m.opts.Self, sig.Sender) {
			return race("glare_ignored", "offer while local offer pending")
		}
		if err := e.conn.SetLocalDescription(rollback); err != nil {
			return race("rollback", err.Error())
		}
		e.queued = true
		metrics.NegotiationRacesTotal.WithLabelValues("glare_rollback").Inc()
	}
	if err := e.conn.SetRemoteDescription(desc); err != nil {
		return race("remote_offer", err.Error())
	}
	m.cands.Flush(e.peer, e.conn)

	answer, err := e.conn.CreateAnswer()
	if err == nil {
		err = e.conn.SetLocalDescription(answer)
	}
	if err != nil {
		return race("answer", err.Error())
	}
	cycle := m.beginCycle(e, negAnswering)
	m.sendAsync(e, domain.SignalAnswer, answer, func(error) { m.endCycle(e, cycle) })
	return nil
}

// handleAnswer accepts an answer only while a local offer is outstanding.
func (m *Manager) handleAnswer(sig domain.Signal) error {
	desc, err := decodeDescription(sig, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	e, ok := m.peers[sig.Sender]
	if !ok {
		return race("answer_unknown_peer", "no connection")
	}
	if st := e.conn.SignalingState(); st != webrtc.SignalingStateHaveLocalOffer {
		return race("answer_state", "signaling state "+st.String())
	}
	if err := e.conn.SetRemoteDescription(desc); err != nil {
		if isWrongState(err) {
			return race("answer_state", err.Error())
		}
		return fmt.Errorf("set remote answer: %w", err)
	}
	m.cands.Flush(e.peer, e.conn)
	return nil
}

func (m *Manager) handleCandidate(sig domain.Signal) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Payload, &c); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	m.cands.Enqueue(sig.Sender, c)
	if e, ok := m.peers[sig.Sender]; ok {
		m.cands.Flush(sig.Sender, e.conn)
	}
	return nil
}

func decodeDescription(sig domain.Signal, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sig.Payload, &desc); err != nil {
		return desc, fmt.Errorf("decode %s: %w", sig.Kind, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("decode %s: unexpected sdp type %s", sig.Kind, desc.Type)
	}
	return desc, nil
}

func race(reason, detail string) error {
	metrics.NegotiationRacesTotal.WithLabelValues(reason).Inc()
	return fmt.Errorf("%w: %s: %s", domain.ErrNegotiationRace, reason, detail)
}

func isWrongState(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "state")
}
