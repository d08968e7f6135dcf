package mesh

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates per peer until a remote description
// exists. It is keyed by peer id, so candidates may arrive before the connection
// entry is created. Not safe for concurrent use; owned by the loop.
type CandidateBuffer struct {
	pending map[domain.UserID][]webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{pending: make(map[domain.UserID][]webrtc.ICECandidateInit)}
}

func (b *CandidateBuffer) Enqueue(peer domain.UserID, c webrtc.ICECandidateInit) {
	b.pending[peer] = append(b.pending[peer], c)
	metrics.CandidatesTotal.WithLabelValues("buffered").Inc()
}

// Flush applies and clears every pending candidate for peer once conn has a
// remote description. Candidates the connection rejects are discarded.
func (b *CandidateBuffer) Flush(peer domain.UserID, conn core.PeerConnection) (applied, discarded int) {
	queue := b.pending[peer]
	if len(queue) == 0 || conn == nil || conn.RemoteDescription() == nil {
		return 0, 0
	}
	delete(b.pending, peer)
	for _, c := range queue {
		if err := conn.AddICECandidate(c); err != nil {
			discarded++
			continue
		}
		applied++
	}
	metrics.CandidatesTotal.WithLabelValues("applied").Add(float64(applied))
	metrics.CandidatesTotal.WithLabelValues("discarded").Add(float64(discarded))
	return applied, discarded
}

// Drop discards the queue of a torn-down peer.
func (b *CandidateBuffer) Drop(peer domain.UserID) {
	delete(b.pending, peer)
}

func (b *CandidateBuffer) Len(peer domain.UserID) int {
	return len(b.pending[peer])
}

// Total is the number of queued candidates across all peers.
func (b *CandidateBuffer) Total() int {
	n := 0
	for _, q := range b.pending {
		n += len(q)
	}
	return n
}

func (b *CandidateBuffer) Reset() {
	clear(b.pending)
}
