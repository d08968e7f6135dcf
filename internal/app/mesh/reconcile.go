package mesh

import (
	"sort"

	"github.com/dkeye/meshvoice/internal/domain"
)

type Target struct {
	Peer     domain.UserID
	Initiate bool
}

// Plan is the outcome of one reconciliation pass.
type Plan struct {
	// SelfPresent reports whether self is listed in the snapshot; Self is its row.
	SelfPresent bool
	Self        *domain.Participant
	Connect     []Target
	Disconnect  []domain.UserID
	// Joined and Left are relative to the previous snapshot, not to the peer set.
	Joined []domain.UserID
	Left   []domain.UserID
	Roster []domain.Participant
}

// Reconciler diffs Directory Service snapshots. It remembers only the previous
// snapshot and has no side effects.
type Reconciler struct {
	prev map[domain.UserID]struct{}
}

func NewReconciler() *Reconciler {
	return &Reconciler{prev: make(map[domain.UserID]struct{})}
}

// Plan computes which peers to connect and disconnect given the snapshot and
// the peers that currently have a connection entry.
func (r *Reconciler) Plan(self domain.UserID, snapshot []domain.Participant, current []domain.UserID) Plan {
	var plan Plan
	seen := make(map[domain.UserID]struct{}, len(snapshot))
	for _, p := range snapshot {
		if p.UserID == "" {
			continue
		}
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		plan.Roster = append(plan.Roster, p)
		if p.UserID == self {
			row := p
			plan.SelfPresent = true
			plan.Self = &row
		}
	}
	sort.Slice(plan.Roster, func(i, j int) bool { return plan.Roster[i].UserID < plan.Roster[j].UserID })

	have := make(map[domain.UserID]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
		if _, ok := seen[id]; !ok {
			plan.Disconnect = append(plan.Disconnect, id)
		}
	}
	for _, p := range plan.Roster {
		id := p.UserID
		if id == self {
			continue
		}
		if _, ok := have[id]; !ok {
			plan.Connect = append(plan.Connect, Target{Peer: id, Initiate: domain.ShouldInitiate(self, id)})
		}
		if _, ok := r.prev[id]; !ok {
			plan.Joined = append(plan.Joined, id)
		}
	}
	for id := range r.prev {
		if _, ok := seen[id]; !ok {
			plan.Left = append(plan.Left, id)
		}
	}
	sort.Slice(plan.Disconnect, func(i, j int) bool { return plan.Disconnect[i] < plan.Disconnect[j] })
	sort.Slice(plan.Left, func(i, j int) bool { return plan.Left[i] < plan.Left[j] })

	next := make(map[domain.UserID]struct{}, len(seen))
	for id := range seen {
		if id != self {
			next[id] = struct{}{}
		}
	}
	r.prev = next
	return plan
}

func (r *Reconciler) Reset() {
	clear(r.prev)
}
