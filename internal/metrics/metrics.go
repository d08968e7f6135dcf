package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshvoice_active_peers",
		Help: "Number of live peer connection entries in the local mesh",
	})

	PeerConnectionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_peer_connections_created_total",
		Help: "Total number of peer connections created",
	}, []string{"role"}) // "initiator" | "responder"

	PeerTeardownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_peer_teardowns_total",
		Help: "Total number of peer connection teardowns",
	}, []string{"reason"}) // "left" | "failed" | "disconnected" | "closed" | "session"

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_signals_total",
		Help: "Signals sent and received by the local participant",
	}, []string{"kind", "direction"}) // direction: "out" | "in"

	NegotiationRacesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_negotiation_races_total",
		Help: "Discarded negotiation races",
	}, []string{"reason"})

	RenegotiationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshvoice_renegotiation_retries_total",
		Help: "Renegotiation attempts rescheduled because another cycle was in flight",
	})

	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_candidates_total",
		Help: "Remote ICE candidates by outcome",
	}, []string{"outcome"}) // "buffered" | "applied" | "discarded"

	TransportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_transport_errors_total",
		Help: "Signal relay and directory failures",
	}, []string{"op"})

	SpeakingParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshvoice_speaking_participants",
		Help: "Participants currently judged to be speaking",
	})

	// Server side.

	RelaySignalsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshvoice_relay_signals_appended_total",
		Help: "Signals appended to the relay log",
	}, []string{"kind"})

	DirectoryParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshvoice_directory_participants",
		Help: "Participants currently present across all rooms",
	})

	DirectoryRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshvoice_directory_rooms",
		Help: "Rooms with at least one participant",
	})

	PushSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshvoice_push_subscribers",
		Help: "Open websocket signal push subscriptions",
	})

	PushFramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshvoice_push_frames_dropped_total",
		Help: "Push notifications dropped because a subscriber was slow",
	})

	SignalsRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshvoice_signals_rate_limited_total",
		Help: "Signal appends rejected by the per-user rate limiter",
	})
)
