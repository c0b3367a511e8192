package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "game_host"

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms with a running lane.",
	})

	RoomsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_finished_total",
		Help:      "Rooms torn down, by end reason.",
	}, []string{"game", "reason"})

	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Tick callbacks executed across all rooms.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one lane tick, including drained operations.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	ActionFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_faults_total",
		Help:      "Game logic handler failures.",
	}, []string{"game", "move"})

	StateBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_broadcasts_total",
		Help:      "State updates published to room subscribers.",
	})

	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscribers_dropped_total",
		Help:      "Subscribers closed because their buffer was full.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "matchmaking_queue_depth",
		Help:      "Queued tickets per game.",
	}, []string{"game"})

	Matches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matchmaking_matches_total",
		Help:      "Tickets matched into rooms, by kind (new or late).",
	}, []string{"game", "kind"})

	TicketsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matchmaking_tickets_expired_total",
		Help:      "Tickets expired before a match.",
	}, []string{"game"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rating_settlements_total",
		Help:      "Game results processed by settlement, by outcome.",
	}, []string{"game", "outcome"})

	CompileErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compile_errors_total",
		Help:      "Game definitions rejected by the compiler.",
	}, []string{"kind"})
)
