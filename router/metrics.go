package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socp_router_frames_routed_total",
		Help: "Frames dispatched by the router, by destination kind.",
	}, []string{"kind"})

	queuedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socp_router_frames_queued_total",
		Help: "Frames placed in a per-user hold queue.",
	})

	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socp_router_frames_dropped_total",
		Help: "Frames dropped by the router, by reason.",
	}, []string{"reason"})

	dedupeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socp_router_dedupe_hits_total",
		Help: "Frames suppressed by the duplicate-fingerprint cache.",
	})

	heartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socp_router_heartbeats_total",
		Help: "Heartbeat fan-out rounds completed.",
	})

	peersReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socp_router_peers_reaped_total",
		Help: "Peers removed after exceeding the liveness deadline.",
	})
)
