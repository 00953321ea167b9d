package socp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socp_transport_frames_in_total",
		Help: "Frames read off all links.",
	})

	framesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socp_transport_frames_rejected_total",
		Help: "Frames refused before dispatch, by reason.",
	}, []string{"reason"})
)
