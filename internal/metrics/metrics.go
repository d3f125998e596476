// Package metrics holds the Prometheus collectors for generation attempts and
// the streaming protocol.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "attempts_total",
			Help:      "Generation and refine attempts by kind and terminal outcome.",
		},
		[]string{"kind", "outcome"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "rejections_total",
			Help:      "Requests rejected before any network call, by reason.",
		},
		[]string{"reason"},
	)

	MalformedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "malformed_frames_total",
			Help:      "Stream frames whose data payload was not valid JSON.",
		},
	)

	ChunkBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "chunk_bytes_total",
			Help:      "Markup bytes received in stream chunks.",
		},
	)

	StaleWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "stale_writes_total",
			Help:      "Candidate publications discarded because their attempt was superseded.",
		},
	)

	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sitegen",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time from attempt start to terminal state.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"kind"},
	)

	BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "backend_requests_total",
			Help:      "Requests served by the generation backend endpoints.",
		},
		[]string{"endpoint", "status"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitegen",
			Name:      "generate_cache_hits_total",
			Help:      "Non-streaming generate requests answered from the response cache.",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			Attempts,
			Rejections,
			MalformedFrames,
			ChunkBytes,
			StaleWrites,
			AttemptDuration,
			BackendRequests,
			CacheHits,
		)
	})
}
