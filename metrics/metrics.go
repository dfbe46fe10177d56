// Package metrics exposes Prometheus instrumentation for the tutoring
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaiwa_sessions_active",
		Help: "Number of live tutoring sessions.",
	})

	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaiwa_turns_total",
		Help: "Completed conversation turns.",
	})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kaiwa_turn_duration_seconds",
		Help:    "Time from the first event of a turn to its completion.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	AudioInBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaiwa_audio_in_bytes_total",
		Help: "Microphone audio forwarded to the model.",
	})

	AudioOutBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaiwa_audio_out_bytes_total",
		Help: "Model audio received for playback.",
	})

	ParseFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaiwa_parse_fallbacks_total",
		Help: "Model replies that did not match the configured response format.",
	})

	SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaiwa_session_errors_total",
		Help: "Session failures by kind.",
	}, []string{"kind"})

	TTSCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaiwa_tts_cache_hits_total",
		Help: "Synthesized phrases served from cache.",
	})

	TTSCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaiwa_tts_cache_misses_total",
		Help: "Synthesized phrases that required a model round trip.",
	})
)

// Serve exposes /metrics on addr. It blocks, so run it on its own
// goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics listening")
	return http.ListenAndServe(addr, mux)
}
