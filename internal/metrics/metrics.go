// Package metrics exports rep counter and gateway metrics to Prometheus.
package metrics

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/rep_counter/internal/imu"
	"github.com/relabs-tech/rep_counter/internal/reps"
)

// Counter side.
var (
	// Ticks counts samples processed, calibration included.
	Ticks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repcounter_ticks_total",
			Help: "Total number of samples processed",
		},
	)

	SensorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repcounter_sensor_errors_total",
			Help: "Total number of failed sensor reads",
		},
	)

	Calibrated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repcounter_calibrated",
			Help: "1 once the calibration window has closed",
		},
	)

	CalibrationOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repcounter_calibration_offset_mps2",
			Help: "Accelerometer bias captured during calibration",
		},
		[]string{"axis"},
	)

	Reps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repcounter_reps",
			Help: "Completed repetitions in the current set",
		},
	)

	// Phase is 0 waiting, 1 concentric, 2 eccentric.
	Phase = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repcounter_phase",
			Help: "Current phase (0 waiting, 1 concentric, 2 eccentric)",
		},
	)

	FailureActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repcounter_failure_active",
			Help: "1 while the current concentric phase is flagged as failing",
		},
	)

	Failures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repcounter_failures_total",
			Help: "Total number of concentric phases flagged as failing",
		},
	)

	// ConcentricDuration observes every completed concentric phase.
	ConcentricDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repcounter_concentric_duration_seconds",
			Help:    "Concentric phase duration in seconds",
			Buckets: []float64{.25, .5, .75, 1, 1.5, 2, 3, 5},
		},
	)

	MedianConcentric = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repcounter_median_concentric_seconds",
			Help: "Running median of recent concentric durations",
		},
	)

	EventsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repcounter_events_emitted_total",
			Help: "Total number of state events handed to telemetry",
		},
	)
)

// Gateway side.
var (
	Sessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repcounter_gateway_sessions",
			Help: "Open websocket sessions by role",
		},
		[]string{"role"},
	)

	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repcounter_gateway_events_total",
			Help: "Total number of events received by the gateway",
		},
		[]string{"source"},
	)

	MalformedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repcounter_gateway_malformed_total",
			Help: "Total number of inbound messages that could not be decoded",
		},
	)
)

// ObserveCalibration records the bias once calibration completes.
func ObserveCalibration(off imu.Vec3) {
	Calibrated.Set(1)
	CalibrationOffset.WithLabelValues("x").Set(off.X)
	CalibrationOffset.WithLabelValues("y").Set(off.Y)
	CalibrationOffset.WithLabelValues("z").Set(off.Z)
}

// ObserveTick updates the counter metrics from one engine tick.
func ObserveTick(res reps.TickResult, medianMs float64) {
	Ticks.Inc()
	if res.Calibrating {
		return
	}

	Reps.Set(float64(res.Reps))
	Phase.Set(float64(res.Phase))
	if res.Failed {
		FailureActive.Set(1)
	} else {
		FailureActive.Set(0)
	}
	if res.FailureRaised {
		Failures.Inc()
	}
	if res.HasTransition && res.Transition.To == reps.PhaseEccentric {
		ConcentricDuration.Observe(float64(res.Transition.Duration) / 1000)
		MedianConcentric.Set(medianMs / 1000)
	}
	if res.Emitted {
		EventsEmitted.Inc()
	}
}

// Handler returns a router exposing /metrics.
func Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		log.Printf("metrics: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics: server error: %v", err)
		}
	}()
	return srv
}
