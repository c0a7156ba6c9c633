package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Daemon metrics
	DaemonCurrentKids = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecc_daemon_current_kids",
			Help: "Number of compile jobs currently running on this daemon",
		},
	)

	DaemonMaxKids = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecc_daemon_max_kids",
			Help: "Maximum number of concurrent compile jobs",
		},
	)

	DaemonQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecc_daemon_queue_length",
			Help: "Number of compile requests waiting for a free slot",
		},
	)

	DaemonJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecc_daemon_jobs_total",
			Help: "Total number of finished compile jobs by result",
		},
		[]string{"result"},
	)

	DaemonSchedulerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "icecc_daemon_scheduler_reconnects_total",
			Help: "Total number of scheduler sessions established",
		},
	)

	DaemonSchedulerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecc_daemon_scheduler_connected",
			Help: "Whether the daemon is logged in to a scheduler (1 = yes)",
		},
	)

	DaemonJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "icecc_daemon_job_duration_seconds",
			Help:    "Wall clock time of compile jobs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulerDaemons = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecc_scheduler_daemons",
			Help: "Number of daemons logged in to the scheduler",
		},
	)

	SchedulerMonitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecc_scheduler_monitors",
			Help: "Number of connected monitors",
		},
	)

	SchedulerAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecc_scheduler_assignments_total",
			Help: "Total number of compile server requests by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(DaemonCurrentKids)
	prometheus.MustRegister(DaemonMaxKids)
	prometheus.MustRegister(DaemonQueueLength)
	prometheus.MustRegister(DaemonJobsTotal)
	prometheus.MustRegister(DaemonSchedulerReconnects)
	prometheus.MustRegister(DaemonSchedulerConnected)
	prometheus.MustRegister(DaemonJobDuration)
	prometheus.MustRegister(SchedulerDaemons)
	prometheus.MustRegister(SchedulerMonitors)
	prometheus.MustRegister(SchedulerAssignments)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// NewServeMux returns a mux serving /metrics, /health, /ready and /live
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}

// Serve exposes NewServeMux on addr until ctx is cancelled. An empty addr
// disables the endpoint and Serve just waits for ctx.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewServeMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
