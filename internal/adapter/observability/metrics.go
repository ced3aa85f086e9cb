package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	TasksClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_claimed_total",
			Help: "Total number of tasks claimed from the store",
		},
		[]string{"flavor"},
	)
	TasksRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_running",
			Help: "Number of tasks currently executing",
		},
		[]string{"flavor"},
	)
	TaskOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_outcomes_total",
			Help: "Total number of tasks by terminal status",
		},
		[]string{"flavor", "status"},
	)
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Wall-clock task execution time in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"flavor"},
	)
	PollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Total number of poller errors by poller and kind",
		},
		[]string{"poller", "kind"},
	)
	RunnerLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_launches_total",
			Help: "Total number of loadrunner subprocess launches",
		},
		[]string{"flavor", "phase"},
	)
	ReconciledTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_tasks_total",
			Help: "Total number of stale tasks failed by startup reconciliation",
		},
		[]string{"flavor", "prior_status"},
	)
	OrphansKilledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orphan_processes_killed_total",
			Help: "Total number of orphaned runner processes terminated",
		},
	)
)

var metricsRegistered bool

// InitMetrics registers all collectors with the default registry. Safe to
// call once per process.
func InitMetrics() {
	if metricsRegistered {
		return
	}
	metricsRegistered = true
	prometheus.MustRegister(
		TasksClaimedTotal,
		TasksRunning,
		TaskOutcomesTotal,
		TaskDuration,
		PollErrorsTotal,
		RunnerLaunchesTotal,
		ReconciledTasksTotal,
		OrphansKilledTotal,
	)
}

// NewMetricsServer returns an HTTP server exposing /metrics and /healthz on
// the given port.
func NewMetricsServer(port int) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}), "healthz"))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
