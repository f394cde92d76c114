package driftmq

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments a Proxy reports against. All
// counters are monotonic and safe to Inc from the proxy goroutine only (same
// ownership rule as the rest of Proxy's runtime state); the gauges are
// refreshed by the proxy's periodic UpdatePoolGauges call rather than on
// every mutation, since worker/queue counts change far too often to afford a
// Set per job.
type Metrics struct {
	jobsDispatched  prometheus.Counter
	jobsDropped     prometheus.Counter
	authDenials     prometheus.Counter
	idleExpirations prometheus.Counter

	workersActive prometheus.Gauge
	workersIdle   prometheus.Gauge
	queueDepth    *prometheus.GaugeVec
	peersTotal    prometheus.Gauge
}

// NewMetrics registers driftmq's instruments under namespace and returns the
// handle a Proxy is constructed with via WithMetrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		jobsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of command handlers dispatched to a worker.",
		}),
		jobsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dropped_total",
			Help:      "Total number of incoming commands dropped because their category's pending queue was full.",
		}),
		authDenials: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_denials_total",
			Help:      "Total number of commands rejected by a category's access check.",
		}),
		idleExpirations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_expirations_total",
			Help:      "Total number of outgoing connections closed for exceeding their idle timeout.",
		}),
		workersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Worker slots currently executing a job.",
		}),
		workersIdle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_idle",
			Help:      "Worker slots currently free.",
		}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_queue_depth",
			Help:      "Pending jobs waiting for a free worker, by category.",
		}, []string{"category"}),
		peersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_total",
			Help:      "Peer records currently held in the peer table.",
		}),
	}
}

// UpdatePoolGauges refreshes the gauge instruments from a snapshot the proxy
// goroutine takes of its own state. Called periodically (alongside idle
// expiry) rather than on every dispatch/completion.
func (m *Metrics) UpdatePoolGauges(active, idle int, queueDepths map[string]int, peers int) {
	m.workersActive.Set(float64(active))
	m.workersIdle.Set(float64(idle))
	for cat, depth := range queueDepths {
		m.queueDepth.WithLabelValues(cat).Set(float64(depth))
	}
	m.peersTotal.Set(float64(peers))
}

// MetricsServer exposes /metrics over HTTP, alongside a plain /health check.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer builds (but does not start) a metrics HTTP server on addr.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &MetricsServer{server: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server, blocking until it stops or errors.
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync runs the metrics server in its own goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop closes the metrics server immediately.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
