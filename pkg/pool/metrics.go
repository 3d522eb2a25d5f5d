package pool

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbguard",
			Subsystem: "pool",
			Name:      "acquisitions_total",
			Help:      "Total connection acquisition requests",
		},
		[]string{"pool", "status"},
	)

	poolWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dbguard",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time callers spent acquiring a connection",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"pool"},
	)

	poolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dbguard",
			Subsystem: "pool",
			Name:      "connections",
			Help:      "Current pool occupancy by connection state",
		},
		[]string{"pool", "state"},
	)
)

// Metrics accumulates per-pool counters. The in-memory snapshot backs the
// health surface and tests; the Prometheus vectors back dashboards.
type Metrics struct {
	pool string

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	totalWait          atomic.Int64 // nanoseconds
}

// Snapshot is a point-in-time copy of the cumulative request counters
type Snapshot struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	AverageWait        time.Duration `json:"average_wait"`
}

func newMetrics(pool string) *Metrics {
	return &Metrics{pool: pool}
}

func (m *Metrics) observeAcquire(wait time.Duration, err error) {
	m.totalRequests.Add(1)
	m.totalWait.Add(int64(wait))
	poolWaitSeconds.WithLabelValues(m.pool).Observe(wait.Seconds())

	if err != nil {
		m.failedRequests.Add(1)
		poolAcquisitions.WithLabelValues(m.pool, "failed").Inc()
		return
	}
	m.successfulRequests.Add(1)
	poolAcquisitions.WithLabelValues(m.pool, "success").Inc()
}

// publishOccupancy pushes a Stats snapshot to the connection gauges
func (m *Metrics) publishOccupancy(stats Stats) {
	poolConnections.WithLabelValues(m.pool, "active").Set(float64(stats.Active))
	poolConnections.WithLabelValues(m.pool, "idle").Set(float64(stats.Idle))
	poolConnections.WithLabelValues(m.pool, "total").Set(float64(stats.Total))
}

// Snapshot returns the cumulative request counters
func (m *Metrics) Snapshot() Snapshot {
	total := m.totalRequests.Load()
	snap := Snapshot{
		TotalRequests:      total,
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
	}
	if total > 0 {
		snap.AverageWait = time.Duration(m.totalWait.Load() / total)
	}
	return snap
}
