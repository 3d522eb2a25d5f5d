// Package health runs the background monitor that keeps registered pools
// honest: it probes idle connections, recycles the ones past their age, and
// publishes per-pool status records for operators and the CLI.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/quillstone/dbguard/pkg/logger"
	"github.com/quillstone/dbguard/pkg/pool"
)

// Status summarizes the last sweep result for one pool
type Status string

const (
	// StatusHealthy means every probed idle connection answered a ping
	StatusHealthy Status = "healthy"
	// StatusDegraded means at least one probed connection was broken and discarded
	StatusDegraded Status = "degraded"
	// StatusUnknown means the pool has not been swept yet
	StatusUnknown Status = "unknown"
)

// Record is a point-in-time health snapshot for one pool
type Record struct {
	Pool        string        `json:"pool"`
	Status      Status        `json:"status"`
	Active      int           `json:"active_connections"`
	Idle        int           `json:"idle_connections"`
	Total       int           `json:"total_connections"`
	Probed      int           `json:"probed"`
	Broken      int           `json:"broken"`
	Recycled    int           `json:"recycled"`
	LastChecked time.Time     `json:"last_checked"`
	Metrics     pool.Snapshot `json:"metrics"`
}

// Config tunes the monitor
type Config struct {
	// Interval between sweeps
	Interval time.Duration `yaml:"interval" json:"interval"`
	// ProbeTimeout bounds each sweep's ping I/O
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	// MaxProbes caps pinged idle connections per pool per sweep, 0 means all
	MaxProbes int `yaml:"max_probes" json:"max_probes"`
}

// DefaultConfig returns monitoring defaults suitable for production
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		ProbeTimeout: 5 * time.Second,
		MaxProbes:    0,
	}
}

// Monitor periodically sweeps every pool in a registry. All probe I/O runs
// outside pool locks, so foreground traffic never blocks on the monitor.
type Monitor struct {
	registry *pool.Registry
	cfg      Config
	clock    quartz.Clock
	logger   *zap.Logger

	mu      sync.RWMutex
	records map[string]Record

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock injects a clock for tests
func WithClock(clock quartz.Clock) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithLogger overrides the monitor's logger
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = log
	}
}

// NewMonitor creates a monitor over the given registry
func NewMonitor(registry *pool.Registry, cfg Config, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}

	m := &Monitor{
		registry: registry,
		cfg:      cfg,
		clock:    quartz.NewReal(),
		logger:   logger.Get().With(zap.String("component", "health_monitor")),
		records:  make(map[string]Record),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.Interval))
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// Sweep checks every registered pool once: probes idle connections, recycles
// aged ones, refreshes occupancy gauges, and updates the status records. An
// empty registry yields an empty report and never fails.
func (m *Monitor) Sweep(ctx context.Context) map[string]Record {
	pools := m.registry.List()
	report := make(map[string]Record, len(pools))

	for _, p := range pools {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		probed, broken := p.ProbeIdle(probeCtx, m.cfg.MaxProbes)
		cancel()

		recycled := p.SweepIdle()
		stats := p.PublishStats()

		status := StatusHealthy
		if broken > 0 {
			status = StatusDegraded
		}

		rec := Record{
			Pool:        p.Identity().String(),
			Status:      status,
			Active:      stats.Active,
			Idle:        stats.Idle,
			Total:       stats.Total,
			Probed:      probed,
			Broken:      broken,
			Recycled:    recycled,
			LastChecked: m.clock.Now(),
			Metrics:     p.Metrics().Snapshot(),
		}
		report[rec.Pool] = rec

		if broken > 0 || recycled > 0 {
			m.logger.Warn("pool sweep found stale connections",
				zap.String("pool", rec.Pool),
				zap.Int("broken", broken),
				zap.Int("recycled", recycled))
		}
	}

	m.mu.Lock()
	for name, rec := range report {
		m.records[name] = rec
	}
	m.mu.Unlock()

	return report
}

// Status returns the latest record for a pool. Pools never swept report
// StatusUnknown.
func (m *Monitor) Status(id pool.Identity) Record {
	m.mu.RLock()
	rec, ok := m.records[id.String()]
	m.mu.RUnlock()
	if ok {
		return rec
	}
	return Record{Pool: id.String(), Status: StatusUnknown}
}

// Report returns the latest records for all pools swept so far. It never
// blocks on probe I/O.
func (m *Monitor) Report() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records))
	for name, rec := range m.records {
		out[name] = rec
	}
	return out
}
