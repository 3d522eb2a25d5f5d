// Package pool implements the bounded connection pool at the heart of
// dbguard: acquisition with a FIFO wait queue, pre-ping validation, recycling
// by connection age, and per-pool metrics. One Pool owns all physical
// connections for one (backend, endpoint, database) identity.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/logger"
)

// Config holds pool sizing and validation settings
type Config struct {
	MinSize     int           `yaml:"min_size" json:"min_size"`
	MaxSize     int           `yaml:"max_size" json:"max_size"`
	WaitTimeout time.Duration `yaml:"pool_wait_timeout" json:"pool_wait_timeout"`
	RecycleAge  time.Duration `yaml:"recycle_age" json:"recycle_age"`
	PrePing     bool          `yaml:"pre_ping" json:"pre_ping"`
}

// DefaultConfig returns production-ready pool defaults
func DefaultConfig() Config {
	return Config{
		MinSize:     1,
		MaxSize:     10,
		WaitTimeout: 30 * time.Second,
		RecycleAge:  30 * time.Minute,
		PrePing:     true,
	}
}

// Validate checks the pool configuration invariants
func (c Config) Validate() error {
	if c.MinSize < 0 {
		return dberrors.New(dberrors.ErrorTypeConfig, "min_size cannot be negative")
	}
	if c.MaxSize < 1 {
		return dberrors.New(dberrors.ErrorTypeConfig, "max_size must be at least 1")
	}
	if c.MaxSize < c.MinSize {
		return dberrors.New(dberrors.ErrorTypeConfig, "max_size cannot be smaller than min_size")
	}
	if c.WaitTimeout < 0 {
		return dberrors.New(dberrors.ErrorTypeConfig, "pool_wait_timeout cannot be negative")
	}
	if c.RecycleAge < 0 {
		return dberrors.New(dberrors.ErrorTypeConfig, "recycle_age cannot be negative")
	}
	return nil
}

// Stats is a point-in-time snapshot of pool occupancy
type Stats struct {
	Active int `json:"active_connections"`
	Idle   int `json:"idle_connections"`
	Total  int `json:"total_connections"`
}

// waiter is one caller blocked in Acquire. A delivered connection is already
// marked in-use; a nil delivery signals freed capacity, telling the waiter to
// retry the acquisition loop.
type waiter struct {
	ch chan *PooledConn
}

// Options configure a pool at construction time
type Options struct {
	Identity Identity
	Driver   driver.Driver
	Params   driver.ConnParams
	Config   Config

	// ConnectTimeout bounds dialing a new physical connection when the
	// caller's context carries no tighter deadline (warm-up, replacement)
	ConnectTimeout time.Duration

	Clock  quartz.Clock
	Logger *zap.Logger
}

// Pool is a bounded set of physical connections for one pool identity. All
// mutable state is guarded by mu; pings and dials always happen outside it.
type Pool struct {
	identity       Identity
	cfg            Config
	drv            driver.Driver
	params         driver.ConnParams
	connectTimeout time.Duration
	clock          quartz.Clock
	logger         *zap.Logger
	metrics        *Metrics

	mu      sync.Mutex
	idle    []*PooledConn
	size    int
	waiters []*waiter
	closed  bool
}

// New creates a pool. It does not establish connections; call Warmup to
// pre-fill to min_size.
func New(opts Options) (*Pool, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Driver == nil {
		return nil, dberrors.New(dberrors.ErrorTypeConfig, "pool requires a backend driver")
	}

	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	return &Pool{
		identity:       opts.Identity,
		cfg:            opts.Config,
		drv:            opts.Driver,
		params:         opts.Params,
		connectTimeout: connectTimeout,
		clock:          clock,
		logger:         log.With(zap.String("component", "connection_pool"), zap.String("pool", opts.Identity.String())),
		metrics:        newMetrics(opts.Identity.String()),
	}, nil
}

// Identity returns the pool identity
func (p *Pool) Identity() Identity {
	return p.identity
}

// Config returns the pool configuration
func (p *Pool) Config() Config {
	return p.cfg
}

// Metrics returns the pool's cumulative metrics
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

// Warmup pre-establishes connections up to min_size. Failures are reported
// but leave the pool usable; acquire creates lazily from wherever warm-up
// stopped.
func (p *Pool) Warmup(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed || p.size >= p.cfg.MinSize {
			p.mu.Unlock()
			return nil
		}
		p.size++
		p.mu.Unlock()

		pc, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return dberrors.Wrap(err, dberrors.ErrorTypeConnection, "pool warm-up failed")
		}

		p.mu.Lock()
		pc.state = StateIdle
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
}

// Acquire borrows a connection: an idle one (validated first when pre_ping is
// set), a newly created one while under max_size, or the next released one
// after a FIFO wait bounded by pool_wait_timeout. The caller's context
// bounds dialing and validation.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	start := p.clock.Now()
	pc, err := p.acquire(ctx)
	p.metrics.observeAcquire(p.clock.Since(start), err)
	return pc, err
}

func (p *Pool) acquire(ctx context.Context) (*PooledConn, error) {
	// The wait timer spans the whole acquisition, so validation retries do
	// not charge the caller's pool_wait_timeout twice.
	var waitTimer *quartz.Timer
	defer func() {
		if waitTimer != nil {
			waitTimer.Stop()
		}
	}()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, dberrors.New(dberrors.ErrorTypeConnection, "pool is closed")
		}

		if len(p.idle) > 0 {
			pc := p.idle[0]
			p.idle = p.idle[1:]

			if p.cfg.PrePing {
				pc.state = StateValidating
				p.mu.Unlock()
				if err := pc.conn.Ping(ctx); err != nil {
					p.logger.Debug("pre-ping failed, discarding connection", zap.Error(err))
					p.discard(pc)
					continue
				}
				p.mu.Lock()
				if p.closed {
					p.size--
					p.mu.Unlock()
					p.destroy(pc)
					return nil, dberrors.New(dberrors.ErrorTypeConnection, "pool is closed")
				}
			}

			pc.state = StateInUse
			pc.lastUsedAt = p.clock.Now()
			pc.useCount++
			p.mu.Unlock()
			return pc, nil
		}

		if p.size < p.cfg.MaxSize {
			p.size++
			p.mu.Unlock()

			pc, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.size--
				w := p.popWaiterLocked()
				p.mu.Unlock()
				if w != nil {
					w.ch <- nil
				}
				return nil, wrapDialError(err)
			}

			p.mu.Lock()
			pc.state = StateInUse
			pc.useCount = 1
			p.mu.Unlock()
			return pc, nil
		}

		w := &waiter{ch: make(chan *PooledConn, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		if waitTimer == nil {
			waitTimer = p.clock.NewTimer(p.cfg.WaitTimeout)
		}

		select {
		case pc := <-w.ch:
			if pc == nil {
				continue
			}
			return pc, nil
		case <-waitTimer.C:
			p.abandonWaiter(w)
			return nil, dberrors.New(dberrors.ErrorTypePoolExhausted,
				"no connection became available within the pool wait timeout").
				WithDetail("pool", p.identity.String()).
				WithDetail("wait_timeout", p.cfg.WaitTimeout.String())
		case <-ctx.Done():
			p.abandonWaiter(w)
			if ctx.Err() == context.DeadlineExceeded {
				return nil, dberrors.Wrap(ctx.Err(), dberrors.ErrorTypeConnectionTimeout, "timed out waiting for a pooled connection")
			}
			return nil, dberrors.Wrap(ctx.Err(), dberrors.ErrorTypeOperation, "acquire cancelled")
		}
	}
}

// Release hands a borrowed connection back. Healthy connections younger than
// recycle_age return to the idle queue or go straight to the first waiter;
// everything else is closed, freeing capacity for one waiter to rebuild.
func (p *Pool) Release(pc *PooledConn, healthy bool) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.size--
		p.mu.Unlock()
		p.destroy(pc)
		return
	}

	now := p.clock.Now()
	expired := p.cfg.RecycleAge > 0 && pc.age(now) >= p.cfg.RecycleAge
	if !healthy || expired {
		p.size--
		pc.state = StateBroken
		useCount := pc.useCount
		w := p.popWaiterLocked()
		p.mu.Unlock()

		p.destroy(pc)
		if w != nil {
			w.ch <- nil
		}
		p.logger.Debug("connection discarded on release",
			zap.Bool("healthy", healthy),
			zap.Bool("expired", expired),
			zap.Int64("use_count", useCount))
		return
	}

	pc.lastUsedAt = now
	if w := p.popWaiterLocked(); w != nil {
		pc.state = StateInUse
		pc.useCount++
		p.mu.Unlock()
		w.ch <- pc
		return
	}

	pc.state = StateIdle
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// SweepIdle proactively closes idle connections older than recycle_age.
// Subsequent acquires recreate them lazily. Returns how many were closed.
func (p *Pool) SweepIdle() int {
	if p.cfg.RecycleAge <= 0 {
		return 0
	}

	now := p.clock.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	var expired []*PooledConn
	remaining := p.idle[:0]
	for _, pc := range p.idle {
		if pc.age(now) >= p.cfg.RecycleAge {
			pc.state = StateBroken
			expired = append(expired, pc)
		} else {
			remaining = append(remaining, pc)
		}
	}
	p.idle = remaining
	p.size -= len(expired)
	var woken []*waiter
	for range expired {
		if w := p.popWaiterLocked(); w != nil {
			woken = append(woken, w)
		}
	}
	p.mu.Unlock()

	for _, pc := range expired {
		p.destroy(pc)
	}
	for _, w := range woken {
		w.ch <- nil
	}

	if len(expired) > 0 {
		p.logger.Debug("recycled idle connections past recycle_age", zap.Int("closed", len(expired)))
	}
	return len(expired)
}

// ProbeIdle validates up to max idle connections, pinging outside the pool
// lock so foreground acquire/release never block on probe I/O. Broken
// connections are discarded the same way an unhealthy release would discard
// them. Returns (probed, broken).
func (p *Pool) ProbeIdle(ctx context.Context, max int) (int, int) {
	p.mu.Lock()
	if p.closed || len(p.idle) == 0 {
		p.mu.Unlock()
		return 0, 0
	}
	n := max
	if n <= 0 || n > len(p.idle) {
		n = len(p.idle)
	}
	sample := make([]*PooledConn, n)
	copy(sample, p.idle[:n])
	p.idle = append(p.idle[:0], p.idle[n:]...)
	for _, pc := range sample {
		pc.state = StateValidating
	}
	p.mu.Unlock()

	broken := 0
	for _, pc := range sample {
		if err := pc.conn.Ping(ctx); err != nil {
			broken++
			p.discard(pc)
			continue
		}
		p.handBack(pc)
	}
	return n, broken
}

// Stats returns a point-in-time occupancy snapshot without blocking on I/O
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active: p.size - len(p.idle),
		Idle:   len(p.idle),
		Total:  p.size,
	}
}

// PublishStats reads occupancy and pushes it to the Prometheus gauges
func (p *Pool) PublishStats() Stats {
	stats := p.Stats()
	p.metrics.publishOccupancy(stats)
	return stats
}

// Close tears down all idle connections and fails pending waiters. In-use
// connections are destroyed as they are released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.size -= len(idle)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, pc := range idle {
		p.destroy(pc)
	}
	for _, w := range waiters {
		w.ch <- nil
	}

	p.logger.Info("connection pool closed", zap.Int("idle_closed", len(idle)))
	return nil
}

// dial establishes one physical connection, bounded by the caller's context
// or the pool's own connect timeout, whichever is tighter
func (p *Pool) dial(ctx context.Context) (*PooledConn, error) {
	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.connectTimeout)
		defer cancel()
	}

	conn, err := p.drv.Connect(dialCtx, p.params)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	p.logger.Debug("created new connection")
	return &PooledConn{
		conn:       conn,
		pool:       p,
		createdAt:  now,
		lastUsedAt: now,
	}, nil
}

// discard removes a connection that failed validation: capacity is freed and
// one waiter is woken so it can create a replacement
func (p *Pool) discard(pc *PooledConn) {
	p.mu.Lock()
	p.size--
	pc.state = StateBroken
	w := p.popWaiterLocked()
	p.mu.Unlock()

	p.destroy(pc)
	if w != nil {
		w.ch <- nil
	}
}

// handBack returns a validated connection to the pool: straight to the first
// waiter when one is blocked, otherwise onto the idle queue
func (p *Pool) handBack(pc *PooledConn) {
	p.mu.Lock()
	if p.closed {
		p.size--
		p.mu.Unlock()
		p.destroy(pc)
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		pc.state = StateInUse
		pc.useCount++
		pc.lastUsedAt = p.clock.Now()
		p.mu.Unlock()
		w.ch <- pc
		return
	}
	pc.state = StateIdle
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// abandonWaiter removes a timed-out or cancelled waiter. A connection that
// raced into its channel is handed back so the permit is never lost.
func (p *Pool) abandonWaiter(w *waiter) {
	p.mu.Lock()
	for i, candidate := range p.waiters {
		if candidate == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	select {
	case pc := <-w.ch:
		if pc != nil {
			p.handBack(pc)
		}
	default:
	}
}

func (p *Pool) popWaiterLocked() *waiter {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

// destroy closes the physical connection with a short grace period
func (p *Pool) destroy(pc *PooledConn) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pc.conn.Close(closeCtx); err != nil {
		p.logger.Debug("error closing connection", zap.Error(err))
	}
}

func wrapDialError(err error) error {
	if dberrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dberrors.Wrap(err, dberrors.ErrorTypeConnectionTimeout, "timed out establishing connection")
	}
	return dberrors.Wrap(err, dberrors.ErrorTypeConnection, "failed to establish connection")
}
