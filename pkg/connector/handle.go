// Package connector assembles policy-wrapped connector handles: the only
// objects application code calls. A Handle composes a backend driver, a
// retry policy, a timeout budget template, and a connection pool reference.
package connector

import (
	"context"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/pool"
	"github.com/quillstone/dbguard/pkg/retry"
	"github.com/quillstone/dbguard/pkg/timeout"
)

// Handle is an immutable, concurrency-safe connector. Every call constructs
// a fresh timeout budget, runs the retry executor, and borrows a physical
// connection for exactly the duration of one attempt.
//
// A Handle holds no standing resources of its own and needs no teardown:
// pooled handles borrow from a registry-owned pool that outlives them, and
// unpooled handles dial per call. Physical connections are released through
// pool.Registry.CloseAll at process shutdown.
type Handle struct {
	backend  string
	drv      driver.Driver
	params   driver.ConnParams
	pool     *pool.Pool
	policy   retry.Policy
	timeouts timeout.Config
	executor *retry.Executor
	pooled   bool
	clock    quartz.Clock
	logger   *zap.Logger
}

// Backend returns the backend type this handle talks to
func (h *Handle) Backend() string {
	return h.backend
}

// RetryPolicy returns the effective retry policy
func (h *Handle) RetryPolicy() retry.Policy {
	return h.policy
}

// Timeouts returns the effective timeout configuration
func (h *Handle) Timeouts() timeout.Config {
	return h.timeouts
}

// Pool returns the connection pool backing this handle, nil when pooling is
// disabled
func (h *Handle) Pool() *pool.Pool {
	return h.pool
}

// Info returns connection metadata safe for logging: no credentials
func (h *Handle) Info() map[string]interface{} {
	return map[string]interface{}{
		"backend":  h.backend,
		"address":  h.params.Address(),
		"database": h.params.Database,
		"pooled":   h.pooled,
	}
}

// Ping verifies the target is reachable, subject to retry and timeouts
func (h *Handle) Ping(ctx context.Context) error {
	return h.execute(ctx, timeout.KindConnect, func(ctx context.Context, conn driver.Conn) error {
		return conn.Ping(ctx)
	})
}

// Query runs a row-returning statement
func (h *Handle) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	err := h.execute(ctx, timeout.KindQuery, func(ctx context.Context, conn driver.Conn) error {
		var opErr error
		rows, opErr = conn.Query(ctx, stmt, args...)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Exec runs a statement and returns the affected row count
func (h *Handle) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	var affected int64
	err := h.execute(ctx, timeout.KindQuery, func(ctx context.Context, conn driver.Conn) error {
		var opErr error
		affected, opErr = conn.Exec(ctx, stmt, args...)
		return opErr
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// WithinTx runs fn inside a transaction on one borrowed connection,
// committing on success and rolling back on failure. A failed attempt may be
// retried as a whole per the retry policy.
func (h *Handle) WithinTx(ctx context.Context, fn func(ctx context.Context, conn driver.Conn) error) error {
	return h.execute(ctx, timeout.KindTransaction, func(ctx context.Context, conn driver.Conn) error {
		if err := conn.Begin(ctx); err != nil {
			return err
		}
		if err := fn(ctx, conn); err != nil {
			if rbErr := conn.Rollback(ctx); rbErr != nil {
				h.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return err
		}
		return conn.Commit(ctx)
	})
}

// execute is the common retried path: budget, borrow, run, normalize,
// release. Raw backend failures are normalized into the taxonomy here, at
// the boundary where the capability is invoked.
func (h *Handle) execute(ctx context.Context, kind timeout.Kind, op func(ctx context.Context, conn driver.Conn) error) error {
	budget := timeout.NewBudget(h.timeouts, h.clock)

	return h.executor.Execute(ctx, budget, kind, func(attemptCtx context.Context) error {
		// Acquisition is budgeted separately from the operation; both draw
		// from the same remaining total.
		acqCtx, cancel := budget.AttemptContext(attemptCtx, timeout.KindConnect)
		conn, release, err := h.borrow(acqCtx)
		cancel()
		if err != nil {
			return err
		}

		opErr := op(attemptCtx, conn)
		release(opErr == nil || !severs(opErr))
		if opErr != nil {
			return normalizeBackendError(opErr)
		}
		return nil
	})
}

// borrow hands out a connection and a release function. Pooled handles
// borrow from the pool; unpooled handles dial a dedicated connection and
// close it on release.
func (h *Handle) borrow(ctx context.Context) (driver.Conn, func(healthy bool), error) {
	if h.pooled {
		pc, err := h.pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return pc.Conn(), func(healthy bool) {
			h.pool.Release(pc, healthy)
		}, nil
	}

	conn, err := h.drv.Connect(ctx, h.params)
	if err != nil {
		return nil, nil, normalizeConnectError(err)
	}
	return conn, func(bool) {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if closeErr := conn.Close(closeCtx); closeErr != nil {
			h.logger.Debug("error closing dedicated connection", zap.Error(closeErr))
		}
	}, nil
}
