package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/pool"
	"github.com/quillstone/dbguard/pkg/retry"
	"github.com/quillstone/dbguard/pkg/timeout"
)

// fakeConn scripts per-call failures so tests can exercise retry paths
type fakeConn struct {
	mu        sync.Mutex
	pingErrs  []error
	queryErrs []error
	rows      []map[string]interface{}
	inTx      bool
	commits   int
	rollbacks int
	closed    bool
}

func (c *fakeConn) nextErr(queue *[]error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (c *fakeConn) Ping(ctx context.Context) error {
	return c.nextErr(&c.pingErrs)
}

func (c *fakeConn) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	if err := c.nextErr(&c.queryErrs); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows, nil
}

func (c *fakeConn) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	if err := c.nextErr(&c.queryErrs); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *fakeConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = true
	return nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	c.commits++
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	c.rollbacks++
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeDriver hands out scripted connections in order, repeating the last one
type fakeDriver struct {
	mu      sync.Mutex
	backend string
	dials   int
	dialErr error
	scripts []*fakeConn
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{backend: "fake"}
}

func (d *fakeDriver) Type() string { return d.backend }

func (d *fakeDriver) Connect(ctx context.Context, params driver.ConnParams) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.scripts) == 0 {
		return &fakeConn{}, nil
	}
	c := d.scripts[0]
	if len(d.scripts) > 1 {
		d.scripts = d.scripts[1:]
	}
	return c, nil
}

func (d *fakeDriver) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestFactory(t *testing.T, drv driver.Driver) *Factory {
	t.Helper()
	registry := pool.NewRegistry()
	t.Cleanup(func() {
		_ = registry.CloseAll(context.Background())
	})
	return NewFactory(registry, []driver.Driver{drv})
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Strategy: retry.StrategyImmediate}
}

func testParams() driver.ConnParams {
	return driver.ConnParams{Host: "local", Database: "test", Username: "app"}
}

func TestHandleQuery(t *testing.T) {
	drv := newFakeDriver()
	drv.scripts = []*fakeConn{{rows: []map[string]interface{}{{"id": int64(1)}}}}

	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithRetryPolicy(fastRetry(1)), WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	rows, err := h.Query(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"])
}

func TestHandleRetriesSeveredConnection(t *testing.T) {
	reset := errors.New("read tcp: connection reset by peer")
	drv := newFakeDriver()
	drv.scripts = []*fakeConn{
		{queryErrs: []error{reset}},
		{queryErrs: []error{reset}},
		{rows: []map[string]interface{}{{"ok": true}}},
	}

	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithRetryPolicy(fastRetry(5)),
		WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	rows, err := h.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, drv.dialCount(), "severed connections were discarded and redialed")
}

func TestHandleDoesNotRetryBackendRejection(t *testing.T) {
	drv := newFakeDriver()
	drv.scripts = []*fakeConn{{queryErrs: []error{errors.New(`syntax error at or near "SELEC"`)}}}

	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithRetryPolicy(fastRetry(5)),
		WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	_, err = h.Query(context.Background(), "SELEC 1")
	require.Error(t, err)

	var e *dberrors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, dberrors.ErrorTypeRetryExhausted, e.Type)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, dberrors.ErrorTypeOperation, dberrors.TypeOf(e.Cause))
}

func TestHandleExec(t *testing.T) {
	drv := newFakeDriver()
	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithRetryPolicy(fastRetry(1)),
		WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	affected, err := h.Exec(context.Background(), "DELETE FROM t WHERE id = ?", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	conn := &fakeConn{}
	drv := newFakeDriver()
	drv.scripts = []*fakeConn{conn}

	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithRetryPolicy(fastRetry(1)),
		WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	err = h.WithinTx(context.Background(), func(ctx context.Context, c driver.Conn) error {
		_, execErr := c.Exec(ctx, "UPDATE t SET n = n + 1")
		return execErr
	})
	require.NoError(t, err)
	assert.Equal(t, 1, conn.commits)
	assert.Equal(t, 0, conn.rollbacks)
}

func TestWithinTxRollsBackOnFailure(t *testing.T) {
	conn := &fakeConn{}
	drv := newFakeDriver()
	drv.scripts = []*fakeConn{conn}

	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithRetryPolicy(fastRetry(1)),
		WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	boom := errors.New("duplicate key value violates unique constraint")
	err = h.WithinTx(context.Background(), func(ctx context.Context, c driver.Conn) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, conn.commits)
	assert.Equal(t, 1, conn.rollbacks)
}

func TestHandleTotalTimeoutCapsRetries(t *testing.T) {
	reset := errors.New("connection reset by peer")
	drv := newFakeDriver()
	drv.scripts = []*fakeConn{{queryErrs: []error{reset, reset, reset, reset, reset, reset, reset, reset}}}

	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(),
		WithRetryPolicy(retry.Policy{MaxAttempts: 100, Strategy: retry.StrategyFixed, BaseDelay: 200 * time.Millisecond}),
		WithTimeouts(timeout.Config{Query: time.Second, Total: 100 * time.Millisecond}),
		WithPoolConfig(pool.Config{MaxSize: 2, WaitTimeout: time.Second}))
	require.NoError(t, err)

	start := time.Now()
	_, err = h.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, dberrors.IsType(err, dberrors.ErrorTypeTotalTimeout))
	assert.Less(t, time.Since(start), time.Second, "gave up instead of sleeping past the ceiling")
}

func TestHandleUnpooledDialsPerCall(t *testing.T) {
	drv := newFakeDriver()
	factory := newTestFactory(t, drv)
	h, err := factory.Create(context.Background(), "fake", testParams(),
		WithoutValidation(), WithoutPooling(), WithRetryPolicy(fastRetry(1)))
	require.NoError(t, err)
	assert.Nil(t, h.Pool())

	require.NoError(t, h.Ping(context.Background()))
	require.NoError(t, h.Ping(context.Background()))
	assert.Equal(t, 2, drv.dialCount())
}

func TestHandleInfoMasksCredentials(t *testing.T) {
	drv := newFakeDriver()
	factory := newTestFactory(t, drv)
	params := testParams()
	params.Password = "hunter2"
	params.Port = 9999

	h, err := factory.Create(context.Background(), "fake", params,
		WithoutValidation(), WithPoolConfig(pool.Config{MaxSize: 1, WaitTimeout: time.Second}))
	require.NoError(t, err)

	info := h.Info()
	assert.Equal(t, "fake", info["backend"])
	assert.Equal(t, "local:9999", info["address"])
	for _, v := range info {
		assert.NotEqual(t, "hunter2", v)
	}
}
