// Package dbguard wraps database access in the resilience machinery
// production services need: retry policies with configurable backoff, layered
// timeout budgets, bounded connection pools, and background health
// monitoring, all behind a single connector handle.
//
// # Architecture
//
// dbguard is organized around four cooperating pieces:
//
// 1. Retry policies (pkg/retry): declarative backoff strategies (immediate,
// fixed, linear, exponential) with full jitter, driven by an executor that
// classifies failures and never retries what cannot succeed.
//
// 2. Timeout budgets (pkg/timeout): a per-call total ceiling that every
// attempt, acquisition wait, and backoff sleep draws from, with per-kind
// allowances for connect, query, and transaction phases.
//
// 3. Connection pools (pkg/pool): bounded pools keyed by backend, endpoint,
// and database, with FIFO waiting, pre-ping validation, age-based recycling,
// and Prometheus occupancy metrics. A registry shares pools across handles.
//
// 4. Connector handles (pkg/connector): the only surface application code
// touches. A handle composes a backend driver, a retry policy, a timeout
// budget template, and a pool reference; every Query, Exec, Ping, and
// WithinTx call runs through all of them.
//
// # Quick Start
//
// Build a connector from a URL and run a query:
//
//	factory := connector.NewFactory(pool.NewRegistry(), []driver.Driver{postgres.New()})
//	handle, err := factory.FromURL(ctx, "postgres://app:secret@db:5432/orders?sslmode=require")
//	if err != nil {
//		return err
//	}
//	rows, err := handle.Query(ctx, "SELECT id, total FROM orders WHERE status = $1", "open")
//
// Or from a YAML document with environment placeholders:
//
//	handle, err := factory.FromConfigFile(ctx, "db.yaml")
//
// Failures surface as structured taxonomy errors (pkg/dberrors) carrying the
// category, the attempt count, and the original cause.
package dbguard
