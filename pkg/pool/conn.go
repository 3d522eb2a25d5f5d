package pool

import (
	"time"

	"github.com/quillstone/dbguard/pkg/driver"
)

// ConnState tracks where a pooled connection currently lives
type ConnState int

const (
	// StateIdle means the connection sits in the idle queue
	StateIdle ConnState = iota
	// StateInUse means the connection is borrowed by exactly one caller
	StateInUse
	// StateValidating means the connection is being pinged outside the pool lock
	StateValidating
	// StateBroken means the connection failed validation or was released unhealthy
	StateBroken
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateValidating:
		return "validating"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// PooledConn wraps one physical backend connection. It is owned exclusively
// by its pool; callers borrow it between Acquire and Release and must not
// retain it afterwards. The state fields are guarded by the pool mutex.
type PooledConn struct {
	conn driver.Conn
	pool *Pool

	state      ConnState
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
}

// Conn returns the underlying capability connection
func (pc *PooledConn) Conn() driver.Conn {
	return pc.conn
}

// CreatedAt returns when the physical connection was established
func (pc *PooledConn) CreatedAt() time.Time {
	return pc.createdAt
}

// UseCount returns how many times this connection has been borrowed
func (pc *PooledConn) UseCount() int64 {
	return pc.useCount
}

func (pc *PooledConn) age(now time.Time) time.Duration {
	return now.Sub(pc.createdAt)
}
