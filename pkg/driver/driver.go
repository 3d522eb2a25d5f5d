// Package driver defines the narrow capability interface the resilience core
// requires from a backend. One implementation exists per backend and is
// injected at factory-construction time, never hard-wired.
package driver

import (
	"context"
	"strconv"
)

// ConnParams carries backend connection parameters. Network backends use
// Host/Port/Database plus credentials; the embedded backend uses Path.
type ConnParams struct {
	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	Database string            `yaml:"database" json:"database"`
	Username string            `yaml:"username" json:"username"`
	Password string            `yaml:"password" json:"password"`
	Path     string            `yaml:"path" json:"path"`
	SSLMode  string            `yaml:"ssl_mode" json:"ssl_mode"`
	Options  map[string]string `yaml:"options" json:"options"`
}

// Address returns the endpoint portion of the pool identity: host:port for
// network backends, the file path for embedded ones.
func (p ConnParams) Address() string {
	if p.Path != "" {
		return p.Path
	}
	if p.Port > 0 {
		return p.Host + ":" + strconv.Itoa(p.Port)
	}
	return p.Host
}

// Driver creates physical connections for one backend type
type Driver interface {
	// Type returns the backend type this driver serves (e.g. "postgres")
	Type() string
	// Connect establishes one physical connection
	Connect(ctx context.Context, params ConnParams) (Conn, error)
}

// Conn is one physical backend connection. Implementations are not required
// to be safe for concurrent use; the pool guarantees a single borrower.
type Conn interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error
	// Query runs a statement that returns rows
	Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error)
	// Exec runs a statement and returns the affected row count
	Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error)
	// Begin starts a transaction on this connection
	Begin(ctx context.Context) error
	// Commit commits the current transaction
	Commit(ctx context.Context) error
	// Rollback aborts the current transaction
	Rollback(ctx context.Context) error
	// Close tears down the physical connection
	Close(ctx context.Context) error
}
