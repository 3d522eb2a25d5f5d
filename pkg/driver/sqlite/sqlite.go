// Package sqlite implements the driver capability interface for the embedded
// file-based backend using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/driver/sqlconn"
)

// BackendType is the backend identifier this driver registers under
const BackendType = "sqlite"

// Driver creates SQLite connections
type Driver struct{}

// New returns the SQLite driver
func New() *Driver {
	return &Driver{}
}

// Type returns the backend type
func (d *Driver) Type() string {
	return BackendType
}

// Connect opens the database file as one physical connection
func (d *Driver) Connect(ctx context.Context, params driver.ConnParams) (driver.Conn, error) {
	path := params.Path
	if path == "" {
		path = params.Database
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite requires a database file path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	conn := sqlconn.New(db)
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}
