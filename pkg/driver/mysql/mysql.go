// Package mysql implements the driver capability interface for MySQL on top
// of go-sql-driver/mysql, one physical connection per pooled slot.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/driver/sqlconn"
)

// BackendType is the backend identifier this driver registers under
const BackendType = "mysql"

// DefaultPort is the conventional MySQL server port
const DefaultPort = 3306

// Driver creates MySQL connections
type Driver struct{}

// New returns the MySQL driver
func New() *Driver {
	return &Driver{}
}

// Type returns the backend type
func (d *Driver) Type() string {
	return BackendType
}

// Connect establishes one physical connection
func (d *Driver) Connect(ctx context.Context, params driver.ConnParams) (driver.Conn, error) {
	port := params.Port
	if port == 0 {
		port = DefaultPort
	}

	cfg := gomysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", params.Host, port)
	cfg.DBName = params.Database
	cfg.ParseTime = true
	if params.SSLMode != "" {
		cfg.TLSConfig = params.SSLMode
	}
	for k, v := range params.Options {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		cfg.Params[k] = v
	}

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql connection parameters: %w", err)
	}

	db := sql.OpenDB(connector)
	conn := sqlconn.New(db)
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}
