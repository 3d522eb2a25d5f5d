// Package postgres implements the driver capability interface for PostgreSQL
// using a single pgx connection per pooled slot.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/quillstone/dbguard/pkg/driver"
)

// BackendType is the backend identifier this driver registers under
const BackendType = "postgres"

// Driver creates PostgreSQL connections
type Driver struct{}

// New returns the PostgreSQL driver
func New() *Driver {
	return &Driver{}
}

// Type returns the backend type
func (d *Driver) Type() string {
	return BackendType
}

// Connect establishes one physical connection
func (d *Driver) Connect(ctx context.Context, params driver.ConnParams) (driver.Conn, error) {
	cfg, err := pgx.ParseConfig(buildDSN(params))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection parameters: %w", err)
	}
	for k, v := range params.Options {
		cfg.RuntimeParams[k] = v
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgConn{conn: conn}, nil
}

func buildDSN(params driver.ConnParams) string {
	var b strings.Builder
	write := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteDSNValue(value))
	}

	write("host", params.Host)
	if params.Port > 0 {
		write("port", fmt.Sprintf("%d", params.Port))
	}
	write("dbname", params.Database)
	write("user", params.Username)
	write("password", params.Password)
	write("sslmode", params.SSLMode)
	return b.String()
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// pgConn adapts one *pgx.Conn to the capability interface
type pgConn struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

func (c *pgConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgConn) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, stmt, args...)
	} else {
		rows, err = c.conn.Query(ctx, stmt, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var results []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func (c *pgConn) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	if c.tx != nil {
		tag, err := c.tx.Exec(ctx, stmt, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := c.conn.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("transaction already in progress")
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *pgConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("no transaction in progress")
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return err
}

func (c *pgConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("no transaction in progress")
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	return err
}

func (c *pgConn) Close(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback(ctx)
		c.tx = nil
	}
	return c.conn.Close(ctx)
}
