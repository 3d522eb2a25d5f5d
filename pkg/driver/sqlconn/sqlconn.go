// Package sqlconn adapts a database/sql handle pinned to one physical
// connection into the driver.Conn capability interface. The mysql and sqlite
// drivers share it.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
)

// Conn wraps a *sql.DB restricted to a single underlying connection. The
// dbguard pool owns connection counting, so each Conn must map to exactly
// one physical connection.
type Conn struct {
	db *sql.DB
	tx *sql.Tx
}

// New pins db to one physical connection and wraps it. Callers are expected
// to have verified the connection with a ping.
func New(db *sql.DB) *Conn {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return &Conn{db: db}
}

// Ping verifies the connection is alive
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Query runs a statement and materializes the result set as one map per row
func (c *Conn) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if c.tx != nil {
		rows, err = c.tx.QueryContext(ctx, stmt, args...)
	} else {
		rows, err = c.db.QueryContext(ctx, stmt, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Exec runs a statement and returns the affected row count
func (c *Conn) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if c.tx != nil {
		result, err = c.tx.ExecContext(ctx, stmt, args...)
	} else {
		result, err = c.db.ExecContext(ctx, stmt, args...)
	}
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Some statements do not report a row count
		return 0, nil
	}
	return affected, nil
}

// Begin starts a transaction on this connection
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit commits the current transaction
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("no transaction in progress")
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback aborts the current transaction
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("no transaction in progress")
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

// Close tears down the physical connection
func (c *Conn) Close(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.db.Close()
}
