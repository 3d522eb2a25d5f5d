package connector

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/quillstone/dbguard/pkg/dberrors"
)

// closeGrace bounds tearing down a dedicated (unpooled) connection
const closeGrace = 5 * time.Second

// severs reports whether a backend failure broke the physical connection.
// Connections that merely rejected the statement stay healthy and return to
// the pool.
func severs(err error) bool {
	if errors.Is(err, sqldriver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A timed-out statement may leave the connection mid-protocol
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "connection closed", "server closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// normalizeBackendError maps a raw operation failure into the taxonomy,
// preserving the original cause for diagnostics. Severed connections are
// retriable; everything else (constraint violations, syntax errors) is a
// backend operation error, retriable only through a custom predicate.
func normalizeBackendError(err error) error {
	if err == nil {
		return nil
	}
	if dberrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dberrors.Wrap(err, dberrors.ErrorTypeOperationTimeout, "operation timed out")
	}
	if severs(err) {
		return dberrors.Wrap(err, dberrors.ErrorTypeConnection, "connection failed during operation")
	}
	return dberrors.Wrap(err, dberrors.ErrorTypeOperation, "backend rejected operation")
}

// normalizeConnectError maps a raw dial failure into the taxonomy
func normalizeConnectError(err error) error {
	if err == nil {
		return nil
	}
	if dberrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dberrors.Wrap(err, dberrors.ErrorTypeConnectionTimeout, "timed out establishing connection")
	}
	return dberrors.Wrap(err, dberrors.ErrorTypeConnection, "failed to establish connection")
}
