package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/driver"
)

// requiredParams lists the connection parameters each backend cannot work
// without. Network backends need an endpoint and credentials; the embedded
// backend needs only a file path.
var requiredParams = map[string][]string{
	"postgres": {"host", "database", "username"},
	"mysql":    {"host", "database", "username"},
	"sqlite":   {"path"},
}

// DefaultPorts maps network backends to their conventional server ports
var DefaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
}

// MissingParams returns the required parameters absent for the given
// backend, in schema order. Unknown backends require nothing here; the
// factory rejects them separately.
func MissingParams(backend string, params driver.ConnParams) []string {
	var missing []string
	for _, field := range requiredParams[backend] {
		switch field {
		case "host":
			if params.Host == "" {
				missing = append(missing, field)
			}
		case "database":
			if params.Database == "" {
				missing = append(missing, field)
			}
		case "username":
			if params.Username == "" {
				missing = append(missing, field)
			}
		case "path":
			if params.Path == "" && params.Database == "" {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

// Validate checks the whole document and reports every problem at once,
// never just the first one found.
func (d *Document) Validate() error {
	var problems []string

	if d.BackendType == "" {
		problems = append(problems, "backend_type is required")
	}

	for _, field := range MissingParams(d.BackendType, d.Connection) {
		problems = append(problems, fmt.Sprintf("connection_params.%s is required for %s", field, d.BackendType))
	}
	if d.Connection.Port < 0 {
		problems = append(problems, "connection_params.port cannot be negative")
	}

	if d.Retry != nil {
		if err := d.Retry.Policy().Validate(); err != nil {
			problems = append(problems, "retry_config: "+validationMessage(err))
		}
	}
	if d.Timeouts != nil {
		t := d.Timeouts.Config()
		if t.Connection < 0 || t.Query < 0 || t.Transaction < 0 || t.Total < 0 {
			problems = append(problems, "timeout_config: timeouts cannot be negative")
		}
	}
	if d.Pool != nil {
		if err := d.Pool.Config().Validate(); err != nil {
			problems = append(problems, "pool_config: "+validationMessage(err))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return dberrors.New(dberrors.ErrorTypeConfig,
		"invalid configuration: "+strings.Join(problems, "; ")).
		WithDetail("problems", problems)
}

// Normalize applies backend defaults the document omits, such as
// conventional server ports
func (d *Document) Normalize() {
	if d.Connection.Port == 0 {
		if port, ok := DefaultPorts[d.BackendType]; ok {
			d.Connection.Port = port
		}
	}
}

func validationMessage(err error) string {
	var e *dberrors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
