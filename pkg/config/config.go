// Package config defines the structured configuration document for building
// connectors: connection parameters plus optional retry, timeout, and pool
// sections. Documents load from YAML or JSON with environment placeholder
// substitution applied to the raw content before parsing.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/pool"
	"github.com/quillstone/dbguard/pkg/retry"
	"github.com/quillstone/dbguard/pkg/timeout"
)

// Document is the on-disk configuration shape. Unset sections fall back to
// package defaults when the factory assembles a connector.
type Document struct {
	BackendType string            `yaml:"backend_type" json:"backend_type"`
	Connection  driver.ConnParams `yaml:"connection_params" json:"connection_params"`
	Retry       *RetrySection     `yaml:"retry_config,omitempty" json:"retry_config,omitempty"`
	Timeouts    *TimeoutSection   `yaml:"timeout_config,omitempty" json:"timeout_config,omitempty"`
	Pool        *PoolSection      `yaml:"pool_config,omitempty" json:"pool_config,omitempty"`
	PoolName    string            `yaml:"pool_name,omitempty" json:"pool_name,omitempty"`
}

// RetrySection configures the retry policy
type RetrySection struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay" json:"max_delay"`
	Strategy    string   `yaml:"strategy" json:"strategy"`
	Multiplier  float64  `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter      bool     `yaml:"jitter" json:"jitter"`
}

// Policy converts the section into a retry.Policy
func (s *RetrySection) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: s.MaxAttempts,
		BaseDelay:   s.BaseDelay.Std(),
		MaxDelay:    s.MaxDelay.Std(),
		Strategy:    retry.Strategy(s.Strategy),
		Multiplier:  s.Multiplier,
		Jitter:      s.Jitter,
	}
}

// TimeoutSection configures the timeout budget
type TimeoutSection struct {
	Connection  Duration `yaml:"connection_timeout" json:"connection_timeout"`
	Operation   Duration `yaml:"operation_timeout" json:"operation_timeout"`
	Transaction Duration `yaml:"transaction_timeout" json:"transaction_timeout"`
	Total       Duration `yaml:"total_timeout" json:"total_timeout"`
}

// Config converts the section into a timeout.Config
func (s *TimeoutSection) Config() timeout.Config {
	return timeout.Config{
		Connection:  s.Connection.Std(),
		Query:       s.Operation.Std(),
		Transaction: s.Transaction.Std(),
		Total:       s.Total.Std(),
	}
}

// PoolSection configures the connection pool
type PoolSection struct {
	MinSize     int      `yaml:"min_size" json:"min_size"`
	MaxSize     int      `yaml:"max_size" json:"max_size"`
	WaitTimeout Duration `yaml:"pool_wait_timeout" json:"pool_wait_timeout"`
	RecycleAge  Duration `yaml:"recycle_age" json:"recycle_age"`
	PrePing     bool     `yaml:"pre_ping" json:"pre_ping"`
}

// Config converts the section into a pool.Config
func (s *PoolSection) Config() pool.Config {
	return pool.Config{
		MinSize:     s.MinSize,
		MaxSize:     s.MaxSize,
		WaitTimeout: s.WaitTimeout.Std(),
		RecycleAge:  s.RecycleAge.Std(),
		PrePing:     s.PrePing,
	}
}

// LoadFile reads a document from a YAML or JSON file (decided by extension),
// substituting environment placeholders before parsing
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, dberrors.Wrap(err, dberrors.ErrorTypeConfig, "failed to read config file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return Parse(data, FormatJSON)
	default:
		return Parse(data, FormatYAML)
	}
}

// Format selects the document encoding
type Format int

const (
	// FormatYAML parses the document as YAML
	FormatYAML Format = iota
	// FormatJSON parses the document as JSON
	FormatJSON
)

// Parse builds a document from raw content, substituting environment
// placeholders first
func Parse(data []byte, format Format) (*Document, error) {
	content, err := ExpandEnv(string(data))
	if err != nil {
		return nil, err
	}

	var doc Document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return nil, dberrors.Wrap(err, dberrors.ErrorTypeConfig, "invalid JSON configuration")
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
			return nil, dberrors.Wrap(err, dberrors.ErrorTypeConfig, "invalid YAML configuration")
		}
	}
	return &doc, nil
}

// MaskedConnection returns the connection parameters with credentials
// blanked for safe logging
func (d *Document) MaskedConnection() map[string]interface{} {
	masked := map[string]interface{}{
		"host":     d.Connection.Host,
		"port":     d.Connection.Port,
		"database": d.Connection.Database,
		"username": d.Connection.Username,
		"path":     d.Connection.Path,
	}
	if d.Connection.Password != "" {
		masked["password"] = "********"
	}
	return masked
}
