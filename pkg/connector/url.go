package connector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/driver"
)

// schemeAliases maps URL schemes to canonical backend types
var schemeAliases = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
	"sqlite":     "sqlite",
}

// ParseURL turns a connection URL into a backend type and parameters.
// Network backends use the authority and path components; sqlite URLs carry
// the file path directly (sqlite:///var/data/app.db).
func ParseURL(rawURL string) (string, driver.ConnParams, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", driver.ConnParams{}, dberrors.Wrap(err, dberrors.ErrorTypeConfig, "invalid connection URL")
	}

	backend, ok := schemeAliases[strings.ToLower(u.Scheme)]
	if !ok {
		return "", driver.ConnParams{}, dberrors.New(dberrors.ErrorTypeConfig,
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}

	params := driver.ConnParams{}

	if backend == "sqlite" {
		path := u.Path
		if u.Opaque != "" {
			path = u.Opaque
		}
		if u.Host != "" {
			// sqlite://relative.db puts the first segment in the host
			path = u.Host + path
		}
		params.Path = path
		params.Database = path
		params.Options = queryOptions(u)
		return backend, params, nil
	}

	params.Host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return "", driver.ConnParams{}, dberrors.New(dberrors.ErrorTypeConfig,
				fmt.Sprintf("invalid port %q in connection URL", portStr))
		}
		params.Port = port
	}
	if u.User != nil {
		params.Username = u.User.Username()
		if pw, set := u.User.Password(); set {
			params.Password = pw
		}
	}
	params.Database = strings.TrimPrefix(u.Path, "/")

	opts := queryOptions(u)
	if ssl, ok := opts["sslmode"]; ok {
		params.SSLMode = ssl
		delete(opts, "sslmode")
	}
	if len(opts) > 0 {
		params.Options = opts
	}
	return backend, params, nil
}

func queryOptions(u *url.URL) map[string]string {
	q := u.Query()
	if len(q) == 0 {
		return nil
	}
	opts := make(map[string]string, len(q))
	for key, values := range q {
		if len(values) > 0 {
			opts[key] = values[0]
		}
	}
	return opts
}

// FromURL builds a connector from a connection URL, applying the same
// defaults and options as Create
func (f *Factory) FromURL(ctx context.Context, rawURL string, opts ...Option) (*Handle, error) {
	backend, params, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Create(ctx, backend, params, opts...)
}
