package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/quillstone/dbguard/pkg/config"
	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/driver"
	"github.com/quillstone/dbguard/pkg/logger"
	"github.com/quillstone/dbguard/pkg/pool"
	"github.com/quillstone/dbguard/pkg/retry"
	"github.com/quillstone/dbguard/pkg/timeout"
)

// Factory builds policy-wrapped connector handles from parameter maps, URLs,
// or structured config documents. It owns no pools itself: they live in the
// injected registry, so repeated creates for the same logical target share
// one pool and its metrics.
type Factory struct {
	registry *pool.Registry
	drivers  map[string]driver.Driver
	clock    quartz.Clock
	logger   *zap.Logger
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithFactoryClock injects a clock into everything the factory builds
func WithFactoryClock(clock quartz.Clock) FactoryOption {
	return func(f *Factory) {
		f.clock = clock
	}
}

// WithFactoryLogger overrides the factory's logger
func WithFactoryLogger(log *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = log
	}
}

// NewFactory creates a factory over the given pool registry and backend
// drivers. Drivers are injected here, never hard-wired into the core.
func NewFactory(registry *pool.Registry, drivers []driver.Driver, opts ...FactoryOption) *Factory {
	f := &Factory{
		registry: registry,
		drivers:  make(map[string]driver.Driver, len(drivers)),
		clock:    quartz.NewReal(),
		logger:   logger.Get().With(zap.String("component", "connector_factory")),
	}
	for _, d := range drivers {
		f.drivers[d.Type()] = d
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterDriver adds or replaces a backend driver
func (f *Factory) RegisterDriver(d driver.Driver) {
	f.drivers[d.Type()] = d
}

// Backends lists the backend types this factory can serve
func (f *Factory) Backends() []string {
	backends := make([]string, 0, len(f.drivers))
	for name := range f.drivers {
		backends = append(backends, name)
	}
	return backends
}

// Registry returns the pool registry backing this factory
func (f *Factory) Registry() *pool.Registry {
	return f.registry
}

// settings carries per-create options with their defaults
type settings struct {
	policy   retry.Policy
	timeouts timeout.Config
	poolCfg  pool.Config
	poolName string
	pooling  bool
	validate bool
}

// Option customizes one Create call
type Option func(*settings)

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *settings) {
		s.policy = p
	}
}

// WithTimeouts overrides the default timeout configuration
func WithTimeouts(t timeout.Config) Option {
	return func(s *settings) {
		s.timeouts = t
	}
}

// WithPoolConfig overrides the default pool configuration
func WithPoolConfig(c pool.Config) Option {
	return func(s *settings) {
		s.poolCfg = c
	}
}

// WithPoolName separates otherwise identical targets into distinct pools
func WithPoolName(name string) Option {
	return func(s *settings) {
		s.poolName = name
	}
}

// WithoutPooling makes the handle dial a dedicated connection per call
func WithoutPooling() Option {
	return func(s *settings) {
		s.pooling = false
	}
}

// WithoutValidation skips required-parameter checking
func WithoutValidation() Option {
	return func(s *settings) {
		s.validate = false
	}
}

// Create validates the parameters, resolves or creates the pool for the
// target's identity, and returns a handle wrapped with the retry policy and
// timeout budget template.
func (f *Factory) Create(ctx context.Context, backendType string, params driver.ConnParams, opts ...Option) (*Handle, error) {
	s := settings{
		policy:   retry.DefaultPolicy(),
		timeouts: timeout.DefaultConfig(),
		poolCfg:  pool.DefaultConfig(),
		pooling:  true,
		validate: true,
	}
	for _, opt := range opts {
		opt(&s)
	}

	drv, ok := f.drivers[backendType]
	if !ok {
		return nil, dberrors.New(dberrors.ErrorTypeConfig,
			fmt.Sprintf("unsupported backend type %q (available: %s)", backendType, strings.Join(f.Backends(), ", ")))
	}

	if s.validate {
		if missing := config.MissingParams(backendType, params); len(missing) > 0 {
			return nil, dberrors.New(dberrors.ErrorTypeConfig,
				fmt.Sprintf("missing required parameters for %s: %s", backendType, strings.Join(missing, ", "))).
				WithDetail("missing_fields", missing)
		}
	}
	if err := s.policy.Validate(); err != nil {
		return nil, err
	}

	if params.Port == 0 {
		if port, ok := config.DefaultPorts[backendType]; ok {
			params.Port = port
		}
	}

	h := &Handle{
		backend:  backendType,
		drv:      drv,
		params:   params,
		policy:   s.policy,
		timeouts: s.timeouts,
		executor: retry.NewExecutor(s.policy, retry.WithClock(f.clock)),
		pooled:   s.pooling,
		clock:    f.clock,
		logger:   f.logger.With(zap.String("backend", backendType)),
	}

	if !s.pooling {
		f.logger.Info("connector created without pooling",
			zap.String("backend", backendType),
			zap.String("address", params.Address()))
		return h, nil
	}

	identity := pool.Identity{
		Backend:  backendType,
		Address:  params.Address(),
		Database: params.Database,
		Name:     s.poolName,
	}

	p, created, err := f.registry.GetOrCreate(identity, func() (*pool.Pool, error) {
		return pool.New(pool.Options{
			Identity:       identity,
			Driver:         drv,
			Params:         params,
			Config:         s.poolCfg,
			ConnectTimeout: s.timeouts.Connection,
			Clock:          f.clock,
			Logger:         f.logger,
		})
	})
	if err != nil {
		return nil, err
	}
	if created && s.poolCfg.MinSize > 0 {
		if err := p.Warmup(ctx); err != nil {
			f.logger.Warn("pool warm-up incomplete", zap.String("pool", identity.String()), zap.Error(err))
		}
	}

	h.pool = p
	f.logger.Info("connector created",
		zap.String("backend", backendType),
		zap.String("pool", identity.String()),
		zap.Bool("pool_created", created))
	return h, nil
}

// FromConfig builds a connector from a structured config document
func (f *Factory) FromConfig(ctx context.Context, doc *config.Document) (*Handle, error) {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{}
	if doc.Retry != nil {
		opts = append(opts, WithRetryPolicy(doc.Retry.Policy()))
	}
	if doc.Timeouts != nil {
		opts = append(opts, WithTimeouts(doc.Timeouts.Config()))
	}
	if doc.Pool != nil {
		opts = append(opts, WithPoolConfig(doc.Pool.Config()))
	}
	if doc.PoolName != "" {
		opts = append(opts, WithPoolName(doc.PoolName))
	}
	return f.Create(ctx, doc.BackendType, doc.Connection, opts...)
}

// FromConfigFile builds a connector from a YAML or JSON config file with
// environment placeholders resolved
func (f *Factory) FromConfigFile(ctx context.Context, path string) (*Handle, error) {
	doc, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return f.FromConfig(ctx, doc)
}
