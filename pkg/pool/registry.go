package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/logger"
)

// Identity keys one logical (backend, endpoint, database) target. Repeated
// factory calls for the same identity share one pool and its metrics.
type Identity struct {
	Backend  string `json:"backend"`
	Address  string `json:"address"`
	Database string `json:"database"`
	// Name is an optional explicit pool name that separates otherwise
	// identical targets
	Name string `json:"name,omitempty"`
}

func (id Identity) String() string {
	s := id.Backend + "://" + id.Address + "/" + id.Database
	if id.Name != "" {
		s += "#" + id.Name
	}
	return s
}

// Registry is the process-wide mapping from pool identity to pool. It is an
// explicit, injectable object: constructed once, passed to the factory, torn
// down with CloseAll on shutdown.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	logger *zap.Logger
}

// NewRegistry creates an empty pool registry
func NewRegistry() *Registry {
	return &Registry{
		pools:  make(map[string]*Pool),
		logger: logger.Get().With(zap.String("component", "pool_registry")),
	}
}

// GetOrCreate returns the pool registered under id, building and registering
// one with build on first use. The second result reports whether a new pool
// was created.
func (r *Registry) GetOrCreate(id Identity, build func() (*Pool, error)) (*Pool, bool, error) {
	key := id.String()

	r.mu.RLock()
	p, ok := r.pools[key]
	r.mu.RUnlock()
	if ok {
		return p, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[key]; ok {
		return p, false, nil
	}

	p, err := build()
	if err != nil {
		return nil, false, err
	}
	r.pools[key] = p
	r.logger.Info("pool registered", zap.String("pool", key))
	return p, true, nil
}

// Lookup returns the pool registered under id, if any
func (r *Registry) Lookup(id Identity) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id.String()]
	return p, ok
}

// List returns all registered pools
func (r *Registry) List() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	return pools
}

// Remove closes and deregisters the pool under id
func (r *Registry) Remove(ctx context.Context, id Identity) error {
	key := id.String()

	r.mu.Lock()
	p, ok := r.pools[key]
	if ok {
		delete(r.pools, key)
	}
	r.mu.Unlock()

	if !ok {
		return dberrors.New(dberrors.ErrorTypeConfig, "pool not found: "+key)
	}
	return p.Close(ctx)
}

// CloseAll tears down every registered pool. The registry is empty afterwards.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.logger.Info("all pools closed", zap.Int("count", len(pools)))
	return firstErr
}
