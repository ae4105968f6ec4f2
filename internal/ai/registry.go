package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown ai provider")

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry resolves the provider identifier stored on a catalog entry.
// Identifiers are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = f
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(name)]
	return ok
}

// Names lists registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Get builds a provider bound to model. Unknown identifiers fail with
// ErrUnknownProvider, also marked as a rejection so it is never retried.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q (model %s)", ErrProviderRejection, ErrUnknownProvider, name, model)
	}
	return f(ctx, model)
}
