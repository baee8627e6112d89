// Package strategy turns hidden-state sequences into trading signals and
// replays those signals through the backtesting engine. It also provides a
// Registry for managing multiple signal mappers by name.
package strategy

import (
	"context"
	"sort"

	"regimetrader/internal/domain"
)

// Strategy maps a hidden-state sequence onto bars as per-bar signals.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Signals returns a copy of bars with State and Signal populated from
	// states. len(states) must equal len(bars).
	Signals(ctx context.Context, bars []domain.Bar, states []int) ([]domain.Bar, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
