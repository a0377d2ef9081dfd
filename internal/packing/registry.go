package packing

import (
	"fmt"
	"sync"
)

// ErrAlgorithmNotFound is returned by lookups for unregistered names.
type ErrAlgorithmNotFound struct {
	Name string
}

func (e *ErrAlgorithmNotFound) Error() string {
	return fmt.Sprintf("ALGORITHM_NOT_FOUND: unknown algorithm %q", e.Name)
}

// Registry maps algorithm names to strategies, keeping the 1D and 2D
// families separate. Registration happens at startup; lookups are read-only.
type Registry struct {
	mu   sync.RWMutex
	oneD map[string]Strategy1D
	twoD map[string]Strategy2D
}

var (
	defaultRegistry *Registry
	registryOnce    sync.Once
)

// DefaultRegistry returns the process-wide registry with the built-in
// strategies registered. Initialization is idempotent.
func DefaultRegistry() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register1D(Algo1DFFD, FirstFitDecreasing)
		defaultRegistry.Register1D(Algo1DBFD, BestFitDecreasing)
		defaultRegistry.Register2D(Algo2DBottomLeft, BottomLeftFill)
		defaultRegistry.Register2D(Algo2DGuillotine, GuillotinePack)
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry. Used by tests that need isolation.
func NewRegistry() *Registry {
	return &Registry{
		oneD: make(map[string]Strategy1D),
		twoD: make(map[string]Strategy2D),
	}
}

// Register1D adds or replaces a 1D strategy.
func (r *Registry) Register1D(name string, s Strategy1D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oneD[name] = s
}

// Register2D adds or replaces a 2D strategy.
func (r *Registry) Register2D(name string, s Strategy2D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.twoD[name] = s
}

// Lookup1D returns the named 1D strategy.
func (r *Registry) Lookup1D(name string) (Strategy1D, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.oneD[name]
	if !ok {
		return nil, &ErrAlgorithmNotFound{Name: name}
	}
	return s, nil
}

// Lookup2D returns the named 2D strategy.
func (r *Registry) Lookup2D(name string) (Strategy2D, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.twoD[name]
	if !ok {
		return nil, &ErrAlgorithmNotFound{Name: name}
	}
	return s, nil
}

// Is1D reports whether the name belongs to the 1D family. Unknown names are
// neither family.
func Is1D(name string) bool {
	return name == Algo1DFFD || name == Algo1DBFD
}

// Is2D reports whether the name belongs to the 2D family.
func Is2D(name string) bool {
	return name == Algo2DBottomLeft || name == Algo2DGuillotine
}

// Known reports whether the name is a recognized algorithm.
func Known(name string) bool {
	return Is1D(name) || Is2D(name)
}
