package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// HeuristicFactory creates a heuristic decoder instance.
type HeuristicFactory func() HeuristicDecoder

// ReporterFactory creates a reporter instance.
type ReporterFactory func() Reporter

type registry[F any] struct {
	mu        sync.RWMutex
	kind      string
	factories map[string]F
	order     []string
}

func newRegistry[F any](kind string) *registry[F] {
	return &registry[F]{kind: kind, factories: make(map[string]F)}
}

func (r *registry[F]) register(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("%s %q already registered", r.kind, name))
	}
	r.factories[name] = f
	r.order = append(r.order, name)
}

func (r *registry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%s %q not found", r.kind, name)
	}
	return f, nil
}

// names returns registration order, which is also heuristic try order.
func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Reset clears the registry. Intended for tests.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]F)
	r.order = nil
}

var (
	heuristicReg = newRegistry[HeuristicFactory]("heuristic decoder")
	reporterReg  = newRegistry[ReporterFactory]("reporter")
)

// RegisterHeuristic registers a heuristic decoder. Panics on duplicate names.
func RegisterHeuristic(name string, f HeuristicFactory) { heuristicReg.register(name, f) }

// GetHeuristicFactory looks up a heuristic decoder by name.
func GetHeuristicFactory(name string) (HeuristicFactory, error) { return heuristicReg.get(name) }

// Heuristics instantiates every registered heuristic decoder in
// registration order.
func Heuristics() []HeuristicDecoder {
	names := heuristicReg.names()
	out := make([]HeuristicDecoder, 0, len(names))
	for _, n := range names {
		if f, err := heuristicReg.get(n); err == nil {
			out = append(out, f())
		}
	}
	return out
}

// RegisterReporter registers a reporter. Panics on duplicate names.
func RegisterReporter(name string, f ReporterFactory) { reporterReg.register(name, f) }

// GetReporterFactory looks up a reporter by name.
func GetReporterFactory(name string) (ReporterFactory, error) { return reporterReg.get(name) }

// ReporterNames lists registered reporters, sorted.
func ReporterNames() []string {
	names := reporterReg.names()
	sort.Strings(names)
	return names
}
