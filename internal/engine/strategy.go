package engine

import (
	"context"
	"fmt"
	"sync"
)

// HopResult is what a strategy produces for one hop of the embed chain:
// either the URL to follow next, or (on the final hop) the resolved stream.
type HopResult struct {
	NextURL    string
	StreamURL  string
	OriginHost string
}

// Strategy is the sum type named in DESIGN NOTES §9: PureFetch or Browser,
// with escalation from one to the other decided per hop by shouldEscalate
// in engine.go. Modeled as an interface (not a closed enum)
// because the two implementations need independent state (an *http.Client
// for one, a stealth.Driver for the other) — see services/debrid.Provider
// in the teacher for the same shape applied to debrid providers.
type Strategy interface {
	Name() string
	// FetchHop performs one hop of the chain, returning either the next
	// URL to follow or a terminal stream URL.
	FetchHop(ctx context.Context, hop HopName, pageURL, referer string) (HopResult, error)
}

// HopName identifies which embed-chain hop is being walked (§4.1).
type HopName string

const (
	HopVidSrc      HopName = "vidsrc_embed"
	HopRCP         HopName = "cloudnestra_rcp"
	HopProRCP      HopName = "prorcp"
	HopShadowlands HopName = "shadowlands"
)

// Factory builds a Strategy instance on demand.
type Factory func() Strategy

// Registry manages named strategy factories, mirroring the mutex-protected
// factory-map pattern used for debrid provider registration in the teacher.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a strategy factory under a name ("purefetch" or "browser").
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get constructs a new Strategy instance by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// MustGet constructs a Strategy by name or returns an error.
func (r *Registry) MustGet(name string) (Strategy, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered", name)
	}
	return s, nil
}
