// Package registry maintains the composite-identifier → provider mapping
// discovered at model enumeration.
package registry

import (
	"strings"
	"sync"

	"github.com/lukele/CodexMonitor/internal/innerproto"
)

const separator = "/"

// Entry is a model entry as advertised outward by the bridge.
type Entry struct {
	CompositeID      string
	InnerModelID     string
	Provider         string
	DisplayName      string
	ReasoningCapable bool
	DefaultReasoning string
	IsDefault        bool
}

// Registry maps composite model identifiers to their provider.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry // keyed by composite id

	// guessedProviders caches providers inferred from non-composite ids for
	// the remainder of the session.
	guessedProviders map[string]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries:          make(map[string]*Entry),
		guessedProviders: make(map[string]string),
	}
}

// Composite joins provider and inner model id into the outer composite form.
func Composite(provider, innerModelID string) string {
	return provider + separator + innerModelID
}

// Populate replaces the registry contents from a get_available_models
// response, populated lazily by forwarding a model-enumeration command to
// the agent.
func (r *Registry) Populate(models []innerproto.ModelEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*Entry, len(models))
	for _, m := range models {
		composite := Composite(m.Provider, m.ID)
		r.entries[composite] = &Entry{
			CompositeID:      composite,
			InnerModelID:     m.ID,
			Provider:         m.Provider,
			DisplayName:      m.Name,
			ReasoningCapable: m.ReasoningCapable,
			DefaultReasoning: m.DefaultReasoning,
			IsDefault:        m.IsDefault,
		}
	}
}

// List returns all registry entries.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Get looks up a composite identifier.
func (r *Registry) Get(compositeID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[compositeID]
	return e, ok
}

// wellKnownPrefixes maps model-name prefixes to provider, checked in order.
var wellKnownPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude", "anthropic"},
	{"gpt", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"gemini", "google"},
	{"mistral", "mistral"},
	{"codestral", "mistral"},
	{"devstral", "mistral"},
}

const (
	providerOpencode = "opencode"
	providerDefault  = "anthropic"
)

// Resolve parses a client-supplied model identifier into (provider, inner
// id). An id containing the separator is split at it, whether or not the
// registry knows it. A bare (legacy) id is looked up by inner model id; if
// no entry has it, the provider is guessed from well-known model-name
// prefixes and the guess is cached for the remainder of the session.
func (r *Registry) Resolve(modelID string) (provider, innerID string) {
	if idx := strings.Index(modelID, separator); idx >= 0 {
		candidateProvider, candidateInner := modelID[:idx], modelID[idx+1:]
		if _, ok := r.Get(modelID); ok {
			return candidateProvider, candidateInner
		}
		// Composite-shaped but unknown to the registry: trust the shape.
		return candidateProvider, candidateInner
	}

	// Non-composite (legacy) identifier: look it up by inner model id first.
	// If several providers list the same inner id, any one of them is returned.
	r.mu.RLock()
	for _, e := range r.entries {
		if e.InnerModelID == modelID {
			r.mu.RUnlock()
			return e.Provider, e.InnerModelID
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.guessedProviders[modelID]; ok {
		return cached, modelID
	}

	provider = guessProvider(modelID)
	r.guessedProviders[modelID] = provider
	return provider, modelID
}

// guessProvider maps a bare model name to a provider by well-known prefix.
// An empty id defaults to anthropic; anything else that matches no known
// vendor prefix is assumed to be served by the local opencode aggregator.
func guessProvider(modelID string) string {
	if modelID == "" {
		return providerDefault
	}
	lower := strings.ToLower(modelID)
	for _, wp := range wellKnownPrefixes {
		if strings.HasPrefix(lower, wp.prefix) {
			return wp.provider
		}
	}
	return providerOpencode
}
