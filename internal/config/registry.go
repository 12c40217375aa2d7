package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/voicewirehq/voicewire/pkg/transport"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTransport] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TransportFactory constructs a transport provider from its configuration
// entry.
type TransportFactory func(ProviderConfig) (transport.Provider, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]TransportFactory),
	}
}

// RegisterTransport registers a transport provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// CreateTransport instantiates a transport provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTransport(entry ProviderConfig) (transport.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transports[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// TransportNames returns the registered provider names in sorted order.
func (r *Registry) TransportNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.transports))
}
