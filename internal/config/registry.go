package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/corvidlabs/attune/pkg/provider/ai"
	"github.com/corvidlabs/attune/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ai  map[string]func(ProviderEntry) (ai.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		ai:  make(map[string]func(ProviderEntry) (ai.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Provider, error)),
	}
}

// RegisterAI registers an AI provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAI(name string, factory func(ProviderEntry) (ai.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ai[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateAI instantiates an AI provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateAI(entry ProviderEntry) (ai.Provider, error) {
	r.mu.RLock()
	factory, ok := r.ai[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ai/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAIChain instantiates every provider in the chain, primary first.
func (r *Registry) CreateAIChain(chain ProviderChain) ([]ai.Provider, error) {
	entries := chain.All()
	out := make([]ai.Provider, 0, len(entries))
	for _, entry := range entries {
		p, err := r.CreateAI(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CreateSTTChain instantiates every provider in the chain, primary first.
func (r *Registry) CreateSTTChain(chain ProviderChain) ([]stt.Provider, error) {
	entries := chain.All()
	out := make([]stt.Provider, 0, len(entries))
	for _, entry := range entries {
		p, err := r.CreateSTT(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
