// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/objectgraph/lib/object"
)

// Factory creates an empty node of one kind. The registry overwrites
// the returned node's type chain with the chain being resolved, so a
// factory registered for an ancestor still yields a node that hashes
// like the original.
type Factory func() *Node

// Registry maps type discriminators to factories. It is populated once
// by the modules that own node kinds and is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	fallback  Factory
}

// NewRegistry returns an empty registry. Resolving any type chain
// fails until kinds are registered.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDynamicRegistry returns a registry that resolves every type chain,
// producing schema-less nodes for kinds nobody registered. Inspection
// tools use it to compose graphs without the host object model.
func NewDynamicRegistry() *Registry {
	registry := NewRegistry()
	registry.fallback = func() *Node { return New("", nil) }
	return registry
}

// Register associates a discriminator with a factory. Registering the
// same discriminator twice is an error.
func (r *Registry) Register(discriminator string, factory Factory) error {
	if discriminator == "" {
		return fmt.Errorf("node: empty discriminator")
	}
	if factory == nil {
		return fmt.Errorf("node: nil factory for %q", discriminator)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[discriminator]; exists {
		return fmt.Errorf("node: discriminator %q already registered", discriminator)
	}
	r.factories[discriminator] = factory
	return nil
}

// RegisterKind registers the most derived segment of typeChain with a
// factory producing nodes of that chain and schema.
func (r *Registry) RegisterKind(typeChain string, schema *Schema) error {
	segments := SplitTypeChain(typeChain)
	if len(segments) == 0 {
		return fmt.Errorf("node: empty type chain")
	}
	return r.Register(segments[0], func() *Node { return New(typeChain, schema) })
}

// Resolve finds the factory for the most derived known segment of
// typeChain and returns it with the matched segment.
func (r *Registry) Resolve(typeChain string) (Factory, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, segment := range SplitTypeChain(typeChain) {
		if factory, ok := r.factories[segment]; ok {
			return factory, segment, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, "", nil
	}
	return nil, "", fmt.Errorf("%w: %q", object.ErrUnresolvedType, typeChain)
}

// Instantiate resolves typeChain and returns a fresh node carrying the
// full chain.
func (r *Registry) Instantiate(typeChain string) (*Node, error) {
	factory, _, err := r.Resolve(typeChain)
	if err != nil {
		return nil, err
	}
	created := factory()
	if created == nil {
		return nil, fmt.Errorf("node: factory for %q returned nil", typeChain)
	}
	created.typeChain = typeChain
	if created.props == nil {
		created.props = make(map[string]any)
	}
	return created, nil
}
