package csp

import (
	"context"
	"sync"
)

// Gate decides whether the provider serves an owner at all.
type Gate interface {
	Register(ownerID string)
	Refuse(ctx context.Context, ownerID string) bool
}

// OpenGate serves every owner.
type OpenGate struct{}

func (OpenGate) Register(string) {}

func (OpenGate) Refuse(context.Context, string) bool { return false }

// RegistrationGate refuses owners that never sent their public key.
type RegistrationGate struct {
	mu     sync.RWMutex
	owners map[string]struct{}
}

func NewRegistrationGate() *RegistrationGate {
	return &RegistrationGate{owners: make(map[string]struct{})}
}

func (g *RegistrationGate) Register(ownerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owners[ownerID] = struct{}{}
}

func (g *RegistrationGate) Refuse(_ context.Context, ownerID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.owners[ownerID]
	return !ok
}
