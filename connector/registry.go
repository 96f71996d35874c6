package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry maps connector names to implementations. It is built explicitly
// at startup; there is no discovery.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Connector
	order  []string
}

// NewRegistry creates a registry holding cs in order.
func NewRegistry(cs ...Connector) (*Registry, error) {
	r := &Registry{byName: make(map[string]Connector, len(cs))}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a connector. Names must be unique.
func (r *Registry) Register(c Connector) error {
	meta := c.Metadata()
	if err := meta.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[meta.Name]; dup {
		return fmt.Errorf("connector %q already registered", meta.Name)
	}
	r.byName[meta.Name] = c
	r.order = append(r.order, meta.Name)
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every connector in registration order.
func (r *Registry) All() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Select returns the named connectors in the order given.
// An empty names slice selects everything.
func (r *Registry) Select(names []string) ([]Connector, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Connector, 0, len(names))
	for _, name := range names {
		c, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown connector %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

// Close closes every registered connector and joins their errors.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.All() {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Metadata().Name, err))
		}
	}
	return errors.Join(errs...)
}

// Static is a connector that returns a fixed candidate list (or error).
// It backs fixtures and manual imports.
type Static struct {
	Meta       Metadata
	Candidates []Candidate
	Err        error
}

// NewStatic returns a Static connector.
func NewStatic(meta Metadata, candidates ...Candidate) *Static {
	return &Static{Meta: meta, Candidates: candidates}
}

func (s *Static) Metadata() Metadata { return s.Meta }

func (s *Static) Run(ctx context.Context) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]Candidate, len(s.Candidates))
	copy(out, s.Candidates)
	return out, nil
}

func (s *Static) Close() error { return nil }
