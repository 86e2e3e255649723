// Package state keeps per-session values for stateful interfaces. A value
// is created lazily from the interface default, replaced after every
// successful stateful prediction and never removed. Concurrent writers for
// one session resolve last-write-wins.
package state

import (
	"context"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pkg/cache"
)

// Store maps session ids to state values.
type Store interface {
	// Get returns the stored value and whether one exists.
	Get(ctx context.Context, sessionID string) (any, bool, error)
	// Set replaces the session's value.
	Set(ctx context.Context, sessionID string, value any) error
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	sessions cache.Cache[any]
}

// NewMemoryStore creates an in-memory store. registry may be nil.
func NewMemoryStore(registry metric.MetricsRegistrar) (*MemoryStore, error) {
	var opts []cache.Option[any]
	if registry != nil {
		opts = append(opts, cache.WithMetrics[any](registry, "session_state"))
	}
	c, err := cache.NewSimple(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "MemoryStore", "NewMemoryStore", "create session cache")
	}
	return &MemoryStore{sessions: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (any, bool, error) {
	v, ok := s.sessions.Get(sessionID)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID string, value any) error {
	if _, err := s.sessions.Set(sessionID, value); err != nil {
		return errors.Wrap(err, "MemoryStore", "Set", "store session state")
	}
	return nil
}

// Len returns the number of sessions holding state.
func (s *MemoryStore) Len() int { return s.sessions.Size() }

type scoped struct {
	Store
	scope string
}

// Scoped returns a view of s whose session ids are namespaced by scope, so
// several interfaces can share one backing store.
func Scoped(s Store, scope string) Store {
	return scoped{Store: s, scope: scope}
}

func (s scoped) Get(ctx context.Context, sessionID string) (any, bool, error) {
	return s.Store.Get(ctx, s.scope+"/"+sessionID)
}

func (s scoped) Set(ctx context.Context, sessionID string, value any) error {
	return s.Store.Set(ctx, s.scope+"/"+sessionID, value)
}
