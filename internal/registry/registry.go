// Package registry materializes compliance control descriptors on first
// use and keeps a stable control-id to descriptor mapping for the process
// lifetime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"nhaguard/internal/domain"
)

// ErrUnknownControl is returned when no store can produce a descriptor for
// the requested control id. It aborts a validation run before Q1.
var ErrUnknownControl = errors.New("unknown control")

// Store fetches control descriptors from an external prompt/config store.
type Store interface {
	FetchControl(ctx context.Context, controlID string) (domain.ControlDescriptor, error)
}

// Registry caches descriptors per control id. Concurrent first-time Ensure
// calls for the same id collapse into a single fetch; every waiter receives
// the same descriptor.
type Registry struct {
	store Store

	group    singleflight.Group
	mu       sync.RWMutex
	controls map[string]domain.ControlDescriptor
}

func New(store Store) *Registry {
	return &Registry{store: store, controls: map[string]domain.ControlDescriptor{}}
}

// Ensure returns the descriptor for controlID, fetching and validating it
// on first use.
func (r *Registry) Ensure(ctx context.Context, controlID string) (domain.ControlDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.controls[controlID]
	r.mu.RUnlock()
	if ok {
		return desc, nil
	}

	v, err, _ := r.group.Do(controlID, func() (any, error) {
		// Re-check under the flight: a previous flight may have filled
		// the entry between the read above and this call.
		r.mu.RLock()
		cached, ok := r.controls[controlID]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
		fetched, err := r.store.FetchControl(ctx, controlID)
		if err != nil {
			return domain.ControlDescriptor{}, err
		}
		if err := validateDescriptor(controlID, fetched); err != nil {
			return domain.ControlDescriptor{}, err
		}
		r.mu.Lock()
		r.controls[controlID] = fetched
		r.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return domain.ControlDescriptor{}, err
	}
	return v.(domain.ControlDescriptor), nil
}

// Known reports whether controlID has already been materialized.
func (r *Registry) Known(controlID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.controls[controlID]
	return ok
}

func validateDescriptor(controlID string, desc domain.ControlDescriptor) error {
	if desc.ControlID != controlID {
		return fmt.Errorf("descriptor id %q does not match requested control %q", desc.ControlID, controlID)
	}
	if len(desc.Questions) == 0 {
		return fmt.Errorf("control %s: descriptor has no questions", controlID)
	}
	seen := map[string]bool{}
	for _, q := range desc.Questions {
		if q.Key == "" {
			return fmt.Errorf("control %s: question with empty key", controlID)
		}
		if seen[q.Key] {
			return fmt.Errorf("control %s: duplicate question key %s", controlID, q.Key)
		}
		seen[q.Key] = true
	}
	return nil
}
