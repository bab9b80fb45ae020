package mocksignal

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/pkg/types"
)

// Catalog answers whether a signal path exists in the databroker.
type Catalog interface {
	Metadata(ctx context.Context, path string) (*databroker.Metadata, error)
}

// Restarter restarts the mock provider so it picks up a new signal list.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Skip reasons reported in an Outcome.
const (
	ReasonPresent   = "already present"
	ReasonUnknown   = "unknown signal"
	ReasonMetadata  = "metadata error"
	ReasonDuplicate = "duplicate path"
)

// Skip is a path that was not added, with the reason.
type Skip struct {
	Path   string
	Reason string
}

// Outcome is the result of a best-effort synchronization.
type Outcome struct {
	Added     []string
	Skipped   []Skip
	Restarted bool
}

// Changed reports whether the store was rewritten.
func (o Outcome) Changed() bool { return len(o.Added) > 0 }

// Synchronizer reconciles the store with requested signals.
type Synchronizer struct {
	store    *Store
	catalog  Catalog
	provider Restarter
}

// NewSynchronizer wires a store to the databroker catalog and mock provider.
func NewSynchronizer(store *Store, catalog Catalog, provider Restarter) *Synchronizer {
	return &Synchronizer{store: store, catalog: catalog, provider: provider}
}

// Store returns the underlying store.
func (s *Synchronizer) Store() *Store { return s.store }

// Offer adds every requested path that is absent from the store and known to
// the databroker, with the default value. The provider is restarted only when
// something was added.
func (s *Synchronizer) Offer(ctx context.Context, paths []string) (Outcome, error) {
	var out Outcome
	if len(paths) == 0 {
		return out, nil
	}

	_, err := s.store.Update(func(current []types.MockSignal) ([]types.MockSignal, bool, error) {
		present := make(map[string]bool, len(current))
		for _, e := range current {
			present[e.Signal] = true
		}
		next := current
		for _, p := range paths {
			if present[p] {
				out.Skipped = append(out.Skipped, Skip{Path: p, Reason: ReasonPresent})
				continue
			}
			if reason := s.validate(ctx, p); reason != "" {
				out.Skipped = append(out.Skipped, Skip{Path: p, Reason: reason})
				continue
			}
			present[p] = true
			next = append(next, types.MockSignal{Signal: p, Value: types.DefaultMockValue})
			out.Added = append(out.Added, p)
		}
		return next, len(out.Added) > 0, nil
	})
	if err != nil {
		return out, fmt.Errorf("offer signals: %w", err)
	}
	if !out.Changed() {
		return out, nil
	}
	if err := s.provider.Restart(ctx); err != nil {
		return out, fmt.Errorf("restart mock provider: %w", err)
	}
	out.Restarted = true
	return out, nil
}

// Replace validates entries against the databroker, persists the valid ones
// and always restarts the provider. It returns the persisted list.
func (s *Synchronizer) Replace(ctx context.Context, entries []types.MockSignal) ([]types.MockSignal, Outcome, error) {
	var out Outcome
	valid := make([]types.MockSignal, 0, len(entries))
	seen := make(map[string]bool, len(entries))

	_, err := s.store.Update(func([]types.MockSignal) ([]types.MockSignal, bool, error) {
		for _, e := range entries {
			if seen[e.Signal] {
				out.Skipped = append(out.Skipped, Skip{Path: e.Signal, Reason: ReasonDuplicate})
				continue
			}
			if reason := s.validate(ctx, e.Signal); reason != "" {
				out.Skipped = append(out.Skipped, Skip{Path: e.Signal, Reason: reason})
				continue
			}
			seen[e.Signal] = true
			valid = append(valid, e)
			out.Added = append(out.Added, e.Signal)
		}
		return valid, true, nil
	})
	if err != nil {
		return nil, out, fmt.Errorf("replace signals: %w", err)
	}
	if err := s.provider.Restart(ctx); err != nil {
		return valid, out, fmt.Errorf("restart mock provider: %w", err)
	}
	out.Restarted = true
	return valid, out, nil
}

func (s *Synchronizer) validate(ctx context.Context, path string) string {
	if path == "" {
		return ReasonUnknown
	}
	if _, err := s.catalog.Metadata(ctx, path); err != nil {
		if errors.Is(err, databroker.ErrNotFound) {
			return ReasonUnknown
		}
		return ReasonMetadata + ": " + err.Error()
	}
	return ""
}
