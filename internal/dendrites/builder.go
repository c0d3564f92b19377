package dendrites

import (
	"context"
	"sort"
	"time"

	"github.com/axone/ax-server/internal/domain/cell"
	"github.com/axone/ax-server/internal/domain/neuron"
	"github.com/axone/ax-server/internal/observability"
)

// Store materializes name-referenced dendrites: for every name it guarantees
// a cell and a neuron under the user's "Dendrites" bucket exist, and returns
// the resolved {neuron id, cell name} pairs. Implementations must be
// all-or-nothing.
type Store interface {
	MaterializeNames(ctx context.Context, userID string, names []string) ([]cell.NameID, error)
}

// Builder resolves an incoming dendrite list (mixed id and name references)
// to a deduplicated set of neuron references.
type Builder struct {
	store Store
	prom  *observability.Prom
}

func NewBuilder(store Store, prom *observability.Prom) *Builder {
	return &Builder{store: store, prom: prom}
}

// Resolve turns the request's dendrite entries into {id, name} pairs. Entries
// already carrying an id pass through untouched; names are materialized via
// the store. With no names present the store is never touched and the input
// comes back unchanged.
func (b *Builder) Resolve(ctx context.Context, userID string, refs []neuron.DendriteRef) ([]cell.NameID, error) {
	start := time.Now()

	existing, names := Partition(refs)

	if len(names) == 0 {
		return existing, nil
	}

	created, err := b.store.MaterializeNames(ctx, userID, names)

	if err != nil {
		return nil, err
	}

	if b.prom != nil {
		b.prom.DendritesResolved.WithLabelValues("existing").Add(float64(len(existing)))
		b.prom.DendritesResolved.WithLabelValues("materialized").Add(float64(len(created)))
		b.prom.ResolveDuration.Observe(time.Since(start).Seconds())
	}

	return Union(existing, created), nil
}

// Partition splits dendrite refs into pass-through {id, name} pairs and the
// set of names needing materialization. Duplicate names collapse; the name
// list comes back sorted so batch execution order is deterministic.
func Partition(refs []neuron.DendriteRef) ([]cell.NameID, []string) {
	existing := make([]cell.NameID, 0, len(refs))
	seen := make(map[string]struct{})

	for _, ref := range refs {
		if ref.ID != "" {
			existing = append(existing, cell.NameID{ID: ref.ID, Name: ref.Name})
			continue
		}
		if ref.Name == "" {
			continue
		}
		seen[ref.Name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return existing, names
}

// Union merges two reference lists, treating entries as the same dendrite
// when either the id or the name matches. First occurrence wins, so an entry
// supplied by id absorbs a later duplicate resolved by name and vice versa.
func Union(a, b []cell.NameID) []cell.NameID {
	out := make([]cell.NameID, 0, len(a)+len(b))
	byID := make(map[string]struct{}, len(a)+len(b))
	byName := make(map[string]struct{}, len(a)+len(b))

	for _, nid := range append(append([]cell.NameID(nil), a...), b...) {
		if nid.ID != "" {
			if _, dup := byID[nid.ID]; dup {
				continue
			}
		}
		if nid.Name != "" {
			if _, dup := byName[nid.Name]; dup {
				continue
			}
		}

		out = append(out, nid)

		if nid.ID != "" {
			byID[nid.ID] = struct{}{}
		}
		if nid.Name != "" {
			byName[nid.Name] = struct{}{}
		}
	}

	return out
}

// UniqueByID drops later entries sharing an id with an earlier one.
func UniqueByID(refs []cell.NameID) []cell.NameID {
	out := make([]cell.NameID, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))

	for _, nid := range refs {
		if _, dup := seen[nid.ID]; dup {
			continue
		}
		seen[nid.ID] = struct{}{}
		out = append(out, nid)
	}

	return out
}

// IDs projects the id column of a reference list.
func IDs(refs []cell.NameID) []string {
	out := make([]string, 0, len(refs))
	for _, nid := range refs {
		out = append(out, nid.ID)
	}
	return out
}
