// Package memory keeps entities in-process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// Repository is an in-memory enrichment.EntityRepository.
type Repository struct {
	mu       sync.RWMutex
	entities map[string]enrichment.Entity
}

var _ enrichment.EntityRepository = (*Repository)(nil)

// NewRepository seeds a repository with the given entities.
func NewRepository(entities ...enrichment.Entity) *Repository {
	r := &Repository{entities: make(map[string]enrichment.Entity, len(entities))}
	for _, e := range entities {
		r.Put(e)
	}
	return r
}

// Put inserts or replaces an entity.
func (r *Repository) Put(entity enrichment.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entity.ID] = cloneEntity(entity)
}

// GetEntity returns a copy of the stored entity.
func (r *Repository) GetEntity(_ context.Context, entityID string) (enrichment.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return enrichment.Entity{}, fmt.Errorf("entity %s: %w", entityID, enrichment.ErrNotFound)
	}
	return cloneEntity(e), nil
}

// UpdateEntityIfNull fills only the fields that are currently empty.
func (r *Repository) UpdateEntityIfNull(_ context.Context, entityID string, fields enrichment.Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entityID, enrichment.ErrNotFound)
	}
	fill, _ := e.Fields.FillableFrom(fields)
	if fill.Website != "" {
		e.Website = fill.Website
	}
	if fill.Email != "" {
		e.Email = fill.Email
	}
	if fill.Phone != "" {
		e.Phone = fill.Phone
	}
	r.entities[entityID] = e
	return nil
}

// ListMissing returns ids of entities lacking a contact field, sorted, at
// most limit entries when limit > 0.
func (r *Repository) ListMissing(_ context.Context, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entities))
	for id, e := range r.entities {
		if e.Fields.Missing() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func cloneEntity(e enrichment.Entity) enrichment.Entity {
	e.TradingNames = append([]string(nil), e.TradingNames...)
	e.Associates = append([]enrichment.Associate(nil), e.Associates...)
	return e
}
