// Package simple contains permissive policy implementations.
package simple

import (
	"context"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// Policy lets every fetch through immediately. It is used when per-site
// rate limiting is disabled.
type Policy struct{}

var _ enrichment.Limiter = Policy{}

// New creates a new Policy.
func New() Policy {
	return Policy{}
}

// Wait returns at once unless ctx has already ended.
func (Policy) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
