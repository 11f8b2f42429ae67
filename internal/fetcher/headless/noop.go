package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop implements Fetcher but always fails; it stands in when headless
// promotion is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns ErrDisabled.
func (Noop) Fetch(_ context.Context, _ enrichment.FetchRequest) (enrichment.FetchResponse, error) {
	return enrichment.FetchResponse{}, ErrDisabled
}
