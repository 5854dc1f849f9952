// Package overlap finds the active parcels a candidate boundary collides with
// and derives the lock set that serializes submissions over the same ground.
package overlap

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/repository"
)

// Match is an active parcel whose boundary materially overlaps a candidate.
type Match struct {
	Parcel  models.Parcel
	Overlap geometry.Overlap
}

// Index answers overlap queries against the active parcel set. The store
// supplies a conservative candidate list; the engine applies the exact
// intersection and epsilon test.
type Index struct {
	engine *geometry.Engine
}

// NewIndex creates an Index using the given engine for exact tests.
func NewIndex(engine *geometry.Engine) *Index {
	return &Index{engine: engine}
}

// Query returns the active parcels that materially overlap candidate, in
// discovery order. It only reads; callers that act on the result must hold
// the candidate's lock set in the same transaction.
func (i *Index) Query(ctx context.Context, tx repository.Tx, candidate geometry.Polygon) ([]Match, error) {
	ring, err := i.engine.Validate(candidate)
	if err != nil {
		return nil, err
	}

	candidates, err := tx.ActiveCandidates(ctx, ring)
	if err != nil {
		return nil, fmt.Errorf("overlap query failed: %w", err)
	}

	matches := make([]Match, 0)
	for _, p := range candidates {
		if !p.IsActive() {
			continue
		}
		overlap, err := i.engine.Intersection(ring, p.Boundary)
		if err != nil {
			return nil, fmt.Errorf("failed to intersect with active parcel %s: %w", p.ID, err)
		}
		if overlap == nil {
			continue
		}
		matches = append(matches, Match{Parcel: p, Overlap: *overlap})
	}
	return matches, nil
}
