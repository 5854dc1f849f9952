package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/models"
)

// ErrStoreConflict is returned when a transaction lost a race with a
// concurrent writer (overlap guard, serialization failure, deadlock or a
// second open ticket for the same subject). The caller may retry.
var ErrStoreConflict = errors.New("store conflict")

// DefaultTicketLimit caps ticket listings when no limit is given.
const DefaultTicketLimit = 100

// TicketFilter selects tickets for listing. An empty Status matches all.
type TicketFilter struct {
	Status models.TicketStatus
	Limit  int
}

// Reader is the read side shared by a Store and its transactions.
// Lookups return nil, nil when the record does not exist.
type Reader interface {
	// GetParcel returns the parcel with the given id.
	GetParcel(ctx context.Context, id uuid.UUID) (*models.Parcel, error)

	// GetTicket returns the conflict ticket with the given id.
	GetTicket(ctx context.Context, id uuid.UUID) (*models.ConflictTicket, error)

	// ListTickets returns tickets newest first.
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.ConflictTicket, error)

	// CountTickets counts tickets in the given status.
	CountTickets(ctx context.Context, status models.TicketStatus) (int, error)

	// FindActiveAt returns the active parcel whose boundary contains the point.
	FindActiveAt(ctx context.Context, point geometry.LatLng) (*models.Parcel, error)
}

// Tx is a unit of work. Point reads inside a transaction lock the returned
// rows until commit where the backend supports row locks.
type Tx interface {
	Reader

	// ActiveCandidates returns every active parcel whose boundary may
	// intersect the given one, in discovery order (oldest first). It is a
	// conservative prefilter: touching parcels are included.
	ActiveCandidates(ctx context.Context, boundary geometry.Polygon) ([]models.Parcel, error)

	// InsertParcel persists a new parcel.
	InsertParcel(ctx context.Context, p *models.Parcel) error

	// UpdateParcelStatus moves a parcel to a new lifecycle status.
	UpdateParcelStatus(ctx context.Context, id uuid.UUID, status models.ParcelStatus, at time.Time) error

	// InsertTicket persists a new open conflict ticket.
	InsertTicket(ctx context.Context, t *models.ConflictTicket) error

	// ResolveTicket records the decision on an open ticket.
	ResolveTicket(ctx context.Context, id uuid.UUID, resolution models.Resolution, resolvedBy string, at time.Time) error
}

// LockSet names the advisory locks a transaction holds until it ends.
// Shared keys may be held by many transactions at once; an exclusive key
// excludes every other holder of the same key, shared or exclusive.
type LockSet struct {
	Shared    []int64
	Exclusive []int64
}

// Merge returns the union of both lock sets. A key requested exclusively by
// either side is held exclusively.
func (l LockSet) Merge(o LockSet) LockSet {
	exclusive := normalizeKeys(append(slices.Clone(l.Exclusive), o.Exclusive...))
	shared := make([]int64, 0, len(l.Shared)+len(o.Shared))
	for _, k := range append(slices.Clone(l.Shared), o.Shared...) {
		if !slices.Contains(exclusive, k) {
			shared = append(shared, k)
		}
	}
	return LockSet{Shared: normalizeKeys(shared), Exclusive: exclusive}
}

// Store is the persistent parcel and ticket store.
type Store interface {
	Reader

	// InTx runs fn in a transaction holding the given locks until commit or
	// rollback. Shared keys are acquired before exclusive ones, each group in
	// ascending order. fn's error rolls the transaction back and is returned
	// unchanged; lost races surface as ErrStoreConflict.
	InTx(ctx context.Context, locks LockSet, fn func(tx Tx) error) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// normalizeKeys sorts and deduplicates lock keys so that every transaction
// acquires locks in the same order.
func normalizeKeys(keys []int64) []int64 {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
