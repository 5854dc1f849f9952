package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// square returns a ring with its south-west corner at (lat, lng).
func square(lat, lng, size float64) geometry.Polygon {
	return geometry.Polygon{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + size},
		{Lat: lat + size, Lng: lng + size},
		{Lat: lat + size, Lng: lng},
	}
}

func newParcel(t *testing.T, status models.ParcelStatus, boundary geometry.Polygon, createdAt time.Time) *models.Parcel {
	t.Helper()
	p := &models.Parcel{
		ID:        uuid.New(),
		OwnerRef:  "owner-1",
		Currency:  models.DefaultCurrency,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, p.SetBoundary(boundary))
	p.Title = models.DefaultTitle(p.AreaAcres)
	return p
}

func newTicket(subject uuid.UUID, colliding []uuid.UUID, createdAt time.Time) *models.ConflictTicket {
	return &models.ConflictTicket{
		ID:                 uuid.New(),
		SubjectParcelID:    subject,
		CollidingParcelIDs: colliding,
		Status:             models.TicketStatusOpen,
		OverlapSummary: models.OverlapSummary{
			CollidingParcelID: colliding[0],
			OverlapAreaM2:     1234.5,
			OverlapAcres:      geometry.ToAcres(1234.5),
			Percent:           25,
		},
		OverlapCount: len(colliding),
		CreatedAt:    createdAt,
	}
}

func insertParcels(t *testing.T, store Store, parcels ...*models.Parcel) {
	t.Helper()
	err := store.InTx(context.Background(), LockSet{}, func(tx Tx) error {
		for _, p := range parcels {
			if err := tx.InsertParcel(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func parcelIDs(parcels []models.Parcel) []uuid.UUID {
	ids := make([]uuid.UUID, len(parcels))
	for i, p := range parcels {
		ids[i] = p.ID
	}
	return ids
}

// runStoreContract exercises behaviour every Store implementation must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("parcel round trip", func(t *testing.T) {
		store := newStore(t)
		desc := "Fenced, road access"
		price := int64(4500000)
		p := newParcel(t, models.ParcelStatusActive, square(5.6, -0.2, 0.001), baseTime)
		p.Description = &desc
		p.Price = &price
		insertParcels(t, store, p)

		got, err := store.GetParcel(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, p.Title, got.Title)
		assert.Equal(t, desc, *got.Description)
		assert.Equal(t, price, *got.Price)
		assert.Equal(t, models.ParcelStatusActive, got.Status)
		assert.InDelta(t, p.AreaM2, got.AreaM2, 1e-6)
		require.Len(t, got.Boundary, 4)
		for i := range p.Boundary {
			assert.InDelta(t, p.Boundary[i].Lat, got.Boundary[i].Lat, 1e-9)
			assert.InDelta(t, p.Boundary[i].Lng, got.Boundary[i].Lng, 1e-9)
		}
		assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("missing records are nil", func(t *testing.T) {
		store := newStore(t)
		p, err := store.GetParcel(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, p)

		ticket, err := store.GetTicket(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, ticket)
	})

	t.Run("active candidates in discovery order", func(t *testing.T) {
		store := newStore(t)
		older := newParcel(t, models.ParcelStatusActive, square(5.5995, -0.2005, 0.001), baseTime)
		touching := newParcel(t, models.ParcelStatusActive, square(5.601, -0.2, 0.001), baseTime.Add(time.Minute))
		pending := newParcel(t, models.ParcelStatusPendingReview, square(5.6, -0.2, 0.001), baseTime.Add(2*time.Minute))
		far := newParcel(t, models.ParcelStatusActive, square(6.0, -1.0, 0.001), baseTime.Add(3*time.Minute))
		insertParcels(t, store, touching, older, pending, far)

		probe := square(5.6, -0.2, 0.001)
		var found []models.Parcel
		err := store.InTx(ctx, LockSet{Shared: []int64{1}, Exclusive: []int64{2}}, func(tx Tx) error {
			var err error
			found, err = tx.ActiveCandidates(ctx, probe)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{older.ID, touching.ID}, parcelIDs(found))
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		store := newStore(t)
		p := newParcel(t, models.ParcelStatusActive, square(5.6, -0.2, 0.001), baseTime)
		boom := errors.New("boom")

		err := store.InTx(ctx, LockSet{}, func(tx Tx) error {
			require.NoError(t, tx.InsertParcel(ctx, p))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.GetParcel(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ticket lifecycle", func(t *testing.T) {
		store := newStore(t)
		collider := newParcel(t, models.ParcelStatusActive, square(5.6, -0.2, 0.001), baseTime)
		subject := newParcel(t, models.ParcelStatusPendingReview, square(5.6005, -0.2005, 0.001), baseTime.Add(time.Minute))
		other := newParcel(t, models.ParcelStatusPendingReview, square(5.6005, -0.1995, 0.001), baseTime.Add(2*time.Minute))
		insertParcels(t, store, collider, subject, other)

		first := newTicket(subject.ID, []uuid.UUID{collider.ID}, baseTime.Add(time.Minute))
		second := newTicket(other.ID, []uuid.UUID{collider.ID, subject.ID}, baseTime.Add(2*time.Minute))
		require.NoError(t, store.InTx(ctx, LockSet{}, func(tx Tx) error {
			if err := tx.InsertTicket(ctx, first); err != nil {
				return err
			}
			return tx.InsertTicket(ctx, second)
		}))

		duplicate := newTicket(subject.ID, []uuid.UUID{collider.ID}, baseTime.Add(3*time.Minute))
		err := store.InTx(ctx, LockSet{}, func(tx Tx) error { return tx.InsertTicket(ctx, duplicate) })
		assert.ErrorIs(t, err, ErrStoreConflict, "one open ticket per subject")

		open, err := store.ListTickets(ctx, TicketFilter{Status: models.TicketStatusOpen})
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, second.ID, open[0].ID, "newest first")
		assert.Equal(t, []uuid.UUID{collider.ID, subject.ID}, open[0].CollidingParcelIDs)
		assert.Equal(t, 2, open[0].OverlapCount)
		assert.Equal(t, second.OverlapSummary, open[0].OverlapSummary)

		resolvedAt := baseTime.Add(time.Hour)
		require.NoError(t, store.InTx(ctx, LockSet{}, func(tx Tx) error {
			if err := tx.ResolveTicket(ctx, first.ID, models.ResolutionRejected, "reviewer-7", resolvedAt); err != nil {
				return err
			}
			return tx.UpdateParcelStatus(ctx, subject.ID, models.ParcelStatusArchived, resolvedAt)
		}))

		got, err := store.GetTicket(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TicketStatusResolved, got.Status)
		assert.Equal(t, models.ResolutionRejected, *got.Resolution)
		assert.Equal(t, "reviewer-7", *got.ResolvedBy)
		assert.True(t, resolvedAt.Equal(*got.ResolvedAt))

		archived, err := store.GetParcel(ctx, subject.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ParcelStatusArchived, archived.Status)

		err = store.InTx(ctx, LockSet{}, func(tx Tx) error {
			return tx.ResolveTicket(ctx, first.ID, models.ResolutionApproved, "reviewer-8", resolvedAt)
		})
		assert.ErrorIs(t, err, ErrRecordNotFound, "resolved tickets cannot be resolved again")

		n, err := store.CountTickets(ctx, models.TicketStatusOpen)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		all, err := store.ListTickets(ctx, TicketFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("update of missing parcel", func(t *testing.T) {
		store := newStore(t)
		err := store.InTx(ctx, LockSet{}, func(tx Tx) error {
			return tx.UpdateParcelStatus(ctx, uuid.New(), models.ParcelStatusActive, baseTime)
		})
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("find active at point", func(t *testing.T) {
		store := newStore(t)
		active := newParcel(t, models.ParcelStatusActive, square(5.6, -0.2, 0.001), baseTime)
		pending := newParcel(t, models.ParcelStatusPendingReview, square(5.7, -0.2, 0.001), baseTime)
		insertParcels(t, store, active, pending)

		got, err := store.FindActiveAt(ctx, geometry.LatLng{Lat: 5.6005, Lng: -0.1995})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, active.ID, got.ID)

		got, err = store.FindActiveAt(ctx, geometry.LatLng{Lat: 5.7005, Lng: -0.1995})
		require.NoError(t, err)
		assert.Nil(t, got, "pending parcels are not listed")
	})
}
