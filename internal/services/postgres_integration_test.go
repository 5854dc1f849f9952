package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelguard/internal/config"
	"github.com/stwalsh4118/parcelguard/internal/database"
	"github.com/stwalsh4118/parcelguard/internal/events"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/overlap"
	"github.com/stwalsh4118/parcelguard/internal/repository"
	"golang.org/x/sync/errgroup"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupPostgres returns a gate and ticket service over a freshly truncated
// PostGIS store, skipping in short mode or without a database.
func setupPostgres(t *testing.T) (*SubmissionGate, *TicketService, *repository.PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewPostgresPool(ctx, config.DatabaseConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     envOr("DB_PORT", "5432"),
		Name:     envOr("DB_NAME", "parcelguard_test"),
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		PoolMin:  1,
		PoolMax:  20,
	})
	if err != nil {
		t.Skipf("PostgreSQL not reachable: %v", err)
	}
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE conflict_tickets, parcels`)
	require.NoError(t, err)

	engine := geometry.NewEngine(geometry.Config{})
	store := repository.NewPostgresStore(db, engine.EpsilonM2())
	grid := overlap.NewGrid(overlap.DefaultCellDegrees)
	log := logger.Nop()
	gate := NewSubmissionGate(store, engine, grid, events.Nop{}, log, config.SeverityScopePrimary)
	tickets := NewTicketService(store, engine, grid, events.Nop{}, log, config.SeverityScopePrimary)
	return gate, tickets, store
}

func TestPostgres_ConcurrentSubmissionsPublishOnce(t *testing.T) {
	gate, tickets, _ := setupPostgres(t)
	const n = 10

	decisions := make([]*Decision, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			// Boxes straddle cell boundaries so writers lock different cell sets.
			offset := float64(i) * 0.0007
			d, err := gate.Submit(ctx, Submission{Boundary: box(5.609+offset, -0.191+offset, 0.008)})
			decisions[i] = d
			return err
		})
	}
	require.NoError(t, g.Wait())

	published := 0
	for _, d := range decisions {
		if d.Outcome == OutcomePublished {
			published++
		}
	}
	assert.Equal(t, 1, published)

	open, err := tickets.CountOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n-1, open)
}

func TestPostgres_ScenarioRoundTrip(t *testing.T) {
	gate, tickets, store := setupPostgres(t)
	ctx := context.Background()

	p1, err := gate.Submit(ctx, Submission{Boundary: unitP1, OwnerRef: "owner-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomePublished, p1.Outcome)

	p2, err := gate.Submit(ctx, Submission{Boundary: unitP2, OwnerRef: "owner-2"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingReview, p2.Outcome)
	assert.InDelta(t, 50, p2.Ticket.OverlapSummary.Percent, 0.1)

	review, err := tickets.Review(ctx, p2.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, review.Summaries, 1)

	_, err = tickets.Resolve(ctx, p2.Ticket.ID, models.ResolutionRejected, "reviewer-1")
	require.NoError(t, err)
	_, err = tickets.Resolve(ctx, p2.Ticket.ID, models.ResolutionApproved, "reviewer-1")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	subject, err := store.GetParcel(ctx, p2.Parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParcelStatusArchived, subject.Status)
}
