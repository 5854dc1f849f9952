package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelguard/internal/config"
	"github.com/stwalsh4118/parcelguard/internal/events"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/overlap"
	"github.com/stwalsh4118/parcelguard/internal/repository"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TicketEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.TicketEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	store     *repository.MemoryStore
	engine    *geometry.Engine
	gate      *SubmissionGate
	tickets   *TicketService
	publisher *recordingPublisher

	mu  sync.Mutex
	ids []uuid.UUID
}

func newHarness(t *testing.T, scope string) *harness {
	t.Helper()
	h := &harness{
		store:     repository.NewMemoryStore(),
		engine:    geometry.NewEngine(geometry.Config{}),
		publisher: &recordingPublisher{},
	}
	grid := overlap.NewGrid(overlap.DefaultCellDegrees)
	log := logger.Nop()
	h.gate = NewSubmissionGate(h.store, h.engine, grid, h.publisher, log, scope)
	h.gate.newID = func() uuid.UUID {
		id := uuid.New()
		h.mu.Lock()
		h.ids = append(h.ids, id)
		h.mu.Unlock()
		return id
	}
	h.tickets = NewTicketService(h.store, h.engine, grid, h.publisher, log, scope)
	return h
}

func newPrimaryHarness(t *testing.T) *harness {
	return newHarness(t, config.SeverityScopePrimary)
}

// poly builds a polygon from (lat, lng) pairs.
func poly(coords ...float64) geometry.Polygon {
	p := make(geometry.Polygon, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		p = append(p, geometry.LatLng{Lat: coords[i], Lng: coords[i+1]})
	}
	return p
}

func box(lat, lng, size float64) geometry.Polygon {
	return poly(lat, lng, lat, lng+size, lat+size, lng+size, lat+size, lng)
}

// Unit squares in degrees: p2 covers half of p1.
var (
	unitP1 = poly(0, 0, 1, 0, 1, 1, 0, 1)
	unitP2 = poly(0.5, 0, 1.5, 0, 1.5, 1, 0.5, 1)
)

func (h *harness) submit(t *testing.T, boundary geometry.Polygon) *Decision {
	t.Helper()
	d, err := h.gate.Submit(context.Background(), Submission{Boundary: boundary, OwnerRef: "owner-1"})
	require.NoError(t, err)
	return d
}

func (h *harness) parcel(t *testing.T, id uuid.UUID) *models.Parcel {
	t.Helper()
	p, err := h.store.GetParcel(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) ticket(t *testing.T, id uuid.UUID) *models.ConflictTicket {
	t.Helper()
	tk, err := h.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tk)
	return tk
}
