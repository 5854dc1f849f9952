package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/config"
	"github.com/stwalsh4118/parcelguard/internal/events"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/overlap"
	"github.com/stwalsh4118/parcelguard/internal/repository"
)

// Outcome is the terminal state of one submission attempt.
type Outcome string

const (
	// OutcomePublished means the parcel was stored as active.
	OutcomePublished Outcome = "published"
	// OutcomeAwaitingReview means the parcel was stored as pending review
	// together with an open conflict ticket.
	OutcomeAwaitingReview Outcome = "awaiting_review"
)

// Submission is a parcel boundary submitted for publication.
type Submission struct {
	Boundary    geometry.Polygon
	OwnerRef    string
	Title       string
	Description *string
	Price       *int64
	Currency    string
}

// Decision is the result of a submission. Ticket is set only when the
// outcome is OutcomeAwaitingReview. Summaries holds the primary collider's
// overlap, or every collider's when the severity scope is "all".
type Decision struct {
	Outcome   Outcome
	Parcel    models.Parcel
	Ticket    *models.ConflictTicket
	Metrics   geometry.Metrics
	Summaries []models.OverlapSummary
}

// SubmissionGate decides whether a submitted boundary is published or held
// for review. Read, decision and write run in one store transaction holding
// the lock cells the boundary covers, so two submissions over the same
// ground are evaluated one after the other.
type SubmissionGate struct {
	store  repository.Store
	engine *geometry.Engine
	index  *overlap.Index
	grid   *overlap.Grid
	events events.Publisher
	log    *logger.Logger
	scope  string
	now    func() time.Time
	newID  func() uuid.UUID
}

// NewSubmissionGate creates a SubmissionGate.
func NewSubmissionGate(
	store repository.Store,
	engine *geometry.Engine,
	grid *overlap.Grid,
	publisher events.Publisher,
	log *logger.Logger,
	severityScope string,
) *SubmissionGate {
	return &SubmissionGate{
		store:  store,
		engine: engine,
		index:  overlap.NewIndex(engine),
		grid:   grid,
		events: publisher,
		log:    log,
		scope:  severityScope,
		now:    storeNow,
		newID:  uuid.New,
	}
}

// Preview returns live metrics for a boundary without persisting anything.
func (g *SubmissionGate) Preview(boundary geometry.Polygon) geometry.Metrics {
	return NewDraft(boundary...).Preview(g.engine)
}

// SubmitDraft submits the boundary drawn in a drafting session.
func (g *SubmissionGate) SubmitDraft(ctx context.Context, d *Draft, sub Submission) (*Decision, error) {
	sub.Boundary = d.Boundary()
	return g.Submit(ctx, sub)
}

// Submit validates the boundary, checks it against the active parcels and
// stores the parcel as active, or as pending review with an open ticket.
// Invalid geometry fails with geometry.ErrInvalidGeometry and writes nothing.
// A write that loses a race is re-evaluated once, which routes it to review
// when the winner overlaps it.
func (g *SubmissionGate) Submit(ctx context.Context, sub Submission) (*Decision, error) {
	ring, err := g.engine.Validate(sub.Boundary)
	if err != nil {
		g.log.Warn("Submission rejected: invalid geometry", map[string]interface{}{
			"owner_ref": sub.OwnerRef,
			"vertices":  len(sub.Boundary),
			"reason":    err.Error(),
		})
		return nil, err
	}

	parcel, err := newParcel(g.newID(), ring, sub)
	if err != nil {
		return nil, err
	}
	locks := g.grid.Locks(ring.Bounds())

	decision, err := g.evaluate(ctx, locks, parcel)
	if errors.Is(err, repository.ErrStoreConflict) {
		g.log.Warn("Submission lost a write race, re-evaluating", map[string]interface{}{
			"parcel_id": parcel.ID,
			"error":     err.Error(),
		})
		decision, err = g.evaluate(ctx, locks, parcel)
	}
	if err != nil {
		g.log.Error("Submission failed", err, map[string]interface{}{
			"parcel_id": parcel.ID,
			"owner_ref": sub.OwnerRef,
		})
		return nil, fmt.Errorf("failed to submit parcel: %w", err)
	}

	decision.Metrics = g.engine.Measure(ring)
	g.report(ctx, decision)
	return decision, nil
}

// evaluate runs one read-decide-write pass. parcel is a template; the
// returned decision holds what was written.
func (g *SubmissionGate) evaluate(ctx context.Context, locks repository.LockSet, parcel models.Parcel) (*Decision, error) {
	var decision *Decision
	err := g.store.InTx(ctx, locks, func(tx repository.Tx) error {
		matches, err := g.index.Query(ctx, tx, parcel.Boundary)
		if err != nil {
			return err
		}

		now := g.now()
		p := parcel
		p.CreatedAt, p.UpdatedAt = now, now

		if len(matches) == 0 {
			p.Status = models.ParcelStatusActive
			if err := tx.InsertParcel(ctx, &p); err != nil {
				return err
			}
			decision = &Decision{Outcome: OutcomePublished, Parcel: p}
			return nil
		}

		summaries := summarize(p, matches, g.scope)
		p.Status = models.ParcelStatusPendingReview
		ticket := &models.ConflictTicket{
			ID:                 g.newID(),
			SubjectParcelID:    p.ID,
			CollidingParcelIDs: matchIDs(matches),
			Status:             models.TicketStatusOpen,
			OverlapSummary:     summaries[0],
			OverlapCount:       len(matches),
			CreatedAt:          now,
		}
		if err := tx.InsertParcel(ctx, &p); err != nil {
			return err
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return err
		}
		decision = &Decision{Outcome: OutcomeAwaitingReview, Parcel: p, Ticket: ticket, Summaries: summaries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// report logs the committed decision and notifies the reviewer queue.
// Publishing failures never undo the commit.
func (g *SubmissionGate) report(ctx context.Context, d *Decision) {
	if d.Ticket == nil {
		g.log.Info("Parcel published", map[string]interface{}{
			"parcel_id":  d.Parcel.ID,
			"owner_ref":  d.Parcel.OwnerRef,
			"area_acres": d.Parcel.AreaAcres,
		})
		return
	}

	g.log.Info("Parcel routed to review", map[string]interface{}{
		"parcel_id":         d.Parcel.ID,
		"ticket_id":         d.Ticket.ID,
		"colliding_parcels": d.Ticket.CollidingParcelIDs,
		"overlap_percent":   d.Ticket.OverlapSummary.Percent,
	})
	if err := g.events.Publish(ctx, events.TicketOpened(d.Ticket, d.Parcel.OwnerRef)); err != nil {
		g.log.Error("Failed to publish ticket event", err, map[string]interface{}{
			"ticket_id": d.Ticket.ID,
		})
	}
}

func newParcel(id uuid.UUID, ring geometry.Polygon, sub Submission) (models.Parcel, error) {
	p := models.Parcel{
		ID:          id,
		OwnerRef:    sub.OwnerRef,
		Title:       strings.TrimSpace(sub.Title),
		Description: sub.Description,
		Price:       sub.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(sub.Currency)),
	}
	if err := p.SetBoundary(ring); err != nil {
		return models.Parcel{}, err
	}
	if p.Title == "" {
		p.Title = models.DefaultTitle(p.AreaAcres)
	}
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	return p, nil
}

// summarize builds overlap summaries from the exact intersections found by
// the index. Only the first collider is summarized unless scope is "all".
func summarize(subject models.Parcel, matches []overlap.Match, scope string) []models.OverlapSummary {
	if scope != config.SeverityScopeAll {
		matches = matches[:1]
	}
	out := make([]models.OverlapSummary, len(matches))
	for i, m := range matches {
		out[i] = summary(m.Parcel.ID, m.Overlap.AreaM2, subject.AreaM2)
	}
	return out
}

func summary(colliding uuid.UUID, overlapM2, subjectM2 float64) models.OverlapSummary {
	s := models.OverlapSummary{
		CollidingParcelID: colliding,
		OverlapAreaM2:     overlapM2,
		OverlapAcres:      geometry.ToAcres(overlapM2),
	}
	if subjectM2 > 0 {
		s.Percent = min(overlapM2/subjectM2*100, 100)
	}
	return s
}

func matchIDs(matches []overlap.Match) []uuid.UUID {
	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.Parcel.ID
	}
	return ids
}

// storeNow is the clock used for persisted timestamps, truncated to the
// precision PostgreSQL keeps.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
