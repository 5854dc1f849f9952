package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/config"
	"github.com/stwalsh4118/parcelguard/internal/events"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/overlap"
	"github.com/stwalsh4118/parcelguard/internal/repository"
	"golang.org/x/sync/errgroup"
)

// reviewFetchLimit bounds concurrent parcel loads while building a review.
const reviewFetchLimit = 8

// TicketReview is a ticket as shown to an adjudicator: the stored record,
// the parcels it references as they are now, and overlap summaries
// recomputed from current boundaries.
type TicketReview struct {
	Ticket    models.ConflictTicket
	Subject   *models.Parcel
	Colliding []models.Parcel
	Missing   []uuid.UUID
	Summaries []models.OverlapSummary
}

// TicketService runs the conflict ticket workflow: open -> resolved
// (approved or rejected). Tickets are opened only by the SubmissionGate.
type TicketService struct {
	store  repository.Store
	engine *geometry.Engine
	grid   *overlap.Grid
	events events.Publisher
	log    *logger.Logger
	scope  string
	now    func() time.Time
}

// NewTicketService creates a TicketService.
func NewTicketService(
	store repository.Store,
	engine *geometry.Engine,
	grid *overlap.Grid,
	publisher events.Publisher,
	log *logger.Logger,
	severityScope string,
) *TicketService {
	return &TicketService{
		store:  store,
		engine: engine,
		grid:   grid,
		events: publisher,
		log:    log,
		scope:  severityScope,
		now:    storeNow,
	}
}

// Get returns a stored ticket.
func (s *TicketService) Get(ctx context.Context, id uuid.UUID) (*models.ConflictTicket, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	if ticket == nil {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return ticket, nil
}

// List returns tickets newest first. An empty status lists every ticket.
func (s *TicketService) List(ctx context.Context, status models.TicketStatus, limit int) ([]models.ConflictTicket, error) {
	tickets, err := s.store.ListTickets(ctx, repository.TicketFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// ListOpen returns the open tickets, newest first.
func (s *TicketService) ListOpen(ctx context.Context, limit int) ([]models.ConflictTicket, error) {
	return s.List(ctx, models.TicketStatusOpen, limit)
}

// CountOpen returns the number of tickets awaiting a decision.
func (s *TicketService) CountOpen(ctx context.Context) (int, error) {
	n, err := s.store.CountTickets(ctx, models.TicketStatusOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to count open tickets: %w", err)
	}
	return n, nil
}

// Review loads a ticket with its parcels and recomputes the overlap summary
// from current boundaries. Parcels that no longer exist are listed in
// Missing instead of failing the read.
func (s *TicketService) Review(ctx context.Context, id uuid.UUID) (*TicketReview, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ids := append([]uuid.UUID{ticket.SubjectParcelID}, ticket.CollidingParcelIDs...)
	parcels := make([]*models.Parcel, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reviewFetchLimit)
	for i, pid := range ids {
		g.Go(func() error {
			p, err := s.store.GetParcel(gctx, pid)
			if err != nil {
				return fmt.Errorf("failed to load parcel %s: %w", pid, err)
			}
			parcels[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	review := &TicketReview{
		Ticket:    *ticket,
		Subject:   parcels[0],
		Colliding: make([]models.Parcel, 0, len(ticket.CollidingParcelIDs)),
		Summaries: make([]models.OverlapSummary, 0),
	}
	for i, p := range parcels {
		if p == nil {
			review.Missing = append(review.Missing, ids[i])
		} else if i > 0 {
			review.Colliding = append(review.Colliding, *p)
		}
	}
	if review.Subject == nil {
		s.log.Warn("Ticket subject parcel is missing", map[string]interface{}{
			"ticket_id": id,
			"parcel_id": ticket.SubjectParcelID,
		})
		return review, nil
	}

	colliders := review.Colliding
	if s.scope != config.SeverityScopeAll {
		colliders = nil
		for _, c := range review.Colliding {
			if c.ID == ticket.CollidingParcelIDs[0] {
				colliders = append(colliders, c)
				break
			}
		}
	}
	for _, c := range colliders {
		areaM2, _, err := s.engine.Severity(review.Subject.Boundary, c.Boundary)
		if err != nil {
			return nil, fmt.Errorf("failed to compute overlap with parcel %s: %w", c.ID, err)
		}
		review.Summaries = append(review.Summaries, summary(c.ID, areaM2, review.Subject.AreaM2))
	}
	return review, nil
}

// Resolve applies an adjudicator's decision. Approval moves the subject to
// active without re-checking overlaps; rejection archives it. The parcel
// status change and the ticket closure commit together.
//
// Errors: ErrInvalidDecision, ErrTicketNotFound, ErrAlreadyResolved (no
// state change), ErrDanglingReference (ticket left open) and
// ErrInvalidTransition when the subject is no longer pending review.
func (s *TicketService) Resolve(ctx context.Context, id uuid.UUID, decision models.Resolution, actor string) (*models.ConflictTicket, error) {
	if decision != models.ResolutionApproved && decision != models.ResolutionRejected {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidDecision, decision)
	}

	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ticket.IsOpen() {
		return nil, fmt.Errorf("%w: ticket %s", ErrAlreadyResolved, id)
	}

	subject, err := s.store.GetParcel(ctx, ticket.SubjectParcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subject parcel: %w", err)
	}
	if subject == nil {
		return nil, s.dangling(ticket, ticket.SubjectParcelID)
	}

	locks := s.grid.Locks(subject.Boundary.Bounds()).
		Merge(repository.LockSet{Exclusive: []int64{overlap.TicketLockKey(id)}})

	var resolved models.ConflictTicket
	err = s.store.InTx(ctx, locks, func(tx repository.Tx) error {
		current, err := tx.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
		}
		if !current.IsOpen() {
			return fmt.Errorf("%w: ticket %s", ErrAlreadyResolved, id)
		}

		subject, err := tx.GetParcel(ctx, current.SubjectParcelID)
		if err != nil {
			return err
		}
		if subject == nil {
			return s.dangling(current, current.SubjectParcelID)
		}
		for _, cid := range current.CollidingParcelIDs {
			p, err := tx.GetParcel(ctx, cid)
			if err != nil {
				return err
			}
			if p == nil {
				return s.dangling(current, cid)
			}
		}
		if subject.Status != models.ParcelStatusPendingReview {
			return fmt.Errorf("%w: parcel %s is %s", ErrInvalidTransition, subject.ID, subject.Status)
		}

		now := s.now()
		if err := tx.UpdateParcelStatus(ctx, subject.ID, decision.ParcelStatus(), now); err != nil {
			return err
		}
		if err := tx.ResolveTicket(ctx, id, decision, actor, now); err != nil {
			return err
		}

		resolved = *current
		resolved.Status = models.TicketStatusResolved
		resolved.Resolution = &decision
		resolved.ResolvedBy = &actor
		resolved.ResolvedAt = &now
		return nil
	})
	if err != nil {
		if !isWorkflowError(err) {
			s.log.Error("Failed to resolve ticket", err, map[string]interface{}{
				"ticket_id": id,
				"decision":  decision,
			})
		}
		return nil, err
	}

	s.log.Info("Ticket resolved", map[string]interface{}{
		"ticket_id":   id,
		"parcel_id":   resolved.SubjectParcelID,
		"decision":    decision,
		"resolved_by": actor,
	})
	if err := s.events.Publish(ctx, events.TicketResolved(&resolved)); err != nil {
		s.log.Error("Failed to publish ticket event", err, map[string]interface{}{
			"ticket_id": id,
		})
	}
	return &resolved, nil
}

// dangling logs the operational alert for a missing parcel and returns the
// error that leaves the ticket open.
func (s *TicketService) dangling(t *models.ConflictTicket, missing uuid.UUID) error {
	s.log.Error("Ticket references a missing parcel", ErrDanglingReference, map[string]interface{}{
		"ticket_id":         t.ID,
		"subject_parcel_id": t.SubjectParcelID,
		"missing_parcel_id": missing,
	})
	return fmt.Errorf("%w: ticket %s references missing parcel %s", ErrDanglingReference, t.ID, missing)
}

func isWorkflowError(err error) bool {
	for _, target := range []error{ErrTicketNotFound, ErrAlreadyResolved, ErrDanglingReference, ErrInvalidTransition} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
