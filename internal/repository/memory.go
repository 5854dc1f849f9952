package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/models"
)

// ErrRecordNotFound is returned by updates that target a missing record.
var ErrRecordNotFound = errors.New("record not found")

// Fault operation names passed to a FaultFunc.
const (
	OpInsertParcel       = "InsertParcel"
	OpUpdateParcelStatus = "UpdateParcelStatus"
	OpInsertTicket       = "InsertTicket"
	OpResolveTicket      = "ResolveTicket"
	OpCommit             = "Commit"
)

// FaultFunc is consulted before every write and before commit. A non-nil
// error aborts the transaction as if the backend had failed.
type FaultFunc func(op string) error

type memoryState struct {
	parcels map[uuid.UUID]models.Parcel
	tickets map[uuid.UUID]models.ConflictTicket
	order   map[uuid.UUID]int64 // insertion sequence, parcels and tickets
	seq     int64
}

func newMemoryState() memoryState {
	return memoryState{
		parcels: map[uuid.UUID]models.Parcel{},
		tickets: map[uuid.UUID]models.ConflictTicket{},
		order:   map[uuid.UUID]int64{},
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		parcels: make(map[uuid.UUID]models.Parcel, len(s.parcels)),
		tickets: make(map[uuid.UUID]models.ConflictTicket, len(s.tickets)),
		order:   make(map[uuid.UUID]int64, len(s.order)),
		seq:     s.seq,
	}
	for k, v := range s.parcels {
		c.parcels[k] = cloneParcel(v)
	}
	for k, v := range s.tickets {
		c.tickets[k] = cloneTicket(v)
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	return c
}

func cloneParcel(p models.Parcel) models.Parcel {
	cp := p
	cp.Boundary = append(geometry.Polygon(nil), p.Boundary...)
	if p.Description != nil {
		d := *p.Description
		cp.Description = &d
	}
	if p.Price != nil {
		v := *p.Price
		cp.Price = &v
	}
	return cp
}

func cloneTicket(t models.ConflictTicket) models.ConflictTicket {
	cp := t
	cp.CollidingParcelIDs = append([]uuid.UUID(nil), t.CollidingParcelIDs...)
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		cp.ResolvedAt = &at
	}
	if t.Resolution != nil {
		r := *t.Resolution
		cp.Resolution = &r
	}
	if t.ResolvedBy != nil {
		by := *t.ResolvedBy
		cp.ResolvedBy = &by
	}
	return cp
}

// MemoryStore is an in-process Store. Transactions are fully serialized:
// each runs against a private copy of the state that replaces the shared
// state only on commit.
type MemoryStore struct {
	mu     sync.RWMutex
	state  memoryState
	faults FaultFunc
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// SetFault installs a fault hook for subsequent transactions. Pass nil to clear.
func (s *MemoryStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// DeleteParcel removes a parcel outside of any workflow, the way an external
// retention job would. Tickets referencing it are left untouched.
func (s *MemoryStore) DeleteParcel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.parcels[id]; !ok {
		return fmt.Errorf("%w: parcel %s", ErrRecordNotFound, id)
	}
	delete(s.state.parcels, id)
	delete(s.state.order, id)
	return nil
}

// InTx implements Store. The store-wide lock subsumes any LockSet.
func (s *MemoryStore) InTx(ctx context.Context, _ LockSet, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone(), faults: s.faults}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.fault(OpCommit); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// GetParcel implements Reader.
func (s *MemoryStore) GetParcel(_ context.Context, id uuid.UUID) (*models.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getParcel(id), nil
}

// GetTicket implements Reader.
func (s *MemoryStore) GetTicket(_ context.Context, id uuid.UUID) (*models.ConflictTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getTicket(id), nil
}

// ListTickets implements Reader.
func (s *MemoryStore) ListTickets(_ context.Context, filter TicketFilter) ([]models.ConflictTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listTickets(filter), nil
}

// CountTickets implements Reader.
func (s *MemoryStore) CountTickets(_ context.Context, status models.TicketStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.countTickets(status), nil
}

// FindActiveAt implements Reader.
func (s *MemoryStore) FindActiveAt(_ context.Context, point geometry.LatLng) (*models.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findActiveAt(point), nil
}

func (s memoryState) getParcel(id uuid.UUID) *models.Parcel {
	p, ok := s.parcels[id]
	if !ok {
		return nil
	}
	cp := cloneParcel(p)
	return &cp
}

func (s memoryState) getTicket(id uuid.UUID) *models.ConflictTicket {
	t, ok := s.tickets[id]
	if !ok {
		return nil
	}
	cp := cloneTicket(t)
	return &cp
}

func (s memoryState) listTickets(filter TicketFilter) []models.ConflictTicket {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTicketLimit
	}
	out := make([]models.ConflictTicket, 0)
	for _, t := range s.tickets {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, cloneTicket(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s memoryState) countTickets(status models.TicketStatus) int {
	n := 0
	for _, t := range s.tickets {
		if t.Status == status {
			n++
		}
	}
	return n
}

// activeInOrder returns active parcels accepted by keep, oldest first.
func (s memoryState) activeInOrder(keep func(models.Parcel) bool) []models.Parcel {
	out := make([]models.Parcel, 0)
	for _, p := range s.parcels {
		if p.Status == models.ParcelStatusActive && keep(p) {
			out = append(out, cloneParcel(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out
}

func (s memoryState) findActiveAt(point geometry.LatLng) *models.Parcel {
	pin := geometry.Bounds{MinLat: point.Lat, MaxLat: point.Lat, MinLng: point.Lng, MaxLng: point.Lng}
	found := s.activeInOrder(func(p models.Parcel) bool {
		return p.Boundary.Bounds().Intersects(pin) && p.Boundary.Contains(point)
	})
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

type memoryTx struct {
	state  memoryState
	faults FaultFunc
}

func (tx *memoryTx) fault(op string) error {
	if tx.faults == nil {
		return nil
	}
	return tx.faults(op)
}

func (tx *memoryTx) GetParcel(_ context.Context, id uuid.UUID) (*models.Parcel, error) {
	return tx.state.getParcel(id), nil
}

func (tx *memoryTx) GetTicket(_ context.Context, id uuid.UUID) (*models.ConflictTicket, error) {
	return tx.state.getTicket(id), nil
}

func (tx *memoryTx) ListTickets(_ context.Context, filter TicketFilter) ([]models.ConflictTicket, error) {
	return tx.state.listTickets(filter), nil
}

func (tx *memoryTx) CountTickets(_ context.Context, status models.TicketStatus) (int, error) {
	return tx.state.countTickets(status), nil
}

func (tx *memoryTx) FindActiveAt(_ context.Context, point geometry.LatLng) (*models.Parcel, error) {
	return tx.state.findActiveAt(point), nil
}

func (tx *memoryTx) ActiveCandidates(_ context.Context, boundary geometry.Polygon) ([]models.Parcel, error) {
	bounds := boundary.Bounds()
	return tx.state.activeInOrder(func(p models.Parcel) bool {
		return p.Boundary.Bounds().Intersects(bounds)
	}), nil
}

func (tx *memoryTx) InsertParcel(_ context.Context, p *models.Parcel) error {
	if err := tx.fault(OpInsertParcel); err != nil {
		return err
	}
	if _, exists := tx.state.parcels[p.ID]; exists {
		return fmt.Errorf("%w: parcel %s already exists", ErrStoreConflict, p.ID)
	}
	tx.state.seq++
	tx.state.parcels[p.ID] = cloneParcel(*p)
	tx.state.order[p.ID] = tx.state.seq
	return nil
}

func (tx *memoryTx) UpdateParcelStatus(_ context.Context, id uuid.UUID, status models.ParcelStatus, at time.Time) error {
	if err := tx.fault(OpUpdateParcelStatus); err != nil {
		return err
	}
	p, ok := tx.state.parcels[id]
	if !ok {
		return fmt.Errorf("%w: parcel %s", ErrRecordNotFound, id)
	}
	p.Status = status
	p.UpdatedAt = at
	tx.state.parcels[id] = p
	return nil
}

func (tx *memoryTx) InsertTicket(_ context.Context, t *models.ConflictTicket) error {
	if err := tx.fault(OpInsertTicket); err != nil {
		return err
	}
	if _, exists := tx.state.tickets[t.ID]; exists {
		return fmt.Errorf("%w: ticket %s already exists", ErrStoreConflict, t.ID)
	}
	for _, other := range tx.state.tickets {
		if other.IsOpen() && other.SubjectParcelID == t.SubjectParcelID {
			return fmt.Errorf("%w: parcel %s already has open ticket %s", ErrStoreConflict, t.SubjectParcelID, other.ID)
		}
	}
	tx.state.seq++
	tx.state.tickets[t.ID] = cloneTicket(*t)
	tx.state.order[t.ID] = tx.state.seq
	return nil
}

func (tx *memoryTx) ResolveTicket(_ context.Context, id uuid.UUID, resolution models.Resolution, resolvedBy string, at time.Time) error {
	if err := tx.fault(OpResolveTicket); err != nil {
		return err
	}
	t, ok := tx.state.tickets[id]
	if !ok || !t.IsOpen() {
		return fmt.Errorf("%w: open ticket %s", ErrRecordNotFound, id)
	}
	t.Status = models.TicketStatusResolved
	t.Resolution = &resolution
	t.ResolvedBy = &resolvedBy
	t.ResolvedAt = &at
	tx.state.tickets[id] = t
	return nil
}
