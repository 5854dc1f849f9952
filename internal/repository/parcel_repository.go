package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stwalsh4118/parcelguard/internal/database"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/models"
)

// PostgreSQL error codes mapped to ErrStoreConflict.
const (
	pgExclusionViolation  = "23P01"
	pgUniqueViolation     = "23505"
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
	pgLockNotAvailable    = "55P03"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the PostGIS-backed Store.
type PostgresStore struct {
	db        *database.Database
	epsilonM2 float64
}

// NewPostgresStore creates a Store over the given pool. epsilonM2 is handed
// to the schema's overlap guard for every transaction.
func NewPostgresStore(db *database.Database, epsilonM2 float64) *PostgresStore {
	return &PostgresStore{db: db, epsilonM2: epsilonM2}
}

// InTx implements Store with transaction-scoped advisory locks.
func (s *PostgresStore) InTx(ctx context.Context, locks LockSet, fn func(tx Tx) error) error {
	locks = LockSet{}.Merge(locks)

	err := pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"SELECT set_config('parcelguard.overlap_epsilon_m2', $1, true)",
			strconv.FormatFloat(s.epsilonM2, 'f', -1, 64),
		); err != nil {
			return fmt.Errorf("failed to configure transaction: %w", err)
		}
		for _, key := range locks.Shared {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", key); err != nil {
				return fmt.Errorf("failed to acquire shared lock %d: %w", key, err)
			}
		}
		for _, key := range locks.Exclusive {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
				return fmt.Errorf("failed to acquire lock %d: %w", key, err)
			}
		}
		return fn(&postgresTx{q: tx})
	})
	return mapPgError(err)
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) reader() *postgresTx {
	return &postgresTx{q: s.db.Pool}
}

// GetParcel implements Reader.
func (s *PostgresStore) GetParcel(ctx context.Context, id uuid.UUID) (*models.Parcel, error) {
	return s.reader().getParcel(ctx, id, false)
}

// GetTicket implements Reader.
func (s *PostgresStore) GetTicket(ctx context.Context, id uuid.UUID) (*models.ConflictTicket, error) {
	return s.reader().getTicket(ctx, id, false)
}

// ListTickets implements Reader.
func (s *PostgresStore) ListTickets(ctx context.Context, filter TicketFilter) ([]models.ConflictTicket, error) {
	return s.reader().ListTickets(ctx, filter)
}

// CountTickets implements Reader.
func (s *PostgresStore) CountTickets(ctx context.Context, status models.TicketStatus) (int, error) {
	return s.reader().CountTickets(ctx, status)
}

// FindActiveAt implements Reader.
func (s *PostgresStore) FindActiveAt(ctx context.Context, point geometry.LatLng) (*models.Parcel, error) {
	return s.reader().FindActiveAt(ctx, point)
}

// mapPgError converts lost races into ErrStoreConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation, pgUniqueViolation, pgSerializationFailed, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrStoreConflict, pgErr.Message)
		}
	}
	return err
}

// postgresTx implements Tx on a pgx transaction. Used with the pool directly
// it serves the non-transactional reads of PostgresStore.
type postgresTx struct {
	q querier
}

const parcelColumns = `
	id,
	owner_ref,
	title,
	description,
	price,
	currency,
	status,
	ST_AsGeoJSON(boundary) AS boundary,
	area_m2,
	area_acres,
	centroid_lat,
	centroid_lng,
	created_at,
	updated_at`

const ticketColumns = `
	id,
	subject_parcel_id,
	colliding_parcel_ids::text[],
	status,
	resolution,
	overlap_summary,
	overlap_count,
	resolved_by,
	created_at,
	resolved_at`

func scanParcel(row pgx.Row) (*models.Parcel, error) {
	var p models.Parcel
	var status string
	var geomJSON []byte

	err := row.Scan(
		&p.ID,
		&p.OwnerRef,
		&p.Title,
		&p.Description,
		&p.Price,
		&p.Currency,
		&status,
		&geomJSON,
		&p.AreaM2,
		&p.AreaAcres,
		&p.Centroid.Lat,
		&p.Centroid.Lng,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.ParcelStatus(status)

	// Parse GeoJSON geometry into the engine's vertex list
	var geom models.Polygon
	if err := geom.Scan(geomJSON); err != nil {
		return nil, fmt.Errorf("failed to parse geometry for parcel %s: %w", p.ID, err)
	}
	if p.Boundary, err = geom.Boundary(); err != nil {
		return nil, fmt.Errorf("failed to read boundary for parcel %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanTicket(row pgx.Row) (*models.ConflictTicket, error) {
	var t models.ConflictTicket
	var status string
	var resolution *string
	var colliding []string
	var summary []byte

	err := row.Scan(
		&t.ID,
		&t.SubjectParcelID,
		&colliding,
		&status,
		&resolution,
		&summary,
		&t.OverlapCount,
		&t.ResolvedBy,
		&t.CreatedAt,
		&t.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = models.TicketStatus(status)
	if resolution != nil {
		r := models.Resolution(*resolution)
		t.Resolution = &r
	}

	t.CollidingParcelIDs = make([]uuid.UUID, 0, len(colliding))
	for _, raw := range colliding {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid colliding parcel id %q on ticket %s: %w", raw, t.ID, err)
		}
		t.CollidingParcelIDs = append(t.CollidingParcelIDs, id)
	}

	if err := json.Unmarshal(summary, &t.OverlapSummary); err != nil {
		return nil, fmt.Errorf("failed to parse overlap summary for ticket %s: %w", t.ID, err)
	}
	return &t, nil
}

func collectParcels(rows pgx.Rows) ([]models.Parcel, error) {
	defer rows.Close()

	results := make([]models.Parcel, 0)
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parcel row: %w", err)
		}
		results = append(results, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parcel rows: %w", err)
	}
	return results, nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *postgresTx) getParcel(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Parcel, error) {
	query := `SELECT` + parcelColumns + ` FROM parcels WHERE id = $1` + lockClause(forUpdate)

	p, err := scanParcel(t.q.QueryRow(ctx, query, id))
	if err != nil {
		// Handle no rows found - this is not an error at the repository level
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query parcel %s: %w", id, err)
	}
	return p, nil
}

func (t *postgresTx) getTicket(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.ConflictTicket, error) {
	query := `SELECT` + ticketColumns + ` FROM conflict_tickets WHERE id = $1` + lockClause(forUpdate)

	ticket, err := scanTicket(t.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query ticket %s: %w", id, err)
	}
	return ticket, nil
}

func (t *postgresTx) GetParcel(ctx context.Context, id uuid.UUID) (*models.Parcel, error) {
	return t.getParcel(ctx, id, true)
}

func (t *postgresTx) GetTicket(ctx context.Context, id uuid.UUID) (*models.ConflictTicket, error) {
	return t.getTicket(ctx, id, true)
}

func (t *postgresTx) ListTickets(ctx context.Context, filter TicketFilter) ([]models.ConflictTicket, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTicketLimit
	}

	query := `SELECT` + ticketColumns + `
		FROM conflict_tickets
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := t.q.Query(ctx, query, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets (status=%q): %w", filter.Status, err)
	}
	defer rows.Close()

	results := make([]models.ConflictTicket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		results = append(results, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket rows: %w", err)
	}
	return results, nil
}

func (t *postgresTx) CountTickets(ctx context.Context, status models.TicketStatus) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM conflict_tickets WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets (status=%q): %w", status, err)
	}
	return n, nil
}

// FindActiveAt uses ST_Contains against the partial GiST index on active
// boundaries.
//
// Note: PostGIS functions expect (longitude, latitude) order, not (lat, lng).
func (t *postgresTx) FindActiveAt(ctx context.Context, point geometry.LatLng) (*models.Parcel, error) {
	query := `SELECT` + parcelColumns + `
		FROM parcels
		WHERE status = 'active'
		  AND ST_Contains(boundary, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY created_at, id
		LIMIT 1`

	p, err := scanParcel(t.q.QueryRow(ctx, query, point.Lng, point.Lat))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query parcel at point (lat=%f, lng=%f): %w", point.Lat, point.Lng, err)
	}
	return p, nil
}

// ActiveCandidates pairs the && bounding-box operator with ST_Intersects so
// the GiST index does the coarse work. Touching parcels pass; the caller
// applies the area threshold.
func (t *postgresTx) ActiveCandidates(ctx context.Context, boundary geometry.Polygon) ([]models.Parcel, error) {
	geom, err := models.PolygonFromBoundary(boundary).Value()
	if err != nil {
		return nil, err
	}

	query := `SELECT` + parcelColumns + `
		FROM parcels
		WHERE status = 'active'
		  AND boundary && ST_SetSRID(ST_GeomFromGeoJSON($1::text), 4326)
		  AND ST_Intersects(boundary, ST_SetSRID(ST_GeomFromGeoJSON($1::text), 4326))
		ORDER BY created_at, id`

	rows, err := t.q.Query(ctx, query, geom)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlap candidates: %w", err)
	}
	return collectParcels(rows)
}

func (t *postgresTx) InsertParcel(ctx context.Context, p *models.Parcel) error {
	geom, err := models.PolygonFromBoundary(p.Boundary).Value()
	if err != nil {
		return err
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO parcels (
			id, owner_ref, title, description, price, currency, status, boundary,
			area_m2, area_acres, centroid_lat, centroid_lng, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, ST_SetSRID(ST_GeomFromGeoJSON($8::text), 4326),
			$9, $10, $11, $12, $13, $14
		)`,
		p.ID, p.OwnerRef, p.Title, p.Description, p.Price, p.Currency, string(p.Status), geom,
		p.AreaM2, p.AreaAcres, p.Centroid.Lat, p.Centroid.Lng, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert parcel %s: %w", p.ID, mapPgError(err))
	}
	return nil
}

func (t *postgresTx) UpdateParcelStatus(ctx context.Context, id uuid.UUID, status models.ParcelStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE parcels SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("failed to update parcel %s: %w", id, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: parcel %s", ErrRecordNotFound, id)
	}
	return nil
}

func (t *postgresTx) InsertTicket(ctx context.Context, ticket *models.ConflictTicket) error {
	summary, err := json.Marshal(ticket.OverlapSummary)
	if err != nil {
		return fmt.Errorf("failed to encode overlap summary: %w", err)
	}
	colliding := make([]string, len(ticket.CollidingParcelIDs))
	for i, id := range ticket.CollidingParcelIDs {
		colliding[i] = id.String()
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO conflict_tickets (
			id, subject_parcel_id, colliding_parcel_ids, status, overlap_summary, overlap_count, created_at
		) VALUES ($1, $2, $3::uuid[], $4, $5::jsonb, $6, $7)`,
		ticket.ID, ticket.SubjectParcelID, colliding, string(ticket.Status),
		string(summary), ticket.OverlapCount, ticket.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ticket %s: %w", ticket.ID, mapPgError(err))
	}
	return nil
}

func (t *postgresTx) ResolveTicket(ctx context.Context, id uuid.UUID, resolution models.Resolution, resolvedBy string, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE conflict_tickets
		SET status = 'resolved', resolution = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'open'`,
		id, string(resolution), resolvedBy, at,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve ticket %s: %w", id, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: open ticket %s", ErrRecordNotFound, id)
	}
	return nil
}
