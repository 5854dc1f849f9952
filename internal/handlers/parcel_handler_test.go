package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "github.com/stwalsh4118/parcelguard/internal/errors"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/repository"
	"github.com/stwalsh4118/parcelguard/internal/services"
)

func TestPreview(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("measures a closed boundary", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/parcels/preview", map[string]interface{}{"boundary": plotA}, "")

		require.Equal(t, http.StatusOK, w.Code)
		got := decode[PreviewResponse](t, w)
		assert.InEpsilon(t, 12333, got.Metrics.AreaM2, 0.01)
		assert.Greater(t, got.Metrics.Plots, 0.0)
	})

	t.Run("incomplete path measures zero", func(t *testing.T) {
		path := []map[string]float64{{"lat": 5.6, "lng": -0.2}, {"lat": 5.6, "lng": -0.199}}

		w := s.do(t, http.MethodPost, "/api/v1/parcels/preview", map[string]interface{}{"boundary": path}, "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Zero(t, decode[PreviewResponse](t, w).Metrics.AreaM2)
	})

	t.Run("holes are rejected", func(t *testing.T) {
		withHole := map[string]interface{}{
			"type": "Polygon",
			"coordinates": [][][2]float64{
				{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}},
				{{0.2, 0.2}, {0.4, 0.2}, {0.4, 0.4}, {0.2, 0.2}},
			},
		}

		w := s.do(t, http.MethodPost, "/api/v1/parcels/preview", map[string]interface{}{"boundary": withHole}, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrInvalidGeometry, errorCode(t, w))
	})

	t.Run("stores nothing", func(t *testing.T) {
		count, err := s.store.CountTickets(t.Context(), models.TicketStatusOpen)
		require.NoError(t, err)
		assert.Zero(t, count)
		w := s.do(t, http.MethodGet, "/api/v1/parcels?lat=5.6005&lng=-0.1995", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSubmit_PublishThenReview(t *testing.T) {
	s := newTestServer(t, "")

	first := s.submit(t, "owner-1", plotA, http.StatusCreated)
	assert.Equal(t, string(services.OutcomePublished), first.Outcome)
	assert.Equal(t, string(models.ParcelStatusActive), first.Parcel.Status)
	assert.Equal(t, "owner-1", first.Parcel.OwnerRef)
	assert.Equal(t, models.DefaultCurrency, first.Parcel.Currency)
	assert.Equal(t, models.DefaultTitle(first.Parcel.Acres), first.Parcel.Title)
	assert.Nil(t, first.Ticket)

	second := s.submit(t, "owner-2", plotB, http.StatusAccepted)
	assert.Equal(t, string(services.OutcomeAwaitingReview), second.Outcome)
	assert.Equal(t, string(models.ParcelStatusPendingReview), second.Parcel.Status)
	require.NotNil(t, second.Ticket)
	assert.Equal(t, string(models.TicketStatusOpen), second.Ticket.Status)
	assert.Equal(t, second.Parcel.ID, second.Ticket.SubjectParcelID)
	assert.Equal(t, []string{first.Parcel.ID}, second.Ticket.CollidingParcelIDs)
	assert.InDelta(t, 50, second.Ticket.OverlapSummary.Percent, 0.5)
	require.Len(t, second.Overlaps, 1)
}

func TestSubmit_WithListingFields(t *testing.T) {
	s := newTestServer(t, "")
	body := map[string]interface{}{
		"boundary":    plotA,
		"title":       "  Riverside plot  ",
		"description": "Fenced, with road access",
		"price":       2500000,
		"currency":    "USD",
	}

	w := s.do(t, http.MethodPost, "/api/v1/parcels", body, s.token(t, "owner-1", ""))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode[SubmitResponse](t, w)
	assert.Equal(t, "Riverside plot", got.Parcel.Title)
	assert.Equal(t, "USD", got.Parcel.Currency)
	require.NotNil(t, got.Parcel.Price)
	assert.Equal(t, int64(2500000), *got.Parcel.Price)
	require.NotNil(t, got.Parcel.Description)
}

func TestSubmit_Rejections(t *testing.T) {
	s := newTestServer(t, "")
	bowtie := []map[string]float64{
		{"lat": 5.6, "lng": -0.2},
		{"lat": 5.601, "lng": -0.199},
		{"lat": 5.601, "lng": -0.2},
		{"lat": 5.6, "lng": -0.199},
	}

	tests := []struct {
		name       string
		body       interface{}
		token      string
		wantStatus int
		wantCode   string
	}{
		{"no token", map[string]interface{}{"boundary": plotA}, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"self-intersecting", map[string]interface{}{"boundary": bowtie}, s.token(t, "o", ""), http.StatusBadRequest, apierrors.ErrInvalidGeometry},
		{"too few vertices", map[string]interface{}{"boundary": bowtie[:2]}, s.token(t, "o", ""), http.StatusBadRequest, apierrors.ErrInvalidGeometry},
		{"missing boundary", map[string]interface{}{"title": "x"}, s.token(t, "o", ""), http.StatusBadRequest, apierrors.ErrInvalidGeometry},
		{"bad currency", map[string]interface{}{"boundary": plotA, "currency": "CEDI"}, s.token(t, "o", ""), http.StatusBadRequest, apierrors.ErrValidation},
		{"negative price", map[string]interface{}{"boundary": plotA, "price": -1}, s.token(t, "o", ""), http.StatusBadRequest, apierrors.ErrValidation},
		{"malformed geojson", map[string]interface{}{"boundary": map[string]interface{}{"type": "Point"}}, s.token(t, "o", ""), http.StatusBadRequest, apierrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/parcels", tt.body, tt.token)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}

	w := s.do(t, http.MethodGet, "/api/v1/parcels?lat=5.6005&lng=-0.1995", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "rejected submissions store nothing")
}

func TestSubmit_StoreFailure(t *testing.T) {
	tests := []struct {
		name       string
		fault      error
		wantStatus int
		wantCode   string
	}{
		{"persistent conflict", repository.ErrStoreConflict, http.StatusConflict, apierrors.ErrConflict},
		{"store timeout", context.DeadlineExceeded, http.StatusServiceUnavailable, apierrors.ErrDatabaseConnection},
		{"store error", errors.New("disk full"), http.StatusInternalServerError, apierrors.ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "")
			s.store.SetFault(func(op string) error {
				if op == repository.OpCommit {
					return tt.fault
				}
				return nil
			})

			w := s.do(t, http.MethodPost, "/api/v1/parcels", map[string]interface{}{"boundary": plotA}, s.token(t, "o", ""))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, w))
			assert.NotContains(t, w.Body.String(), "disk full")
		})
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	s := newTestServer(t, "1-M")
	token := s.token(t, "owner-1", "")

	w := s.do(t, http.MethodPost, "/api/v1/parcels", map[string]interface{}{"boundary": plotA}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/parcels", map[string]interface{}{"boundary": plotB}, token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Preview is not limited.
	w = s.do(t, http.MethodPost, "/api/v1/parcels/preview", map[string]interface{}{"boundary": plotB}, token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetParcel(t *testing.T) {
	s := newTestServer(t, "")
	published := s.submit(t, "owner-1", plotA, http.StatusCreated)

	w := s.do(t, http.MethodGet, "/api/v1/parcels/"+published.Parcel.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[ParcelResponse](t, w)
	assert.Equal(t, published.Parcel.ID, got.Parcel.ID)
	assert.Len(t, got.Parcel.Boundary.Coordinates[0], 5, "boundary is returned as a closed ring")

	w = s.do(t, http.MethodGet, "/api/v1/parcels/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/parcels/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrBadRequest, errorCode(t, w))
}

func TestGetParcel_Visibility(t *testing.T) {
	s := newTestServer(t, "")
	s.submit(t, "owner-1", plotA, http.StatusCreated)
	pending := s.submit(t, "owner-2", plotB, http.StatusAccepted)
	path := "/api/v1/parcels/" + pending.Parcel.ID

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"anonymous", "", http.StatusNotFound},
		{"other user", s.token(t, "owner-1", ""), http.StatusNotFound},
		{"owner", s.token(t, "owner-2", ""), http.StatusOK},
		{"reviewer", s.token(t, "rev-1", reviewerRole), http.StatusOK},
		{"invalid token", "not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, path, nil, tt.token)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, string(models.ParcelStatusPendingReview), decode[ParcelResponse](t, w).Parcel.Status)
			}
		})
	}
}

func TestAtPoint(t *testing.T) {
	s := newTestServer(t, "")
	published := s.submit(t, "owner-1", plotA, http.StatusCreated)
	s.submit(t, "owner-2", plotB, http.StatusAccepted)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"inside active parcel", "lat=5.6005&lng=-0.1998", http.StatusOK, ""},
		{"inside pending parcel only", "lat=5.6005&lng=-0.1988", http.StatusNotFound, apierrors.ErrNotFound},
		{"zero coordinates are valid", "lat=0&lng=0", http.StatusNotFound, apierrors.ErrNotFound},
		{"missing latitude", "lng=-0.2", http.StatusBadRequest, apierrors.ErrValidation},
		{"latitude out of range", "lat=95&lng=-0.2", http.StatusBadRequest, apierrors.ErrValidation},
		{"longitude out of range", "lat=5.6&lng=-181", http.StatusBadRequest, apierrors.ErrValidation},
		{"not a number", "lat=abc&lng=-0.2", http.StatusBadRequest, apierrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/api/v1/parcels?"+tt.query, nil, "")

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
				return
			}
			assert.Equal(t, published.Parcel.ID, decode[ParcelResponse](t, w).Parcel.ID)
		})
	}
}
