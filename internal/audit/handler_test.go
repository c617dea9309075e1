package audit

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestHandler(repo *stubRepo) http.Handler {
	h := NewHandler(nil, NewService(repo))
	h.now = func() time.Time { return fixedNow }
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerTimeline(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		mockRow(2, "2025-03-14T09:00:00Z", "admin", "rbac.role.assign", "u-1"),
	}}
	h := newTestHandler(repo)

	rec := get(t, h, "/audit/?user=u-1&action=rbac.role.assign&page_size=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var body Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "rbac.role.assign", body.Rows[0].Action)
	assert.Equal(t, 10, body.Paging.PageSize)

	assert.Equal(t, "user", repo.last.Entity)
	assert.Equal(t, "u-1", repo.last.EntityID)
	assert.Equal(t, "rbac.role.assign", repo.last.Action)
	require.NotNil(t, repo.last.To)
	require.NotNil(t, repo.last.From)
	assert.Equal(t, fixedNow, *repo.last.To)
	assert.Equal(t, fixedNow.Add(-defaultDateRange), *repo.last.From)
}

func TestHandlerDateBounds(t *testing.T) {
	repo := &stubRepo{}
	h := newTestHandler(repo)

	rec := get(t, h, "/audit/?from=2025-03-01&to=2025-03-10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *repo.last.From)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), *repo.last.To)

	rec = get(t, h, "/audit/?from=2025-03-01T08:00:00Z&to=2025-03-01T09:30:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC), *repo.last.To)
}

func TestHandlerRejectsBadFilters(t *testing.T) {
	h := newTestHandler(&stubRepo{})
	cases := map[string]string{
		"bad to":         "/audit/?to=yesterday",
		"bad from":       "/audit/?from=03/01/2025",
		"inverted range": "/audit/?from=2025-03-10&to=2025-03-01",
		"range too wide": "/audit/?from=2024-01-01&to=2025-03-01",
		"bad page":       "/audit/?page=0",
		"page too large": "/audit/?page=9223372036854775807",
		"page past cap":  "/audit/?page=10001",
		"bad page size":  "/audit/?page_size=abc",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rec := get(t, h, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestHandlerHidesStorageErrors(t *testing.T) {
	h := newTestHandler(&stubRepo{err: errors.New("pq: relation audit_logs does not exist")})
	rec := get(t, h, "/audit/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "audit_logs")
}

func TestHandlerExportCSV(t *testing.T) {
	row := mockRow(7, "2025-03-14T09:00:00Z", "admin", "rbac.role.assign", "u-1")
	row.Meta = map[string]any{"role_id": "role-editor"}
	h := newTestHandler(&stubRepo{rows: []TimelineRow{row}})

	rec := get(t, h, "/audit/export.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, []string{"7", "2025-03-14T09:00:00Z", "admin", "rbac.role.assign", "user", "u-1", `{"role_id":"role-editor"}`}, records[1])
}

func TestHandlerExportRateLimited(t *testing.T) {
	h := newTestHandler(&stubRepo{})
	for i := 0; i < exportRateLimit; i++ {
		require.Equal(t, http.StatusOK, get(t, h, "/audit/export.csv").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/audit/export.csv").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/audit/").Code)
}
