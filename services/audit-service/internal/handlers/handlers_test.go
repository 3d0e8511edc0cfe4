package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	query    *logs.Query
	getID    int64
	cutoff   time.Time
	from, to dates.Date
	secType  string
	secActor string
}

func (f *fakeStore) Search(_ context.Context, q logs.Query) (logs.Page, error) {
	f.query = &q
	return logs.NewPage(nil, q, 0), nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (logs.Entry, error) {
	f.getID = id
	return logs.Entry{ID: id}, nil
}

func (f *fakeStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func (f *fakeStore) ListSecurity(_ context.Context, eventType, actorID string, _ int) ([]logs.SecurityEvent, error) {
	f.secType, f.secActor = eventType, actorID
	return nil, nil
}

func (f *fakeStore) ListReminderFailures(context.Context, int) ([]logs.ReminderFailure, error) {
	return nil, nil
}

func (f *fakeStore) ChannelStats(_ context.Context, from, to dates.Date) ([]logs.ChannelStat, error) {
	f.from, f.to = from, to
	return []logs.ChannelStat{{Day: from.String(), Channel: "email", Sent: 2}}, nil
}

var fixedNow = time.Date(2025, 10, 6, 3, 0, 0, 0, time.UTC)

func serve(t *testing.T, store Store, method, path, role string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h := New(store)
	h.now = func() time.Time { return fixedNow }
	h.Register(mux)
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		req.Header.Set(httpx.HeaderUserID, "user-1")
		req.Header.Set(httpx.HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAuditLogsAreAdminOnly(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serve(t, &fakeStore{}, http.MethodGet, "/api/v1/audit-logs", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(t, &fakeStore{}, http.MethodGet, "/api/v1/audit-logs", httpx.RoleStaff).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, &fakeStore{}, http.MethodDelete, "/api/v1/audit-logs", httpx.RoleStaff).Code)
}

func TestSearchFilters(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet,
		"/api/v1/audit-logs?page=2&page_size=20&table=bookings&action=Update&user_id=u1&keyword=%20court%20&from=2025-10-01",
		httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"items":[],"page":2,"page_size":20,"total":0,"total_pages":0}`, rec.Body.String())

	q := store.query
	require.NotNil(t, q)
	assert.Equal(t, "bookings", q.Table)
	assert.Equal(t, "Update", q.Action)
	assert.Equal(t, "u1", q.UserID)
	assert.Equal(t, "court", q.Keyword)
	require.NotNil(t, q.From)
	assert.Nil(t, q.To)
	assert.Equal(t, 20, q.Offset())
}

func TestSearchRejectsBadInput(t *testing.T) {
	for _, qs := range []string{"page=0", "page_size=101", "action=Upsert", "from=soon", "from=2025-10-05&to=2025-10-01"} {
		rec := serve(t, &fakeStore{}, http.MethodGet, "/api/v1/audit-logs?"+qs, httpx.RoleAdmin)
		assert.Equal(t, http.StatusBadRequest, rec.Code, qs)
	}
}

func TestScopedRoutesPinFilter(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/audit-logs/entity/courts/c-9?table=ignored", httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "courts", store.query.Table)
	assert.Equal(t, "c-9", store.query.EntityID)

	serve(t, store, http.MethodGet, "/api/v1/audit-logs/user/u-7", httpx.RoleAdmin)
	assert.Equal(t, "u-7", store.query.UserID)

	serve(t, store, http.MethodGet, "/api/v1/audit-logs/table/payments", httpx.RoleAdmin)
	assert.Equal(t, "payments", store.query.Table)

	rec = serve(t, store, http.MethodGet, "/api/v1/audit-logs/action/Frobnicate", httpx.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetValidatesID(t *testing.T) {
	store := &fakeStore{}
	assert.Equal(t, http.StatusBadRequest, serve(t, store, http.MethodGet, "/api/v1/audit-logs/abc", httpx.RoleAdmin).Code)
	rec := serve(t, store, http.MethodGet, "/api/v1/audit-logs/12", httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 12, store.getID)
}

func TestPurgeDefaultsToNinetyDays(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodDelete, "/api/v1/audit-logs", httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, fixedNow.AddDate(0, 0, -90), store.cutoff.UTC())
	assert.Contains(t, rec.Body.String(), `"deleted":3`)

	rec = serve(t, store, http.MethodDelete, "/api/v1/audit-logs?older_than_days=0", httpx.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityEventsFilters(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/security-events?event_type=LOGIN_FAILED&actor_id=a1", httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, "LOGIN_FAILED", store.secType)
	assert.Equal(t, "a1", store.secActor)
}

func TestNotificationStatsWindow(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/notification-stats", httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-09-30", store.from.String())
	assert.Equal(t, "2025-10-06", store.to.String())

	rec = serve(t, store, http.MethodGet, "/api/v1/notification-stats?from=2025-10-05&to=2025-10-01", httpx.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
