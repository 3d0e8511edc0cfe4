package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/scheduler-service/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	filter jobs.Filter
}

func (f *fakeStore) List(_ context.Context, filter jobs.Filter) ([]jobs.Job, error) {
	f.filter = filter
	return nil, nil
}

func get(store Store, target, role string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	New(store).Register(mux)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if role != "" {
		req.Header.Set(httpx.HeaderUserID, "u1")
		req.Header.Set(httpx.HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListReminders(t *testing.T) {
	store := &fakeStore{}
	rec := get(store, "/api/v1/reminders?booking_id=b1&status=pending", httpx.RoleStaff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, jobs.Filter{BookingID: "b1", Status: "pending", Limit: 100}, store.filter)
}

func TestListRemindersAccess(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, get(&fakeStore{}, "/api/v1/reminders", "").Code)
	assert.Equal(t, http.StatusForbidden, get(&fakeStore{}, "/api/v1/reminders", httpx.RoleCustomer).Code)
	assert.Equal(t, http.StatusBadRequest, get(&fakeStore{}, "/api/v1/reminders?status=sent", httpx.RoleAdmin).Code)
}
