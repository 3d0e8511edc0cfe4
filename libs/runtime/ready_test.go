package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyzReportsFailingCheck(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }},
		ReadyCheck{Name: "skipped"},
	)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var report readyReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, "unavailable", report.Status)
	assert.Equal(t, map[string]string{"db": "ok", "kafka": "no brokers"}, report.Checks)
}

func TestReadyzChecksShareDeadline(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	start := time.Now()
	report := probe(context.Background(), []ReadyCheck{{Name: "a", Check: slow}, {Name: "b", Check: slow}})
	assert.Less(t, time.Since(start), 2*readyTimeout)
	assert.Equal(t, "unavailable", report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["a"])
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	NewBaseMuxWithReady().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}
