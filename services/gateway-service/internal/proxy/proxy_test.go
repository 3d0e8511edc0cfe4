package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefixes map[string]string

func (p prefixes) Upstream(path string) (string, bool) {
	for prefix, name := range p {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return name, true
		}
	}
	return "", false
}

func (p prefixes) Upstreams() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range p {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRoutesToOwningService(t *testing.T) {
	courts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "courts:"+r.URL.Path+":"+r.Header.Get(httpx.HeaderUserID))
	}))
	defer courts.Close()
	billing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "billing:"+r.URL.RawQuery)
	}))
	defer billing.Close()

	rt, err := New(prefixes{"/api/v1/courts": "court", "/api/v1/billing": "billing"},
		map[string]string{"court": courts.URL, "billing": billing.URL}, nil, discard)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courts/c1", nil)
	req.Header.Set(httpx.HeaderUserID, "u1")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	assert.Equal(t, "courts:/api/v1/courts/c1:u1", rec.Body.String())

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/billing/sessions?limit=5", nil))
	assert.Equal(t, "billing:limit=5", rec.Body.String())

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownUpstreamIsUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	rt, err := New(prefixes{"/api/v1/courts": "court"}, map[string]string{"court": url}, nil, discard)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/courts", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewNeedsEveryTarget(t *testing.T) {
	_, err := New(prefixes{"/a": "a", "/b": "b"}, map[string]string{"a": "http://a:1"}, nil, discard)
	assert.Error(t, err)
	_, err = New(prefixes{"/a": "a"}, map[string]string{"a": "not a url"}, nil, discard)
	assert.Error(t, err)
}
