package policy

import (
	"net/http"
	"testing"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableAccess(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	cases := []struct {
		method, path string
		want         Access
	}{
		{http.MethodPost, "/api/v1/auth/login", Public},
		{http.MethodGet, "/api/v1/courts", Public},
		{http.MethodGet, "/api/v1/courts/quote", Public},
		{http.MethodPost, "/api/v1/courts", Staff},
		{http.MethodPost, "/api/v1/billing/stripe/webhook", Public},
		{http.MethodPost, "/api/v1/payments/sepay/webhook", Public},
		{http.MethodGet, "/api/v1/bookings/me", Customer},
		{http.MethodPost, "/api/v1/bookings", Customer},
		{http.MethodGet, "/api/v1/bookings", Staff},
		{http.MethodPost, "/api/v1/bookings/b1/cancel", Staff},
		{http.MethodGet, "/api/v1/vouchers/available", Customer},
		{http.MethodGet, "/api/v1/memberships", Customer},
		{http.MethodPost, "/api/v1/memberships", Staff},
		{http.MethodPost, "/api/v1/user-memberships", Customer},
		{http.MethodGet, "/api/v1/staff/me", Staff},
		{http.MethodGet, "/api/v1/staff", Admin},
		{http.MethodPost, "/api/v1/payrolls/refresh", Admin},
		{http.MethodGet, "/api/v1/cashflow-types", Staff},
		{http.MethodPost, "/api/v1/cashflow-types", Admin},
		{http.MethodGet, "/api/v1/audit-logs/12", Admin},
		{http.MethodGet, "/api/v1/products", Staff},
		// Prefixes match whole segments only.
		{http.MethodGet, "/api/v1/staffing", Staff},
		{http.MethodGet, "/api/v1/authx", Staff},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, table.Access(c.method, c.path), "%s %s", c.method, c.path)
	}
}

func TestDefaultTableUpstreams(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	for path, want := range map[string]string{
		"/api/v1/auth/login":             "auth",
		"/.well-known/jwks.json":         "auth",
		"/api/v1/courts/quote":           "court",
		"/api/v1/orders/products":        "booking",
		"/api/v1/products/p1":            "inventory",
		"/api/v1/realtime/stream":        "notification",
		"/api/v1/notification-stats":     "audit",
		"/api/v1/notifications":          "notification",
		"/api/v1/membership-payments/x":  "loyalty",
		"/api/v1/billing/stripe/webhook": "billing",
	} {
		got, ok := table.Upstream(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := table.Upstream("/api/v2/courts")
	assert.False(t, ok)
	assert.Contains(t, table.Upstreams(), "scheduler")
}

func TestAccessAllows(t *testing.T) {
	assert.True(t, Public.Allows(""))
	assert.False(t, Customer.Allows(""))
	assert.True(t, Customer.Allows(httpx.RoleCustomer))
	assert.True(t, Customer.Allows(httpx.RoleAdmin))
	assert.False(t, Staff.Allows(httpx.RoleCustomer))
	assert.True(t, Staff.Allows(httpx.RoleStaff))
	assert.False(t, Admin.Allows(httpx.RoleStaff))
	assert.False(t, Admin.Allows("admin"))
}

func TestLoadRejectsBadTables(t *testing.T) {
	for name, doc := range map[string]string{
		"no upstreams":   "rules: []",
		"dup prefix":     "upstreams: {a: [/x], b: [/x]}",
		"relative":       "upstreams: {a: [x]}",
		"bad access":     "upstreams: {a: [/x]}\nrules: [{prefix: /x, access: owner}]",
		"prefix & exact": "upstreams: {a: [/x]}\nrules: [{prefix: /x, exact: /x, access: public}]",
		"bad default":    "upstreams: {a: [/x]}\ndefault: root",
	} {
		_, err := Load([]byte(doc))
		assert.Error(t, err, name)
	}
}
