package httpx

import (
	"net/http"
	"strings"
)

// Headers set by the gateway after verifying the caller's token.
const (
	HeaderUserID   = "X-User-Id"
	HeaderRole     = "X-Role"
	HeaderUserName = "X-User-Name"
)

const (
	RoleAdmin    = "Admin"
	RoleStaff    = "Staff"
	RoleCustomer = "Customer"
)

// Actor is the authenticated caller as forwarded by the gateway.
type Actor struct {
	UserID string
	Role   string
	Name   string
	IP     string
}

func ActorFromRequest(r *http.Request) Actor {
	return Actor{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:   strings.TrimSpace(r.Header.Get(HeaderRole)),
		Name:   strings.TrimSpace(r.Header.Get(HeaderUserName)),
		IP:     clientIP(r),
	}
}

// IsStaff reports whether the actor may act on behalf of the venue.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff
}

// Label names the actor for created_by style columns.
func (a Actor) Label() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.UserID != "":
		return a.UserID
	}
	return "system"
}
