// Package handlers serves the audit trail to admins.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/logs"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/retention"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Store interface {
	Search(ctx context.Context, q logs.Query) (logs.Page, error)
	Get(ctx context.Context, id int64) (logs.Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListSecurity(ctx context.Context, eventType, actorID string, limit int) ([]logs.SecurityEvent, error)
	ListReminderFailures(ctx context.Context, limit int) ([]logs.ReminderFailure, error)
	ChannelStats(ctx context.Context, from, to dates.Date) ([]logs.ChannelStat, error)
}

type Handler struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/audit-logs", h.Search)
	mux.HandleFunc("DELETE /api/v1/audit-logs", h.Purge)
	mux.HandleFunc("GET /api/v1/audit-logs/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/audit-logs/entity/{table}/{entityID}", h.EntityHistory)
	mux.HandleFunc("GET /api/v1/audit-logs/user/{userID}", h.scoped(func(r *http.Request, q *logs.Query) { q.UserID = r.PathValue("userID") }))
	mux.HandleFunc("GET /api/v1/audit-logs/table/{table}", h.scoped(func(r *http.Request, q *logs.Query) { q.Table = r.PathValue("table") }))
	mux.HandleFunc("GET /api/v1/audit-logs/action/{action}", h.scoped(func(r *http.Request, q *logs.Query) { q.Action = r.PathValue("action") }))

	mux.HandleFunc("GET /api/v1/security-events", h.SecurityEvents)
	mux.HandleFunc("GET /api/v1/reminder-failures", h.ReminderFailures)
	mux.HandleFunc("GET /api/v1/notification-stats", h.NotificationStats)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return false
	case actor.Role != httpx.RoleAdmin:
		httpx.WriteError(w, r, apperr.Forbidden("admin only"))
		return false
	}
	return true
}

// query reads the paging and filter parameters shared by the list routes.
func query(r *http.Request) (logs.Query, error) {
	page, size, err := httpx.Page(r, logs.DefaultPageSize, logs.MaxPageSize)
	if err != nil {
		return logs.Query{}, err
	}
	from, err := httpx.QueryTime(r, "from")
	if err != nil {
		return logs.Query{}, err
	}
	to, err := httpx.QueryTime(r, "to")
	if err != nil {
		return logs.Query{}, err
	}
	return logs.Query{
		Page:     page,
		PageSize: size,
		Table:    httpx.QueryString(r, "table"),
		Action:   httpx.QueryString(r, "action"),
		UserID:   httpx.QueryString(r, "user_id"),
		EntityID: httpx.QueryString(r, "entity_id"),
		From:     from,
		To:       to,
		Keyword:  httpx.QueryString(r, "keyword"),
	}, nil
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, scope func(*http.Request, *logs.Query)) {
	if !requireAdmin(w, r) {
		return
	}
	q, err := query(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if scope != nil {
		scope(r, &q)
	}
	if err := q.Normalize(); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	page, err := h.store.Search(r.Context(), q)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, nil)
}

// scoped serves a list route whose path pins one filter.
func (h *Handler) scoped(scope func(*http.Request, *logs.Query)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.search(w, r, scope) }
}

func (h *Handler) EntityHistory(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, func(r *http.Request, q *logs.Query) {
		q.Table = r.PathValue("table")
		q.EntityID = r.PathValue("entityID")
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, r, apperr.Invalid("id must be a positive integer"))
		return
	}
	e, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, e)
}

// Purge deletes entries older than ?older_than_days= (default 90).
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	days := logs.DefaultRetentionDays
	if raw := httpx.QueryString(r, "older_than_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.WriteError(w, r, apperr.Invalid("older_than_days must be a positive integer"))
			return
		}
		days = n
	}
	cutoff := retention.Cutoff(h.now(), days)
	n, err := h.store.DeleteOlderThan(r.Context(), cutoff)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": n, "cutoff": cutoff.UTC()})
}

func (h *Handler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 50, 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListSecurity(r.Context(), httpx.QueryString(r, "event_type"), httpx.QueryString(r, "actor_id"), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) ReminderFailures(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 50, 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListReminderFailures(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

// NotificationStats defaults to the last seven venue days.
func (h *Handler) NotificationStats(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	today := dates.DateOf(h.now().In(dates.Location()))
	from, to := today.AddDays(-6), today
	if d, err := httpx.QueryDate(r, "from"); err != nil {
		httpx.WriteError(w, r, err)
		return
	} else if d != nil {
		from = *d
	}
	if d, err := httpx.QueryDate(r, "to"); err != nil {
		httpx.WriteError(w, r, err)
		return
	} else if d != nil {
		to = *d
	}
	if to.Before(from) {
		httpx.WriteError(w, r, apperr.Invalid("to must not be before from"))
		return
	}
	list, err := h.store.ChannelStats(r.Context(), from, to)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
