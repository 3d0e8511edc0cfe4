package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/court-service/internal/pricing"
	"github.com/hoaht-8203/courtops/services/court-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/court-service/internal/templates"
)

// Store is the persistence surface the handlers need.
type Store interface {
	ListAreas(ctx context.Context) ([]storage.Area, error)
	CreateArea(ctx context.Context, actor httpx.Actor, name, description string) (storage.Area, error)
	UpdateArea(ctx context.Context, actor httpx.Actor, id, name, description string) (storage.Area, error)
	DeleteArea(ctx context.Context, actor httpx.Actor, id string) error

	ListCourts(ctx context.Context, f storage.CourtFilter) ([]storage.Court, error)
	GetCourt(ctx context.Context, id string) (storage.Court, error)
	CreateCourt(ctx context.Context, actor httpx.Actor, in storage.CourtInput) (storage.Court, error)
	UpdateCourt(ctx context.Context, actor httpx.Actor, id string, in storage.CourtInput) (storage.Court, error)
	SetStatus(ctx context.Context, actor httpx.Actor, id, status string) (storage.Court, error)

	ListTemplates(ctx context.Context) ([]templates.Template, error)
	CreateTemplate(ctx context.Context, actor httpx.Actor, t templates.Template) (templates.Template, error)
	UpdateTemplate(ctx context.Context, actor httpx.Actor, t templates.Template) (templates.Template, error)
	DeleteTemplate(ctx context.Context, actor httpx.Actor, id string) error
}

type Handler struct {
	store Store
}

func New(store Store) *Handler {
	return &Handler{store: store}
}

// Register mounts the court routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/court-areas", h.ListAreas)
	mux.HandleFunc("POST /api/v1/court-areas", h.CreateArea)
	mux.HandleFunc("PUT /api/v1/court-areas/{id}", h.UpdateArea)
	mux.HandleFunc("DELETE /api/v1/court-areas/{id}", h.DeleteArea)

	mux.HandleFunc("GET /api/v1/courts", h.ListCourts)
	mux.HandleFunc("GET /api/v1/courts/quote", h.Quote)
	mux.HandleFunc("GET /api/v1/courts/{id}", h.GetCourt)
	mux.HandleFunc("POST /api/v1/courts", h.CreateCourt)
	mux.HandleFunc("PUT /api/v1/courts/{id}", h.UpdateCourt)
	mux.HandleFunc("DELETE /api/v1/courts/{id}", h.DeleteCourt)
	mux.HandleFunc("PATCH /api/v1/courts/{id}/status", h.ChangeStatus)

	mux.HandleFunc("GET /api/v1/pricing-templates", h.ListTemplates)
	mux.HandleFunc("POST /api/v1/pricing-templates", h.CreateTemplate)
	mux.HandleFunc("PUT /api/v1/pricing-templates/{id}", h.UpdateTemplate)
	mux.HandleFunc("DELETE /api/v1/pricing-templates/{id}", h.DeleteTemplate)
}

type areaRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (req *areaRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		return apperr.Invalid("name is required")
	}
	return nil
}

func (h *Handler) ListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.store.ListAreas(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(areas))
}

func (h *Handler) CreateArea(w http.ResponseWriter, r *http.Request) {
	var req areaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	area, err := h.store.CreateArea(r.Context(), httpx.ActorFromRequest(r), req.Name, req.Description)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, area)
}

func (h *Handler) UpdateArea(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req areaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	area, err := h.store.UpdateArea(r.Context(), httpx.ActorFromRequest(r), id, req.Name, req.Description)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, area)
}

func (h *Handler) DeleteArea(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteArea(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var clientStatuses = map[string]bool{
	storage.StatusActive:      true,
	storage.StatusInactive:    true,
	storage.StatusMaintenance: true,
	storage.StatusDeleted:     true,
}

func (h *Handler) ListCourts(w http.ResponseWriter, r *http.Request) {
	f := storage.CourtFilter{
		Name:   httpx.QueryString(r, "name"),
		Status: httpx.QueryString(r, "status"),
		AreaID: httpx.QueryString(r, "area_id"),
	}
	if f.Status != "" && !clientStatuses[f.Status] && f.Status != storage.StatusInUse {
		httpx.WriteError(w, r, apperr.Invalid("unknown status %q", f.Status))
		return
	}
	courts, err := h.store.ListCourts(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(courts))
}

func (h *Handler) GetCourt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	court, err := h.store.GetCourt(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, court)
}

type courtRequest struct {
	Name         string         `json:"name"`
	AreaID       *string        `json:"area_id"`
	ImageURL     string         `json:"image_url"`
	Description  string         `json:"description"`
	PricingRules []pricing.Rule `json:"pricing_rules"`
}

func (req courtRequest) toInput() (storage.CourtInput, error) {
	in := storage.CourtInput{
		Name:        strings.TrimSpace(req.Name),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Description: strings.TrimSpace(req.Description),
	}
	if in.Name == "" {
		return in, apperr.Invalid("name is required")
	}
	if req.AreaID != nil && strings.TrimSpace(*req.AreaID) != "" {
		area := strings.TrimSpace(*req.AreaID)
		in.AreaID = &area
	}
	rules, err := pricing.NormalizeRules(req.PricingRules)
	if err != nil {
		return in, err
	}
	in.PricingRules = rules
	return in, nil
}

func (h *Handler) CreateCourt(w http.ResponseWriter, r *http.Request) {
	var req courtRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	court, err := h.store.CreateCourt(r.Context(), httpx.ActorFromRequest(r), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, court)
}

func (h *Handler) UpdateCourt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req courtRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	court, err := h.store.UpdateCourt(r.Context(), httpx.ActorFromRequest(r), id, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, court)
}

func (h *Handler) DeleteCourt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if _, err := h.store.SetStatus(r.Context(), httpx.ActorFromRequest(r), id, storage.StatusDeleted); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !clientStatuses[req.Status] {
		httpx.WriteError(w, r, apperr.Invalid("status must be one of Active, Inactive, Maintenance, Deleted"))
		return
	}
	court, err := h.store.SetStatus(r.Context(), httpx.ActorFromRequest(r), id, req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, court)
}

// ParseQuoteRequest reads the quote parameters shared by HTTP and gRPC.
func ParseQuoteRequest(startDate, endDate, startTime, endTime string, days []int) (pricing.Request, error) {
	var req pricing.Request
	var err error
	if req.StartDate, err = dates.ParseDate(startDate); err != nil {
		return req, apperr.Invalid("start_date: %v", err)
	}
	req.EndDate = req.StartDate
	if strings.TrimSpace(endDate) != "" {
		if req.EndDate, err = dates.ParseDate(endDate); err != nil {
			return req, apperr.Invalid("end_date: %v", err)
		}
	}
	if req.StartTime, err = dates.ParseClock(startTime); err != nil {
		return req, apperr.Invalid("start_time: %v", err)
	}
	if req.EndTime, err = dates.ParseClock(endTime); err != nil {
		return req, apperr.Invalid("end_time: %v", err)
	}
	req.DaysOfWeek = days
	return req, nil
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	courtID := httpx.QueryString(r, "court_id")
	if courtID == "" {
		httpx.WriteError(w, r, apperr.Invalid("court_id is required"))
		return
	}
	var days []int
	for _, raw := range strings.Split(httpx.QueryString(r, "days_of_week"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, r, apperr.Invalid("days_of_week must be a comma separated list of numbers"))
			return
		}
		days = append(days, d)
	}
	req, err := ParseQuoteRequest(
		httpx.QueryString(r, "start_date"),
		httpx.QueryString(r, "end_date"),
		httpx.QueryString(r, "start_time"),
		httpx.QueryString(r, "end_time"),
		days,
	)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	court, err := h.store.GetCourt(r.Context(), courtID)
	if err == nil && court.Status == storage.StatusDeleted {
		err = storage.ErrCourtNotFound
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	res, err := pricing.Quote(court.PricingRules, req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"court_id":   court.ID,
		"court_name": court.Name,
		"amount":     res.Amount,
		"per_date":   res.PerDate,
	})
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.store.ListTemplates(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(tpls))
}

type templateRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Rules       []pricing.Rule `json:"rules"`
}

func (req templateRequest) toTemplate() (templates.Template, error) {
	t := templates.Template{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	}
	if t.Name == "" {
		return t, apperr.Invalid("name is required")
	}
	if len(req.Rules) == 0 {
		return t, apperr.Invalid("rules must not be empty")
	}
	rules, err := pricing.NormalizeRules(req.Rules)
	if err != nil {
		return t, err
	}
	t.Rules = rules
	return t, nil
}

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err := req.toTemplate()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err = h.store.CreateTemplate(r.Context(), httpx.ActorFromRequest(r), t)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req templateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err := req.toTemplate()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t.ID = id
	t, err = h.store.UpdateTemplate(r.Context(), httpx.ActorFromRequest(r), t)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteTemplate(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
