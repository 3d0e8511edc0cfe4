package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/vouchers"
	"github.com/shopspring/decimal"
)

// VoucherReader is what checking a voucher needs from storage.
type VoucherReader interface {
	VoucherByCode(ctx context.Context, code string) (vouchers.Voucher, error)
	RedemptionContext(ctx context.Context, voucherID, customerID string, at time.Time) (vouchers.Customer, error)
}

// VoucherCheck asks whether code may discount total for customerID.
type VoucherCheck struct {
	Code        string
	CustomerID  string
	OrderTotal  decimal.Decimal
	BookingDate string
	StartTime   string
}

// CheckVoucher runs the redemption rules against current usage. It is shared
// by the HTTP endpoint and the RPC server.
func CheckVoucher(ctx context.Context, store VoucherReader, in VoucherCheck, now time.Time) (vouchers.Result, error) {
	if strings.TrimSpace(in.Code) == "" {
		return vouchers.Result{}, apperr.Invalid("code is required")
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return vouchers.Result{}, apperr.Invalid("customer_id is required")
	}
	if in.OrderTotal.IsNegative() {
		return vouchers.Result{}, apperr.Invalid("order_total must not be negative")
	}
	at, err := vouchers.ReferenceTime(in.BookingDate, in.StartTime, now)
	if err != nil {
		return vouchers.Result{}, err
	}
	v, err := store.VoucherByCode(ctx, in.Code)
	if err != nil {
		return vouchers.Result{}, err
	}
	c, err := store.RedemptionContext(ctx, v.ID, in.CustomerID, at)
	if err != nil {
		return vouchers.Result{}, err
	}
	return v.Redeem(c, in.OrderTotal, at)
}

type timeRuleRequest struct {
	DayOfWeek    *int    `json:"day_of_week"`
	SpecificDate *string `json:"specific_date"`
	StartTime    *string `json:"start_time"`
	EndTime      *string `json:"end_time"`
}

type voucherRequest struct {
	Code              string              `json:"code"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	DiscountType      string              `json:"discount_type"`
	DiscountValue     string              `json:"discount_value"`
	MaxDiscountValue  *string             `json:"max_discount_value"`
	MinOrderValue     *string             `json:"min_order_value"`
	StartAt           time.Time           `json:"start_at"`
	EndAt             time.Time           `json:"end_at"`
	UsageLimitTotal   int                 `json:"usage_limit_total"`
	UsageLimitPerUser int                 `json:"usage_limit_per_user"`
	IsActive          *bool               `json:"is_active"`
	TimeRules         []timeRuleRequest   `json:"time_rules"`
	UserRules         []vouchers.UserRule `json:"user_rules"`
}

func optionalAmount(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := money.Parse(*raw)
	if err != nil {
		return nil, apperr.Invalid("%s must be a number", field)
	}
	return &d, nil
}

func (req voucherRequest) toVoucher() (vouchers.Voucher, error) {
	value, err := money.Parse(req.DiscountValue)
	if err != nil {
		return vouchers.Voucher{}, apperr.Invalid("discount_value must be a number")
	}
	v := vouchers.Voucher{
		Code:              strings.TrimSpace(req.Code),
		Title:             strings.TrimSpace(req.Title),
		Description:       strings.TrimSpace(req.Description),
		DiscountType:      strings.ToLower(strings.TrimSpace(req.DiscountType)),
		DiscountValue:     value,
		StartAt:           req.StartAt,
		EndAt:             req.EndAt,
		UsageLimitTotal:   req.UsageLimitTotal,
		UsageLimitPerUser: req.UsageLimitPerUser,
		IsActive:          req.IsActive == nil || *req.IsActive,
		UserRules:         nonNil(req.UserRules),
		TimeRules:         []vouchers.TimeRule{},
	}
	if v.MaxDiscountValue, err = optionalAmount("max_discount_value", req.MaxDiscountValue); err != nil {
		return v, err
	}
	if v.MinOrderValue, err = optionalAmount("min_order_value", req.MinOrderValue); err != nil {
		return v, err
	}
	for _, tr := range req.TimeRules {
		rule, err := tr.toRule()
		if err != nil {
			return v, err
		}
		v.TimeRules = append(v.TimeRules, rule)
	}
	return v, v.Validate()
}

func (tr timeRuleRequest) toRule() (vouchers.TimeRule, error) {
	rule := vouchers.TimeRule{DayOfWeek: tr.DayOfWeek}
	if tr.SpecificDate != nil && strings.TrimSpace(*tr.SpecificDate) != "" {
		d, err := parseDate(*tr.SpecificDate)
		if err != nil {
			return rule, err
		}
		rule.SpecificDate = &d
	}
	for _, c := range []struct {
		raw *string
		dst **dates.Clock
	}{{tr.StartTime, &rule.StartTime}, {tr.EndTime, &rule.EndTime}} {
		if c.raw == nil || strings.TrimSpace(*c.raw) == "" {
			continue
		}
		parsed, err := dates.ParseClock(*c.raw)
		if err != nil {
			return rule, apperr.Invalid("time rule times must be HH:MM")
		}
		*c.dst = &parsed
	}
	return rule, nil
}

func parseDate(raw string) (dates.Date, error) {
	d, err := dates.ParseDate(raw)
	if err != nil {
		return dates.Date{}, apperr.Invalid("specific_date must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	active, err := httpx.QueryBool(r, "is_active")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListVouchers(r.Context(), storage.VoucherFilter{
		Keyword:  httpx.QueryString(r, "keyword"),
		IsActive: active,
		Limit:    limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	v, err := h.store.GetVoucher(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req voucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	v, err := req.toVoucher()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	created, err := h.store.CreateVoucher(r.Context(), httpx.ActorFromRequest(r), v)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req voucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	v, err := req.toVoucher()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	v.ID = id
	updated, err := h.store.UpdateVoucher(r.Context(), httpx.ActorFromRequest(r), v)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteVoucher(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type extendRequest struct {
	EndAt             *time.Time `json:"end_at"`
	UsageLimitTotal   *int       `json:"usage_limit_total"`
	UsageLimitPerUser *int       `json:"usage_limit_per_user"`
}

func (h *Handler) ExtendVoucher(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req extendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.EndAt == nil && req.UsageLimitTotal == nil && req.UsageLimitPerUser == nil {
		httpx.WriteError(w, r, apperr.Invalid("nothing to extend"))
		return
	}
	v, err := h.store.ExtendVoucher(r.Context(), httpx.ActorFromRequest(r), id, storage.Extension(req))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) AvailableVouchers(w http.ResponseWriter, r *http.Request) {
	customerID, err := h.customerFor(r, httpx.QueryString(r, "customer_id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	at, err := vouchers.ReferenceTime(httpx.QueryString(r, "booking_date"), httpx.QueryString(r, "start_time"), h.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.AvailableFor(r.Context(), customerID, at)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

type validateRequest struct {
	Code        string `json:"code"`
	CustomerID  string `json:"customer_id"`
	OrderTotal  string `json:"order_total"`
	BookingDate string `json:"booking_date"`
	StartTime   string `json:"start_time"`
}

func (h *Handler) ValidateVoucher(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	customerID, err := h.customerFor(r, strings.TrimSpace(req.CustomerID))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	total, err := money.Parse(req.OrderTotal)
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid("order_total must be a number"))
		return
	}
	res, err := CheckVoucher(r.Context(), h.store, VoucherCheck{
		Code:        req.Code,
		CustomerID:  customerID,
		OrderTotal:  total,
		BookingDate: req.BookingDate,
		StartTime:   req.StartTime,
	}, h.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
