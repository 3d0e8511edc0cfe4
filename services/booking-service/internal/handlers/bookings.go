package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/availability"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/quotes"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
)

// HeaderIdempotencyKey makes booking creation safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

type createBookingRequest struct {
	CustomerID string `json:"customer_id"`
	CourtID    string `json:"court_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`

	// DaysOfWeek absent or null books a single walk-in session.
	DaysOfWeek     []int            `json:"days_of_week"`
	Note           string           `json:"note"`
	PaymentMethod  string           `json:"payment_method"`
	PayInFull      bool             `json:"pay_in_full"`
	DepositPercent *decimal.Decimal `json:"deposit_percent"`
}

type createBookingResponse struct {
	Booking  storage.Booking `json:"booking"`
	Payment  storage.Payment `json:"payment"`
	QRURL    string          `json:"qr_url,omitempty"`
	Replayed bool            `json:"replayed"`
}

func parseSchedule(startDate, endDate, startTime, endTime string, days []int, today dates.Date) (booking.Schedule, error) {
	sd, err := dates.ParseDate(startDate)
	if err != nil {
		return booking.Schedule{}, apperr.Invalid("start_date must be YYYY-MM-DD")
	}
	var ed dates.Date
	if strings.TrimSpace(endDate) != "" {
		if ed, err = dates.ParseDate(endDate); err != nil {
			return booking.Schedule{}, apperr.Invalid("end_date must be YYYY-MM-DD")
		}
	}
	st, err := dates.ParseClock(startTime)
	if err != nil {
		return booking.Schedule{}, apperr.Invalid("start_time must be HH:MM")
	}
	et, err := dates.ParseClock(endTime)
	if err != nil {
		return booking.Schedule{}, apperr.Invalid("end_time must be HH:MM")
	}
	return booking.NewSchedule(sd, ed, st, et, days, today)
}

func quoteRequest(courtID string, s booking.Schedule) *pricingv1.QuoteRequest {
	return &pricingv1.QuoteRequest{
		CourtID:    courtID,
		StartDate:  s.StartDate.String(),
		EndDate:    s.EndDate.String(),
		StartTime:  s.StartTime.String(),
		EndTime:    s.EndTime.String(),
		DaysOfWeek: s.DaysOfWeek,
	}
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := httpx.ActorFromRequest(r)

	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.CourtID = strings.TrimSpace(req.CourtID)
	if req.CourtID == "" {
		httpx.WriteError(w, r, apperr.Invalid("court_id is required"))
		return
	}
	method, err := booking.NormalizeMethod(req.PaymentMethod)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	// Customers book for themselves and cannot settle in cash at the desk.
	if !actor.IsStaff() {
		if actor.UserID == "" {
			httpx.WriteError(w, r, errUnauthenticated)
			return
		}
		if method == booking.MethodCash {
			httpx.WriteError(w, r, apperr.Forbidden("cash payments are taken at the front desk"))
			return
		}
		c, err := h.store.CustomerByUser(ctx, actor.UserID)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		req.CustomerID = c.ID
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		httpx.WriteError(w, r, apperr.Invalid("customer_id is required"))
		return
	}

	schedule, err := parseSchedule(req.StartDate, req.EndDate, req.StartTime, req.EndTime, req.DaysOfWeek, dates.DateOf(h.now()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if len(schedule.Dates()) == 0 {
		httpx.WriteError(w, r, apperr.Invalid("no date in the range falls on the selected days"))
		return
	}

	quote, err := h.quotes.Quote(ctx, quoteRequest(req.CourtID, schedule))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	amount, err := quotes.Amount(quote)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pct, err := h.discounts.MembershipPercent(ctx, req.CustomerID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	discount := booking.MembershipDiscount(amount, pct)
	full := amount.Sub(discount)

	created, err := h.store.CreateBooking(ctx, storage.NewBooking{
		CustomerID:        req.CustomerID,
		CourtID:           req.CourtID,
		CourtName:         quote.CourtName,
		Schedule:          schedule,
		Note:              strings.TrimSpace(req.Note),
		TotalAmount:       full,
		DiscountAmount:    discount,
		MembershipPercent: pct,
		PaymentAmount:     booking.Deposit(full, req.PayInFull, req.DepositPercent),
		Method:            method,
		HoldFor:           h.cfg.HoldFor,
		Actor:             actor,
		IdempotencyScope:  "booking:" + req.CustomerID,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	resp := createBookingResponse{Booking: created.Booking, Payment: created.Payment, Replayed: created.Replayed}
	if created.Payment.Method == booking.MethodBank && created.Payment.Status == booking.PaymentPending {
		resp.QRURL = h.cfg.QR.URL(created.Payment.Amount, created.Payment.ID)
	}
	status := http.StatusCreated
	if created.Replayed {
		status = http.StatusOK
	} else {
		h.board.Publish(ctx, realtime.BookingCreated, created.Booking)
		h.board.Publish(ctx, realtime.PaymentCreated, created.Payment)
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.ListBookings(r.Context(), storage.BookingFilter{
		CustomerID: httpx.QueryString(r, "customer_id"),
		CourtID:    httpx.QueryString(r, "court_id"),
		From:       from,
		To:         to,
		Status:     httpx.QueryString(r, "status"),
		Limit:      limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	b, err := h.store.GetBooking(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

// MyBookings is the booking history of the signed-in customer.
func (h *Handler) MyBookings(w http.ResponseWriter, r *http.Request) {
	actor := httpx.ActorFromRequest(r)
	if actor.UserID == "" {
		httpx.WriteError(w, r, errUnauthenticated)
		return
	}
	limit, err := httpx.Limit(r, 50, 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.UserHistory(r.Context(), actor.UserID, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled"
	}
	b, err := h.store.CancelBooking(r.Context(), httpx.ActorFromRequest(r), id, reason)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.board.Publish(r.Context(), realtime.BookingCancelled, b)
	httpx.WriteJSON(w, http.StatusOK, b)
}

type freeSlotsResponse struct {
	CourtID string                  `json:"court_id"`
	Date    dates.Date              `json:"date"`
	Slots   []availability.Interval `json:"slots"`
}

// Availability lists the free start times of a court on one date.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	courtID := httpx.QueryString(r, "court_id")
	if courtID == "" {
		httpx.WriteError(w, r, apperr.Invalid("court_id is required"))
		return
	}
	day, err := httpx.QueryDate(r, "date")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if day == nil {
		httpx.WriteError(w, r, apperr.Invalid("date is required"))
		return
	}
	duration := 60 * time.Minute
	if v, err := httpx.QueryInt64(r, "duration_minutes"); err != nil {
		httpx.WriteError(w, r, err)
		return
	} else if v != nil {
		if *v < 30 || *v > 12*60 {
			httpx.WriteError(w, r, apperr.Invalid("duration_minutes must be between 30 and 720"))
			return
		}
		duration = time.Duration(*v) * time.Minute
	}

	now := h.now()
	today := dates.DateOf(now)
	if day.Before(today) {
		httpx.WriteJSON(w, http.StatusOK, freeSlotsResponse{CourtID: courtID, Date: *day, Slots: []availability.Interval{}})
		return
	}
	taken, err := h.store.TakenSlots(r.Context(), courtID, *day)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	busy := make([]availability.Interval, 0, len(taken))
	for _, s := range taken {
		busy = append(busy, availability.Interval{Start: s.Start, End: s.End})
	}
	var notBefore dates.Clock
	if day.Equal(today) {
		notBefore = dates.ClockOf(now)
	}
	slots := availability.FreeSlots(h.cfg.OpenAt, h.cfg.CloseAt, duration, 30*time.Minute, busy, notBefore)
	httpx.WriteJSON(w, http.StatusOK, freeSlotsResponse{CourtID: courtID, Date: *day, Slots: nonNil(slots)})
}

func (h *Handler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if from == nil && to == nil {
		today := dates.DateOf(h.now())
		from, to = &today, &today
	}
	out, err := h.store.ListOccurrences(r.Context(), storage.OccurrenceFilter{
		CourtID: httpx.QueryString(r, "court_id"),
		From:    from,
		To:      to,
		Status:  httpx.QueryString(r, "status"),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) CancelOccurrence(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := h.store.CancelOccurrence(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.board.Publish(r.Context(), realtime.BookingUpdated, o)
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := h.store.CheckIn(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.board.Publish(r.Context(), realtime.OccurrenceCheckedIn, o)
	httpx.WriteJSON(w, http.StatusOK, o)
}
