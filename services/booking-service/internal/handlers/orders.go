package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/discounts"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/quotes"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
)

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ListProducts(r.Context(), httpx.QueryString(r, "keyword"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.ListItems(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

type addItemsRequest struct {
	Items []storage.ItemInput `json:"items"`
}

func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req addItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(w, r, apperr.Invalid("items must not be empty"))
		return
	}
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
		if req.Items[i].ProductID == "" {
			httpx.WriteError(w, r, apperr.Invalid("items[%d].product_id is required", i))
			return
		}
		if req.Items[i].Quantity <= 0 {
			httpx.WriteError(w, r, apperr.Invalid("items[%d].quantity must be positive", i))
			return
		}
	}
	out, err := h.store.AddItems(r.Context(), httpx.ActorFromRequest(r), id, req.Items)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	itemID, err := httpx.PathUUID(r, "itemId")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.RemoveItem(r.Context(), httpx.ActorFromRequest(r), id, itemID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	PaymentMethod     string           `json:"payment_method"`
	LateFeePercentage *decimal.Decimal `json:"late_fee_percentage"`
	VoucherCode       string           `json:"voucher_code"`
	Note              string           `json:"note"`
}

type checkoutResponse struct {
	Order   storage.Order   `json:"order"`
	Payment storage.Payment `json:"payment"`
	QRURL   string          `json:"qr_url,omitempty"`
	Overdue string          `json:"overdue"`
}

// Checkout prices the remaining court fee, served items and any late fee of
// a CheckedIn occurrence and opens the order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	method, err := booking.NormalizeMethod(req.PaymentMethod)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pct := h.cfg.LateFeePercent
	if req.LateFeePercentage != nil {
		if req.LateFeePercentage.IsNegative() {
			httpx.WriteError(w, r, apperr.Invalid("late_fee_percentage must not be negative"))
			return
		}
		pct = *req.LateFeePercentage
	}

	cc, err := h.store.CheckoutContext(ctx, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	occ := cc.Occurrence
	if occ.Status != booking.StatusCheckedIn {
		httpx.WriteError(w, r, apperr.Conflict("only a CheckedIn occurrence can be checked out, this one is %s", occ.Status))
		return
	}

	quote, err := h.quotes.Quote(ctx, &pricingv1.QuoteRequest{
		CourtID:   occ.CourtID,
		StartDate: occ.Date.String(),
		EndDate:   occ.Date.String(),
		StartTime: occ.StartTime.String(),
		EndTime:   occ.EndTime.String(),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	courtTotal, err := quotes.Amount(quote)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	breakdown := priceCheckout(cc, courtTotal, pct, h.now())

	var voucherID, voucherCode *string
	discount := decimal.Zero
	if code := strings.TrimSpace(req.VoucherCode); code != "" {
		v, err := h.discounts.ValidateVoucher(ctx, discounts.VoucherRequest{
			Code:        code,
			CustomerID:  occ.CustomerID,
			OrderTotal:  breakdown.Subtotal,
			BookingDate: occ.Date.String(),
			StartTime:   occ.StartTime.String(),
		})
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		voucherID, voucherCode = &v.ID, &v.Code
		discount = decimal.Min(v.Discount, breakdown.Subtotal)
	}

	order, payment, err := h.store.CreateOrder(ctx, storage.NewOrder{
		OccurrenceID:      occ.ID,
		CourtTotal:        courtTotal,
		CourtPaid:         breakdown.CourtPaid,
		CourtRemaining:    breakdown.CourtRemaining,
		ItemsSubtotal:     cc.ItemsSubtotal,
		LateFeePercentage: pct,
		LateFee:           breakdown.LateFee,
		OverdueMinutes:    breakdown.OverdueMinutes,
		VoucherID:         voucherID,
		VoucherCode:       voucherCode,
		Discount:          discount,
		Total:             money.NonNegative(breakdown.Subtotal.Sub(discount)),
		Method:            method,
		Note:              strings.TrimSpace(req.Note),
		Actor:             httpx.ActorFromRequest(r),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	resp := checkoutResponse{Order: order, Payment: payment, Overdue: booking.FormatOverdue(breakdown.OverdueMinutes)}
	if method == booking.MethodBank {
		resp.QRURL = h.cfg.QR.URL(payment.Amount, payment.ID)
	}
	if method == booking.MethodCash {
		h.board.Publish(ctx, realtime.PaymentUpdated, payment)
		h.board.Publish(ctx, realtime.BookingUpdated, map[string]string{
			"booking_id":    order.BookingID,
			"occurrence_id": order.OccurrenceID,
			"order_id":      order.ID,
			"order_status":  order.Status,
		})
	} else {
		h.board.Publish(ctx, realtime.PaymentCreated, payment)
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// checkoutBreakdown is the amount due before any voucher.
type checkoutBreakdown struct {
	CourtPaid      decimal.Decimal
	CourtRemaining decimal.Decimal
	LateFee        decimal.Decimal
	OverdueMinutes int
	Subtotal       decimal.Decimal
}

// priceCheckout spreads what was already paid for the booking evenly over its
// occurrences; the remaining court fee of this occurrence is what is still
// owed after that share.
func priceCheckout(cc storage.CheckoutContext, courtTotal, lateFeePct decimal.Decimal, now time.Time) checkoutBreakdown {
	var b checkoutBreakdown
	b.CourtPaid = decimal.Zero
	if cc.OccurrenceCount > 0 {
		b.CourtPaid = money.Round2(cc.PaidTotal.Div(decimal.NewFromInt(int64(cc.OccurrenceCount))))
	}
	b.CourtRemaining = money.NonNegative(courtTotal.Sub(b.CourtPaid))
	occ := cc.Occurrence
	b.OverdueMinutes, b.LateFee = booking.LateFee(now, booking.Slot{Date: occ.Date, Start: occ.StartTime, End: occ.EndTime}, courtTotal, lateFeePct)
	b.Subtotal = money.Sum(b.CourtRemaining, cc.ItemsSubtotal, b.LateFee)
	return b
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.Limit(r, 50, 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.ListOrders(r.Context(), storage.OrderFilter{
		BookingID:    httpx.QueryString(r, "booking_id"),
		OccurrenceID: httpx.QueryString(r, "occurrence_id"),
		Status:       httpx.QueryString(r, "status"),
		Limit:        limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := h.store.GetOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.ConfirmOrder(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.announceSettlement(r.Context(), s)
	if s.Order != nil {
		httpx.WriteJSON(w, http.StatusOK, s.Order)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.Payment)
}
