package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
)

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.ListPayments(r.Context(), storage.PaymentFilter{
		BookingID:  httpx.QueryString(r, "booking_id"),
		OrderID:    httpx.QueryString(r, "order_id"),
		CustomerID: httpx.QueryString(r, "customer_id"),
		Status:     httpx.QueryString(r, "status"),
		Limit:      limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		httpx.WriteError(w, r, apperr.Invalid("id is required"))
		return
	}
	s, err := h.store.ConfirmPayment(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.announceSettlement(r.Context(), s)
	httpx.WriteJSON(w, http.StatusOK, s.Payment)
}

// sepayTransfer is the body SePay posts for every account movement.
type sepayTransfer struct {
	ID              int64   `json:"id"`
	Gateway         string  `json:"gateway"`
	TransactionDate string  `json:"transactionDate"`
	AccountNumber   string  `json:"accountNumber"`
	Code            *string `json:"code"`
	Content         string  `json:"content"`
	TransferType    string  `json:"transferType"`
	TransferAmount  int64   `json:"transferAmount"`
	Accumulated     int64   `json:"accumulated"`
	SubAccount      *string `json:"subAccount"`
	ReferenceCode   string  `json:"referenceCode"`
	Description     string  `json:"description"`
}

type sepayResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// SePayWebhook receives bank transfer notifications. The memo carries the
// payment id (PM-ddMMyyyy-NNNNNN, dashes often stripped by banks).
func (h *Handler) SePayWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.sepayAuthorized(r) {
		httpx.WriteError(w, r, apperr.New(http.StatusUnauthorized, "unauthenticated", "invalid api key"))
		return
	}
	// SePay adds fields over time, so unknown ones are tolerated here.
	var req sepayTransfer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, apperr.Invalid("invalid json body"))
		return
	}
	if req.ID <= 0 {
		httpx.WriteError(w, r, apperr.Invalid("transfer id is required"))
		return
	}
	memo := strings.TrimSpace(req.Content)
	if memo == "" {
		memo = strings.TrimSpace(req.Description)
	}

	res, err := h.store.ApplyBankTransfer(r.Context(), storage.BankTransfer{
		ID:           req.ID,
		Gateway:      req.Gateway,
		TransferType: req.TransferType,
		Amount:       decimal.NewFromInt(req.TransferAmount),
		Content:      memo,
		PaymentRef:   codes.FindPaymentRef(memo),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	resp := sepayResponse{Success: true, Outcome: res.Outcome}
	switch res.Outcome {
	case storage.TransferApplied:
		h.announceSettlement(r.Context(), res.Settlement)
		if res.Settlement.Late {
			resp.Message = res.Settlement.Payment.Note
		}
	case storage.TransferInsufficient:
		resp.Message = "no content or insufficient amount"
	case storage.TransferDuplicate:
		resp.Message = "transfer already processed"
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) sepayAuthorized(r *http.Request) bool {
	if h.cfg.SePayAPIKey == "" {
		return false
	}
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "apikey "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return false
	}
	key := strings.TrimSpace(raw[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.SePayAPIKey)) == 1
}
