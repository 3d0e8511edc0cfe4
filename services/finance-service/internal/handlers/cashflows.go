package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/storage"
)

func (h *Handler) ListCashflows(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	isPayment, err := httpx.QueryBool(r, "is_payment")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	typeID, err := httpx.QueryInt64(r, "cashflow_type_id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := httpx.QueryString(r, "status")
	if status != "" && !ledger.ValidStatus(status) {
		httpx.WriteError(w, r, apperr.Invalid("status must be Pending, Completed or Cancelled"))
		return
	}
	personType := httpx.QueryString(r, "person_type")
	if personType != "" && !ledger.ValidPersonType(personType) {
		httpx.WriteError(w, r, apperr.Invalid("person_type must be Customer, Supplier, Staff or Other"))
		return
	}
	limit, err := httpx.Limit(r, 200, 1000)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListCashflows(r.Context(), storage.CashflowFilter{
		IsPayment:  isPayment,
		From:       from,
		To:         to,
		TypeID:     typeID,
		Status:     status,
		PersonType: personType,
		Keyword:    httpx.QueryString(r, "keyword"),
		Limit:      limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

// GetCashflow accepts either the numeric id or the reference number.
func (h *Handler) GetCashflow(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	ref := strings.TrimSpace(r.PathValue("ref"))
	var (
		c   ledger.Cashflow
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		c, err = h.store.GetCashflow(r.Context(), id)
	} else {
		c, err = h.store.CashflowByReference(r.Context(), ref)
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

type cashflowRequest struct {
	CashflowTypeID           int64      `json:"cashflow_type_id"`
	IsPayment                bool       `json:"is_payment"`
	Value                    string     `json:"value"`
	Time                     *time.Time `json:"time"`
	PaymentMethod            string     `json:"payment_method"`
	Status                   string     `json:"status"`
	PersonType               string     `json:"person_type"`
	RelatedPerson            string     `json:"related_person"`
	RelatedPersonID          *int64     `json:"related_person_id"`
	RelatedID                string     `json:"related_id"`
	Note                     string     `json:"note"`
	AccountInBusinessResults *bool      `json:"account_in_business_results"`
}

func (req cashflowRequest) toEntry() (ledger.Entry, error) {
	value, err := money.Parse(req.Value)
	if err != nil {
		return ledger.Entry{}, apperr.Invalid("value must be a number")
	}
	e := ledger.Entry{
		TypeID:                   req.CashflowTypeID,
		IsPayment:                req.IsPayment,
		Value:                    value,
		Time:                     req.Time,
		PaymentMethod:            strings.TrimSpace(req.PaymentMethod),
		Status:                   strings.TrimSpace(req.Status),
		PersonType:               req.PersonType,
		RelatedPerson:            req.RelatedPerson,
		RelatedPersonID:          req.RelatedPersonID,
		RelatedID:                strings.TrimSpace(req.RelatedID),
		Note:                     req.Note,
		AccountInBusinessResults: true,
	}
	if req.AccountInBusinessResults != nil {
		e.AccountInBusinessResults = *req.AccountInBusinessResults
	}
	return e, nil
}

func (h *Handler) CreateCashflow(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req cashflowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	e, err := req.toEntry()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.CreateCashflow(r.Context(), httpx.ActorFromRequest(r), e)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCashflow(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req cashflowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	e, err := req.toEntry()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.UpdateCashflow(r.Context(), httpx.ActorFromRequest(r), id, e)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCashflow(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCashflow(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.Summary(r.Context(), from, to)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}
