package handlers

import (
	"net/http"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/storage"
)

func (h *Handler) ListPeople(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	personType := httpx.QueryString(r, "person_type")
	if personType != "" && !ledger.ValidPersonType(personType) {
		httpx.WriteError(w, r, apperr.Invalid("person_type must be Customer, Supplier, Staff or Other"))
		return
	}
	active, err := httpx.QueryBool(r, "is_active")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListPeople(r.Context(), storage.PersonFilter{
		Keyword:    httpx.QueryString(r, "keyword"),
		PersonType: personType,
		IsActive:   active,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetPerson(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

type personRequest struct {
	Name       string `json:"name"`
	PersonType string `json:"person_type"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	Company    string `json:"company"`
	Note       string `json:"note"`
	IsActive   *bool  `json:"is_active"`
}

func (req personRequest) toPerson() (ledger.RelatedPerson, error) {
	p := ledger.RelatedPerson{
		Name:       req.Name,
		PersonType: req.PersonType,
		Phone:      req.Phone,
		Email:      req.Email,
		Address:    req.Address,
		Company:    req.Company,
		Note:       req.Note,
		IsActive:   true,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	return p, p.Normalize()
}

func (h *Handler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req personRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := req.toPerson()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.CreatePerson(r.Context(), httpx.ActorFromRequest(r), p)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (h *Handler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req personRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := req.toPerson()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.UpdatePerson(r.Context(), httpx.ActorFromRequest(r), id, p)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeletePerson(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
