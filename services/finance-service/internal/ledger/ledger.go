// Package ledger holds the venue's cash book: receipts and payments grouped
// by cashflow type, and the people money moves to or from.
package ledger

import (
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/shopspring/decimal"
)

// Seeded cashflow type codes used by automatic entries.
const (
	TypeCustomerPayment = "TTKH"
	TypeSupplierPayment = "CTNCC"
	TypeSupplierRefund  = "TTNCC"
	TypePayStaff        = "CTNV"
	TypeOtherIncome     = "TTK"
	TypeOtherExpense    = "CTK"
)

// BuiltIn reports whether code is one of the types automatic entries rely on.
func BuiltIn(code string) bool {
	switch code {
	case TypeCustomerPayment, TypeSupplierPayment, TypeSupplierRefund, TypePayStaff:
		return true
	}
	return false
}

const (
	PersonCustomer = "Customer"
	PersonSupplier = "Supplier"
	PersonStaff    = "Staff"
	PersonOther    = "Other"
)

const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
)

const (
	MethodCash     = "Cash"
	MethodTransfer = "Transfer"
	MethodCard     = "Card"
)

func ValidPersonType(s string) bool {
	switch s {
	case PersonCustomer, PersonSupplier, PersonStaff, PersonOther:
		return true
	}
	return false
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ValidMethod(s string) bool {
	switch s {
	case MethodCash, MethodTransfer, MethodCard:
		return true
	}
	return false
}

// MethodFrom maps the payment methods used by booking and loyalty onto the
// cash book's. Unknown methods count as cash.
func MethodFrom(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bank", "transfer", "banktransfer":
		return MethodTransfer
	case "card", "stripe":
		return MethodCard
	}
	return MethodCash
}

type CashflowType struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	IsPayment   bool      `json:"is_payment"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t *CashflowType) Normalize() error {
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	t.Name = strings.TrimSpace(t.Name)
	t.Description = strings.TrimSpace(t.Description)
	if t.Code == "" {
		return apperr.Invalid("code is required")
	}
	if strings.ContainsAny(t.Code, " \t") {
		return apperr.Invalid("code must not contain spaces")
	}
	if t.Name == "" {
		return apperr.Invalid("name is required")
	}
	return nil
}

type Cashflow struct {
	ID                       int64           `json:"id"`
	ReferenceNumber          string          `json:"reference_number"`
	Time                     time.Time       `json:"time"`
	IsPayment                bool            `json:"is_payment"`
	TypeID                   int64           `json:"cashflow_type_id"`
	TypeCode                 string          `json:"cashflow_type_code"`
	TypeName                 string          `json:"cashflow_type_name"`
	Value                    decimal.Decimal `json:"value"`
	PaymentMethod            string          `json:"payment_method"`
	Status                   string          `json:"status"`
	PersonType               string          `json:"person_type"`
	RelatedPerson            string          `json:"related_person"`
	RelatedPersonID          *int64          `json:"related_person_id"`
	RelatedID                string          `json:"related_id"`
	Source                   string          `json:"source,omitempty"`
	Note                     string          `json:"note"`
	AccountInBusinessResults bool            `json:"account_in_business_results"`
	CreatedBy                string          `json:"created_by"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// Entry is a manually written receipt or payment.
type Entry struct {
	TypeID                   int64
	IsPayment                bool
	Value                    decimal.Decimal
	Time                     *time.Time
	PaymentMethod            string
	Status                   string
	PersonType               string
	RelatedPerson            string
	RelatedPersonID          *int64
	RelatedID                string
	Note                     string
	AccountInBusinessResults bool
}

// Normalize validates e against now and fills defaults. Values are given as
// positive amounts whatever the direction.
func (e *Entry) Normalize(now time.Time) error {
	if e.TypeID <= 0 {
		return apperr.Invalid("cashflow_type_id is required")
	}
	if !e.Value.IsPositive() {
		return apperr.Invalid("value must be greater than zero")
	}
	if e.Time == nil {
		t := now
		e.Time = &t
	} else if e.Time.After(now) {
		return apperr.Invalid("time cannot be in the future")
	}
	if e.PaymentMethod == "" {
		e.PaymentMethod = MethodCash
	}
	if !ValidMethod(e.PaymentMethod) {
		return apperr.Invalid("payment_method must be Cash, Transfer or Card")
	}
	if e.Status == "" {
		e.Status = StatusCompleted
	}
	if !ValidStatus(e.Status) {
		return apperr.Invalid("status must be Pending, Completed or Cancelled")
	}
	e.PersonType = strings.TrimSpace(e.PersonType)
	if e.PersonType != "" && !ValidPersonType(e.PersonType) {
		return apperr.Invalid("person_type must be Customer, Supplier, Staff or Other")
	}
	e.RelatedPerson = strings.TrimSpace(e.RelatedPerson)
	e.Note = strings.TrimSpace(e.Note)
	return nil
}

// SignedValue stores payments as negative amounts and receipts as positive
// ones regardless of the sign the caller used.
func SignedValue(isPayment bool, v decimal.Decimal) decimal.Decimal {
	if isPayment {
		return v.Abs().Neg()
	}
	return v.Abs()
}

// ReferenceNumber is the type code followed by the row id, e.g. TTKH000042.
func ReferenceNumber(typeCode string, id int64) string {
	return codes.Format(typeCode, id)
}

type RelatedPerson struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PersonType string    `json:"person_type"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email"`
	Address    string    `json:"address"`
	Company    string    `json:"company"`
	Note       string    `json:"note"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p *RelatedPerson) Normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.PersonType = strings.TrimSpace(p.PersonType)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Email = strings.TrimSpace(p.Email)
	p.Address = strings.TrimSpace(p.Address)
	p.Company = strings.TrimSpace(p.Company)
	p.Note = strings.TrimSpace(p.Note)
	if p.Name == "" {
		return apperr.Invalid("name is required")
	}
	if p.PersonType == "" {
		p.PersonType = PersonOther
	}
	if !ValidPersonType(p.PersonType) {
		return apperr.Invalid("person_type must be Customer, Supplier, Staff or Other")
	}
	return nil
}

type TypeTotal struct {
	TypeID    int64           `json:"cashflow_type_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	IsPayment bool            `json:"is_payment"`
	Count     int             `json:"count"`
	Total     decimal.Decimal `json:"total"`
}

type Summary struct {
	From    *time.Time      `json:"from,omitempty"`
	To      *time.Time      `json:"to,omitempty"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
	Count   int             `json:"count"`
	ByType  []TypeTotal     `json:"by_type"`
}

// Summarize folds per-type totals into income, expense and net. Expense is
// reported as a positive amount.
func Summarize(totals []TypeTotal) Summary {
	s := Summary{Income: decimal.Zero, Expense: decimal.Zero, ByType: totals}
	if s.ByType == nil {
		s.ByType = []TypeTotal{}
	}
	for _, t := range totals {
		s.Count += t.Count
		if t.Total.IsNegative() {
			s.Expense = s.Expense.Add(t.Total.Neg())
		} else {
			s.Income = s.Income.Add(t.Total)
		}
	}
	s.Net = s.Income.Sub(s.Expense)
	return s
}
