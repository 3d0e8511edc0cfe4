package inventory

import (
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/shopspring/decimal"
)

// Document kinds.
const (
	KindReceipt  = "receipt"
	KindReturn   = "return"
	KindStockOut = "stock_out"
)

// Document and check statuses.
const (
	StatusDraft     = "Draft"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
)

// Card kinds recorded in the stock ledger.
const (
	CardReceipt  = "receipt"
	CardReturn   = "return"
	CardStockOut = "stock_out"
	CardCheck    = "check"
	CardSale     = "sale"
)

// CodePrefix is the document number prefix for kind.
func CodePrefix(kind string) string {
	switch kind {
	case KindReceipt:
		return "PN"
	case KindReturn:
		return "TH"
	case KindStockOut:
		return "XH"
	}
	return ""
}

// Direction is +1 when completing kind adds stock and -1 when it removes it.
func Direction(kind string) int {
	if kind == KindReceipt {
		return 1
	}
	return -1
}

// CardKind maps a document kind to its ledger entry kind.
func CardKind(kind string) string {
	switch kind {
	case KindReceipt:
		return CardReceipt
	case KindReturn:
		return CardReturn
	}
	return CardStockOut
}

type Line struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Document struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Code         string          `json:"code"`
	SupplierID   *string         `json:"supplier_id,omitempty"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Status       string          `json:"status"`
	Lines        []Line          `json:"lines"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	Note         string          `json:"note"`
	CreatedBy    string          `json:"created_by"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Normalize validates the lines and recomputes line and document totals.
// Receipts and returns need a supplier.
func (d *Document) Normalize() error {
	if CodePrefix(d.Kind) == "" {
		return apperr.Invalid("unknown document kind %q", d.Kind)
	}
	if d.Kind != KindStockOut && (d.SupplierID == nil || *d.SupplierID == "") {
		return apperr.Invalid("supplier_id is required")
	}
	if len(d.Lines) == 0 {
		return apperr.Invalid("at least one line is required")
	}
	seen := map[string]bool{}
	totals := make([]decimal.Decimal, 0, len(d.Lines))
	for i := range d.Lines {
		l := &d.Lines[i]
		if l.ProductID == "" {
			return apperr.Invalid("product_id is required")
		}
		if seen[l.ProductID] {
			return apperr.Invalid("product %s is listed twice", l.ProductID)
		}
		seen[l.ProductID] = true
		if l.Quantity <= 0 {
			return apperr.Invalid("quantity must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return apperr.Invalid("unit_price must not be negative")
		}
		l.Total = money.Round2(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		totals = append(totals, l.Total)
	}
	d.TotalAmount = money.Sum(totals...)
	if d.PaidAmount.IsNegative() {
		return apperr.Invalid("paid_amount must not be negative")
	}
	if d.PaidAmount.GreaterThan(d.TotalAmount) {
		return apperr.Invalid("paid_amount cannot exceed the total")
	}
	return nil
}

// Editable reports whether d can still be changed, completed or cancelled.
func (d Document) Editable() error {
	if d.Status != StatusDraft {
		return apperr.Conflict("%s is %s", d.Code, d.Status)
	}
	return nil
}

// ApplyStock returns the stock after moving qty units in direction dir. A
// removal beyond what is on hand is refused.
func ApplyStock(stock, qty, dir int, productName string) (int, error) {
	next := stock + dir*qty
	if next < 0 {
		return stock, apperr.Conflict("not enough %s in stock: have %d, need %d", productName, stock, qty)
	}
	return next, nil
}

// SaleStock removes qty for a sale but never goes below zero. short is the
// amount that could not be covered.
func SaleStock(stock, qty int) (next, short int) {
	if qty <= stock {
		return stock - qty, 0
	}
	return 0, qty - stock
}
