// Package inventory holds the stock and price rules of the pro shop: price
// table precedence, document totals and stock movements.
package inventory

import (
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
)

type TimeRange struct {
	Start dates.Clock `json:"start_time"`
	End   dates.Clock `json:"end_time"`
}

type TablePrice struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// PriceTable overrides sale prices while it is active and in effect. Nil
// bounds are open-ended.
type PriceTable struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	EffectiveFrom *time.Time   `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time   `json:"effective_to,omitempty"`
	IsActive      bool         `json:"is_active"`
	TimeRanges    []TimeRange  `json:"time_ranges"`
	Products      []TablePrice `json:"products,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (t PriceTable) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if t.EffectiveFrom != nil && t.EffectiveTo != nil && t.EffectiveTo.Before(*t.EffectiveFrom) {
		return apperr.Invalid("effective_to must not be before effective_from")
	}
	for _, r := range t.TimeRanges {
		if !r.Start.Before(r.End) {
			return apperr.Invalid("time range %s-%s must end after it starts", r.Start, r.End)
		}
	}
	seen := map[string]bool{}
	for _, p := range t.Products {
		if p.ProductID == "" {
			return apperr.Invalid("product_id is required")
		}
		if seen[p.ProductID] {
			return apperr.Invalid("product %s is listed twice", p.ProductID)
		}
		seen[p.ProductID] = true
		if p.Price.IsNegative() {
			return apperr.Invalid("price must not be negative")
		}
	}
	return nil
}

// Overlaps reports whether the effective ranges of t and o intersect. Bounds
// are inclusive.
func (t PriceTable) Overlaps(o PriceTable) bool {
	if t.EffectiveTo != nil && o.EffectiveFrom != nil && t.EffectiveTo.Before(*o.EffectiveFrom) {
		return false
	}
	if o.EffectiveTo != nil && t.EffectiveFrom != nil && o.EffectiveTo.Before(*t.EffectiveFrom) {
		return false
	}
	return true
}

// InEffect reports whether t applies at instant at: inside the effective
// range and, when time ranges are set, inside one of them.
func (t PriceTable) InEffect(at time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.EffectiveFrom != nil && at.Before(*t.EffectiveFrom) {
		return false
	}
	if t.EffectiveTo != nil && at.After(*t.EffectiveTo) {
		return false
	}
	if len(t.TimeRanges) == 0 {
		return true
	}
	clock := dates.ClockOf(at.In(dates.Location()))
	for _, r := range t.TimeRanges {
		if !clock.Before(r.Start) && !clock.After(r.End) {
			return true
		}
	}
	return false
}

// FindOverlap returns the first other active table whose range intersects t.
func FindOverlap(t PriceTable, tables []PriceTable) (PriceTable, bool) {
	for _, o := range tables {
		if o.ID == t.ID || !o.IsActive {
			continue
		}
		if t.Overlaps(o) {
			return o, true
		}
	}
	return PriceTable{}, false
}

// EffectivePrice is the override from the first table in effect at at that
// lists the product, else salePrice. tables should be in precedence order.
func EffectivePrice(productID string, salePrice decimal.Decimal, tables []PriceTable, at time.Time) decimal.Decimal {
	for _, t := range tables {
		if !t.InEffect(at) {
			continue
		}
		for _, p := range t.Products {
			if p.ProductID == productID {
				return p.Price
			}
		}
	}
	return salePrice
}
