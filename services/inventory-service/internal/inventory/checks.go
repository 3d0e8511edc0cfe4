package inventory

import (
	"sort"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
)

type CheckLine struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name,omitempty"`
	SystemQuantity int    `json:"system_quantity"`
	ActualQuantity int    `json:"actual_quantity"`
}

func (l CheckLine) Delta() int { return l.ActualQuantity - l.SystemQuantity }

type Check struct {
	ID         string      `json:"id"`
	Code       string      `json:"code"`
	Status     string      `json:"status"`
	Note       string      `json:"note"`
	Lines      []CheckLine `json:"lines"`
	CreatedBy  string      `json:"created_by"`
	BalancedAt *time.Time  `json:"balanced_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// CheckTotals summarises the differences a check found.
type CheckTotals struct {
	Increase      int `json:"increase"`
	Decrease      int `json:"decrease"`
	Net           int `json:"net"`
	ProductsCount int `json:"products_count"`
}

func (c Check) Totals() CheckTotals {
	var t CheckTotals
	for _, l := range c.Lines {
		d := l.Delta()
		switch {
		case d > 0:
			t.Increase += d
		case d < 0:
			t.Decrease -= d
		}
		t.Net += d
	}
	t.ProductsCount = len(c.Lines)
	return t
}

func ValidateCheckLines(lines []CheckLine) error {
	if len(lines) == 0 {
		return apperr.Invalid("at least one line is required")
	}
	seen := map[string]bool{}
	for _, l := range lines {
		if l.ProductID == "" {
			return apperr.Invalid("product_id is required")
		}
		if seen[l.ProductID] {
			return apperr.Invalid("product %s is listed twice", l.ProductID)
		}
		seen[l.ProductID] = true
		if l.ActualQuantity < 0 {
			return apperr.Invalid("actual_quantity must not be negative")
		}
	}
	return nil
}

// MergeLines folds several draft checks into one set of lines. Actual
// quantities are summed per product; the system quantity is the first one
// seen. Lines come back ordered by product name.
func MergeLines(checks []Check) []CheckLine {
	index := map[string]int{}
	var out []CheckLine
	for _, c := range checks {
		for _, l := range c.Lines {
			if i, ok := index[l.ProductID]; ok {
				out[i].ActualQuantity += l.ActualQuantity
				continue
			}
			index[l.ProductID] = len(out)
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	return out
}
