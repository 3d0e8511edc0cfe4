package staffing

import (
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
)

const (
	PayrollPending   = "Pending"
	PayrollCompleted = "Completed"

	ItemPending   = "Pending"
	ItemCompleted = "Completed"
)

const PayrollCodePrefix = "BL"

type PayrollItem struct {
	ID         string          `json:"id"`
	PayrollID  string          `json:"payroll_id"`
	StaffID    string          `json:"staff_id"`
	StaffName  string          `json:"staff_name"`
	NetSalary  decimal.Decimal `json:"net_salary"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Status     string          `json:"status"`
	Note       string          `json:"note"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (i PayrollItem) Remaining() decimal.Decimal {
	r := i.NetSalary.Sub(i.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Settle recomputes the item's status from its amounts.
func (i *PayrollItem) Settle() {
	if i.PaidAmount.GreaterThanOrEqual(i.NetSalary) {
		i.Status = ItemCompleted
	} else {
		i.Status = ItemPending
	}
}

// Pay adds amount to the item, refusing non-positive amounts and overpayment.
func (i *PayrollItem) Pay(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Invalid("amount must be greater than zero")
	}
	if i.PaidAmount.Add(amount).GreaterThan(i.NetSalary) {
		return apperr.Invalid("amount exceeds the remaining %s", i.Remaining().StringFixed(0))
	}
	i.PaidAmount = i.PaidAmount.Add(amount)
	i.Settle()
	return nil
}

type Payroll struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	StartDate  dates.Date      `json:"start_date"`
	EndDate    dates.Date      `json:"end_date"`
	Status     string          `json:"status"`
	TotalNet   decimal.Decimal `json:"total_net"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	Note       string          `json:"note"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Items      []PayrollItem   `json:"items,omitempty"`
	Remaining  decimal.Decimal `json:"remaining"`
	ItemsCount int             `json:"items_count"`
}

// Ended reports whether the payroll period is over on today.
func (p Payroll) Ended(today dates.Date) bool {
	return p.EndDate.Before(today)
}

// Summarize recomputes totals and the payroll status from its items. A
// payroll is Completed once every item is fully paid.
func (p *Payroll) Summarize() {
	p.TotalNet, p.TotalPaid = decimal.Zero, decimal.Zero
	done := len(p.Items) > 0
	for i := range p.Items {
		p.Items[i].Settle()
		p.TotalNet = p.TotalNet.Add(p.Items[i].NetSalary)
		p.TotalPaid = p.TotalPaid.Add(p.Items[i].PaidAmount)
		if p.Items[i].Status != ItemCompleted {
			done = false
		}
	}
	p.Remaining = p.TotalNet.Sub(p.TotalPaid)
	if p.Remaining.IsNegative() {
		p.Remaining = decimal.Zero
	}
	p.ItemsCount = len(p.Items)
	if done {
		p.Status = PayrollCompleted
	} else {
		p.Status = PayrollPending
	}
}

// HasPayments reports whether any item was paid.
func (p Payroll) HasPayments() bool {
	for _, it := range p.Items {
		if it.PaidAmount.IsPositive() {
			return true
		}
	}
	return false
}

func ValidPeriod(start, end dates.Date) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Invalid("start_date and end_date are required")
	}
	if end.Before(start) {
		return apperr.Invalid("end_date must not be before start_date")
	}
	return nil
}

// DefaultPayrollName names a payroll after its period.
func DefaultPayrollName(start, end dates.Date) string {
	return "Payroll " + start.Format("02/01/2006") + " - " + end.Format("02/01/2006")
}

// PreviousMonth returns the first and last day of the month before today.
func PreviousMonth(today dates.Date) (dates.Date, dates.Date) {
	t := today.Time()
	first := dates.NewDate(t.Year(), t.Month(), 1)
	last := first.AddDays(-1)
	lt := last.Time()
	return dates.NewDate(lt.Year(), lt.Month(), 1), last
}

// StaffPay is the computed salary of one staff member for a period.
type StaffPay struct {
	StaffID   string
	StaffName string
	Amount    decimal.Decimal
}

// StaffMember is the slice of a staff record payroll needs.
type StaffMember struct {
	ID       string
	Name     string
	Settings SalarySettings
}

// ComputePayroll computes salaries for members over a period. Members with
// no attendance, no scheduled shifts or no paying settings are left out
// unless keep lists them.
func ComputePayroll(members []StaffMember, records []Attendance, occs []Occurrence, keep map[string]bool) []StaffPay {
	byStaff := map[string][]Attendance{}
	for _, r := range records {
		byStaff[r.StaffID] = append(byStaff[r.StaffID], r)
	}
	shifts := ByStaff(occs)
	out := []StaffPay{}
	for _, m := range members {
		recs, scheduled := byStaff[m.ID], shifts[m.ID]
		if !keep[m.ID] && (len(recs) == 0 || len(scheduled) == 0 || !m.Settings.Pays()) {
			continue
		}
		out = append(out, StaffPay{StaffID: m.ID, StaffName: m.Name, Amount: Salary(m.Settings, recs, scheduled)})
	}
	return out
}
