// Package booking holds the court booking rules that do not touch storage:
// schedule validation, occurrence expansion, conflicts, deposits and late fees.
package booking

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/availability"
	"github.com/shopspring/decimal"
)

// Booking and occurrence statuses.
const (
	StatusPendingPayment = "PendingPayment"
	StatusActive         = "Active"
	StatusCheckedIn      = "CheckedIn"
	StatusCompleted      = "Completed"
	StatusNoShow         = "NoShow"
	StatusCancelled      = "Cancelled"
)

const (
	PaymentPending   = "PendingPayment"
	PaymentPaid      = "Paid"
	PaymentCancelled = "Cancelled"
)

const (
	OrderPending   = "Pending"
	OrderPaid      = "Paid"
	OrderCancelled = "Cancelled"
)

const (
	MethodCash = "Cash"
	MethodBank = "Bank"
	MethodCard = "Card"
)

// LateFeeGrace is how long a player may overstay before a late fee applies.
const LateFeeGrace = 15

var DefaultDepositPercent = decimal.RequireFromString("0.3")

// NormalizeMethod defaults an empty method to Bank and rejects unknown ones.
func NormalizeMethod(m string) (string, error) {
	switch m {
	case "":
		return MethodBank, nil
	case MethodCash, MethodBank, MethodCard:
		return m, nil
	default:
		return "", apperr.Invalid("payment_method must be Cash, Bank or Card")
	}
}

type Schedule struct {
	StartDate  dates.Date
	EndDate    dates.Date
	StartTime  dates.Clock
	EndTime    dates.Clock
	DaysOfWeek []int
}

// WalkIn reports whether the schedule is a single unrepeated session.
func (s Schedule) WalkIn() bool { return len(s.DaysOfWeek) == 0 }

// NewSchedule validates a requested schedule. A nil days slice means a walk-in
// on start date; a non-nil slice is a fixed weekly schedule and must keep at
// least one valid day after normalisation.
func NewSchedule(startDate, endDate dates.Date, start, end dates.Clock, days []int, today dates.Date) (Schedule, error) {
	s := Schedule{StartDate: startDate, EndDate: endDate, StartTime: start, EndTime: end}
	if startDate.IsZero() {
		return s, apperr.Invalid("start_date is required")
	}
	if endDate.IsZero() {
		s.EndDate = startDate
	}
	if !start.Before(end) {
		return s, apperr.Invalid("start_time must be before end_time")
	}
	if s.StartDate.Before(today) || s.EndDate.Before(today) {
		return s, apperr.Invalid("booking dates must not be in the past")
	}
	if days == nil {
		if !s.StartDate.Equal(s.EndDate) {
			return s, apperr.Invalid("a walk-in booking must start and end on the same date")
		}
		s.DaysOfWeek = []int{}
		return s, nil
	}
	s.DaysOfWeek = dates.NormalizeDays(days)
	if len(s.DaysOfWeek) == 0 {
		return s, apperr.Invalid("days_of_week must contain values between 2 (Monday) and 8 (Sunday)")
	}
	if s.EndDate.Before(s.StartDate) {
		return s, apperr.Invalid("end_date must not be before start_date")
	}
	return s, nil
}

// Dates materialises the occurrence dates of s.
func (s Schedule) Dates() []dates.Date {
	if s.WalkIn() {
		return []dates.Date{s.StartDate}
	}
	var out []dates.Date
	for _, d := range dates.Range(s.StartDate, s.EndDate) {
		if dates.ContainsDay(s.DaysOfWeek, dates.CustomDayOfWeek(d.Weekday())) {
			out = append(out, d)
		}
	}
	return out
}

// Slot is one dated interval on a court.
type Slot struct {
	Date  dates.Date  `json:"date"`
	Start dates.Clock `json:"start_time"`
	End   dates.Clock `json:"end_time"`
}

func (s Schedule) Slots() []Slot {
	ds := s.Dates()
	out := make([]Slot, 0, len(ds))
	for _, d := range ds {
		out = append(out, Slot{Date: d, Start: s.StartTime, End: s.EndTime})
	}
	return out
}

// Collides reports whether two slots are on the same date and overlap.
func Collides(a, b Slot) bool {
	if !a.Date.Equal(b.Date) {
		return false
	}
	return availability.Overlaps(
		availability.Interval{Start: a.Start, End: a.End},
		availability.Interval{Start: b.Start, End: b.End},
	)
}

// Conflicts returns the wanted slots that collide with any taken slot.
func Conflicts(wanted, taken []Slot) []Slot {
	var out []Slot
	for _, w := range wanted {
		for _, t := range taken {
			if Collides(w, t) {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// Deposit returns the amount due now: full when payInFull, otherwise full
// times pct clamped to [0,1] (30% when pct is nil), rounded to cents.
func Deposit(full decimal.Decimal, payInFull bool, pct *decimal.Decimal) decimal.Decimal {
	if payInFull {
		return full
	}
	p := DefaultDepositPercent
	if pct != nil {
		p = money.Clamp(*pct, decimal.Zero, decimal.NewFromInt(1))
	}
	return money.Round2(full.Mul(p))
}

// MembershipDiscount is the membership share of amount, rounded to cents.
func MembershipDiscount(amount, percent decimal.Decimal) decimal.Decimal {
	if !percent.IsPositive() {
		return decimal.Zero
	}
	return money.Round2(money.Percent(amount, money.Clamp(percent, decimal.Zero, money.Hundred)))
}

// LateFee charges overstays past the grace period. courtTotal is the price of
// the whole slot; the fee is that per-minute rate times pct/100 for every
// chargeable minute, rounded up to a whole unit.
func LateFee(now time.Time, slot Slot, courtTotal, pct decimal.Decimal) (overdueMinutes int, fee decimal.Decimal) {
	end := slot.Date.At(slot.End)
	if !now.After(end) {
		return 0, decimal.Zero
	}
	overdueMinutes = int(math.Round(now.Sub(end).Minutes()))
	if overdueMinutes <= LateFeeGrace {
		return overdueMinutes, decimal.Zero
	}
	totalMinutes := slot.End.Minutes() - slot.Start.Minutes()
	if totalMinutes <= 0 {
		return overdueMinutes, decimal.Zero
	}
	rate := courtTotal.Div(decimal.NewFromInt(int64(totalMinutes))).Mul(pct).Div(money.Hundred)
	fee = decimal.NewFromInt(int64(overdueMinutes - LateFeeGrace)).Mul(rate).Ceil()
	return overdueMinutes, fee
}

// FormatOverdue renders minutes as "1h 05m" or "40m".
func FormatOverdue(minutes int) string {
	if minutes <= 0 {
		return "0m"
	}
	if minutes >= 60 {
		return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}

// TransferQR is the SePay image URL a customer scans to pay by bank transfer.
type TransferQR struct {
	Account string
	Bank    string
}

func (q TransferQR) URL(amount decimal.Decimal, description string) string {
	v := url.Values{}
	v.Set("acc", q.Account)
	v.Set("bank", q.Bank)
	v.Set("amount", amount.Round(0).String())
	v.Set("des", description)
	return "https://qr.sepay.vn/img?" + v.Encode()
}
