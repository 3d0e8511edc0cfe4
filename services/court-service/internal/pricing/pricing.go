// Package pricing computes court rental prices from time-of-day rules.
package pricing

import (
	"sort"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/shopspring/decimal"
)

// Rule prices the [StartTime, EndTime) window on the listed days.
// DaysOfWeek uses Mon=2 ... Sun=8. Lower Order wins when rules overlap.
type Rule struct {
	ID           int64           `json:"id,omitempty"`
	DaysOfWeek   []int           `json:"days_of_week"`
	StartTime    dates.Clock     `json:"start_time"`
	EndTime      dates.Clock     `json:"end_time"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	Order        int             `json:"order"`
}

// NormalizeRules validates rules and fills defaults. Order defaults to the
// rule's position in the list.
func NormalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if len(r.DaysOfWeek) == 0 {
			return nil, apperr.Invalid("pricing rule %d: days_of_week is required", i+1)
		}
		for _, d := range r.DaysOfWeek {
			if d < dates.CustomMonday || d > dates.CustomSunday {
				return nil, apperr.Invalid("pricing rule %d: day %d must be between 2 and 8", i+1, d)
			}
		}
		r.DaysOfWeek = dates.NormalizeDays(r.DaysOfWeek)
		if !r.StartTime.Before(r.EndTime) {
			return nil, apperr.Invalid("pricing rule %d: start_time must be before end_time", i+1)
		}
		if r.PricePerHour.IsNegative() {
			return nil, apperr.Invalid("pricing rule %d: price_per_hour must not be negative", i+1)
		}
		if r.Order <= 0 {
			r.Order = i + 1
		}
		out = append(out, r)
	}
	return out, nil
}

// rulesForDay returns the rules covering day in evaluation order.
func rulesForDay(rules []Rule, day int) []Rule {
	var out []Rule
	for _, r := range rules {
		if dates.ContainsDay(r.DaysOfWeek, day) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DayAmount walks from start to end. At each step the first rule containing
// the cursor prices the segment up to min(rule end, end). The walk stops at
// the first instant no rule covers.
func DayAmount(rules []Rule, day int, start, end dates.Clock) decimal.Decimal {
	applicable := rulesForDay(rules, day)
	total := decimal.Zero
	cursor := start
	for cursor.Before(end) {
		var hit *Rule
		for i := range applicable {
			r := &applicable[i]
			if !cursor.Before(r.StartTime) && cursor.Before(r.EndTime) {
				hit = r
				break
			}
		}
		if hit == nil {
			break
		}
		segEnd := hit.EndTime
		if end.Before(segEnd) {
			segEnd = end
		}
		hours := decimal.NewFromInt(int64(segEnd.Seconds() - cursor.Seconds())).Div(decimal.NewFromInt(3600))
		total = total.Add(hit.PricePerHour.Mul(hours))
		cursor = segEnd
	}
	return total
}

type Request struct {
	StartDate  dates.Date
	EndDate    dates.Date
	StartTime  dates.Clock
	EndTime    dates.Clock
	DaysOfWeek []int
}

type DateAmount struct {
	Date   dates.Date      `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type Result struct {
	Amount  decimal.Decimal `json:"amount"`
	PerDate []DateAmount    `json:"per_date"`
}

// Dates lists the dates a request covers: the start date for walk-ins,
// otherwise every date in range whose day is selected.
func Dates(req Request) []dates.Date {
	if len(req.DaysOfWeek) == 0 {
		return []dates.Date{req.StartDate}
	}
	var out []dates.Date
	for _, d := range dates.Range(req.StartDate, req.EndDate) {
		if dates.ContainsDay(req.DaysOfWeek, dates.CustomDayOfWeek(d.Weekday())) {
			out = append(out, d)
		}
	}
	return out
}

func Quote(rules []Rule, req Request) (Result, error) {
	if !req.StartTime.Before(req.EndTime) {
		return Result{}, apperr.Invalid("start_time must be before end_time")
	}
	if len(req.DaysOfWeek) > 0 {
		req.DaysOfWeek = dates.NormalizeDays(req.DaysOfWeek)
		if len(req.DaysOfWeek) == 0 {
			return Result{}, apperr.Invalid("days_of_week must contain values between 2 and 8")
		}
		if req.EndDate.Before(req.StartDate) {
			return Result{}, apperr.Invalid("end_date must not be before start_date")
		}
	}

	res := Result{Amount: decimal.Zero}
	for _, d := range Dates(req) {
		amount := DayAmount(rules, dates.CustomDayOfWeek(d.Weekday()), req.StartTime, req.EndTime)
		res.PerDate = append(res.PerDate, DateAmount{Date: d, Amount: money.Round2(amount)})
		res.Amount = res.Amount.Add(amount)
	}
	res.Amount = money.Round2(res.Amount)
	return res, nil
}
