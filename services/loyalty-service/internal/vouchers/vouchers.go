// Package vouchers evaluates voucher eligibility and discounts without
// touching storage.
package vouchers

import (
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/shopspring/decimal"
)

const (
	TypePercentage = "percentage"
	TypeFixed      = "fixed"
)

// TimeRule limits when a voucher applies. A rule with SpecificDate ignores
// DayOfWeek. DayOfWeek uses Sunday=0.
type TimeRule struct {
	DayOfWeek    *int         `json:"day_of_week,omitempty"`
	SpecificDate *dates.Date  `json:"specific_date,omitempty"`
	StartTime    *dates.Clock `json:"start_time,omitempty"`
	EndTime      *dates.Clock `json:"end_time,omitempty"`
}

// UserRule limits who may use a voucher.
type UserRule struct {
	MembershipID  *string `json:"membership_id,omitempty"`
	UserType      string  `json:"user_type,omitempty"`
	IsNewCustomer *bool   `json:"is_new_customer,omitempty"`
}

type Voucher struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	DiscountType      string           `json:"discount_type"`
	DiscountValue     decimal.Decimal  `json:"discount_value"`
	MaxDiscountValue  *decimal.Decimal `json:"max_discount_value,omitempty"`
	MinOrderValue     *decimal.Decimal `json:"min_order_value,omitempty"`
	StartAt           time.Time        `json:"start_at"`
	EndAt             time.Time        `json:"end_at"`
	UsageLimitTotal   int              `json:"usage_limit_total"`
	UsageLimitPerUser int              `json:"usage_limit_per_user"`
	UsedCount         int              `json:"used_count"`
	IsActive          bool             `json:"is_active"`
	TimeRules         []TimeRule       `json:"time_rules"`
	UserRules         []UserRule       `json:"user_rules"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Customer is what the rules need to know about the person redeeming.
type Customer struct {
	ID            string
	Exists        bool
	HasOrders     bool
	UsedByThem    int
	MembershipIDs []string
}

// Validate checks the voucher fields on create and update.
func (v Voucher) Validate() error {
	if strings.TrimSpace(v.Code) == "" {
		return apperr.Invalid("code is required")
	}
	if strings.TrimSpace(v.Title) == "" {
		return apperr.Invalid("title is required")
	}
	switch v.DiscountType {
	case TypePercentage:
		if !v.DiscountValue.IsPositive() || v.DiscountValue.GreaterThan(money.Hundred) {
			return apperr.Invalid("percentage discount must be within (0, 100]")
		}
	case TypeFixed:
		if !v.DiscountValue.IsPositive() {
			return apperr.Invalid("fixed discount must be positive")
		}
	default:
		return apperr.Invalid("discount_type must be percentage or fixed")
	}
	if v.MaxDiscountValue != nil && v.MaxDiscountValue.IsNegative() {
		return apperr.Invalid("max_discount_value must not be negative")
	}
	if v.MinOrderValue != nil && v.MinOrderValue.IsNegative() {
		return apperr.Invalid("min_order_value must not be negative")
	}
	if !v.EndAt.After(v.StartAt) {
		return apperr.Invalid("end_at must be after start_at")
	}
	if v.UsageLimitTotal < 0 || v.UsageLimitPerUser < 0 {
		return apperr.Invalid("usage limits must not be negative")
	}
	for _, r := range v.TimeRules {
		if r.DayOfWeek != nil && (*r.DayOfWeek < 0 || *r.DayOfWeek > 6) {
			return apperr.Invalid("day_of_week must be within 0..6")
		}
		if (r.StartTime == nil) != (r.EndTime == nil) {
			return apperr.Invalid("time rules need both start_time and end_time")
		}
		if r.StartTime != nil && r.EndTime.Before(*r.StartTime) {
			return apperr.Invalid("time rule end_time is before start_time")
		}
	}
	return nil
}

func (v Voucher) totalExhausted() bool {
	return v.UsageLimitTotal > 0 && v.UsedCount >= v.UsageLimitTotal
}

func (v Voucher) userExhausted(c Customer) bool {
	return v.UsageLimitPerUser > 0 && c.UsedByThem >= v.UsageLimitPerUser
}

func (r TimeRule) window(at dates.Clock) bool {
	if r.StartTime == nil || r.EndTime == nil {
		return true
	}
	return !at.Before(*r.StartTime) && !at.After(*r.EndTime)
}

func (r TimeRule) day(at time.Time) bool {
	if r.SpecificDate != nil {
		return dates.DateOf(at).Equal(*r.SpecificDate)
	}
	if r.DayOfWeek != nil {
		return int(at.Weekday()) == *r.DayOfWeek
	}
	return false
}

func (r TimeRule) matches(at time.Time) bool {
	return r.day(at) && r.window(dates.ClockOf(at))
}

func (r TimeRule) describeDay() string {
	if r.SpecificDate != nil {
		return "on " + r.SpecificDate.Format("02/01/2006")
	}
	return "on " + time.Weekday(*r.DayOfWeek).String()
}

func (r TimeRule) describeWindow() string {
	if r.StartTime == nil || r.EndTime == nil {
		return ""
	}
	return fmt.Sprintf(" from %s to %s", hhmm(*r.StartTime), hhmm(*r.EndTime))
}

func hhmm(c dates.Clock) string {
	return c.String()[:5]
}

// matchTimeRules reports whether any rule matches at. When none does it
// returns the most useful explanation: a time-window miss on the right day
// beats a wrong day.
func matchTimeRules(rules []TimeRule, at time.Time) (bool, string) {
	if len(rules) == 0 {
		return true, ""
	}
	at = at.In(dates.Location())
	var windowMiss, dayMiss string
	for _, r := range rules {
		if r.SpecificDate == nil && r.DayOfWeek == nil {
			continue
		}
		if r.matches(at) {
			return true, ""
		}
		if r.day(at) {
			windowMiss = fmt.Sprintf("voucher only applies %s%s, it is now %s", r.describeDay(), r.describeWindow(), hhmm(dates.ClockOf(at)))
		} else if windowMiss == "" {
			dayMiss = fmt.Sprintf("voucher only applies %s%s", r.describeDay(), r.describeWindow())
		}
	}
	switch {
	case windowMiss != "":
		return false, windowMiss
	case dayMiss != "":
		return false, dayMiss
	default:
		return false, "voucher is not available at this time"
	}
}

// matchUserRules reports whether any rule admits c.
func matchUserRules(rules []UserRule, c Customer) (bool, string) {
	if len(rules) == 0 {
		return true, ""
	}
	var reason string
	for _, r := range rules {
		switch {
		case r.IsNewCustomer != nil:
			isNew := !c.HasOrders
			if *r.IsNewCustomer == isNew {
				return true, ""
			}
			if *r.IsNewCustomer {
				reason = "voucher is only for new customers"
			} else {
				reason = "voucher is only for returning customers"
			}
		case r.MembershipID != nil:
			for _, m := range c.MembershipIDs {
				if m == *r.MembershipID {
					return true, ""
				}
			}
			if reason == "" {
				reason = "voucher requires a membership you do not hold"
			}
		case strings.TrimSpace(r.UserType) == "":
			return true, ""
		}
	}
	if reason == "" {
		reason = "you are not eligible for this voucher"
	}
	return false, reason
}

// Available reports whether the voucher can be offered to c at instant at.
func (v Voucher) Available(c Customer, at time.Time) bool {
	if !v.IsActive || at.Before(v.StartAt) || at.After(v.EndAt) {
		return false
	}
	if v.totalExhausted() || v.userExhausted(c) {
		return false
	}
	if ok, _ := matchTimeRules(v.TimeRules, at); !ok {
		return false
	}
	ok, _ := matchUserRules(v.UserRules, c)
	return ok
}

// Result is a successful redemption quote.
type Result struct {
	VoucherID string          `json:"voucher_id"`
	Code      string          `json:"code"`
	Discount  decimal.Decimal `json:"discount_amount"`
	Final     decimal.Decimal `json:"final_amount"`
}

// Redeem runs the checks in order and prices the discount. at is the
// instant the voucher would be used: the booking start when known, else now.
func (v Voucher) Redeem(c Customer, total decimal.Decimal, at time.Time) (Result, error) {
	if !v.IsActive {
		return Result{}, apperr.Invalid("voucher is no longer active")
	}
	if at.Before(v.StartAt) {
		return Result{}, apperr.Invalid("voucher is not valid before %s", v.StartAt.In(dates.Location()).Format("02/01/2006 15:04"))
	}
	if at.After(v.EndAt) {
		return Result{}, apperr.Invalid("voucher expired at %s", v.EndAt.In(dates.Location()).Format("02/01/2006 15:04"))
	}
	if v.totalExhausted() {
		return Result{}, apperr.Invalid("voucher has been fully redeemed")
	}
	if v.userExhausted(c) {
		return Result{}, apperr.Invalid("you have used up this voucher")
	}
	if v.MinOrderValue != nil && total.LessThan(*v.MinOrderValue) {
		return Result{}, apperr.Invalid("order total must be at least %s", v.MinOrderValue.StringFixed(0))
	}
	if ok, reason := matchTimeRules(v.TimeRules, at); !ok {
		return Result{}, apperr.Invalid("%s", reason)
	}
	if !c.Exists {
		return Result{}, apperr.Invalid("customer not found")
	}
	if ok, reason := matchUserRules(v.UserRules, c); !ok {
		return Result{}, apperr.Invalid("%s", reason)
	}
	discount := v.Discount(total)
	return Result{
		VoucherID: v.ID,
		Code:      v.Code,
		Discount:  discount,
		Final:     money.NonNegative(total.Sub(discount)),
	}, nil
}

// Discount prices the voucher against total. It never exceeds total.
func (v Voucher) Discount(total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch v.DiscountType {
	case TypePercentage:
		d = money.Round2(money.Percent(total, v.DiscountValue))
		if v.MaxDiscountValue != nil && v.MaxDiscountValue.IsPositive() && d.GreaterThan(*v.MaxDiscountValue) {
			d = *v.MaxDiscountValue
		}
	case TypeFixed:
		d = v.DiscountValue
	}
	if d.GreaterThan(total) {
		d = total
	}
	return d
}

// ReferenceTime is the instant a voucher is judged at: the booking date and
// start time when given, else now. A date without a time means its start.
func ReferenceTime(bookingDate, startTime string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(bookingDate) == "" {
		return now, nil
	}
	d, err := dates.ParseDate(strings.TrimSpace(bookingDate))
	if err != nil {
		return time.Time{}, apperr.Invalid("booking_date must be YYYY-MM-DD")
	}
	var c dates.Clock
	if strings.TrimSpace(startTime) != "" {
		if c, err = dates.ParseClock(strings.TrimSpace(startTime)); err != nil {
			return time.Time{}, apperr.Invalid("start_time must be HH:MM")
		}
	}
	return d.At(c), nil
}
