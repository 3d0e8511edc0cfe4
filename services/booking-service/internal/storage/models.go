package storage

import (
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
)

const serviceName = "booking-service"

const (
	CustomerActive   = "Active"
	CustomerInactive = "Inactive"
	CustomerDeleted  = "Deleted"
)

var (
	ErrCustomerNotFound   = apperr.NotFound("customer not found")
	ErrCustomerInactive   = apperr.Conflict("customer is not active")
	ErrPhoneTaken         = apperr.Conflict("a customer with this phone number already exists")
	ErrBookingNotFound    = apperr.NotFound("booking not found")
	ErrOccurrenceNotFound = apperr.NotFound("booking occurrence not found")
	ErrPaymentNotFound    = apperr.NotFound("payment not found")
	ErrOrderNotFound      = apperr.NotFound("order not found")
	ErrItemNotFound       = apperr.NotFound("order item not found")
	ErrProductNotFound    = apperr.NotFound("product not found or inactive")
	ErrSlotTaken          = apperr.Conflict("the court is already booked for the requested time")
	ErrOrderPending       = apperr.Conflict("the occurrence already has an order awaiting payment")
	ErrCodeExhausted      = apperr.Conflict("could not allocate a document number, retry")
)

type Customer struct {
	ID          string      `json:"id"`
	FullName    string      `json:"full_name"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email"`
	DateOfBirth *dates.Date `json:"date_of_birth"`
	Gender      string      `json:"gender"`
	Address     string      `json:"address"`
	UserID      *string     `json:"user_id"`
	Status      string      `json:"status"`
	Note        string      `json:"note"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type CustomerInput struct {
	FullName    string
	Phone       string
	Email       string
	DateOfBirth *dates.Date
	Gender      string
	Address     string
	Note        string
	Status      string
}

type CustomerFilter struct {
	Keyword string
	Status  string
	Limit   int
}

type Booking struct {
	ID                        string          `json:"id"`
	CustomerID                string          `json:"customer_id"`
	CustomerName              string          `json:"customer_name"`
	CustomerPhone             string          `json:"customer_phone"`
	CustomerEmail             string          `json:"customer_email"`
	CourtID                   string          `json:"court_id"`
	CourtName                 string          `json:"court_name"`
	StartDate                 dates.Date      `json:"start_date"`
	EndDate                   dates.Date      `json:"end_date"`
	StartTime                 dates.Clock     `json:"start_time"`
	EndTime                   dates.Clock     `json:"end_time"`
	DaysOfWeek                []int           `json:"days_of_week"`
	Status                    string          `json:"status"`
	HoldExpiresAt             *time.Time      `json:"hold_expires_at"`
	Note                      string          `json:"note"`
	TotalAmount               decimal.Decimal `json:"total_amount"`
	DiscountAmount            decimal.Decimal `json:"discount_amount"`
	MembershipDiscountPercent decimal.Decimal `json:"membership_discount_percent"`
	PaymentMethod             string          `json:"payment_method"`
	CreatedAt                 time.Time       `json:"created_at"`
	Occurrences               []Occurrence    `json:"occurrences,omitempty"`
	Payments                  []Payment       `json:"payments,omitempty"`
}

type Occurrence struct {
	ID           string      `json:"id"`
	BookingID    string      `json:"booking_id"`
	CourtID      string      `json:"court_id"`
	CourtName    string      `json:"court_name"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name"`
	Date         dates.Date  `json:"date"`
	StartTime    dates.Clock `json:"start_time"`
	EndTime      dates.Clock `json:"end_time"`
	Status       string      `json:"status"`
	CheckedInAt  *time.Time  `json:"checked_in_at"`
	Note         string      `json:"note"`
}

type Payment struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	BookingID    *string         `json:"booking_id"`
	OrderID      *string         `json:"order_id"`
	OccurrenceID *string         `json:"occurrence_id"`
	CustomerID   string          `json:"customer_id"`
	InvoiceCode  string          `json:"invoice_code"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	Status       string          `json:"status"`
	Note         string          `json:"note"`
	PaidAt       *time.Time      `json:"paid_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

type BookingFilter struct {
	CustomerID string
	CourtID    string
	From       *dates.Date
	To         *dates.Date
	Status     string
	Limit      int
}

type OccurrenceFilter struct {
	CourtID string
	From    *dates.Date
	To      *dates.Date
	Status  string
}

type PaymentFilter struct {
	BookingID  string
	OrderID    string
	CustomerID string
	Status     string
	Limit      int
}

type OrderItem struct {
	ID           string          `json:"id"`
	OccurrenceID string          `json:"occurrence_id"`
	OrderID      *string         `json:"order_id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID                   string          `json:"id"`
	OccurrenceID         string          `json:"occurrence_id"`
	BookingID            string          `json:"booking_id"`
	CustomerID           string          `json:"customer_id"`
	CourtTotalAmount     decimal.Decimal `json:"court_total_amount"`
	CourtPaidAmount      decimal.Decimal `json:"court_paid_amount"`
	CourtRemainingAmount decimal.Decimal `json:"court_remaining_amount"`
	ItemsSubtotal        decimal.Decimal `json:"items_subtotal"`
	LateFeePercentage    decimal.Decimal `json:"late_fee_percentage"`
	LateFeeAmount        decimal.Decimal `json:"late_fee_amount"`
	OverdueMinutes       int             `json:"overdue_minutes"`
	VoucherID            *string         `json:"voucher_id"`
	VoucherCode          *string         `json:"voucher_code"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	PaymentMethod        string          `json:"payment_method"`
	Status               string          `json:"status"`
	Note                 string          `json:"note"`
	CreatedAt            time.Time       `json:"created_at"`
	Items                []OrderItem     `json:"items,omitempty"`
	Payments             []Payment       `json:"payments,omitempty"`
}

// CheckoutContext is what checkout needs to price an occurrence.
type CheckoutContext struct {
	Occurrence      Occurrence
	Booking         Booking
	OccurrenceCount int
	PaidTotal       decimal.Decimal
	Items           []OrderItem
	ItemsSubtotal   decimal.Decimal
}
