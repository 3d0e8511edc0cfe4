// Package events holds the Kafka topics exchanged between services and the
// JSON payload each one carries. Topic names double as event types.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	UserRegistered = "auth.user.registered.v1"
	SecurityAudit  = "auth.audit.v1"

	CustomerUpserted    = "booking.customer.upserted.v1"
	BookingCreated      = "booking.created.v1"
	BookingCancelled    = "booking.cancelled.v1"
	BookingHoldExpired  = "booking.hold_expired.v1"
	OccurrenceCheckedIn = "booking.occurrence.checked_in.v1"
	OccurrenceReleased  = "booking.occurrence.released.v1"
	PaymentCreated      = "booking.payment.created.v1"
	PaymentPaid         = "booking.payment.paid.v1"
	OrderPaid           = "booking.order.paid.v1"

	BillingPaymentSucceeded = "billing.payment.succeeded.v1"
	BillingPaymentFailed    = "billing.payment.failed.v1"

	MembershipPaymentCreated = "loyalty.membership_payment.created.v1"
	MembershipPaid           = "loyalty.membership.paid.v1"

	ProductPriceChanged = "inventory.product.price_changed.v1"
	ReceiptCompleted    = "inventory.receipt.completed.v1"
	ReturnCompleted     = "inventory.return.completed.v1"

	PayrollPaid = "staff.payroll.paid.v1"

	ReminderDue = "scheduler.reminder.due.v1"
	ReminderDLQ = "scheduler.reminder.dlq.v1"

	NotificationSent   = "notification.sent.v1"
	NotificationFailed = "notification.failed.v1"
)

// Payment kinds shared by booking, loyalty and billing.
const (
	KindBooking    = "booking"
	KindOrder      = "order"
	KindMembership = "membership"
)

type UserRegisteredPayload struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Phone    string    `json:"phone"`
	Role     string    `json:"role"`
	At       time.Time `json:"occurred_at"`
}

// SecurityAuditPayload reports sign-in activity such as logins, failed
// attempts and token refreshes.
type SecurityAuditPayload struct {
	EventType string         `json:"event_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	At        time.Time      `json:"created_at"`
}

type CustomerUpsertedPayload struct {
	CustomerID string `json:"customer_id"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	UserID     string `json:"user_id,omitempty"`
	Status     string `json:"status"`
}

type OccurrenceRef struct {
	OccurrenceID string      `json:"occurrence_id"`
	Date         dates.Date  `json:"date"`
	StartTime    dates.Clock `json:"start_time"`
	EndTime      dates.Clock `json:"end_time"`
}

type BookingCreatedPayload struct {
	BookingID     string          `json:"booking_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	CourtID       string          `json:"court_id"`
	CourtName     string          `json:"court_name"`
	Status        string          `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Occurrences   []OccurrenceRef `json:"occurrences"`
}

// BookingClosedPayload is sent for cancellations and expired holds.
type BookingClosedPayload struct {
	BookingID     string `json:"booking_id"`
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	CourtName     string `json:"court_name"`
	Reason        string `json:"reason"`
}

type OccurrencePayload struct {
	OccurrenceID string     `json:"occurrence_id"`
	BookingID    string     `json:"booking_id"`
	CourtID      string     `json:"court_id"`
	Date         dates.Date `json:"date"`
	Status       string     `json:"status"`
}

type PaymentCreatedPayload struct {
	PaymentID     string          `json:"payment_id"`
	Kind          string          `json:"kind"`
	ReferenceID   string          `json:"reference_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
}

type PaymentPaidPayload struct {
	PaymentID    string          `json:"payment_id"`
	Kind         string          `json:"kind"`
	ReferenceID  string          `json:"reference_id"`
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	PaidAt       time.Time       `json:"paid_at"`
	// Late marks order money that arrived after the order expired and could
	// not be put back on the order, so no order.paid event follows.
	Late bool `json:"late,omitempty"`
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderPaidPayload struct {
	OrderID        string          `json:"order_id"`
	OccurrenceID   string          `json:"occurrence_id"`
	BookingID      string          `json:"booking_id"`
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	VoucherID      string          `json:"voucher_id,omitempty"`
	VoucherCode    string          `json:"voucher_code,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CourtAmount    decimal.Decimal `json:"court_amount"`
	ItemsSubtotal  decimal.Decimal `json:"items_subtotal"`
	LateFee        decimal.Decimal `json:"late_fee"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Items          []OrderItem     `json:"items"`
	PaidAt         time.Time       `json:"paid_at"`
}

type BillingResultPayload struct {
	PaymentRef      string          `json:"payment_ref"`
	Kind            string          `json:"kind"`
	SessionID       string          `json:"session_id"`
	Amount          decimal.Decimal `json:"amount"`
	ProviderEventID string          `json:"provider_event_id"`
	Reason          string          `json:"reason,omitempty"`
}

type MembershipPaymentCreatedPayload struct {
	PaymentID        string          `json:"payment_id"`
	UserMembershipID string          `json:"user_membership_id"`
	CustomerID       string          `json:"customer_id"`
	CustomerEmail    string          `json:"customer_email"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

type MembershipPaidPayload struct {
	PaymentID        string          `json:"payment_id"`
	UserMembershipID string          `json:"user_membership_id"`
	CustomerID       string          `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	MembershipName   string          `json:"membership_name"`
	Amount           decimal.Decimal `json:"amount"`
	PaidAt           time.Time       `json:"paid_at"`
}

type ProductPricePayload struct {
	ProductID string          `json:"product_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
}

// SupplierSettlementPayload is sent when a receipt or a return completes.
type SupplierSettlementPayload struct {
	DocumentID   string          `json:"document_id"`
	Code         string          `json:"code"`
	SupplierID   string          `json:"supplier_id"`
	SupplierName string          `json:"supplier_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	CompletedAt  time.Time       `json:"completed_at"`
}

type PayrollPaidPayload struct {
	PayrollID     string          `json:"payroll_id"`
	PayrollItemID string          `json:"payroll_item_id"`
	StaffID       string          `json:"staff_id"`
	StaffName     string          `json:"staff_name"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
}

type ReminderDuePayload struct {
	JobID         string    `json:"job_id"`
	BookingID     string    `json:"booking_id"`
	OccurrenceID  string    `json:"occurrence_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	CustomerPhone string    `json:"customer_phone"`
	CourtName     string    `json:"court_name"`
	StartAt       time.Time `json:"start_at"`
	OffsetMinutes int       `json:"offset_minutes"`
	Attempts      int       `json:"attempts,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

type NotificationPayload struct {
	SourceEventID string `json:"source_event_id"`
	Channel       string `json:"channel"`
	Recipient     string `json:"recipient"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Decode unmarshals a message value into T.
func Decode[T any](msg kafka.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", msg.Topic, err)
	}
	return v, nil
}
