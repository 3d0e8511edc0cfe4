package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/discounts"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/quotes"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface the handlers need.
type Store interface {
	ListCustomers(ctx context.Context, f storage.CustomerFilter) ([]storage.Customer, error)
	GetCustomer(ctx context.Context, id string) (storage.Customer, error)
	CustomerByUser(ctx context.Context, userID string) (storage.Customer, error)
	CreateCustomer(ctx context.Context, actor httpx.Actor, in storage.CustomerInput) (storage.Customer, error)
	UpdateCustomer(ctx context.Context, actor httpx.Actor, id string, in storage.CustomerInput) (storage.Customer, error)
	DeleteCustomer(ctx context.Context, actor httpx.Actor, id string) error

	CreateBooking(ctx context.Context, in storage.NewBooking) (storage.Created, error)
	ListBookings(ctx context.Context, f storage.BookingFilter) ([]storage.Booking, error)
	GetBooking(ctx context.Context, id string) (storage.Booking, error)
	CancelBooking(ctx context.Context, actor httpx.Actor, id, reason string) (storage.Booking, error)
	UserHistory(ctx context.Context, userID string, limit int) ([]storage.Booking, error)
	TakenSlots(ctx context.Context, courtID string, day dates.Date) ([]booking.Slot, error)

	ListOccurrences(ctx context.Context, f storage.OccurrenceFilter) ([]storage.Occurrence, error)
	CancelOccurrence(ctx context.Context, actor httpx.Actor, id string) (storage.Occurrence, error)
	CheckIn(ctx context.Context, actor httpx.Actor, id string) (storage.Occurrence, error)

	ListPayments(ctx context.Context, f storage.PaymentFilter) ([]storage.Payment, error)
	ConfirmPayment(ctx context.Context, actor httpx.Actor, id string) (storage.Settlement, error)
	ApplyBankTransfer(ctx context.Context, t storage.BankTransfer) (storage.TransferResult, error)

	ListProducts(ctx context.Context, keyword string) ([]storage.Product, error)
	ListItems(ctx context.Context, occurrenceID string) ([]storage.OrderItem, error)
	AddItems(ctx context.Context, actor httpx.Actor, occurrenceID string, items []storage.ItemInput) ([]storage.OrderItem, error)
	RemoveItem(ctx context.Context, actor httpx.Actor, occurrenceID, itemID string) error
	CheckoutContext(ctx context.Context, occurrenceID string) (storage.CheckoutContext, error)
	CreateOrder(ctx context.Context, in storage.NewOrder) (storage.Order, storage.Payment, error)
	ConfirmOrder(ctx context.Context, actor httpx.Actor, orderID string) (storage.Settlement, error)
	GetOrder(ctx context.Context, id string) (storage.Order, error)
	ListOrders(ctx context.Context, f storage.OrderFilter) ([]storage.Order, error)
}

type Config struct {
	HoldFor        time.Duration
	QR             booking.TransferQR
	SePayAPIKey    string
	LateFeePercent decimal.Decimal

	// Opening hours bound the free-slot finder.
	OpenAt  dates.Clock
	CloseAt dates.Clock
}

type Handler struct {
	store     Store
	quotes    quotes.Provider
	discounts discounts.Provider
	board     realtime.Publisher
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

func New(store Store, quoter quotes.Provider, disc discounts.Provider, board realtime.Publisher, logger *slog.Logger, cfg Config) *Handler {
	if cfg.HoldFor <= 0 {
		cfg.HoldFor = 15 * time.Minute
	}
	if cfg.LateFeePercent.IsZero() {
		cfg.LateFeePercent = decimal.NewFromInt(150)
	}
	if !cfg.OpenAt.Before(cfg.CloseAt) {
		cfg.OpenAt, cfg.CloseAt = dates.NewClock(5, 0, 0), dates.NewClock(23, 0, 0)
	}
	return &Handler{
		store:     store,
		quotes:    quoter,
		discounts: disc,
		board:     board,
		logger:    logger,
		cfg:       cfg,
		now:       dates.Now,
	}
}

// Register mounts the booking routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/customers", h.ListCustomers)
	mux.HandleFunc("GET /api/v1/customers/{id}", h.GetCustomer)
	mux.HandleFunc("POST /api/v1/customers", h.CreateCustomer)
	mux.HandleFunc("PUT /api/v1/customers/{id}", h.UpdateCustomer)
	mux.HandleFunc("DELETE /api/v1/customers/{id}", h.DeleteCustomer)

	mux.HandleFunc("GET /api/v1/bookings", h.ListBookings)
	mux.HandleFunc("GET /api/v1/bookings/me", h.MyBookings)
	mux.HandleFunc("GET /api/v1/bookings/availability", h.Availability)
	mux.HandleFunc("GET /api/v1/bookings/{id}", h.GetBooking)
	mux.HandleFunc("POST /api/v1/bookings", h.CreateBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", h.CancelBooking)

	mux.HandleFunc("GET /api/v1/occurrences", h.ListOccurrences)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/cancel", h.CancelOccurrence)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/check-in", h.CheckIn)
	mux.HandleFunc("GET /api/v1/occurrences/{id}/items", h.ListItems)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/items", h.AddItems)
	mux.HandleFunc("DELETE /api/v1/occurrences/{id}/items/{itemId}", h.RemoveItem)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/checkout", h.Checkout)

	mux.HandleFunc("GET /api/v1/orders", h.ListOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/confirm", h.ConfirmOrder)

	mux.HandleFunc("GET /api/v1/payments", h.ListPayments)
	mux.HandleFunc("POST /api/v1/payments/{id}/confirm", h.ConfirmPayment)
	mux.HandleFunc("POST /api/v1/payments/sepay/webhook", h.SePayWebhook)

	mux.HandleFunc("GET /api/v1/orders/products", h.ListProducts)
}

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// announceSettlement tells the board what a settled payment changed.
func (h *Handler) announceSettlement(ctx context.Context, s storage.Settlement) {
	if !s.Changed {
		return
	}
	h.board.Publish(ctx, realtime.PaymentUpdated, s.Payment)
	if s.Booking != nil {
		h.board.Publish(ctx, realtime.BookingUpdated, s.Booking)
	}
	if s.Order != nil {
		h.board.Publish(ctx, realtime.BookingUpdated, map[string]string{
			"booking_id":    s.Order.BookingID,
			"occurrence_id": s.Order.OccurrenceID,
			"order_id":      s.Order.ID,
			"order_status":  s.Order.Status,
		})
	}
}
