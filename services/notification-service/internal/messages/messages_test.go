package messages

import (
	"testing"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestReminder(t *testing.T) {
	start := dates.NewDate(2025, 10, 6).At(dates.NewClock(18, 0, 0))
	to, msg := Reminder(events.ReminderDuePayload{
		CustomerName: "Lan", CustomerEmail: "lan@example.com", CustomerPhone: "0901",
		CourtName: "Court 1", StartAt: start.UTC(), OffsetMinutes: 120,
	})
	assert.Equal(t, Recipient{Name: "Lan", Email: "lan@example.com", Phone: "0901"}, to)
	assert.Equal(t, "Reminder: Court 1 in 2 hours", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Lan,")
	// Rendered in venue time even when the event carries UTC.
	assert.Contains(t, msg.Body, "at 18:00 Mon 06/10/2025")
}

func TestHumanMinutes(t *testing.T) {
	assert.Equal(t, "30 minutes", humanMinutes(30))
	assert.Equal(t, "1 hour", humanMinutes(60))
	assert.Equal(t, "90 minutes", humanMinutes(90))
	assert.Equal(t, "1 minute", humanMinutes(1))
}

func TestBookingCreatedListsOccurrences(t *testing.T) {
	day := dates.NewDate(2025, 10, 6)
	var occs []events.OccurrenceRef
	for i := 0; i < 7; i++ {
		occs = append(occs, events.OccurrenceRef{
			OccurrenceID: "o", Date: day.AddDays(7 * i),
			StartTime: dates.NewClock(18, 0, 0), EndTime: dates.NewClock(19, 30, 0),
		})
	}
	_, msg := BookingCreated(events.BookingCreatedPayload{
		BookingID: "abcdef123456", CourtName: "Court 2", Status: "Confirmed",
		TotalAmount: decimal.NewFromInt(840000), Occurrences: occs,
	})
	assert.Equal(t, "Booking received: Court 2", msg.Subject)
	assert.Contains(t, msg.Body, "Hello,")
	assert.Contains(t, msg.Body, "booking ABCDEF12 on Court 2 is confirmed.")
	assert.Contains(t, msg.Body, "- 2025-10-06 18:00-19:30")
	assert.Contains(t, msg.Body, "…and 2 more")
	assert.Contains(t, msg.Body, "Total: 840000")
}

func TestBookingClosed(t *testing.T) {
	p := events.BookingClosedPayload{BookingID: "b1", CustomerName: "Minh", Reason: "rain"}
	_, msg := BookingClosed(p, false)
	assert.Equal(t, "Booking cancelled: your court", msg.Subject)
	assert.Contains(t, msg.Body, "Reason: rain")

	_, msg = BookingClosed(p, true)
	assert.Equal(t, "Booking expired: your court", msg.Subject)
	assert.NotContains(t, msg.Body, "Reason")
}
