// Package messages renders the short texts sent to customers.
package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/events"
)

const timeLayout = "15:04 Mon 02/01/2006"

// Recipient is where a message goes. Empty fields skip that channel.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

type Message struct {
	Subject string
	Body    string
}

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hello,"
	}
	return "Hello " + name + ","
}

func court(name string) string {
	if strings.TrimSpace(name) == "" {
		return "your court"
	}
	return name
}

func venueTime(t time.Time) string {
	return t.In(dates.Location()).Format(timeLayout)
}

func Reminder(p events.ReminderDuePayload) (Recipient, Message) {
	lead := "soon"
	if p.OffsetMinutes > 0 {
		lead = "in " + humanMinutes(p.OffsetMinutes)
	}
	return Recipient{Name: p.CustomerName, Email: p.CustomerEmail, Phone: p.CustomerPhone}, Message{
		Subject: "Reminder: " + court(p.CourtName) + " " + lead,
		Body: fmt.Sprintf("%s\nYour booking on %s starts %s, at %s.\nSee you on court!",
			greeting(p.CustomerName), court(p.CourtName), lead, venueTime(p.StartAt)),
	}
}

func BookingCreated(p events.BookingCreatedPayload) (Recipient, Message) {
	var b strings.Builder
	b.WriteString(greeting(p.CustomerName))
	fmt.Fprintf(&b, "\nYour booking %s on %s is %s.", shortID(p.BookingID), court(p.CourtName), strings.ToLower(p.Status))
	for i, o := range p.Occurrences {
		if i == 5 {
			fmt.Fprintf(&b, "\n…and %d more", len(p.Occurrences)-i)
			break
		}
		fmt.Fprintf(&b, "\n- %s %s-%s", o.Date, hm(o.StartTime), hm(o.EndTime))
	}
	if !p.TotalAmount.IsZero() {
		fmt.Fprintf(&b, "\nTotal: %s", p.TotalAmount.StringFixed(0))
	}
	return Recipient{Name: p.CustomerName, Email: p.CustomerEmail, Phone: p.CustomerPhone}, Message{
		Subject: "Booking received: " + court(p.CourtName),
		Body:    b.String(),
	}
}

// BookingClosed covers both cancellations and holds that expired unpaid.
func BookingClosed(p events.BookingClosedPayload, expired bool) (Recipient, Message) {
	subject := "Booking cancelled: " + court(p.CourtName)
	body := fmt.Sprintf("%s\nYour booking %s on %s was cancelled.", greeting(p.CustomerName), shortID(p.BookingID), court(p.CourtName))
	if expired {
		subject = "Booking expired: " + court(p.CourtName)
		body = fmt.Sprintf("%s\nYour hold %s on %s expired before payment and was released.",
			greeting(p.CustomerName), shortID(p.BookingID), court(p.CourtName))
	}
	if r := strings.TrimSpace(p.Reason); r != "" && !expired {
		body += "\nReason: " + r
	}
	return Recipient{Name: p.CustomerName, Email: p.CustomerEmail, Phone: p.CustomerPhone}, Message{Subject: subject, Body: body}
}

func humanMinutes(m int) string {
	switch {
	case m%60 == 0 && m >= 60:
		h := m / 60
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case m == 1:
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func hm(c dates.Clock) string {
	m := c.Minutes()
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}
