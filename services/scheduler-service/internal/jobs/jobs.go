// Package jobs plans, stores and fires booking reminders.
package jobs

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/hoaht-8203/courtops/libs/events"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Job struct {
	ID             int64     `json:"id"`
	IdempotencyKey string    `json:"-"`
	BookingID      string    `json:"booking_id"`
	OccurrenceID   string    `json:"occurrence_id"`
	CustomerName   string    `json:"customer_name"`
	CustomerEmail  string    `json:"customer_email"`
	CustomerPhone  string    `json:"customer_phone"`
	CourtName      string    `json:"court_name"`
	StartAt        time.Time `json:"start_at"`
	OffsetMinutes  int       `json:"offset_minutes"`
	RemindAt       time.Time `json:"remind_at"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	NextRunAt      time.Time `json:"next_run_at"`
	LastError      string    `json:"last_error,omitempty"`
	Traceparent    string    `json:"-"`
	Tracestate     string    `json:"-"`
}

// Key identifies one reminder of one occurrence.
func Key(bookingID, occurrenceID string, offsetMinutes int) string {
	return fmt.Sprintf("%s|%s|%d", bookingID, occurrenceID, offsetMinutes)
}

// NormalizeOffsets drops non-positive and repeated offsets and orders the rest
// earliest reminder first.
func NormalizeOffsets(offsets []int) []int {
	out := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if o > 0 && !slices.Contains(out, o) {
			out = append(out, o)
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// Plan returns one job per occurrence and offset. Reminders whose time is not
// after now are left out.
func Plan(evt events.BookingCreatedPayload, offsets []int, now time.Time) []Job {
	var out []Job
	for _, occ := range evt.Occurrences {
		if occ.OccurrenceID == "" || occ.Date.IsZero() {
			continue
		}
		start := occ.Date.At(occ.StartTime)
		for _, off := range NormalizeOffsets(offsets) {
			at := start.Add(-time.Duration(off) * time.Minute)
			if !at.After(now) {
				continue
			}
			out = append(out, Job{
				IdempotencyKey: Key(evt.BookingID, occ.OccurrenceID, off),
				BookingID:      evt.BookingID,
				OccurrenceID:   occ.OccurrenceID,
				CustomerName:   evt.CustomerName,
				CustomerEmail:  evt.CustomerEmail,
				CustomerPhone:  evt.CustomerPhone,
				CourtName:      evt.CourtName,
				StartAt:        start,
				OffsetMinutes:  off,
				RemindAt:       at,
				Status:         StatusPending,
			})
		}
	}
	return out
}

// Due is the event announcing that j has fired.
func (j Job) Due() events.ReminderDuePayload {
	return events.ReminderDuePayload{
		JobID:         strconv.FormatInt(j.ID, 10),
		BookingID:     j.BookingID,
		OccurrenceID:  j.OccurrenceID,
		CustomerName:  j.CustomerName,
		CustomerEmail: j.CustomerEmail,
		CustomerPhone: j.CustomerPhone,
		CourtName:     j.CourtName,
		StartAt:       j.StartAt,
		OffsetMinutes: j.OffsetMinutes,
		Attempts:      j.Attempts,
		LastError:     j.LastError,
	}
}
