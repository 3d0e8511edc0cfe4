// Package logs defines the audit trail records and how they are queried.
package logs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	DefaultRetentionDays = 90
)

type Entry struct {
	ID             int64           `json:"id"`
	Service        string          `json:"service"`
	TableName      string          `json:"table_name"`
	EntityID       string          `json:"entity_id"`
	Action         string          `json:"action"`
	UserID         string          `json:"user_id,omitempty"`
	UserName       string          `json:"user_name,omitempty"`
	IPAddress      string          `json:"ip_address,omitempty"`
	ChangedColumns []string        `json:"changed_columns"`
	OldValues      json.RawMessage `json:"old_values,omitempty"`
	NewValues      json.RawMessage `json:"new_values,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func ValidAction(a string) bool {
	switch a {
	case audit.ActionCreate, audit.ActionUpdate, audit.ActionDelete:
		return true
	}
	return false
}

// Query filters the trail. Zero values mean no filter.
type Query struct {
	Page     int
	PageSize int
	Table    string
	Action   string
	UserID   string
	EntityID string
	From     *time.Time
	To       *time.Time
	Keyword  string
}

// Normalize applies paging defaults and rejects impossible filters.
func (q *Query) Normalize() error {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Page < 1 {
		return apperr.Invalid("page must be >= 1")
	}
	if q.PageSize < 1 || q.PageSize > MaxPageSize {
		return apperr.Invalid("page_size must be between 1 and %d", MaxPageSize)
	}
	q.Table = strings.TrimSpace(q.Table)
	q.UserID = strings.TrimSpace(q.UserID)
	q.EntityID = strings.TrimSpace(q.EntityID)
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.Action != "" && !ValidAction(q.Action) {
		return apperr.Invalid("action must be Create, Update or Delete")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return apperr.Invalid("to must not be before from")
	}
	return nil
}

func (q Query) Offset() int { return (q.Page - 1) * q.PageSize }

type Page struct {
	Items      []Entry `json:"items"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	Total      int64   `json:"total"`
	TotalPages int     `json:"total_pages"`
}

func NewPage(items []Entry, q Query, total int64) Page {
	if items == nil {
		items = []Entry{}
	}
	pages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	return Page{Items: items, Page: q.Page, PageSize: q.PageSize, Total: total, TotalPages: pages}
}

type SecurityEvent struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

type ReminderFailure struct {
	ID            int64      `json:"id"`
	JobID         string     `json:"job_id"`
	BookingID     string     `json:"booking_id"`
	OccurrenceID  string     `json:"occurrence_id,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	StartAt       *time.Time `json:"start_at,omitempty"`
	Attempts      int        `json:"attempts"`
	ErrorReason   string     `json:"error_reason"`
	FailedAt      time.Time  `json:"failed_at"`
}

type ChannelStat struct {
	Day     string `json:"day"`
	Channel string `json:"channel"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}
