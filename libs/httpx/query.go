package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
)

// Limit parses ?limit= within [1,max], defaulting to def.
func Limit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, apperr.Invalid("limit must be between 1 and %d", max)
	}
	return n, nil
}

// Page parses ?page= and ?page_size= (page >= 1, page_size within [1,max]).
func Page(r *http.Request, defSize, max int) (page, size int, err error) {
	q := r.URL.Query()
	page, size = 1, defSize
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, apperr.Invalid("page must be >= 1")
		}
	}
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size < 1 || size > max {
			return 0, 0, apperr.Invalid("page_size must be between 1 and %d", max)
		}
	}
	return page, size, nil
}

func QueryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// QueryInt64 returns nil when the parameter is absent.
func QueryInt64(r *http.Request, key string) (*int64, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.Invalid("%s must be an integer", key)
	}
	return &n, nil
}

func QueryBool(r *http.Request, key string) (*bool, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Invalid("%s must be a boolean", key)
	}
	return &b, nil
}

// QueryTime accepts RFC3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func QueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.Invalid("%s must be RFC3339 or YYYY-MM-DD", key)
	}
	return &t, nil
}

// QueryDate parses a YYYY-MM-DD calendar date.
func QueryDate(r *http.Request, key string) (*dates.Date, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	d, err := dates.ParseDate(raw)
	if err != nil {
		return nil, apperr.Invalid("%s must be YYYY-MM-DD", key)
	}
	return &d, nil
}

// PathUUID returns the named path value when it is a valid UUID.
func PathUUID(r *http.Request, name string) (string, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", apperr.Invalid("%s must be a valid id", name)
	}
	return id.String(), nil
}
