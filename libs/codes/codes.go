// Package codes generates the human-readable document numbers used across
// the venue: PN000001 receipts, HD-ddMMyyyy-000001 invoices and so on.
package codes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const width = 6

// Format renders prefix followed by n zero-padded to six digits.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// Increment returns the code after last. An empty or malformed last restarts
// the sequence at 1.
func Increment(prefix, last string) string {
	next := int64(1)
	if strings.HasPrefix(last, prefix) {
		if n, err := strconv.ParseInt(last[len(prefix):], 10, 64); err == nil && n >= 0 {
			next = n + 1
		}
	}
	return Format(prefix, next)
}

// DailyPrefix returns e.g. "PM-02102025-" for kind "PM".
func DailyPrefix(kind string, t time.Time) string {
	return kind + "-" + t.Format("02012006") + "-"
}

// Querier is satisfied by pgx.Tx and the pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Next reads the greatest code in table.column that starts with prefix and
// returns its successor. Longer codes sort first so the counter keeps
// growing past six digits. Callers insert inside a transaction and retry on
// a unique violation.
func Next(ctx context.Context, q Querier, table, column, prefix string) (string, error) {
	col := pgx.Identifier{column}.Sanitize()
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIKE $1 ORDER BY length(%s) DESC, %s DESC LIMIT 1`,
		col, pgx.Identifier{table}.Sanitize(), col, col, col)
	var last string
	err := q.QueryRow(ctx, sql, escapeLike(prefix)+"%").Scan(&last)
	if err != nil && err != pgx.ErrNoRows {
		return "", err
	}
	return Increment(prefix, last), nil
}

// NormalizePaymentRef turns a bank-transfer memo token like PM02102025000001
// back into PM-02102025-000001.
func NormalizePaymentRef(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "PM") && !strings.HasPrefix(raw, "PM-") && len(raw) >= 15 {
		return "PM-" + raw[2:10] + "-" + raw[10:]
	}
	return raw
}

// FindPaymentRef extracts the first PM token from a transfer description, or
// "" when the memo carries none.
func FindPaymentRef(content string) string {
	for _, field := range strings.Fields(content) {
		if strings.HasPrefix(field, "PM") {
			return NormalizePaymentRef(field)
		}
	}
	return ""
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
