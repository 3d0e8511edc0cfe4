package codes

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrement(t *testing.T) {
	cases := []struct {
		prefix, last, want string
	}{
		{"PN", "", "PN000001"},
		{"PN", "PN000009", "PN000010"},
		{"KK", "KK999999", "KK1000000"},
		{"TC", "XX000004", "TC000001"},
		{"HD-01032025-", "HD-01032025-000041", "HD-01032025-000042"},
		{"NCC", "NCCabc", "NCC000001"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Increment(tc.prefix, tc.last), tc.last)
	}
}

func TestDailyPrefix(t *testing.T) {
	at := time.Date(2025, 10, 2, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "PM-02102025-", DailyPrefix("PM", at))
	assert.Equal(t, "HD-02102025-000001", Format(DailyPrefix("HD", at), 1))
}

func TestPaymentRefFromTransferMemo(t *testing.T) {
	assert.Equal(t, "PM-02102025-000001", FindPaymentRef("CT DEN:123 PM02102025000001 thanh toan"))
	assert.Equal(t, "PM-02102025-000001", FindPaymentRef("PM-02102025-000001"))
	assert.Empty(t, FindPaymentRef("random"))
	assert.Empty(t, FindPaymentRef(""))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `HD\_1\%`, escapeLike("HD_1%"))
}

type lastCode struct {
	sql  string
	args []any
	code string
}

func (q *lastCode) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql, q.args = sql, args
	return q
}

func (q *lastCode) Scan(dest ...any) error {
	if q.code == "" {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = q.code
	return nil
}

func TestNextOrdersByLengthFirst(t *testing.T) {
	q := &lastCode{code: "PN1000000"}
	next, err := Next(context.Background(), q, "receipts", "code", "PN")
	require.NoError(t, err)
	assert.Equal(t, "PN1000001", next)
	assert.Contains(t, q.sql, `ORDER BY length("code") DESC, "code" DESC`)
	assert.Equal(t, []any{"PN%"}, q.args)

	next, err = Next(context.Background(), &lastCode{}, "receipts", "code", "PN_")
	require.NoError(t, err)
	assert.Equal(t, "PN_000001", next)
}
