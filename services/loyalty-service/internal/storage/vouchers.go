package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/vouchers"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const voucherColumns = `
	id::text, code, title, description, discount_type, discount_value::text, max_discount_value::text,
	min_order_value::text, start_at, end_at, usage_limit_total, usage_limit_per_user, used_count, is_active,
	created_at, updated_at
`

func scanVoucher(row pgx.Row, v *vouchers.Voucher) error {
	var maxDiscount, minOrder *string
	if err := row.Scan(&v.ID, &v.Code, &v.Title, &v.Description, &v.DiscountType, &v.DiscountValue, &maxDiscount,
		&minOrder, &v.StartAt, &v.EndAt, &v.UsageLimitTotal, &v.UsageLimitPerUser, &v.UsedCount, &v.IsActive,
		&v.CreatedAt, &v.UpdatedAt); err != nil {
		return err
	}
	v.MaxDiscountValue = optionalDecimal(maxDiscount)
	v.MinOrderValue = optionalDecimal(minOrder)
	return nil
}

func optionalDecimal(s *string) *decimal.Decimal {
	nd := money.FromNullText(s)
	if !nd.Valid {
		return nil
	}
	return &nd.Decimal
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

type VoucherFilter struct {
	Keyword  string
	IsActive *bool
	Limit    int
}

func (r *Repository) ListVouchers(ctx context.Context, f VoucherFilter) ([]vouchers.Voucher, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+voucherColumns+` FROM vouchers
		WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%')
		  AND ($2::boolean IS NULL OR is_active = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, f.Keyword, f.IsActive, f.Limit)
	if err != nil {
		return nil, err
	}
	out, err := collectVouchers(rows)
	if err != nil {
		return nil, err
	}
	return out, r.loadRules(ctx, r.pool, out)
}

func collectVouchers(rows pgx.Rows) ([]vouchers.Voucher, error) {
	defer rows.Close()
	var out []vouchers.Voucher
	for rows.Next() {
		var v vouchers.Voucher
		if err := scanVoucher(rows, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// loadRules fills the time and user rules of vs in two queries.
func (r *Repository) loadRules(ctx context.Context, q querier, vs []vouchers.Voucher) error {
	if len(vs) == 0 {
		return nil
	}
	ids := make([]string, len(vs))
	index := make(map[string]int, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
		index[v.ID] = i
		vs[i].TimeRules = []vouchers.TimeRule{}
		vs[i].UserRules = []vouchers.UserRule{}
	}

	rows, err := q.Query(ctx, `
		SELECT voucher_id::text, day_of_week, specific_date::text, start_time::text, end_time::text
		FROM voucher_time_rules WHERE voucher_id = ANY($1::uuid[]) ORDER BY id
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		var tr vouchers.TimeRule
		if err := rows.Scan(&id, &tr.DayOfWeek, &tr.SpecificDate, &tr.StartTime, &tr.EndTime); err != nil {
			rows.Close()
			return err
		}
		vs[index[id]].TimeRules = append(vs[index[id]].TimeRules, tr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT voucher_id::text, membership_id::text, user_type, is_new_customer
		FROM voucher_user_rules WHERE voucher_id = ANY($1::uuid[]) ORDER BY id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var ur vouchers.UserRule
		if err := rows.Scan(&id, &ur.MembershipID, &ur.UserType, &ur.IsNewCustomer); err != nil {
			return err
		}
		vs[index[id]].UserRules = append(vs[index[id]].UserRules, ur)
	}
	return rows.Err()
}

func (r *Repository) getVoucher(ctx context.Context, q querier, where string, arg any, lock bool) (vouchers.Voucher, error) {
	sql := `SELECT ` + voucherColumns + ` FROM vouchers WHERE ` + where
	if lock {
		sql += ` FOR UPDATE`
	}
	var v vouchers.Voucher
	if err := scanVoucher(q.QueryRow(ctx, sql, arg), &v); err != nil {
		if db.IsNotFound(err) {
			return vouchers.Voucher{}, ErrVoucherNotFound
		}
		return vouchers.Voucher{}, err
	}
	list := []vouchers.Voucher{v}
	if err := r.loadRules(ctx, q, list); err != nil {
		return vouchers.Voucher{}, err
	}
	return list[0], nil
}

func (r *Repository) GetVoucher(ctx context.Context, id string) (vouchers.Voucher, error) {
	return r.getVoucher(ctx, r.pool, "id = $1", id, false)
}

func (r *Repository) VoucherByCode(ctx context.Context, code string) (vouchers.Voucher, error) {
	return r.getVoucher(ctx, r.pool, "upper(code) = upper($1)", strings.TrimSpace(code), false)
}

func (r *Repository) replaceRules(ctx context.Context, tx pgx.Tx, v vouchers.Voucher) error {
	if _, err := tx.Exec(ctx, `DELETE FROM voucher_time_rules WHERE voucher_id = $1`, v.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM voucher_user_rules WHERE voucher_id = $1`, v.ID); err != nil {
		return err
	}
	for _, tr := range v.TimeRules {
		var date *string
		if tr.SpecificDate != nil {
			s := tr.SpecificDate.String()
			date = &s
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO voucher_time_rules (voucher_id, day_of_week, specific_date, start_time, end_time)
			VALUES ($1, $2, $3::date, $4::time, $5::time)
		`, v.ID, tr.DayOfWeek, date, clockArg(tr.StartTime), clockArg(tr.EndTime)); err != nil {
			return err
		}
	}
	for _, ur := range v.UserRules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO voucher_user_rules (voucher_id, membership_id, user_type, is_new_customer)
			VALUES ($1, $2::uuid, $3, $4)
		`, v.ID, ur.MembershipID, ur.UserType, ur.IsNewCustomer); err != nil {
			return err
		}
	}
	return nil
}

func clockArg(c *dates.Clock) *string {
	if c == nil {
		return nil
	}
	s := c.String()
	return &s
}

func (r *Repository) CreateVoucher(ctx context.Context, actor httpx.Actor, v vouchers.Voucher) (vouchers.Voucher, error) {
	var out vouchers.Voucher
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO vouchers (code, title, description, discount_type, discount_value, max_discount_value,
				min_order_value, start_at, end_at, usage_limit_total, usage_limit_per_user, is_active)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)
			RETURNING id::text
		`, strings.TrimSpace(v.Code), v.Title, v.Description, v.DiscountType, v.DiscountValue.String(),
			decimalArg(v.MaxDiscountValue), decimalArg(v.MinOrderValue), v.StartAt, v.EndAt,
			v.UsageLimitTotal, v.UsageLimitPerUser, v.IsActive).Scan(&v.ID)
		if db.IsUniqueViolation(err) {
			return ErrVoucherCodeTaken
		}
		if err != nil {
			return err
		}
		if err := r.replaceRules(ctx, tx, v); err != nil {
			return err
		}
		if out, err = r.getVoucher(ctx, tx, "id = $1", v.ID, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "vouchers", v.ID, audit.ActionCreate, nil, out)
	})
	return out, err
}

// UpdateVoucher replaces the voucher and its rules. used_count is kept.
func (r *Repository) UpdateVoucher(ctx context.Context, actor httpx.Actor, v vouchers.Voucher) (vouchers.Voucher, error) {
	var out vouchers.Voucher
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getVoucher(ctx, tx, "id = $1", v.ID, true)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE vouchers SET code = $2, title = $3, description = $4, discount_type = $5,
				discount_value = $6::numeric, max_discount_value = $7::numeric, min_order_value = $8::numeric,
				start_at = $9, end_at = $10, usage_limit_total = $11, usage_limit_per_user = $12, is_active = $13,
				updated_at = now()
			WHERE id = $1
		`, v.ID, strings.TrimSpace(v.Code), v.Title, v.Description, v.DiscountType, v.DiscountValue.String(),
			decimalArg(v.MaxDiscountValue), decimalArg(v.MinOrderValue), v.StartAt, v.EndAt,
			v.UsageLimitTotal, v.UsageLimitPerUser, v.IsActive)
		if db.IsUniqueViolation(err) {
			return ErrVoucherCodeTaken
		}
		if err != nil {
			return err
		}
		if err := r.replaceRules(ctx, tx, v); err != nil {
			return err
		}
		if out, err = r.getVoucher(ctx, tx, "id = $1", v.ID, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "vouchers", v.ID, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) DeleteVoucher(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getVoucher(ctx, tx, "id = $1", id, true)
		if err != nil {
			return err
		}
		if before.UsedCount > 0 {
			return ErrVoucherUsed
		}
		if _, err := tx.Exec(ctx, `DELETE FROM vouchers WHERE id = $1`, id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrVoucherUsed
			}
			return err
		}
		return r.audit(ctx, tx, actor, "vouchers", id, audit.ActionDelete, before, nil)
	})
}

// Extension changes only the fields that are set.
type Extension struct {
	EndAt             *time.Time
	UsageLimitTotal   *int
	UsageLimitPerUser *int
}

func (r *Repository) ExtendVoucher(ctx context.Context, actor httpx.Actor, id string, ext Extension) (vouchers.Voucher, error) {
	var out vouchers.Voucher
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getVoucher(ctx, tx, "id = $1", id, true)
		if err != nil {
			return err
		}
		next := before
		if ext.EndAt != nil {
			next.EndAt = *ext.EndAt
		}
		if ext.UsageLimitTotal != nil {
			next.UsageLimitTotal = *ext.UsageLimitTotal
		}
		if ext.UsageLimitPerUser != nil {
			next.UsageLimitPerUser = *ext.UsageLimitPerUser
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE vouchers SET end_at = $2, usage_limit_total = $3, usage_limit_per_user = $4, updated_at = now()
			WHERE id = $1
		`, id, next.EndAt, next.UsageLimitTotal, next.UsageLimitPerUser); err != nil {
			return err
		}
		if out, err = r.getVoucher(ctx, tx, "id = $1", id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "vouchers", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// RedemptionContext gathers what the voucher rules need to judge customerID.
func (r *Repository) RedemptionContext(ctx context.Context, voucherID, customerID string, at time.Time) (vouchers.Customer, error) {
	c := vouchers.Customer{ID: customerID}
	cust, err := r.GetCustomer(ctx, customerID)
	switch {
	case err == nil:
		c.Exists = true
		c.HasOrders = cust.PaidOrders > 0
	case err != ErrCustomerNotFound:
		return c, err
	}
	if voucherID != "" {
		if err := r.pool.QueryRow(ctx, `
			SELECT count(*) FROM voucher_usages WHERE voucher_id = $1 AND customer_id = $2
		`, voucherID, customerID).Scan(&c.UsedByThem); err != nil {
			return c, fmt.Errorf("count voucher usage: %w", err)
		}
	}
	rows, err := r.pool.Query(ctx, `
		SELECT membership_id::text FROM user_memberships
		WHERE customer_id = $1 AND is_active AND start_date <= $2 AND end_date >= $2
	`, customerID, at)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return c, err
		}
		c.MembershipIDs = append(c.MembershipIDs, id)
	}
	return c, rows.Err()
}

// AvailableFor lists vouchers the customer could use at instant at.
func (r *Repository) AvailableFor(ctx context.Context, customerID string, at time.Time) ([]vouchers.Voucher, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+voucherColumns+` FROM vouchers
		WHERE is_active AND start_at <= $1 AND end_at >= $1
		  AND (usage_limit_total = 0 OR used_count < usage_limit_total)
		ORDER BY end_at
	`, at)
	if err != nil {
		return nil, err
	}
	candidates, err := collectVouchers(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadRules(ctx, r.pool, candidates); err != nil {
		return nil, err
	}
	base, err := r.RedemptionContext(ctx, "", customerID, at)
	if err != nil {
		return nil, err
	}
	used, err := r.usageByVoucher(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := []vouchers.Voucher{}
	for _, v := range candidates {
		c := base
		c.UsedByThem = used[v.ID]
		if v.Available(c, at) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Repository) usageByVoucher(ctx context.Context, customerID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT voucher_id::text, count(*) FROM voucher_usages WHERE customer_id = $1 GROUP BY voucher_id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
