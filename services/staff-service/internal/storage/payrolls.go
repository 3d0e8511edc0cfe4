package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// DateBound filters a payroll date column with one of <, = or >.
type DateBound struct {
	Op   string
	Date dates.Date
}

func ValidDateOp(op string) bool {
	return op == "<" || op == "=" || op == ">"
}

type PayrollFilter struct {
	Keyword string
	Status  string
	Start   *DateBound
	End     *DateBound
	Limit   int
}

const payrollColumns = `id::text, code, name, start_date::text, end_date::text, status, total_net::text,
	total_paid::text, note, created_by, created_at, updated_at,
	(SELECT count(*) FROM payroll_items i WHERE i.payroll_id = payrolls.id)`

func scanPayroll(row pgx.Row) (staffing.Payroll, error) {
	var p staffing.Payroll
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.TotalNet,
		&p.TotalPaid, &p.Note, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.ItemsCount)
	if err == nil {
		p.Remaining = decimal.Max(p.TotalNet.Sub(p.TotalPaid), decimal.Zero)
	}
	return p, err
}

const itemColumns = `id::text, payroll_id::text, staff_id::text, staff_name, net_salary::text, paid_amount::text,
	status, note, updated_at`

func scanItem(row pgx.Row) (staffing.PayrollItem, error) {
	var it staffing.PayrollItem
	err := row.Scan(&it.ID, &it.PayrollID, &it.StaffID, &it.StaffName, &it.NetSalary, &it.PaidAmount,
		&it.Status, &it.Note, &it.UpdatedAt)
	return it, err
}

func collectItems(rows pgx.Rows) ([]staffing.PayrollItem, error) {
	defer rows.Close()
	out := []staffing.PayrollItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repository) ListPayrolls(ctx context.Context, f PayrollFilter) ([]staffing.Payroll, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		add("(code ILIKE '%%' || $%[1]d || '%%' OR name ILIKE '%%' || $%[1]d || '%%' OR id::text = $%[1]d)", kw)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Start != nil && ValidDateOp(f.Start.Op) {
		add("start_date "+f.Start.Op+" $%d::date", f.Start.Date.String())
	}
	if f.End != nil && ValidDateOp(f.End.Op) {
		add("end_date "+f.End.Op+" $%d::date", f.End.Date.String())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	sql := `SELECT ` + payrollColumns + ` FROM payrolls`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY end_date DESC, created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []staffing.Payroll{}
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) getPayroll(ctx context.Context, q querier, id string, lock bool) (staffing.Payroll, error) {
	sql := `SELECT ` + payrollColumns + ` FROM payrolls WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPayroll(q.QueryRow(ctx, sql, id))
	if db.IsNotFound(err) {
		return p, ErrPayrollNotFound
	}
	if err != nil {
		return p, err
	}
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM payroll_items WHERE payroll_id = $1 ORDER BY staff_name, id`, id)
	if err != nil {
		return p, err
	}
	p.Items, err = collectItems(rows)
	p.ItemsCount = len(p.Items)
	return p, err
}

func (r *Repository) GetPayroll(ctx context.Context, id string) (staffing.Payroll, error) {
	return r.getPayroll(ctx, r.pool, id, false)
}

// ItemsByStaff lists a staff member's payslips, newest period first.
func (r *Repository) ItemsByStaff(ctx context.Context, staffID string) ([]staffing.PayrollItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id::text, i.payroll_id::text, i.staff_id::text, i.staff_name, i.net_salary::text,
			i.paid_amount::text, i.status, i.note, i.updated_at
		FROM payroll_items i JOIN payrolls p ON p.id = i.payroll_id
		WHERE i.staff_id = $1
		ORDER BY p.end_date DESC, i.id
	`, staffID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// salaries computes what every payable staff member earned in the period.
// Staff in keep are always returned so existing payslips get refreshed.
func (r *Repository) salaries(ctx context.Context, q querier, start, end dates.Date, keep []string) ([]staffing.StaffPay, error) {
	members, err := r.members(ctx, q, keep)
	if err != nil {
		return nil, err
	}
	records, err := r.attendance(ctx, q, AttendanceFilter{From: &start, To: &end})
	if err != nil {
		return nil, err
	}
	occs, err := r.occurrences(ctx, q, "", start, end)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	return staffing.ComputePayroll(members, records, occs, kept), nil
}

func (r *Repository) insertItem(ctx context.Context, tx pgx.Tx, payrollID string, pay staffing.StaffPay) error {
	status := staffing.ItemPending
	if !pay.Amount.IsPositive() {
		status = staffing.ItemCompleted
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO payroll_items (payroll_id, staff_id, staff_name, net_salary, status)
		VALUES ($1, $2, $3, $4, $5)
	`, payrollID, pay.StaffID, pay.StaffName, pay.Amount.String(), status)
	return err
}

// saveSummary writes back item statuses and payroll totals after Summarize.
func (r *Repository) saveSummary(ctx context.Context, tx pgx.Tx, p *staffing.Payroll) error {
	p.Summarize()
	for _, it := range p.Items {
		if _, err := tx.Exec(ctx, `
			UPDATE payroll_items SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2
		`, it.ID, it.Status); err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx, `
		UPDATE payrolls SET status = $2, total_net = $3, total_paid = $4, updated_at = now() WHERE id = $1
	`, p.ID, p.Status, p.TotalNet.String(), p.TotalPaid.String())
	return err
}

type NewPayroll struct {
	Name      string
	StartDate dates.Date
	EndDate   dates.Date
	Note      string
}

// CreatePayroll computes salaries for the period and stores them as a new
// payroll with a BL code.
func (r *Repository) CreatePayroll(ctx context.Context, actor httpx.Actor, in NewPayroll) (staffing.Payroll, error) {
	if err := staffing.ValidPeriod(in.StartDate, in.EndDate); err != nil {
		return staffing.Payroll{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = staffing.DefaultPayrollName(in.StartDate, in.EndDate)
	}
	var out staffing.Payroll
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = r.createPayroll(ctx, tx, actor, name, in)
		return err
	})
	return out, err
}

func (r *Repository) createPayroll(ctx context.Context, tx pgx.Tx, actor httpx.Actor, name string, in NewPayroll) (staffing.Payroll, error) {
	code, err := r.nextCode(ctx, tx, "payrolls", staffing.PayrollCodePrefix)
	if err != nil {
		return staffing.Payroll{}, err
	}
	var id string
	if err := tx.QueryRow(ctx, `
		INSERT INTO payrolls (code, name, start_date, end_date, note, created_by)
		VALUES ($1, $2, $3::date, $4::date, $5, $6)
		RETURNING id::text
	`, code, name, in.StartDate.String(), in.EndDate.String(), in.Note, actor.Label()).Scan(&id); err != nil {
		return staffing.Payroll{}, err
	}
	pays, err := r.salaries(ctx, tx, in.StartDate, in.EndDate, nil)
	if err != nil {
		return staffing.Payroll{}, err
	}
	for _, pay := range pays {
		if err := r.insertItem(ctx, tx, id, pay); err != nil {
			return staffing.Payroll{}, err
		}
	}
	p, err := r.getPayroll(ctx, tx, id, false)
	if err != nil {
		return p, err
	}
	if err := r.saveSummary(ctx, tx, &p); err != nil {
		return p, err
	}
	return p, r.audit(ctx, tx, actor, "payrolls", id, audit.ActionCreate, nil, p)
}

// EnsurePayroll creates a payroll for the period unless one already covers
// exactly that period. It reports whether one was created.
func (r *Repository) EnsurePayroll(ctx context.Context, in NewPayroll) (bool, error) {
	if err := staffing.ValidPeriod(in.StartDate, in.EndDate); err != nil {
		return false, err
	}
	created := false
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "staff:payroll:"+in.StartDate.String()+":"+in.EndDate.String()); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM payrolls WHERE start_date = $1::date AND end_date = $2::date)
		`, in.StartDate.String(), in.EndDate.String()).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		name := in.Name
		if name == "" {
			name = staffing.DefaultPayrollName(in.StartDate, in.EndDate)
		}
		if _, err := r.createPayroll(ctx, tx, SystemActor, name, in); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (r *Repository) UpdatePayroll(ctx context.Context, actor httpx.Actor, id, name, note string) (staffing.Payroll, error) {
	if strings.TrimSpace(name) == "" {
		return staffing.Payroll{}, apperr.Invalid("name is required")
	}
	var out staffing.Payroll
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getPayroll(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE payrolls SET name = $2, note = $3, updated_at = now() WHERE id = $1`,
			id, strings.TrimSpace(name), note); err != nil {
			return err
		}
		if out, err = r.getPayroll(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "payrolls", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// RefreshPayroll recomputes salaries of a running payroll, updating payslips
// and adding staff who started earning. Ended payrolls only get their
// statuses and totals recomputed.
func (r *Repository) RefreshPayroll(ctx context.Context, actor httpx.Actor, id string) (staffing.Payroll, error) {
	var out staffing.Payroll
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = r.refresh(ctx, tx, actor, id)
		return err
	})
	return out, err
}

func (r *Repository) refresh(ctx context.Context, tx pgx.Tx, actor httpx.Actor, id string) (staffing.Payroll, error) {
	before, err := r.getPayroll(ctx, tx, id, true)
	if err != nil {
		return before, err
	}
	if !before.Ended(r.today()) {
		existing := make(map[string]staffing.PayrollItem, len(before.Items))
		keep := make([]string, 0, len(before.Items))
		for _, it := range before.Items {
			existing[it.StaffID] = it
			keep = append(keep, it.StaffID)
		}
		pays, err := r.salaries(ctx, tx, before.StartDate, before.EndDate, keep)
		if err != nil {
			return before, err
		}
		for _, pay := range pays {
			it, ok := existing[pay.StaffID]
			if !ok {
				if err := r.insertItem(ctx, tx, id, pay); err != nil {
					return before, err
				}
				continue
			}
			if it.NetSalary.Equal(pay.Amount) && it.StaffName == pay.StaffName {
				continue
			}
			if _, err := tx.Exec(ctx, `
				UPDATE payroll_items SET net_salary = $2, staff_name = $3, updated_at = now() WHERE id = $1
			`, it.ID, pay.Amount.String(), pay.StaffName); err != nil {
				return before, err
			}
		}
	}
	p, err := r.getPayroll(ctx, tx, id, false)
	if err != nil {
		return p, err
	}
	if err := r.saveSummary(ctx, tx, &p); err != nil {
		return p, err
	}
	if before.TotalNet.Equal(p.TotalNet) && before.Status == p.Status && before.ItemsCount == p.ItemsCount {
		return p, nil
	}
	return p, r.audit(ctx, tx, actor, "payrolls", id, audit.ActionUpdate, before, p)
}

// RefreshOpenPayrolls refreshes every payroll whose period has not ended.
func (r *Repository) RefreshOpenPayrolls(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text FROM payrolls WHERE end_date >= $1::date ORDER BY end_date`, r.today().String())
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := r.RefreshPayroll(ctx, SystemActor, id); err != nil {
			return 0, fmt.Errorf("refresh payroll %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// PayItem records a salary payment against one payslip and announces it so
// finance can book the expense.
func (r *Repository) PayItem(ctx context.Context, actor httpx.Actor, payrollID, itemID string, amount decimal.Decimal) (staffing.Payroll, error) {
	var out staffing.Payroll
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		p, err := r.getPayroll(ctx, tx, payrollID, true)
		if err != nil {
			return err
		}
		idx := -1
		for i, it := range p.Items {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrPayrollItemMissing
		}
		before := p.Items[idx]
		item := before
		if err := item.Pay(amount); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE payroll_items SET paid_amount = $2, status = $3, updated_at = now() WHERE id = $1
		`, itemID, item.PaidAmount.String(), item.Status); err != nil {
			return err
		}
		p.Items[idx] = item
		if err := r.saveSummary(ctx, tx, &p); err != nil {
			return err
		}
		paidAt := r.now()
		if err := outbox.EnqueueJSON(ctx, tx, "payroll", payrollID, events.PayrollPaid, events.PayrollPaidPayload{
			PayrollID:     payrollID,
			PayrollItemID: itemID,
			StaffID:       item.StaffID,
			StaffName:     item.StaffName,
			Amount:        amount,
			PaidAt:        paidAt,
		}); err != nil {
			return err
		}
		if err := r.audit(ctx, tx, actor, "payroll_items", itemID, audit.ActionUpdate, before, item); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DeletePayroll removes a payroll nobody has been paid from yet.
func (r *Repository) DeletePayroll(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getPayroll(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.HasPayments() {
			return ErrPayrollPaid
		}
		if _, err := tx.Exec(ctx, `DELETE FROM payrolls WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "payrolls", id, audit.ActionDelete, before, nil)
	})
}
