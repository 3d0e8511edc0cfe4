package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const cashflowColumns = `
	c.id, COALESCE(c.reference_number, ''), c.time, c.is_payment, c.cashflow_type_id, t.code, t.name,
	c.value::text, c.payment_method, c.status, c.person_type, c.related_person, c.related_person_id,
	c.related_id, c.source, c.note, c.account_in_business_results, c.created_by, c.created_at, c.updated_at`

const cashflowFrom = ` FROM cashflows c JOIN cashflow_types t ON t.id = c.cashflow_type_id`

func scanCashflow(row pgx.Row) (ledger.Cashflow, error) {
	var (
		c     ledger.Cashflow
		value string
	)
	err := row.Scan(&c.ID, &c.ReferenceNumber, &c.Time, &c.IsPayment, &c.TypeID, &c.TypeCode, &c.TypeName,
		&value, &c.PaymentMethod, &c.Status, &c.PersonType, &c.RelatedPerson, &c.RelatedPersonID,
		&c.RelatedID, &c.Source, &c.Note, &c.AccountInBusinessResults, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Value = money.FromText(value)
	return c, nil
}

type CashflowFilter struct {
	IsPayment  *bool
	From       *time.Time
	To         *time.Time
	TypeID     *int64
	Status     string
	PersonType string
	Keyword    string
	Limit      int
}

func (r *Repository) ListCashflows(ctx context.Context, f CashflowFilter) ([]ledger.Cashflow, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.IsPayment != nil {
		add("c.is_payment = ?", *f.IsPayment)
	}
	if f.From != nil {
		add("c.time >= ?", *f.From)
	}
	if f.To != nil {
		add("c.time <= ?", *f.To)
	}
	if f.TypeID != nil {
		add("c.cashflow_type_id = ?", *f.TypeID)
	}
	if f.Status != "" {
		add("c.status = ?", f.Status)
	}
	if f.PersonType != "" {
		add("c.person_type = ?", f.PersonType)
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		add("(c.reference_number ILIKE ? OR c.related_person ILIKE ? OR c.note ILIKE ?)", "%"+kw+"%")
	}
	sql := `SELECT ` + cashflowColumns + cashflowFrom
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	sql += ` ORDER BY c.time DESC, c.id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ledger.Cashflow{}
	for rows.Next() {
		c, err := scanCashflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CashflowByReference looks an entry up by its reference number, e.g. TTKH000042.
func (r *Repository) CashflowByReference(ctx context.Context, ref string) (ledger.Cashflow, error) {
	c, err := scanCashflow(r.pool.QueryRow(ctx, `SELECT `+cashflowColumns+cashflowFrom+` WHERE c.reference_number = $1`,
		strings.ToUpper(strings.TrimSpace(ref))))
	if db.IsNotFound(err) {
		return c, ErrCashflowNotFound
	}
	return c, err
}

func (r *Repository) GetCashflow(ctx context.Context, id int64) (ledger.Cashflow, error) {
	return r.getCashflow(ctx, r.pool, id)
}

func (r *Repository) getCashflow(ctx context.Context, q querier, id int64) (ledger.Cashflow, error) {
	c, err := scanCashflow(q.QueryRow(ctx, `SELECT `+cashflowColumns+cashflowFrom+` WHERE c.id = $1`, id))
	if db.IsNotFound(err) {
		return c, ErrCashflowNotFound
	}
	return c, err
}

// resolveEntry checks the type direction and copies the related person's
// name and group onto the entry when one is linked.
func (r *Repository) resolveEntry(ctx context.Context, tx pgx.Tx, e *ledger.Entry) (ledger.CashflowType, error) {
	t, err := r.getType(ctx, tx, e.TypeID)
	if err != nil {
		return t, err
	}
	if t.IsPayment != e.IsPayment {
		return t, ErrTypeMismatch
	}
	if e.RelatedPersonID != nil {
		p, err := r.getPerson(ctx, tx, *e.RelatedPersonID)
		if err != nil {
			return t, err
		}
		e.RelatedPerson = p.Name
		e.PersonType = p.PersonType
	}
	return t, nil
}

func (r *Repository) CreateCashflow(ctx context.Context, actor httpx.Actor, e ledger.Entry) (ledger.Cashflow, error) {
	if err := e.Normalize(r.now()); err != nil {
		return ledger.Cashflow{}, err
	}
	var out ledger.Cashflow
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		t, err := r.resolveEntry(ctx, tx, &e)
		if err != nil {
			return err
		}
		out, err = r.insertCashflow(ctx, tx, actor, t, cashflowRow{
			time:      *e.Time,
			value:     ledger.SignedValue(e.IsPayment, e.Value),
			method:    e.PaymentMethod,
			status:    e.Status,
			person:    e.PersonType,
			name:      e.RelatedPerson,
			personID:  e.RelatedPersonID,
			relatedID: e.RelatedID,
			note:      e.Note,
			business:  e.AccountInBusinessResults,
		})
		return err
	})
	return out, err
}

type cashflowRow struct {
	time      time.Time
	value     decimal.Decimal
	method    string
	status    string
	person    string
	name      string
	personID  *int64
	relatedID string
	source    string
	note      string
	business  bool
}

func (r *Repository) insertCashflow(ctx context.Context, tx pgx.Tx, actor httpx.Actor, t ledger.CashflowType, in cashflowRow) (ledger.Cashflow, error) {
	var id int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO cashflows (time, is_payment, cashflow_type_id, value, payment_method, status, person_type,
			related_person, related_person_id, related_id, source, note, account_in_business_results, created_by)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, in.time, t.IsPayment, t.ID, in.value.String(), in.method, in.status, in.person,
		in.name, in.personID, in.relatedID, in.source, in.note, in.business, actor.Label()).Scan(&id); err != nil {
		return ledger.Cashflow{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE cashflows SET reference_number = $2 WHERE id = $1`,
		id, ledger.ReferenceNumber(t.Code, id)); err != nil {
		return ledger.Cashflow{}, err
	}
	out, err := r.getCashflow(ctx, tx, id)
	if err != nil {
		return out, err
	}
	return out, r.audit(ctx, tx, actor, "cashflows", id, audit.ActionCreate, nil, out)
}

// UpdateCashflow rewrites an entry under the same rules as creation. The
// reference number follows the (possibly new) type.
func (r *Repository) UpdateCashflow(ctx context.Context, actor httpx.Actor, id int64, e ledger.Entry) (ledger.Cashflow, error) {
	if err := e.Normalize(r.now()); err != nil {
		return ledger.Cashflow{}, err
	}
	var out ledger.Cashflow
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCashflow(ctx, tx, id)
		if err != nil {
			return err
		}
		t, err := r.resolveEntry(ctx, tx, &e)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE cashflows SET time = $2, is_payment = $3, cashflow_type_id = $4, value = $5::numeric,
				payment_method = $6, status = $7, person_type = $8, related_person = $9, related_person_id = $10,
				related_id = $11, note = $12, account_in_business_results = $13, reference_number = $14,
				updated_at = now()
			WHERE id = $1
		`, id, *e.Time, t.IsPayment, t.ID, ledger.SignedValue(e.IsPayment, e.Value).String(),
			e.PaymentMethod, e.Status, e.PersonType, e.RelatedPerson, e.RelatedPersonID,
			e.RelatedID, e.Note, e.AccountInBusinessResults, ledger.ReferenceNumber(t.Code, id)); err != nil {
			return err
		}
		if out, err = r.getCashflow(ctx, tx, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "cashflows", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// DeleteCashflow succeeds when the entry is already gone.
func (r *Repository) DeleteCashflow(ctx context.Context, actor httpx.Actor, id int64) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCashflow(ctx, tx, id)
		if errors.Is(err, ErrCashflowNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cashflows WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "cashflows", id, audit.ActionDelete, before, nil)
	})
}

// Summary totals completed and pending entries between from and to by type.
// Cancelled entries are left out.
func (r *Repository) Summary(ctx context.Context, from, to *time.Time) (ledger.Summary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.code, t.name, t.is_payment, count(*), sum(c.value)::text
		`+cashflowFrom+`
		WHERE c.status <> 'Cancelled'
		  AND ($1::timestamptz IS NULL OR c.time >= $1)
		  AND ($2::timestamptz IS NULL OR c.time <= $2)
		GROUP BY t.id, t.code, t.name, t.is_payment
		ORDER BY t.is_payment, t.code
	`, from, to)
	if err != nil {
		return ledger.Summary{}, err
	}
	defer rows.Close()
	var totals []ledger.TypeTotal
	for rows.Next() {
		var (
			tt  ledger.TypeTotal
			sum string
		)
		if err := rows.Scan(&tt.TypeID, &tt.Code, &tt.Name, &tt.IsPayment, &tt.Count, &sum); err != nil {
			return ledger.Summary{}, err
		}
		tt.Total = money.FromText(sum)
		totals = append(totals, tt)
	}
	if err := rows.Err(); err != nil {
		return ledger.Summary{}, err
	}
	s := ledger.Summarize(totals)
	s.From, s.To = from, to
	return s, nil
}

// Automatic is an entry written in reaction to another service's event.
type Automatic struct {
	TypeCode      string
	Amount        decimal.Decimal
	Time          time.Time
	Method        string
	PersonType    string
	RelatedPerson string
	RelatedID     string
	Source        string
	Note          string
}

// RecordAutomatic books a completed entry of the given built-in type inside
// the consumer's transaction. The amount's sign is taken from the type.
func (r *Repository) RecordAutomatic(ctx context.Context, tx pgx.Tx, a Automatic) (ledger.Cashflow, error) {
	t, err := r.typeByCode(ctx, tx, a.TypeCode)
	if err != nil {
		return ledger.Cashflow{}, err
	}
	at := a.Time
	if at.IsZero() {
		at = r.now()
	}
	return r.insertCashflow(ctx, tx, SystemActor, t, cashflowRow{
		time:      at,
		value:     ledger.SignedValue(t.IsPayment, a.Amount),
		method:    ledger.MethodFrom(a.Method),
		status:    ledger.StatusCompleted,
		person:    a.PersonType,
		name:      a.RelatedPerson,
		relatedID: a.RelatedID,
		source:    a.Source,
		note:      a.Note,
		business:  true,
	})
}
