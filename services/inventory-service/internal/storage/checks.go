package storage

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/jackc/pgx/v5"
)

// CheckView is a check with the differences it found.
type CheckView struct {
	inventory.Check
	Totals inventory.CheckTotals `json:"totals"`
}

type CheckFilter struct {
	Status  string
	Keyword string
	From    *time.Time
	To      *time.Time
	Limit   int
}

const checkColumns = `id::text, code, status, note, created_by, balanced_at, created_at, updated_at`

func scanCheck(row pgx.Row) (inventory.Check, error) {
	var c inventory.Check
	err := row.Scan(&c.ID, &c.Code, &c.Status, &c.Note, &c.CreatedBy, &c.BalancedAt, &c.CreatedAt, &c.UpdatedAt)
	c.Lines = []inventory.CheckLine{}
	return c, err
}

func (r *Repository) loadChecks(ctx context.Context, q querier, where string, args ...any) ([]inventory.Check, error) {
	rows, err := q.Query(ctx, `SELECT `+checkColumns+` FROM inventory_checks `+where, args...)
	if err != nil {
		return nil, err
	}
	checks := []inventory.Check{}
	index := map[string]int{}
	var ids []string
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[c.ID] = len(checks)
		ids = append(ids, c.ID)
		checks = append(checks, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil || len(ids) == 0 {
		return checks, err
	}

	rows, err = q.Query(ctx, `
		SELECT l.check_id::text, l.product_id::text, p.name, l.system_quantity, l.actual_quantity
		FROM inventory_check_lines l JOIN products p ON p.id = l.product_id
		WHERE l.check_id = ANY($1::uuid[]) ORDER BY l.id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var l inventory.CheckLine
		if err := rows.Scan(&id, &l.ProductID, &l.ProductName, &l.SystemQuantity, &l.ActualQuantity); err != nil {
			return nil, err
		}
		c := &checks[index[id]]
		c.Lines = append(c.Lines, l)
	}
	return checks, rows.Err()
}

func (r *Repository) ListChecks(ctx context.Context, f CheckFilter) ([]CheckView, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	checks, err := r.loadChecks(ctx, r.pool, `
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR code ILIKE '%' || $2 || '%' OR note ILIKE '%' || $2 || '%')
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC
		LIMIT $5
	`, f.Status, f.Keyword, f.From, f.To, f.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]CheckView, len(checks))
	for i, c := range checks {
		out[i] = CheckView{Check: c, Totals: c.Totals()}
	}
	return out, nil
}

func (r *Repository) GetCheck(ctx context.Context, id string) (CheckView, error) {
	c, err := r.getCheck(ctx, r.pool, id, false)
	if err != nil {
		return CheckView{}, err
	}
	return CheckView{Check: c, Totals: c.Totals()}, nil
}

func (r *Repository) getCheck(ctx context.Context, q querier, id string, lock bool) (inventory.Check, error) {
	where := `WHERE id = $1`
	if lock {
		where += ` FOR UPDATE`
	}
	checks, err := r.loadChecks(ctx, q, where, id)
	if err != nil {
		return inventory.Check{}, err
	}
	if len(checks) == 0 {
		return inventory.Check{}, ErrCheckNotFound
	}
	return checks[0], nil
}

// snapshot fills in the current stock of each product as its system
// quantity.
func (r *Repository) snapshot(ctx context.Context, tx pgx.Tx, lines []inventory.CheckLine) error {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	stock, err := r.lockStock(ctx, tx, ids)
	if err != nil {
		return err
	}
	for i := range lines {
		lines[i].SystemQuantity = stock[lines[i].ProductID].Stock
	}
	return nil
}

func (r *Repository) writeCheckLines(ctx context.Context, tx pgx.Tx, id string, lines []inventory.CheckLine) error {
	if _, err := tx.Exec(ctx, `DELETE FROM inventory_check_lines WHERE check_id = $1`, id); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO inventory_check_lines (check_id, product_id, system_quantity, actual_quantity) VALUES ($1, $2, $3, $4)
		`, id, l.ProductID, l.SystemQuantity, l.ActualQuantity)
		if db.IsForeignKeyViolation(err) {
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) insertCheck(ctx context.Context, tx pgx.Tx, actor httpx.Actor, status, note string, lines []inventory.CheckLine, balancedAt *time.Time) (string, error) {
	code, err := r.nextCode(ctx, tx, "inventory_checks", "KK")
	if err != nil {
		return "", err
	}
	var id string
	if err := tx.QueryRow(ctx, `
		INSERT INTO inventory_checks (code, status, note, created_by, balanced_at) VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text
	`, code, status, note, actor.Label(), balancedAt).Scan(&id); err != nil {
		return "", err
	}
	return id, r.writeCheckLines(ctx, tx, id, lines)
}

// CreateCheck snapshots current stock for the counted products and stores
// the count as a draft, balancing it immediately when complete is set.
func (r *Repository) CreateCheck(ctx context.Context, actor httpx.Actor, note string, lines []inventory.CheckLine, complete bool) (CheckView, error) {
	if err := inventory.ValidateCheckLines(lines); err != nil {
		return CheckView{}, err
	}
	var out inventory.Check
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.snapshot(ctx, tx, lines); err != nil {
			return err
		}
		id, err := r.insertCheck(ctx, tx, actor, inventory.StatusDraft, note, lines, nil)
		if err != nil {
			return err
		}
		if complete {
			if err := r.balance(ctx, tx, actor, id); err != nil {
				return err
			}
		}
		if out, err = r.getCheck(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "inventory_checks", id, audit.ActionCreate, nil, out)
	})
	return CheckView{Check: out, Totals: out.Totals()}, err
}

func (r *Repository) UpdateCheck(ctx context.Context, actor httpx.Actor, id, note string, lines []inventory.CheckLine) (CheckView, error) {
	if err := inventory.ValidateCheckLines(lines); err != nil {
		return CheckView{}, err
	}
	var out inventory.Check
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.draftCheck(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.snapshot(ctx, tx, lines); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE inventory_checks SET note = $2, updated_at = now() WHERE id = $1`, id, note); err != nil {
			return err
		}
		if err := r.writeCheckLines(ctx, tx, id, lines); err != nil {
			return err
		}
		if out, err = r.getCheck(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "inventory_checks", id, audit.ActionUpdate, before, out)
	})
	return CheckView{Check: out, Totals: out.Totals()}, err
}

func (r *Repository) draftCheck(ctx context.Context, tx pgx.Tx, id string) (inventory.Check, error) {
	c, err := r.getCheck(ctx, tx, id, true)
	if err != nil {
		return inventory.Check{}, err
	}
	if c.Status != inventory.StatusDraft {
		return inventory.Check{}, apperr.Conflict("%s is %s", c.Code, c.Status)
	}
	return c, nil
}

func (r *Repository) CompleteCheck(ctx context.Context, actor httpx.Actor, id string) (CheckView, error) {
	var out inventory.Check
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCheck(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := r.balance(ctx, tx, actor, id); err != nil {
			return err
		}
		if out, err = r.getCheck(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "inventory_checks", id, audit.ActionUpdate, before, out)
	})
	return CheckView{Check: out, Totals: out.Totals()}, err
}

// balance sets each counted product's stock to the counted quantity. Cards
// record the movement against the stock at completion time, which may have
// moved since the snapshot.
func (r *Repository) balance(ctx context.Context, tx pgx.Tx, actor httpx.Actor, id string) error {
	c, err := r.draftCheck(ctx, tx, id)
	if err != nil {
		return err
	}
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	stock, err := r.lockStock(ctx, tx, ids)
	if err != nil {
		return err
	}
	cards, err := r.cardSequence(ctx, tx)
	if err != nil {
		return err
	}
	for _, l := range c.Lines {
		s := stock[l.ProductID]
		if s.Stock == l.ActualQuantity {
			continue
		}
		if err := r.move(ctx, tx, cards, s, l.ActualQuantity, inventory.CardCheck, c.Code, actor.Label()); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `
		UPDATE inventory_checks SET status = $2, balanced_at = $3, updated_at = now() WHERE id = $1
	`, id, inventory.StatusCompleted, r.now())
	return err
}

func (r *Repository) CancelCheck(ctx context.Context, actor httpx.Actor, id string) (CheckView, error) {
	var out inventory.Check
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = r.cancelCheck(ctx, tx, actor, id)
		return err
	})
	return CheckView{Check: out, Totals: out.Totals()}, err
}

func (r *Repository) cancelCheck(ctx context.Context, tx pgx.Tx, actor httpx.Actor, id string) (inventory.Check, error) {
	before, err := r.draftCheck(ctx, tx, id)
	if err != nil {
		return inventory.Check{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE inventory_checks SET status = $2, updated_at = now() WHERE id = $1`,
		id, inventory.StatusCancelled); err != nil {
		return inventory.Check{}, err
	}
	out := before
	out.Status = inventory.StatusCancelled
	return out, r.audit(ctx, tx, actor, "inventory_checks", id, audit.ActionUpdate, before, out)
}

// CancelChecks cancels every listed draft or none of them.
func (r *Repository) CancelChecks(ctx context.Context, actor httpx.Actor, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, apperr.Invalid("ids are required")
	}
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, id := range ids {
			if _, err := r.cancelCheck(ctx, tx, actor, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// MergeChecks folds several drafts into a new draft, summing the counted
// quantities per product, and cancels the sources.
func (r *Repository) MergeChecks(ctx context.Context, actor httpx.Actor, ids []string, note string) (CheckView, error) {
	if len(ids) < 2 {
		return CheckView{}, apperr.Invalid("at least two checks are required to merge")
	}
	var out inventory.Check
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		sources := make([]inventory.Check, 0, len(ids))
		for _, id := range ids {
			c, err := r.draftCheck(ctx, tx, id)
			if err != nil {
				return err
			}
			sources = append(sources, c)
		}
		lines := inventory.MergeLines(sources)
		if err := r.snapshot(ctx, tx, lines); err != nil {
			return err
		}
		if note == "" {
			note = "Merged from"
			for _, c := range sources {
				note += " " + c.Code
			}
		}
		id, err := r.insertCheck(ctx, tx, actor, inventory.StatusDraft, note, lines, nil)
		if err != nil {
			return err
		}
		for _, c := range sources {
			if _, err := r.cancelCheck(ctx, tx, actor, c.ID); err != nil {
				return err
			}
		}
		if out, err = r.getCheck(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "inventory_checks", id, audit.ActionCreate, nil, out)
	})
	return CheckView{Check: out, Totals: out.Totals()}, err
}
