package storage

import (
	"context"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/jackc/pgx/v5"
)

const priceTableColumns = `id::text, name, effective_from, effective_to, is_active, created_at, updated_at`

func scanPriceTable(row pgx.Row) (inventory.PriceTable, error) {
	var t inventory.PriceTable
	err := row.Scan(&t.ID, &t.Name, &t.EffectiveFrom, &t.EffectiveTo, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	t.TimeRanges = []inventory.TimeRange{}
	return t, err
}

// loadTables returns tables matching where, newest first, with ranges and
// products attached.
func (r *Repository) loadTables(ctx context.Context, q querier, where string, args ...any) ([]inventory.PriceTable, error) {
	rows, err := q.Query(ctx, `SELECT `+priceTableColumns+` FROM price_tables `+where+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	tables := []inventory.PriceTable{}
	index := map[string]int{}
	var ids []string
	for rows.Next() {
		t, err := scanPriceTable(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(tables)
		ids = append(ids, t.ID)
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return tables, nil
	}

	rows, err = q.Query(ctx, `
		SELECT price_table_id::text, start_time, end_time FROM price_table_time_ranges
		WHERE price_table_id = ANY($1::uuid[]) ORDER BY start_time
	`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id string
		var tr inventory.TimeRange
		if err := rows.Scan(&id, &tr.Start, &tr.End); err != nil {
			rows.Close()
			return nil, err
		}
		t := &tables[index[id]]
		t.TimeRanges = append(t.TimeRanges, tr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT tp.price_table_id::text, tp.product_id::text, p.name, tp.price::text
		FROM price_table_products tp JOIN products p ON p.id = tp.product_id
		WHERE tp.price_table_id = ANY($1::uuid[]) ORDER BY p.name
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var p inventory.TablePrice
		if err := rows.Scan(&id, &p.ProductID, &p.ProductName, &p.Price); err != nil {
			return nil, err
		}
		t := &tables[index[id]]
		t.Products = append(t.Products, p)
	}
	return tables, rows.Err()
}

// activeTables are in precedence order: the most recently created wins.
func (r *Repository) activeTables(ctx context.Context, q querier) ([]inventory.PriceTable, error) {
	return r.loadTables(ctx, q, `WHERE is_active`)
}

func (r *Repository) ListPriceTables(ctx context.Context) ([]inventory.PriceTable, error) {
	return r.loadTables(ctx, r.pool, ``)
}

func (r *Repository) GetPriceTable(ctx context.Context, id string) (inventory.PriceTable, error) {
	return r.getPriceTable(ctx, r.pool, id)
}

func (r *Repository) getPriceTable(ctx context.Context, q querier, id string) (inventory.PriceTable, error) {
	tables, err := r.loadTables(ctx, q, `WHERE id = $1`, id)
	if err != nil {
		return inventory.PriceTable{}, err
	}
	if len(tables) == 0 {
		return inventory.PriceTable{}, ErrPriceTableNotFound
	}
	return tables[0], nil
}

// checkOverlap refuses t when it is active and another active table covers
// part of the same effective range.
func (r *Repository) checkOverlap(ctx context.Context, tx pgx.Tx, t inventory.PriceTable) error {
	if !t.IsActive {
		return nil
	}
	// Activation is serialised so two concurrent requests cannot both pass.
	if err := db.AdvisoryXactLock(ctx, tx, "inventory:price_tables"); err != nil {
		return err
	}
	active, err := r.activeTables(ctx, tx)
	if err != nil {
		return err
	}
	if o, ok := inventory.FindOverlap(t, active); ok {
		return apperr.Conflict("price table overlaps active table %q", o.Name)
	}
	return nil
}

func (r *Repository) writeRanges(ctx context.Context, tx pgx.Tx, id string, ranges []inventory.TimeRange) error {
	if _, err := tx.Exec(ctx, `DELETE FROM price_table_time_ranges WHERE price_table_id = $1`, id); err != nil {
		return err
	}
	for _, tr := range ranges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO price_table_time_ranges (price_table_id, start_time, end_time) VALUES ($1, $2::time, $3::time)
		`, id, tr.Start.String(), tr.End.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) writeProducts(ctx context.Context, tx pgx.Tx, id string, products []inventory.TablePrice) error {
	if _, err := tx.Exec(ctx, `DELETE FROM price_table_products WHERE price_table_id = $1`, id); err != nil {
		return err
	}
	for _, p := range products {
		_, err := tx.Exec(ctx, `
			INSERT INTO price_table_products (price_table_id, product_id, price) VALUES ($1, $2, $3::numeric)
		`, id, p.ProductID, p.Price.String())
		if db.IsForeignKeyViolation(err) {
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) CreatePriceTable(ctx context.Context, actor httpx.Actor, t inventory.PriceTable) (inventory.PriceTable, error) {
	t.Name = strings.TrimSpace(t.Name)
	if err := t.Validate(); err != nil {
		return inventory.PriceTable{}, err
	}
	var out inventory.PriceTable
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.checkOverlap(ctx, tx, t); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO price_tables (name, effective_from, effective_to, is_active)
			VALUES ($1, $2, $3, $4) RETURNING id::text
		`, t.Name, t.EffectiveFrom, t.EffectiveTo, t.IsActive).Scan(&t.ID); err != nil {
			return err
		}
		if err := r.writeRanges(ctx, tx, t.ID, t.TimeRanges); err != nil {
			return err
		}
		if err := r.writeProducts(ctx, tx, t.ID, t.Products); err != nil {
			return err
		}
		return r.afterTableChange(ctx, tx, actor, t.ID, audit.ActionCreate, nil, &out)
	})
	return out, err
}

// UpdatePriceTable replaces the header and time ranges. Products are kept
// unless t lists some.
func (r *Repository) UpdatePriceTable(ctx context.Context, actor httpx.Actor, id string, t inventory.PriceTable) (inventory.PriceTable, error) {
	t.ID = id
	t.Name = strings.TrimSpace(t.Name)
	if err := t.Validate(); err != nil {
		return inventory.PriceTable{}, err
	}
	var out inventory.PriceTable
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.lockPriceTable(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.checkOverlap(ctx, tx, t); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE price_tables SET name = $2, effective_from = $3, effective_to = $4, is_active = $5, updated_at = now()
			WHERE id = $1
		`, id, t.Name, t.EffectiveFrom, t.EffectiveTo, t.IsActive); err != nil {
			return err
		}
		if err := r.writeRanges(ctx, tx, id, t.TimeRanges); err != nil {
			return err
		}
		if t.Products != nil {
			if err := r.writeProducts(ctx, tx, id, t.Products); err != nil {
				return err
			}
		}
		return r.afterTableChange(ctx, tx, actor, id, audit.ActionUpdate, before, &out)
	})
	return out, err
}

func (r *Repository) SetPriceTableProducts(ctx context.Context, actor httpx.Actor, id string, products []inventory.TablePrice) (inventory.PriceTable, error) {
	var out inventory.PriceTable
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.lockPriceTable(ctx, tx, id)
		if err != nil {
			return err
		}
		check := before
		check.Products = products
		if err := check.Validate(); err != nil {
			return err
		}
		if err := r.writeProducts(ctx, tx, id, products); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE price_tables SET updated_at = now() WHERE id = $1`, id); err != nil {
			return err
		}
		return r.afterTableChange(ctx, tx, actor, id, audit.ActionUpdate, before, &out)
	})
	return out, err
}

func (r *Repository) PriceTableProducts(ctx context.Context, id string) ([]inventory.TablePrice, error) {
	t, err := r.GetPriceTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Products == nil {
		return []inventory.TablePrice{}, nil
	}
	return t.Products, nil
}

func (r *Repository) SetPriceTableStatus(ctx context.Context, actor httpx.Actor, id string, active bool) (inventory.PriceTable, error) {
	var out inventory.PriceTable
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.lockPriceTable(ctx, tx, id)
		if err != nil {
			return err
		}
		next := before
		next.IsActive = active
		if err := r.checkOverlap(ctx, tx, next); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE price_tables SET is_active = $2, updated_at = now() WHERE id = $1`, id, active); err != nil {
			return err
		}
		return r.afterTableChange(ctx, tx, actor, id, audit.ActionUpdate, before, &out)
	})
	return out, err
}

func (r *Repository) DeletePriceTable(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.lockPriceTable(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM price_tables WHERE id = $1`, id); err != nil {
			return err
		}
		if _, err := r.republish(ctx, tx, r.now()); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "price_tables", id, audit.ActionDelete, before, nil)
	})
}

func (r *Repository) lockPriceTable(ctx context.Context, tx pgx.Tx, id string) (inventory.PriceTable, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM price_tables WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
		if db.IsNotFound(err) {
			return inventory.PriceTable{}, ErrPriceTableNotFound
		}
		return inventory.PriceTable{}, err
	}
	return r.getPriceTable(ctx, tx, id)
}

// afterTableChange reloads the table into out, republishes prices that the
// change moved and records the audit entry.
func (r *Repository) afterTableChange(ctx context.Context, tx pgx.Tx, actor httpx.Actor, id, action string, before any, out *inventory.PriceTable) error {
	t, err := r.getPriceTable(ctx, tx, id)
	if err != nil {
		return err
	}
	*out = t
	if _, err := r.republish(ctx, tx, r.now()); err != nil {
		return err
	}
	return r.audit(ctx, tx, actor, "price_tables", id, action, before, t)
}

// PricesAt returns the effective price of every active product at at. It is
// what the shop would charge; booking-service keeps its own copy.
func (r *Repository) PricesAt(ctx context.Context, at time.Time) (map[string]inventory.TablePrice, error) {
	tables, err := r.activeTables(ctx, r.pool)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id::text, name, sale_price::text FROM products WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]inventory.TablePrice{}
	for rows.Next() {
		var p inventory.TablePrice
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.Price); err != nil {
			return nil, err
		}
		p.Price = inventory.EffectivePrice(p.ProductID, p.Price, tables, at)
		out[p.ProductID] = p
	}
	return out, rows.Err()
}
