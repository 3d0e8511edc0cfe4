package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Card is one line of a product's stock ledger.
type Card struct {
	Code           string          `json:"code"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Kind           string          `json:"kind"`
	ReferenceCode  string          `json:"reference_code"`
	QuantityChange int             `json:"quantity_change"`
	StockAfter     int             `json:"stock_after"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	Actor          string          `json:"actor"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CardFilter struct {
	ProductID string
	Kind      string
	From      *time.Time
	To        *time.Time
	Limit     int
}

func (r *Repository) ListCards(ctx context.Context, f CardFilter) ([]Card, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT c.code, c.product_id::text, p.name, c.kind, c.reference_code, c.quantity_change, c.stock_after,
			c.cost_price::text, c.actor, c.created_at
		FROM inventory_cards c JOIN products p ON p.id = c.product_id
		WHERE ($1 = '' OR c.product_id::text = $1)
		  AND ($2 = '' OR c.kind = $2)
		  AND ($3::timestamptz IS NULL OR c.created_at >= $3)
		  AND ($4::timestamptz IS NULL OR c.created_at < $4)
		ORDER BY c.id DESC
		LIMIT $5
	`, f.ProductID, f.Kind, f.From, f.To, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Card{}
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.Code, &c.ProductID, &c.ProductName, &c.Kind, &c.ReferenceCode, &c.QuantityChange,
			&c.StockAfter, &c.CostPrice, &c.Actor, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// stockRow is a product row locked for a stock movement.
type stockRow struct {
	ID        string
	Name      string
	Stock     int
	CostPrice decimal.Decimal
}

// lockStock locks the given products in id order so concurrent movements
// cannot deadlock.
func (r *Repository) lockStock(ctx context.Context, tx pgx.Tx, ids []string) (map[string]*stockRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, name, stock, cost_price::text FROM products
		WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*stockRow, len(ids))
	for rows.Next() {
		var s stockRow
		if err := rows.Scan(&s.ID, &s.Name, &s.Stock, &s.CostPrice); err != nil {
			return nil, err
		}
		out[s.ID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, ErrProductNotFound
		}
	}
	return out, nil
}

// move sets the product's stock and appends the matching ledger card.
func (r *Repository) move(ctx context.Context, tx pgx.Tx, seq *sequence, s *stockRow, next int, kind, ref, actor string) error {
	change := next - s.Stock
	if _, err := tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, s.ID, next); err != nil {
		return err
	}
	s.Stock = next
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_cards (code, product_id, kind, reference_code, quantity_change, stock_after, cost_price, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
	`, seq.take(), s.ID, kind, ref, change, next, s.CostPrice.String(), actor)
	return err
}

func (r *Repository) cardSequence(ctx context.Context, tx pgx.Tx) (*sequence, error) {
	return r.sequence(ctx, tx, "inventory_cards", "TC")
}
