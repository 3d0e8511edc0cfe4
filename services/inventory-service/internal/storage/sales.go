package storage

import (
	"context"
	"sort"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/jackc/pgx/v5"
)

// Shortfall is stock a sale needed but the shelf did not have.
type Shortfall struct {
	ProductID string
	Name      string
	Missing   int
}

// SaleResult tells the caller what a paid order did to stock.
type SaleResult struct {
	Duplicate  bool
	Moved      int
	Unknown    []string
	Shortfalls []Shortfall
}

// RecordSale takes the items of a paid order off the shelf. Stock is clamped
// at zero; the uncovered quantity is reported rather than refused because
// the goods have already been handed over.
func (r *Repository) RecordSale(ctx context.Context, tx pgx.Tx, orderID string, items []events.OrderItem) (SaleResult, error) {
	var res SaleResult
	tag, err := tx.Exec(ctx, `INSERT INTO sold_orders (order_id) VALUES ($1) ON CONFLICT DO NOTHING`, orderID)
	if err != nil {
		return res, err
	}
	if tag.RowsAffected() == 0 {
		res.Duplicate = true
		return res, nil
	}

	qty := map[string]int{}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			continue
		}
		qty[it.ProductID] += it.Quantity
	}
	if len(qty) == 0 {
		return res, nil
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	known, err := r.knownProducts(ctx, tx, ids)
	if err != nil {
		return res, err
	}
	var present []string
	for _, id := range ids {
		if known[id] {
			present = append(present, id)
		} else {
			res.Unknown = append(res.Unknown, id)
		}
	}
	if len(present) == 0 {
		return res, nil
	}
	stock, err := r.lockStock(ctx, tx, present)
	if err != nil {
		return res, err
	}
	cards, err := r.cardSequence(ctx, tx)
	if err != nil {
		return res, err
	}
	for _, id := range present {
		s := stock[id]
		next, short := inventory.SaleStock(s.Stock, qty[id])
		if short > 0 {
			res.Shortfalls = append(res.Shortfalls, Shortfall{ProductID: id, Name: s.Name, Missing: short})
		}
		if next == s.Stock {
			continue
		}
		if err := r.move(ctx, tx, cards, s, next, inventory.CardSale, orderID, SystemActor.Label()); err != nil {
			return res, err
		}
		res.Moved++
	}
	return res, nil
}

func (r *Repository) knownProducts(ctx context.Context, tx pgx.Tx, ids []string) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT id::text FROM products WHERE id::text = ANY($1::text[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
