package storage

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/jackc/pgx/v5"
)

type DocumentFilter struct {
	Kind       string
	Status     string
	SupplierID string
	Keyword    string
	From       *time.Time
	To         *time.Time
	Limit      int
}

const documentColumns = `
	d.id::text, d.kind, d.code, d.supplier_id::text, COALESCE(s.name, ''), d.status, d.total_amount::text,
	d.paid_amount::text, d.note, d.created_by, d.completed_at, d.created_at, d.updated_at
`

const documentFrom = ` FROM stock_documents d LEFT JOIN suppliers s ON s.id = d.supplier_id `

func scanDocument(row pgx.Row) (inventory.Document, error) {
	var d inventory.Document
	err := row.Scan(&d.ID, &d.Kind, &d.Code, &d.SupplierID, &d.SupplierName, &d.Status, &d.TotalAmount,
		&d.PaidAmount, &d.Note, &d.CreatedBy, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt)
	d.Lines = []inventory.Line{}
	return d, err
}

func (r *Repository) ListDocuments(ctx context.Context, f DocumentFilter) ([]inventory.Document, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+documentFrom+`
		WHERE d.kind = $1
		  AND ($2 = '' OR d.status = $2)
		  AND ($3 = '' OR d.supplier_id::text = $3)
		  AND ($4 = '' OR d.code ILIKE '%' || $4 || '%' OR s.name ILIKE '%' || $4 || '%')
		  AND ($5::timestamptz IS NULL OR d.created_at >= $5)
		  AND ($6::timestamptz IS NULL OR d.created_at < $6)
		ORDER BY d.created_at DESC
		LIMIT $7
	`, f.Kind, f.Status, f.SupplierID, f.Keyword, f.From, f.To, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []inventory.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) GetDocument(ctx context.Context, kind, id string) (inventory.Document, error) {
	return r.getDocument(ctx, r.pool, kind, id, false)
}

func (r *Repository) getDocument(ctx context.Context, q querier, kind, id string, lock bool) (inventory.Document, error) {
	sql := `SELECT ` + documentColumns + documentFrom + ` WHERE d.id = $1 AND d.kind = $2`
	if lock {
		sql += ` FOR UPDATE OF d`
	}
	d, err := scanDocument(q.QueryRow(ctx, sql, id, kind))
	if db.IsNotFound(err) {
		return inventory.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return inventory.Document{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT l.product_id::text, p.name, l.quantity, l.unit_price::text
		FROM stock_document_lines l JOIN products p ON p.id = l.product_id
		WHERE l.document_id = $1 ORDER BY l.id
	`, id)
	if err != nil {
		return inventory.Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l inventory.Line
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			return inventory.Document{}, err
		}
		d.Lines = append(d.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return inventory.Document{}, err
	}
	// Totals are stored; recomputing fills in the per-line ones.
	paid := d.PaidAmount
	if err := d.Normalize(); err == nil {
		d.PaidAmount = paid
	}
	return d, nil
}

// activeSupplier refuses documents against unknown or inactive suppliers.
func (r *Repository) activeSupplier(ctx context.Context, tx pgx.Tx, d inventory.Document) error {
	if d.SupplierID == nil {
		return nil
	}
	s, err := r.getSupplier(ctx, tx, *d.SupplierID, false)
	if err != nil {
		return err
	}
	if s.Status != SupplierActive {
		return apperr.Conflict("supplier %s is inactive", s.Name)
	}
	return nil
}

func (r *Repository) writeLines(ctx context.Context, tx pgx.Tx, id string, lines []inventory.Line) error {
	if _, err := tx.Exec(ctx, `DELETE FROM stock_document_lines WHERE document_id = $1`, id); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO stock_document_lines (document_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4::numeric)
		`, id, l.ProductID, l.Quantity, l.UnitPrice.String())
		if db.IsForeignKeyViolation(err) {
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateDocument stores d as a draft, or completes it straight away when
// complete is set.
func (r *Repository) CreateDocument(ctx context.Context, actor httpx.Actor, d inventory.Document, complete bool) (inventory.Document, error) {
	if d.Kind == inventory.KindStockOut {
		d.SupplierID = nil
	}
	if err := d.Normalize(); err != nil {
		return inventory.Document{}, err
	}
	var out inventory.Document
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.activeSupplier(ctx, tx, d); err != nil {
			return err
		}
		code, err := r.nextCode(ctx, tx, "stock_documents", inventory.CodePrefix(d.Kind))
		if err != nil {
			return err
		}
		var id string
		err = tx.QueryRow(ctx, `
			INSERT INTO stock_documents (kind, code, supplier_id, status, total_amount, paid_amount, note, created_by)
			VALUES ($1, $2, $3::uuid, $4, $5::numeric, $6::numeric, $7, $8)
			RETURNING id::text
		`, d.Kind, code, d.SupplierID, inventory.StatusDraft, d.TotalAmount.String(), d.PaidAmount.String(),
			d.Note, actor.Label()).Scan(&id)
		if err != nil {
			return err
		}
		if err := r.writeLines(ctx, tx, id, d.Lines); err != nil {
			return err
		}
		if complete {
			if err := r.completeDocument(ctx, tx, actor, d.Kind, id); err != nil {
				return err
			}
		}
		if out, err = r.getDocument(ctx, tx, d.Kind, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "stock_documents", id, audit.ActionCreate, nil, out)
	})
	return out, err
}

func (r *Repository) UpdateDocument(ctx context.Context, actor httpx.Actor, kind, id string, d inventory.Document) (inventory.Document, error) {
	d.Kind = kind
	if kind == inventory.KindStockOut {
		d.SupplierID = nil
	}
	if err := d.Normalize(); err != nil {
		return inventory.Document{}, err
	}
	var out inventory.Document
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getDocument(ctx, tx, kind, id, true)
		if err != nil {
			return err
		}
		if err := before.Editable(); err != nil {
			return err
		}
		if err := r.activeSupplier(ctx, tx, d); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents SET supplier_id = $2::uuid, total_amount = $3::numeric, paid_amount = $4::numeric,
				note = $5, updated_at = now()
			WHERE id = $1
		`, id, d.SupplierID, d.TotalAmount.String(), d.PaidAmount.String(), d.Note); err != nil {
			return err
		}
		if err := r.writeLines(ctx, tx, id, d.Lines); err != nil {
			return err
		}
		if out, err = r.getDocument(ctx, tx, kind, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "stock_documents", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) CompleteDocument(ctx context.Context, actor httpx.Actor, kind, id string) (inventory.Document, error) {
	var out inventory.Document
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getDocument(ctx, tx, kind, id, true)
		if err != nil {
			return err
		}
		if err := r.activeSupplier(ctx, tx, before); err != nil {
			return err
		}
		if err := r.completeDocument(ctx, tx, actor, kind, id); err != nil {
			return err
		}
		if out, err = r.getDocument(ctx, tx, kind, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "stock_documents", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) CancelDocument(ctx context.Context, actor httpx.Actor, kind, id string) (inventory.Document, error) {
	var out inventory.Document
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getDocument(ctx, tx, kind, id, true)
		if err != nil {
			return err
		}
		if err := before.Editable(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE stock_documents SET status = $2, updated_at = now() WHERE id = $1`,
			id, inventory.StatusCancelled); err != nil {
			return err
		}
		out = before
		out.Status = inventory.StatusCancelled
		return r.audit(ctx, tx, actor, "stock_documents", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// completeDocument moves stock for every line of a locked draft, writes the
// ledger and announces supplier settlements. A receipt also leaves behind a
// balanced inventory check recording the counts it produced.
func (r *Repository) completeDocument(ctx context.Context, tx pgx.Tx, actor httpx.Actor, kind, id string) error {
	d, err := r.getDocument(ctx, tx, kind, id, true)
	if err != nil {
		return err
	}
	if err := d.Editable(); err != nil {
		return err
	}
	ids := make([]string, len(d.Lines))
	for i, l := range d.Lines {
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
	dir := inventory.Direction(kind)
	var snapshot []inventory.CheckLine
	for _, l := range d.Lines {
		s := stock[l.ProductID]
		next, err := inventory.ApplyStock(s.Stock, l.Quantity, dir, s.Name)
		if err != nil {
			return err
		}
		if kind == inventory.KindReceipt {
			// The latest purchase price becomes the product cost.
			if _, err := tx.Exec(ctx, `UPDATE products SET cost_price = $2::numeric WHERE id = $1`, s.ID, l.UnitPrice.String()); err != nil {
				return err
			}
			s.CostPrice = l.UnitPrice
		}
		if err := r.move(ctx, tx, cards, s, next, inventory.CardKind(kind), d.Code, actor.Label()); err != nil {
			return err
		}
		snapshot = append(snapshot, inventory.CheckLine{ProductID: s.ID, SystemQuantity: next, ActualQuantity: next})
	}

	now := r.now()
	if _, err := tx.Exec(ctx, `
		UPDATE stock_documents SET status = $2, completed_at = $3, updated_at = now() WHERE id = $1
	`, id, inventory.StatusCompleted, now); err != nil {
		return err
	}

	payload := events.SupplierSettlementPayload{
		DocumentID:   d.ID,
		Code:         d.Code,
		SupplierName: d.SupplierName,
		TotalAmount:  d.TotalAmount,
		PaidAmount:   d.PaidAmount,
		CompletedAt:  now,
	}
	if d.SupplierID != nil {
		payload.SupplierID = *d.SupplierID
	}
	switch kind {
	case inventory.KindReceipt:
		if _, err := r.insertCheck(ctx, tx, actor, inventory.StatusCompleted, "Auto-generated from receipt "+d.Code, snapshot, &now); err != nil {
			return err
		}
		return outbox.EnqueueJSON(ctx, tx, "stock_document", d.ID, events.ReceiptCompleted, payload)
	case inventory.KindReturn:
		return outbox.EnqueueJSON(ctx, tx, "stock_document", d.ID, events.ReturnCompleted, payload)
	}
	return nil
}
