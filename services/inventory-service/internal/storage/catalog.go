package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text, name, description, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CreateCategory(ctx context.Context, actor httpx.Actor, name, description string) (Category, error) {
	c := Category{Name: name, Description: description}
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO categories (name, description) VALUES ($1, $2) RETURNING id::text, created_at
		`, name, description).Scan(&c.ID, &c.CreatedAt)
		if db.IsUniqueViolation(err) {
			return ErrCategoryNameTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "categories", c.ID, audit.ActionCreate, nil, c)
	})
	return c, err
}

func (r *Repository) UpdateCategory(ctx context.Context, actor httpx.Actor, id, name, description string) (Category, error) {
	var c Category
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var before Category
		err := tx.QueryRow(ctx, `SELECT id::text, name, description, created_at FROM categories WHERE id = $1 FOR UPDATE`, id).
			Scan(&before.ID, &before.Name, &before.Description, &before.CreatedAt)
		if db.IsNotFound(err) {
			return ErrCategoryNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE categories SET name = $2, description = $3, updated_at = now() WHERE id = $1`, id, name, description)
		if db.IsUniqueViolation(err) {
			return ErrCategoryNameTaken
		}
		if err != nil {
			return err
		}
		c = before
		c.Name, c.Description = name, description
		return r.audit(ctx, tx, actor, "categories", id, audit.ActionUpdate, before, c)
	})
	return c, err
}

// DeleteCategory detaches its products before removing it.
func (r *Repository) DeleteCategory(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var before Category
		err := tx.QueryRow(ctx, `DELETE FROM categories WHERE id = $1 RETURNING id::text, name, description, created_at`, id).
			Scan(&before.ID, &before.Name, &before.Description, &before.CreatedAt)
		if db.IsNotFound(err) {
			return ErrCategoryNotFound
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "categories", id, audit.ActionDelete, before, nil)
	})
}

type Product struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	CategoryID     *string          `json:"category_id,omitempty"`
	CategoryName   string           `json:"category_name,omitempty"`
	Unit           string           `json:"unit"`
	CostPrice      decimal.Decimal  `json:"cost_price"`
	SalePrice      decimal.Decimal  `json:"sale_price"`
	EffectivePrice *decimal.Decimal `json:"effective_price,omitempty"`
	Stock          int              `json:"stock"`
	MinStock       int              `json:"min_stock"`
	IsActive       bool             `json:"is_active"`
	Description    string           `json:"description"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (p Product) LowStock() bool { return p.Stock <= p.MinStock }

// ProductInput is what callers may set on a product. Stock only moves
// through documents.
type ProductInput struct {
	Code        string
	Name        string
	CategoryID  *string
	Unit        string
	CostPrice   decimal.Decimal
	SalePrice   decimal.Decimal
	MinStock    int
	IsActive    bool
	Description string
}

func (in ProductInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if in.CostPrice.IsNegative() || in.SalePrice.IsNegative() {
		return apperr.Invalid("prices must not be negative")
	}
	if in.MinStock < 0 {
		return apperr.Invalid("min_stock must not be negative")
	}
	return nil
}

type ProductFilter struct {
	Keyword    string
	CategoryID string
	IsActive   *bool
	LowStock   bool
	Limit      int
}

const productColumns = `
	p.id::text, p.code, p.name, p.category_id::text, COALESCE(c.name, ''), p.unit, p.cost_price::text,
	p.sale_price::text, pp.price::text, p.stock, p.min_stock, p.is_active, p.description, p.created_at, p.updated_at
`

const productFrom = `
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id
	LEFT JOIN published_prices pp ON pp.product_id = p.id
`

func scanProduct(row pgx.Row, p *Product) error {
	var effective *string
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID, &p.CategoryName, &p.Unit, &p.CostPrice,
		&p.SalePrice, &effective, &p.Stock, &p.MinStock, &p.IsActive, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return err
	}
	if effective != nil {
		d, err := decimal.NewFromString(*effective)
		if err != nil {
			return fmt.Errorf("effective price %q: %w", *effective, err)
		}
		p.EffectivePrice = &d
	}
	return nil
}

func (r *Repository) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+productColumns+productFrom+`
		WHERE ($1 = '' OR p.code ILIKE '%' || $1 || '%' OR p.name ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR p.category_id::text = $2)
		  AND ($3::boolean IS NULL OR p.is_active = $3)
		  AND (NOT $4 OR p.stock <= p.min_stock)
		ORDER BY p.name
		LIMIT $5
	`, f.Keyword, f.CategoryID, f.IsActive, f.LowStock, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Product{}
	for rows.Next() {
		var p Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) getProduct(ctx context.Context, q querier, id string, lock bool) (Product, error) {
	sql := `SELECT ` + productColumns + productFrom + ` WHERE p.id = $1`
	if lock {
		sql += ` FOR UPDATE OF p`
	}
	var p Product
	err := scanProduct(q.QueryRow(ctx, sql, id), &p)
	if db.IsNotFound(err) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *Repository) GetProduct(ctx context.Context, id string) (Product, error) {
	return r.getProduct(ctx, r.pool, id, false)
}

func (r *Repository) CreateProduct(ctx context.Context, actor httpx.Actor, in ProductInput) (Product, error) {
	var out Product
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		code := strings.TrimSpace(in.Code)
		if code == "" {
			var err error
			if code, err = r.nextCode(ctx, tx, "products", "SP"); err != nil {
				return err
			}
		}
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO products (code, name, category_id, unit, cost_price, sale_price, min_stock, is_active, description)
			VALUES ($1, $2, $3::uuid, $4, $5::numeric, $6::numeric, $7, $8, $9)
			RETURNING id::text
		`, code, strings.TrimSpace(in.Name), in.CategoryID, in.Unit, in.CostPrice.String(), in.SalePrice.String(),
			in.MinStock, in.IsActive, in.Description).Scan(&id)
		switch {
		case db.IsUniqueViolation(err):
			return ErrProductCodeTaken
		case db.IsForeignKeyViolation(err):
			return ErrCategoryNotFound
		case err != nil:
			return err
		}
		if _, err := r.republish(ctx, tx, r.now(), id); err != nil {
			return err
		}
		if out, err = r.getProduct(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "products", id, audit.ActionCreate, nil, out)
	})
	return out, err
}

func (r *Repository) UpdateProduct(ctx context.Context, actor httpx.Actor, id string, in ProductInput) (Product, error) {
	var out Product
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getProduct(ctx, tx, id, true)
		if err != nil {
			return err
		}
		code := strings.TrimSpace(in.Code)
		if code == "" {
			code = before.Code
		}
		_, err = tx.Exec(ctx, `
			UPDATE products SET code = $2, name = $3, category_id = $4::uuid, unit = $5, cost_price = $6::numeric,
				sale_price = $7::numeric, min_stock = $8, is_active = $9, description = $10, updated_at = now()
			WHERE id = $1
		`, id, code, strings.TrimSpace(in.Name), in.CategoryID, in.Unit, in.CostPrice.String(), in.SalePrice.String(),
			in.MinStock, in.IsActive, in.Description)
		switch {
		case db.IsUniqueViolation(err):
			return ErrProductCodeTaken
		case db.IsForeignKeyViolation(err):
			return ErrCategoryNotFound
		case err != nil:
			return err
		}
		if _, err := r.republish(ctx, tx, r.now(), id); err != nil {
			return err
		}
		if out, err = r.getProduct(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "products", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// DeleteProduct removes a product that never moved stock.
func (r *Repository) DeleteProduct(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getProduct(ctx, tx, id, true)
		if err != nil {
			return err
		}
		var used bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM inventory_cards WHERE product_id = $1)
				OR EXISTS (SELECT 1 FROM stock_document_lines WHERE product_id = $1)
				OR EXISTS (SELECT 1 FROM inventory_check_lines WHERE product_id = $1)
		`, id).Scan(&used); err != nil {
			return err
		}
		if used {
			return ErrProductInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
			return err
		}
		// Consumers drop the product from sale when it turns inactive.
		gone := before
		gone.IsActive = false
		if err := enqueuePrice(ctx, tx, gone, before.SalePrice); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "products", id, audit.ActionDelete, before, nil)
	})
}

func enqueuePrice(ctx context.Context, tx pgx.Tx, p Product, price decimal.Decimal) error {
	return outbox.EnqueueJSON(ctx, tx, "product", p.ID, events.ProductPriceChanged, events.ProductPricePayload{
		ProductID: p.ID,
		Code:      p.Code,
		Name:      p.Name,
		UnitPrice: price,
		IsActive:  p.IsActive,
	})
}

// republish recomputes effective prices at instant at and announces the
// ones that moved since they were last published. With no ids every product
// is considered.
func (r *Repository) republish(ctx context.Context, tx pgx.Tx, at time.Time, ids ...string) (int, error) {
	tables, err := r.activeTables(ctx, tx)
	if err != nil {
		return 0, err
	}
	rows, err := tx.Query(ctx, `
		SELECT `+productColumns+productFrom+`
		WHERE (cardinality($1::uuid[]) = 0 OR p.id = ANY($1::uuid[]))
		ORDER BY p.id
		FOR UPDATE OF p
	`, ids)
	if err != nil {
		return 0, err
	}
	type change struct {
		product Product
		price   decimal.Decimal
		known   bool
		active  bool
	}
	var changes []change
	for rows.Next() {
		var p Product
		if err := scanProduct(rows, &p); err != nil {
			rows.Close()
			return 0, err
		}
		changes = append(changes, change{product: p, price: inventory.EffectivePrice(p.ID, p.SalePrice, tables, at)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	published, err := r.publishedState(ctx, tx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range changes {
		last, ok := published[c.product.ID]
		if ok && last.price.Equal(c.price) && last.active == c.product.IsActive {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO published_prices (product_id, price, is_active, published_at)
			VALUES ($1, $2::numeric, $3, now())
			ON CONFLICT (product_id) DO UPDATE
			SET price = EXCLUDED.price, is_active = EXCLUDED.is_active, published_at = now()
		`, c.product.ID, c.price.String(), c.product.IsActive); err != nil {
			return n, err
		}
		if err := enqueuePrice(ctx, tx, c.product, c.price); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type publishedPrice struct {
	price  decimal.Decimal
	active bool
}

func (r *Repository) publishedState(ctx context.Context, tx pgx.Tx) (map[string]publishedPrice, error) {
	rows, err := tx.Query(ctx, `SELECT product_id::text, price::text, is_active FROM published_prices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]publishedPrice{}
	for rows.Next() {
		var id string
		var p publishedPrice
		if err := rows.Scan(&id, &p.price, &p.active); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, rows.Err()
}

// RefreshPrices re-evaluates every product's effective price at at.
func (r *Repository) RefreshPrices(ctx context.Context, at time.Time) (int, error) {
	var n int
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "inventory:prices"); err != nil {
			return err
		}
		var err error
		n, err = r.republish(ctx, tx, at)
		return err
	})
	return n, err
}
