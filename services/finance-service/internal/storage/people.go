package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/jackc/pgx/v5"
)

const personColumns = `id, name, person_type, phone, email, address, company, note, is_active, created_at, updated_at`

func scanPerson(row pgx.Row) (ledger.RelatedPerson, error) {
	var p ledger.RelatedPerson
	err := row.Scan(&p.ID, &p.Name, &p.PersonType, &p.Phone, &p.Email, &p.Address, &p.Company, &p.Note,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type PersonFilter struct {
	Keyword    string
	PersonType string
	IsActive   *bool
}

func (r *Repository) ListPeople(ctx context.Context, f PersonFilter) ([]ledger.RelatedPerson, error) {
	kw := strings.TrimSpace(f.Keyword)
	rows, err := r.pool.Query(ctx, `
		SELECT `+personColumns+` FROM related_people
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%'
			OR email ILIKE '%' || $1 || '%' OR company ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR person_type = $2)
		  AND ($3::boolean IS NULL OR is_active = $3)
		ORDER BY name, id
	`, kw, f.PersonType, f.IsActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ledger.RelatedPerson{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetPerson(ctx context.Context, id int64) (ledger.RelatedPerson, error) {
	return r.getPerson(ctx, r.pool, id)
}

func (r *Repository) getPerson(ctx context.Context, q querier, id int64) (ledger.RelatedPerson, error) {
	p, err := scanPerson(q.QueryRow(ctx, `SELECT `+personColumns+` FROM related_people WHERE id = $1`, id))
	if db.IsNotFound(err) {
		return p, ErrPersonNotFound
	}
	return p, err
}

func (r *Repository) CreatePerson(ctx context.Context, actor httpx.Actor, p ledger.RelatedPerson) (ledger.RelatedPerson, error) {
	if err := p.Normalize(); err != nil {
		return p, err
	}
	var out ledger.RelatedPerson
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanPerson(tx.QueryRow(ctx, `
			INSERT INTO related_people (name, person_type, phone, email, address, company, note, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+personColumns,
			p.Name, p.PersonType, p.Phone, p.Email, p.Address, p.Company, p.Note, p.IsActive))
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "related_people", out.ID, audit.ActionCreate, nil, out)
	})
	return out, err
}

func (r *Repository) UpdatePerson(ctx context.Context, actor httpx.Actor, id int64, p ledger.RelatedPerson) (ledger.RelatedPerson, error) {
	if err := p.Normalize(); err != nil {
		return p, err
	}
	var out ledger.RelatedPerson
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getPerson(ctx, tx, id)
		if err != nil {
			return err
		}
		out, err = scanPerson(tx.QueryRow(ctx, `
			UPDATE related_people SET name = $2, person_type = $3, phone = $4, email = $5, address = $6,
				company = $7, note = $8, is_active = $9, updated_at = now()
			WHERE id = $1
			RETURNING `+personColumns,
			id, p.Name, p.PersonType, p.Phone, p.Email, p.Address, p.Company, p.Note, p.IsActive))
		if err != nil {
			return err
		}
		// Linked entries show the person's current name.
		if _, err := tx.Exec(ctx, `
			UPDATE cashflows SET related_person = $2, person_type = $3, updated_at = now() WHERE related_person_id = $1
		`, id, out.Name, out.PersonType); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "related_people", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// DeletePerson unlinks the person's cashflows, which keep the name they were
// written with. Deleting a missing person succeeds.
func (r *Repository) DeletePerson(ctx context.Context, actor httpx.Actor, id int64) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getPerson(ctx, tx, id)
		if errors.Is(err, ErrPersonNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM related_people WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "related_people", id, audit.ActionDelete, before, nil)
	})
}
