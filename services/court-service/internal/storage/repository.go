package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/court-service/internal/pricing"
	"github.com/hoaht-8203/courtops/services/court-service/internal/templates"
	"github.com/jackc/pgx/v5"
)

const serviceName = "court-service"

const (
	StatusActive      = "Active"
	StatusInactive    = "Inactive"
	StatusInUse       = "InUse"
	StatusMaintenance = "Maintenance"
	StatusDeleted     = "Deleted"
)

var (
	ErrAreaNotFound     = apperr.NotFound("court area not found")
	ErrAreaNameTaken    = apperr.Conflict("court area name already exists")
	ErrAreaInUse        = apperr.Conflict("court area still has courts")
	ErrCourtNotFound    = apperr.NotFound("court not found")
	ErrCourtNameTaken   = apperr.Conflict("a court with this name already exists in the area")
	ErrTemplateNotFound = apperr.NotFound("pricing template not found")
	ErrTemplateTaken    = apperr.Conflict("pricing template name already exists")
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Area struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CourtCount  int       `json:"court_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Court struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	AreaID       *string        `json:"area_id"`
	AreaName     string         `json:"area_name,omitempty"`
	Status       string         `json:"status"`
	ImageURL     string         `json:"image_url"`
	Description  string         `json:"description"`
	PricingRules []pricing.Rule `json:"pricing_rules"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type CourtInput struct {
	Name         string
	AreaID       *string
	ImageURL     string
	Description  string
	PricingRules []pricing.Rule
}

type CourtFilter struct {
	Name   string
	Status string
	AreaID string
}

func (r *Repository) ListAreas(ctx context.Context) ([]Area, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id::text, a.name, a.description, a.created_at,
		       (SELECT count(*) FROM courts c WHERE c.area_id = a.id AND c.status <> 'Deleted')
		FROM court_areas a
		ORDER BY a.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Area
	for rows.Next() {
		var a Area
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.CreatedAt, &a.CourtCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) getArea(ctx context.Context, q pgx.Tx, id string) (Area, error) {
	var a Area
	err := q.QueryRow(ctx, `
		SELECT id::text, name, description, created_at
		FROM court_areas WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Description, &a.CreatedAt)
	if db.IsNotFound(err) {
		return Area{}, ErrAreaNotFound
	}
	return a, err
}

func (r *Repository) CreateArea(ctx context.Context, actor httpx.Actor, name, description string) (Area, error) {
	var a Area
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO court_areas (name, description)
			VALUES ($1, $2)
			RETURNING id::text, name, description, created_at
		`, name, description).Scan(&a.ID, &a.Name, &a.Description, &a.CreatedAt)
		if db.IsUniqueViolation(err) {
			return ErrAreaNameTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "court_areas", a.ID, audit.ActionCreate, nil, a)
	})
	return a, err
}

func (r *Repository) UpdateArea(ctx context.Context, actor httpx.Actor, id, name, description string) (Area, error) {
	var a Area
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getArea(ctx, tx, id)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			UPDATE court_areas SET name = $2, description = $3, updated_at = now()
			WHERE id = $1
			RETURNING id::text, name, description, created_at
		`, id, name, description).Scan(&a.ID, &a.Name, &a.Description, &a.CreatedAt)
		if db.IsUniqueViolation(err) {
			return ErrAreaNameTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "court_areas", id, audit.ActionUpdate, before, a)
	})
	return a, err
}

func (r *Repository) DeleteArea(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getArea(ctx, tx, id)
		if err != nil {
			return err
		}
		var inUse bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM courts WHERE area_id = $1 AND status <> 'Deleted')
		`, id).Scan(&inUse); err != nil {
			return err
		}
		if inUse {
			return ErrAreaInUse
		}
		// Soft-deleted courts keep their history but lose the area link.
		if _, err := tx.Exec(ctx, `UPDATE courts SET area_id = NULL WHERE area_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM court_areas WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "court_areas", id, audit.ActionDelete, before, nil)
	})
}

const courtColumns = `
	c.id::text, c.name, c.area_id::text, COALESCE(a.name, ''), c.status, c.image_url, c.description, c.created_at, c.updated_at
`

func scanCourt(row pgx.Row, c *Court) error {
	return row.Scan(&c.ID, &c.Name, &c.AreaID, &c.AreaName, &c.Status, &c.ImageURL, &c.Description, &c.CreatedAt, &c.UpdatedAt)
}

func (r *Repository) ListCourts(ctx context.Context, f CourtFilter) ([]Court, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Name != "" {
		add("c.name ILIKE '%%' || $%d || '%%'", f.Name)
	}
	if f.Status != "" {
		add("c.status = $%d", f.Status)
	} else {
		where = append(where, "c.status <> 'Deleted'")
	}
	if f.AreaID != "" {
		add("c.area_id = $%d", f.AreaID)
	}

	sql := `SELECT ` + courtColumns + ` FROM courts c LEFT JOIN court_areas a ON a.id = c.area_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY c.created_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Court
	for rows.Next() {
		var c Court
		if err := scanCourt(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].PricingRules, err = r.loadRules(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) loadRules(ctx context.Context, q querier, courtID string) ([]pricing.Rule, error) {
	rows, err := q.Query(ctx, `
		SELECT id, days_of_week, start_time::text, end_time::text, price_per_hour::text, sort_order
		FROM court_pricing_rules
		WHERE court_id = $1
		ORDER BY sort_order, start_time, id
	`, courtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []pricing.Rule{}
	for rows.Next() {
		var rule pricing.Rule
		if err := rows.Scan(&rule.ID, &rule.DaysOfWeek, &rule.StartTime, &rule.EndTime, &rule.PricePerHour, &rule.Order); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) getCourt(ctx context.Context, q querier, id string, lock bool) (Court, error) {
	sql := `SELECT ` + courtColumns + ` FROM courts c LEFT JOIN court_areas a ON a.id = c.area_id WHERE c.id = $1`
	if lock {
		sql += " FOR UPDATE OF c"
	}
	var c Court
	if err := scanCourt(q.QueryRow(ctx, sql, id), &c); err != nil {
		if db.IsNotFound(err) {
			return Court{}, ErrCourtNotFound
		}
		return Court{}, err
	}
	rules, err := r.loadRules(ctx, q, id)
	if err != nil {
		return Court{}, err
	}
	c.PricingRules = rules
	return c, nil
}

func (r *Repository) GetCourt(ctx context.Context, id string) (Court, error) {
	return r.getCourt(ctx, r.pool, id, false)
}

func (r *Repository) replaceRules(ctx context.Context, tx pgx.Tx, courtID string, rules []pricing.Rule) error {
	if _, err := tx.Exec(ctx, `DELETE FROM court_pricing_rules WHERE court_id = $1`, courtID); err != nil {
		return err
	}
	for _, rule := range rules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO court_pricing_rules (court_id, days_of_week, start_time, end_time, price_per_hour, sort_order)
			VALUES ($1, $2, $3::time, $4::time, $5::numeric, $6)
		`, courtID, rule.DaysOfWeek, rule.StartTime.String(), rule.EndTime.String(), rule.PricePerHour.String(), rule.Order); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) CreateCourt(ctx context.Context, actor httpx.Actor, in CourtInput) (Court, error) {
	var c Court
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if in.AreaID != nil {
			if _, err := r.getArea(ctx, tx, *in.AreaID); err != nil {
				return err
			}
		}
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO courts (name, area_id, status, image_url, description)
			VALUES ($1, $2, 'Active', $3, $4)
			RETURNING id::text
		`, in.Name, in.AreaID, in.ImageURL, in.Description).Scan(&id)
		if db.IsUniqueViolation(err) {
			return ErrCourtNameTaken
		}
		if err != nil {
			return err
		}
		if err := r.replaceRules(ctx, tx, id, in.PricingRules); err != nil {
			return err
		}
		if c, err = r.getCourt(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "courts", id, audit.ActionCreate, nil, c)
	})
	return c, err
}

func (r *Repository) UpdateCourt(ctx context.Context, actor httpx.Actor, id string, in CourtInput) (Court, error) {
	var c Court
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCourt(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status == StatusDeleted {
			return ErrCourtNotFound
		}
		if in.AreaID != nil {
			if _, err := r.getArea(ctx, tx, *in.AreaID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			UPDATE courts
			SET name = $2, area_id = $3, image_url = $4, description = $5, updated_at = now()
			WHERE id = $1
		`, id, in.Name, in.AreaID, in.ImageURL, in.Description)
		if db.IsUniqueViolation(err) {
			return ErrCourtNameTaken
		}
		if err != nil {
			return err
		}
		if err := r.replaceRules(ctx, tx, id, in.PricingRules); err != nil {
			return err
		}
		if c, err = r.getCourt(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "courts", id, audit.ActionUpdate, before, c)
	})
	return c, err
}

// SetStatus changes a court's status. Deleting is a soft status change.
func (r *Repository) SetStatus(ctx context.Context, actor httpx.Actor, id, status string) (Court, error) {
	var c Court
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCourt(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status == StatusDeleted {
			return ErrCourtNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE courts SET status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
			return err
		}
		c = before
		c.Status = status
		action := audit.ActionUpdate
		if status == StatusDeleted {
			action = audit.ActionDelete
		}
		return r.audit(ctx, tx, actor, "courts", id, action, before, c)
	})
	return c, err
}

// MarkInUse flips an Active court to InUse when a player checks in.
func (r *Repository) MarkInUse(ctx context.Context, tx pgx.Tx, courtID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE courts SET status = 'InUse', updated_at = now()
		WHERE id = $1 AND status = 'Active'
	`, courtID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release returns an InUse court to Active.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, courtID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE courts SET status = 'Active', updated_at = now()
		WHERE id = $1 AND status = 'InUse'
	`, courtID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text, name, description, rules FROM pricing_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []templates.Template
	for rows.Next() {
		var (
			t   templates.Template
			raw []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &t.Rules); err != nil {
			return nil, fmt.Errorf("template %s rules: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTemplate(ctx context.Context, actor httpx.Actor, t templates.Template) (templates.Template, error) {
	raw, err := json.Marshal(t.Rules)
	if err != nil {
		return t, err
	}
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO pricing_templates (name, description, rules)
			VALUES ($1, $2, $3)
			RETURNING id::text
		`, t.Name, t.Description, raw).Scan(&t.ID)
		if db.IsUniqueViolation(err) {
			return ErrTemplateTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "pricing_templates", t.ID, audit.ActionCreate, nil, t)
	})
	return t, err
}

func (r *Repository) UpdateTemplate(ctx context.Context, actor httpx.Actor, t templates.Template) (templates.Template, error) {
	raw, err := json.Marshal(t.Rules)
	if err != nil {
		return t, err
	}
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var before templates.Template
		var beforeRules []byte
		err := tx.QueryRow(ctx, `
			SELECT id::text, name, description, rules FROM pricing_templates WHERE id = $1 FOR UPDATE
		`, t.ID).Scan(&before.ID, &before.Name, &before.Description, &beforeRules)
		if db.IsNotFound(err) {
			return ErrTemplateNotFound
		}
		if err != nil {
			return err
		}
		_ = json.Unmarshal(beforeRules, &before.Rules)
		_, err = tx.Exec(ctx, `
			UPDATE pricing_templates SET name = $2, description = $3, rules = $4, updated_at = now()
			WHERE id = $1
		`, t.ID, t.Name, t.Description, raw)
		if db.IsUniqueViolation(err) {
			return ErrTemplateTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "pricing_templates", t.ID, audit.ActionUpdate, before, t)
	})
	return t, err
}

func (r *Repository) DeleteTemplate(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM pricing_templates WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrTemplateNotFound
		}
		return r.audit(ctx, tx, actor, "pricing_templates", id, audit.ActionDelete, map[string]any{"id": id}, nil)
	})
}

// SeedTemplates inserts the defaults when no template exists yet.
func (r *Repository) SeedTemplates(ctx context.Context, defaults []templates.Template) (int, error) {
	var n int
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM pricing_templates`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, t := range defaults {
			raw, err := json.Marshal(t.Rules)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO pricing_templates (name, description, rules) VALUES ($1, $2, $3)
				ON CONFLICT (name) DO NOTHING
			`, t.Name, t.Description, raw); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (r *Repository) audit(ctx context.Context, tx pgx.Tx, actor httpx.Actor, table, id, action string, before, after any) error {
	return audit.Record(ctx, tx, audit.Change{
		Service:  serviceName,
		Table:    table,
		EntityID: id,
		Action:   action,
		Actor:    actor,
		Old:      before,
		New:      after,
	})
}
