package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/jackc/pgx/v5"
)

const serviceName = "finance-service"

var (
	ErrTypeNotFound     = apperr.NotFound("cashflow type not found")
	ErrTypeCodeTaken    = apperr.Conflict("cashflow type code already exists")
	ErrTypeInUse        = apperr.Conflict("cashflow type is used by cashflows")
	ErrTypeBuiltIn      = apperr.Conflict("built-in cashflow types keep their code and direction")
	ErrTypeMismatch     = apperr.Invalid("cashflow type does not match is_payment")
	ErrCashflowNotFound = apperr.NotFound("cashflow not found")
	ErrPersonNotFound   = apperr.NotFound("related person not found")
)

// SystemActor is recorded on entries written by consumers.
var SystemActor = httpx.Actor{Name: "system"}

type Repository struct {
	pool *db.Pool
	now  func() time.Time
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) audit(ctx context.Context, tx pgx.Tx, actor httpx.Actor, table string, id int64, action string, before, after any) error {
	return audit.Record(ctx, tx, audit.Change{
		Service:  serviceName,
		Table:    table,
		EntityID: strconv.FormatInt(id, 10),
		Action:   action,
		Actor:    actor,
		Old:      before,
		New:      after,
	})
}
