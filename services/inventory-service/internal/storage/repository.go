package storage

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/jackc/pgx/v5"
)

const serviceName = "inventory-service"

var (
	ErrCategoryNotFound   = apperr.NotFound("category not found")
	ErrCategoryNameTaken  = apperr.Conflict("category name already exists")
	ErrProductNotFound    = apperr.NotFound("product not found")
	ErrProductCodeTaken   = apperr.Conflict("product code already exists")
	ErrProductInUse       = apperr.Conflict("product has stock history and cannot be deleted")
	ErrPriceTableNotFound = apperr.NotFound("price table not found")
	ErrSupplierNotFound   = apperr.NotFound("supplier not found")
	ErrSupplierInUse      = apperr.Conflict("supplier has documents and cannot be deleted")
	ErrDocumentNotFound   = apperr.NotFound("document not found")
	ErrCheckNotFound      = apperr.NotFound("inventory check not found")
)

// SystemActor is recorded on changes made by workers and consumers.
var SystemActor = httpx.Actor{Name: "system"}

type Repository struct {
	pool *db.Pool
	now  func() time.Time
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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

// sequence hands out consecutive codes for one prefix inside a transaction.
// The advisory lock serialises writers of the same prefix until commit, so
// codes never collide and no retry is needed.
type sequence struct {
	prefix string
	next   string
}

func (r *Repository) sequence(ctx context.Context, tx pgx.Tx, table, prefix string) (*sequence, error) {
	if err := db.AdvisoryXactLock(ctx, tx, "inventory:code:"+prefix); err != nil {
		return nil, err
	}
	next, err := codes.Next(ctx, tx, table, "code", prefix)
	if err != nil {
		return nil, err
	}
	return &sequence{prefix: prefix, next: next}, nil
}

func (s *sequence) take() string {
	code := s.next
	s.next = codes.Increment(s.prefix, code)
	return code
}

// nextCode allocates a single code.
func (r *Repository) nextCode(ctx context.Context, tx pgx.Tx, table, prefix string) (string, error) {
	seq, err := r.sequence(ctx, tx, table, prefix)
	if err != nil {
		return "", err
	}
	return seq.take(), nil
}
