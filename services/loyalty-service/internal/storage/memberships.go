package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	MembershipActive   = "Active"
	MembershipInactive = "Inactive"

	StatusPendingPayment = "PendingPayment"
	StatusPaid           = "Paid"
	StatusCancelled      = "Cancelled"

	MethodCash = "Cash"
	MethodBank = "Bank"
	MethodCard = "Card"
)

// NoteLatePayment marks a payment that settled after its hold had lapsed.
const NoteLatePayment = "paid after the membership hold expired"

var ErrMembershipActiveExists = apperr.Conflict("customer already has an unexpired membership")

type Membership struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DurationDays    int             `json:"duration_days"`
	Status          string          `json:"status"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (m Membership) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if m.Price.IsNegative() {
		return apperr.Invalid("price must not be negative")
	}
	if m.DiscountPercent.IsNegative() || m.DiscountPercent.GreaterThan(money.Hundred) {
		return apperr.Invalid("discount_percent must be within [0, 100]")
	}
	if m.DurationDays < 0 {
		return apperr.Invalid("duration_days must not be negative")
	}
	if m.Status != MembershipActive && m.Status != MembershipInactive {
		return apperr.Invalid("status must be Active or Inactive")
	}
	return nil
}

type MembershipPayment struct {
	ID               string          `json:"id"`
	UserMembershipID string          `json:"user_membership_id"`
	CustomerID       string          `json:"customer_id"`
	Amount           decimal.Decimal `json:"amount"`
	Method           string          `json:"method"`
	Status           string          `json:"status"`
	Note             string          `json:"note"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type UserMembership struct {
	ID             string              `json:"id"`
	CustomerID     string              `json:"customer_id"`
	MembershipID   string              `json:"membership_id"`
	MembershipName string              `json:"membership_name"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
	IsActive       bool                `json:"is_active"`
	Status         string              `json:"status"`
	Payments       []MembershipPayment `json:"payments"`
	CreatedAt      time.Time           `json:"created_at"`
}

const membershipColumns = `
	id::text, name, price::text, discount_percent::text, duration_days, status, description, created_at, updated_at
`

func scanMembership(row pgx.Row, m *Membership) error {
	return row.Scan(&m.ID, &m.Name, &m.Price, &m.DiscountPercent, &m.DurationDays, &m.Status, &m.Description,
		&m.CreatedAt, &m.UpdatedAt)
}

func (r *Repository) ListMemberships(ctx context.Context, status string) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE ($1 = '' OR status = $1)
		ORDER BY price, name
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Membership{}
	for rows.Next() {
		var m Membership
		if err := scanMembership(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) getMembership(ctx context.Context, q querier, id string, lock bool) (Membership, error) {
	sql := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var m Membership
	err := scanMembership(q.QueryRow(ctx, sql, id), &m)
	if db.IsNotFound(err) {
		return Membership{}, ErrMembershipNotFound
	}
	return m, err
}

func (r *Repository) GetMembership(ctx context.Context, id string) (Membership, error) {
	return r.getMembership(ctx, r.pool, id, false)
}

func (r *Repository) CreateMembership(ctx context.Context, actor httpx.Actor, m Membership) (Membership, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO memberships (name, price, discount_percent, duration_days, status, description)
			VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6)
			RETURNING id::text, created_at, updated_at
		`, strings.TrimSpace(m.Name), m.Price.String(), m.DiscountPercent.String(), m.DurationDays, m.Status,
			m.Description).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return ErrMembershipNameTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "memberships", m.ID, audit.ActionCreate, nil, m)
	})
	return m, err
}

func (r *Repository) UpdateMembership(ctx context.Context, actor httpx.Actor, m Membership) (Membership, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getMembership(ctx, tx, m.ID, true)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			UPDATE memberships SET name = $2, price = $3::numeric, discount_percent = $4::numeric,
				duration_days = $5, status = $6, description = $7, updated_at = now()
			WHERE id = $1
			RETURNING created_at, updated_at
		`, m.ID, strings.TrimSpace(m.Name), m.Price.String(), m.DiscountPercent.String(), m.DurationDays, m.Status,
			m.Description).Scan(&m.CreatedAt, &m.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return ErrMembershipNameTaken
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "memberships", m.ID, audit.ActionUpdate, before, m)
	})
	return m, err
}

func (r *Repository) DeleteMembership(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getMembership(ctx, tx, id, true)
		if err != nil {
			return err
		}
		var members bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_memberships WHERE membership_id = $1)`, id).Scan(&members); err != nil {
			return err
		}
		if members {
			return ErrMembershipInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM memberships WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "memberships", id, audit.ActionDelete, before, nil)
	})
}

const userMembershipColumns = `
	um.id::text, um.customer_id::text, um.membership_id::text, m.name, um.start_date, um.end_date,
	um.is_active, um.status, um.created_at
`

func scanUserMembership(row pgx.Row, um *UserMembership) error {
	return row.Scan(&um.ID, &um.CustomerID, &um.MembershipID, &um.MembershipName, &um.StartDate, &um.EndDate,
		&um.IsActive, &um.Status, &um.CreatedAt)
}

type UserMembershipFilter struct {
	CustomerID   string
	MembershipID string
	IsActive     *bool
	Limit        int
}

func (r *Repository) ListUserMemberships(ctx context.Context, f UserMembershipFilter) ([]UserMembership, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+userMembershipColumns+`
		FROM user_memberships um JOIN memberships m ON m.id = um.membership_id
		WHERE ($1 = '' OR um.customer_id::text = $1)
		  AND ($2 = '' OR um.membership_id::text = $2)
		  AND ($3::boolean IS NULL OR um.is_active = $3)
		ORDER BY um.created_at DESC
		LIMIT $4
	`, f.CustomerID, f.MembershipID, f.IsActive, f.Limit)
	if err != nil {
		return nil, err
	}
	out := []UserMembership{}
	index := map[string]int{}
	for rows.Next() {
		var um UserMembership
		if err := scanUserMembership(rows, &um); err != nil {
			rows.Close()
			return nil, err
		}
		um.Payments = []MembershipPayment{}
		index[um.ID] = len(out)
		out = append(out, um)
	}
	rows.Close()
	if err := rows.Err(); err != nil || len(out) == 0 {
		return out, err
	}

	ids := make([]string, 0, len(out))
	for _, um := range out {
		ids = append(ids, um.ID)
	}
	prows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM membership_payments
		WHERE user_membership_id = ANY($1::uuid[])
		ORDER BY created_at DESC, id DESC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var p MembershipPayment
		if err := scanPayment(prows, &p); err != nil {
			return nil, err
		}
		i := index[p.UserMembershipID]
		out[i].Payments = append(out[i].Payments, p)
	}
	return out, prows.Err()
}

func (r *Repository) getUserMembership(ctx context.Context, q querier, id string, lock bool) (UserMembership, error) {
	sql := `SELECT ` + userMembershipColumns + `
		FROM user_memberships um JOIN memberships m ON m.id = um.membership_id
		WHERE um.id = $1`
	if lock {
		sql += ` FOR UPDATE OF um`
	}
	var um UserMembership
	err := scanUserMembership(q.QueryRow(ctx, sql, id), &um)
	if db.IsNotFound(err) {
		return UserMembership{}, ErrUserMembershipNotFound
	}
	return um, err
}

type NewUserMembership struct {
	CustomerID   string
	MembershipID string
	Method       string
}

// CreateUserMembership sells a membership. Cash sales are paid on the spot;
// bank and card sales wait for a payment that lapses after the hold.
func (r *Repository) CreateUserMembership(ctx context.Context, actor httpx.Actor, in NewUserMembership) (UserMembership, error) {
	switch in.Method {
	case MethodCash, MethodBank, MethodCard:
	default:
		return UserMembership{}, apperr.Invalid("payment method must be Cash, Bank or Card")
	}
	var out UserMembership
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		cust, err := r.getCustomer(ctx, tx, in.CustomerID)
		if err != nil {
			return err
		}
		m, err := r.getMembership(ctx, tx, in.MembershipID, false)
		if err != nil {
			return err
		}
		if m.Status != MembershipActive {
			return apperr.Invalid("membership %s is not active", m.Name)
		}
		// Serialise sales per customer so two requests cannot both pass the check.
		if err := db.AdvisoryXactLock(ctx, tx, "loyalty:customer:"+cust.ID); err != nil {
			return err
		}
		now := r.now()
		var unexpired bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM user_memberships
				WHERE customer_id = $1 AND status <> 'Cancelled' AND end_date > $2
			)
		`, cust.ID, now).Scan(&unexpired); err != nil {
			return err
		}
		if unexpired {
			return ErrMembershipActiveExists
		}

		days := m.DurationDays
		if days < 1 {
			days = 1
		}
		um := UserMembership{
			CustomerID:     cust.ID,
			MembershipID:   m.ID,
			MembershipName: m.Name,
			StartDate:      now,
			EndDate:        now.AddDate(0, 0, days),
			Status:         StatusPendingPayment,
		}
		p := MembershipPayment{
			CustomerID: cust.ID,
			Amount:     m.Price,
			Method:     in.Method,
			Status:     StatusPendingPayment,
		}
		if in.Method == MethodCash {
			um.Status, um.IsActive = StatusPaid, true
			p.Status, p.PaidAt = StatusPaid, &now
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO user_memberships (customer_id, membership_id, start_date, end_date, is_active, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id::text, created_at
		`, um.CustomerID, um.MembershipID, um.StartDate, um.EndDate, um.IsActive, um.Status).Scan(&um.ID, &um.CreatedAt); err != nil {
			return err
		}
		p.UserMembershipID = um.ID
		if err := r.insertPayment(ctx, tx, &p); err != nil {
			return err
		}
		um.Payments = []MembershipPayment{p}

		switch {
		case p.Status == StatusPaid:
			if err := membershipPaid(ctx, tx, p, cust.FullName, m.Name); err != nil {
				return err
			}
		case in.Method == MethodCard:
			if err := outbox.EnqueueJSON(ctx, tx, "membership_payment", p.ID, events.MembershipPaymentCreated, events.MembershipPaymentCreatedPayload{
				PaymentID:        p.ID,
				UserMembershipID: um.ID,
				CustomerID:       cust.ID,
				CustomerEmail:    cust.Email,
				Amount:           p.Amount,
				Currency:         "vnd",
			}); err != nil {
				return err
			}
		}
		out = um
		return r.audit(ctx, tx, actor, "user_memberships", um.ID, audit.ActionCreate, nil, um)
	})
	return out, err
}

const paymentColumns = `
	id, user_membership_id::text, customer_id::text, amount::text, method, status, note, paid_at, created_at
`

func scanPayment(row pgx.Row, p *MembershipPayment) error {
	return row.Scan(&p.ID, &p.UserMembershipID, &p.CustomerID, &p.Amount, &p.Method, &p.Status, &p.Note,
		&p.PaidAt, &p.CreatedAt)
}

// insertPayment allocates the MP code of the day. Concurrent writers may read
// the same last code, so collisions retry inside a savepoint.
func (r *Repository) insertPayment(ctx context.Context, tx pgx.Tx, p *MembershipPayment) error {
	prefix := codes.DailyPrefix("MP", r.now())
	for attempt := 0; attempt < codeAttempts; attempt++ {
		id, err := codes.Next(ctx, tx, "membership_payments", "id", prefix)
		if err != nil {
			return err
		}
		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		err = sp.QueryRow(ctx, `
			INSERT INTO membership_payments (id, user_membership_id, customer_id, amount, method, status, note, paid_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
			RETURNING created_at
		`, id, p.UserMembershipID, p.CustomerID, p.Amount.String(), p.Method, p.Status, p.Note, p.PaidAt).Scan(&p.CreatedAt)
		if db.IsUniqueViolation(err) {
			_ = sp.Rollback(ctx)
			continue
		}
		if err != nil {
			_ = sp.Rollback(ctx)
			return err
		}
		if err := sp.Commit(ctx); err != nil {
			return err
		}
		p.ID = id
		return nil
	}
	return ErrCodeExhausted
}

func (r *Repository) getPayment(ctx context.Context, q querier, id string, lock bool) (MembershipPayment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM membership_payments WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var p MembershipPayment
	err := scanPayment(q.QueryRow(ctx, sql, id), &p)
	if db.IsNotFound(err) {
		return MembershipPayment{}, ErrPaymentNotFound
	}
	return p, err
}

// Settlement reports what a confirmation changed.
type Settlement struct {
	Payment        MembershipPayment
	UserMembership UserMembership
	AlreadyPaid    bool
}

// ConfirmPayment marks a pending payment paid at the front desk.
func (r *Repository) ConfirmPayment(ctx context.Context, actor httpx.Actor, id string) (Settlement, error) {
	var s Settlement
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		s, err = r.settle(ctx, tx, actor, id, false)
		return err
	})
	return s, err
}

// SettleFromProvider applies a card payment confirmed by billing. Late
// payments still activate the membership and carry a note.
func (r *Repository) SettleFromProvider(ctx context.Context, tx pgx.Tx, id string) (Settlement, error) {
	return r.settle(ctx, tx, SystemActor, id, true)
}

func (r *Repository) settle(ctx context.Context, tx pgx.Tx, actor httpx.Actor, id string, allowLate bool) (Settlement, error) {
	p, err := r.getPayment(ctx, tx, id, true)
	if err != nil {
		return Settlement{}, err
	}
	um, err := r.getUserMembership(ctx, tx, p.UserMembershipID, true)
	if err != nil {
		return Settlement{}, err
	}
	s := Settlement{Payment: p, UserMembership: um}
	switch p.Status {
	case StatusPaid:
		s.AlreadyPaid = true
		return s, nil
	case StatusCancelled:
		if !allowLate {
			return s, apperr.Conflict("payment %s was cancelled", p.ID)
		}
		p.Note = NoteLatePayment
	}

	now := r.now()
	before := p
	p.Status, p.PaidAt = StatusPaid, &now
	if _, err := tx.Exec(ctx, `
		UPDATE membership_payments SET status = 'Paid', paid_at = $2, note = $3, updated_at = now() WHERE id = $1
	`, p.ID, now, p.Note); err != nil {
		return s, err
	}
	if err := r.audit(ctx, tx, actor, "membership_payments", p.ID, audit.ActionUpdate, before, p); err != nil {
		return s, err
	}

	umBefore := um
	um.Status = StatusPaid
	um.IsActive = !um.StartDate.After(now) && !um.EndDate.Before(now)
	if _, err := tx.Exec(ctx, `
		UPDATE user_memberships SET status = 'Paid', is_active = $2, updated_at = now() WHERE id = $1
	`, um.ID, um.IsActive); err != nil {
		return s, err
	}
	if err := r.audit(ctx, tx, actor, "user_memberships", um.ID, audit.ActionUpdate, umBefore, um); err != nil {
		return s, err
	}

	cust, err := r.getCustomer(ctx, tx, um.CustomerID)
	if err != nil && !errors.Is(err, ErrCustomerNotFound) {
		return s, err
	}
	if err := membershipPaid(ctx, tx, p, cust.FullName, um.MembershipName); err != nil {
		return s, err
	}
	s.Payment, s.UserMembership = p, um
	return s, nil
}

// FailPayment cancels a pending payment and its membership. It reports false
// when the payment was no longer pending.
func (r *Repository) FailPayment(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error) {
	p, err := r.getPayment(ctx, tx, id, true)
	if err != nil {
		return false, err
	}
	if p.Status != StatusPendingPayment {
		return false, nil
	}
	if err := r.cancelPayment(ctx, tx, p, reason); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) cancelPayment(ctx context.Context, tx pgx.Tx, p MembershipPayment, reason string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE membership_payments SET status = 'Cancelled', note = $2, updated_at = now() WHERE id = $1
	`, p.ID, reason); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE user_memberships SET status = 'Cancelled', is_active = false, updated_at = now()
		WHERE id = $1 AND status = 'PendingPayment'
	`, p.UserMembershipID); err != nil {
		return err
	}
	after := p
	after.Status, after.Note = StatusCancelled, reason
	return r.audit(ctx, tx, SystemActor, "membership_payments", p.ID, audit.ActionUpdate, p, after)
}

func membershipPaid(ctx context.Context, tx pgx.Tx, p MembershipPayment, customerName, membershipName string) error {
	paidAt := time.Now().UTC()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	return outbox.EnqueueJSON(ctx, tx, "membership_payment", p.ID, events.MembershipPaid, events.MembershipPaidPayload{
		PaymentID:        p.ID,
		UserMembershipID: p.UserMembershipID,
		CustomerID:       p.CustomerID,
		CustomerName:     customerName,
		MembershipName:   membershipName,
		Amount:           p.Amount,
		PaidAt:           paidAt,
	})
}

// MembershipDiscount is the customer's current membership benefit.
type MembershipDiscount struct {
	Active           bool
	UserMembershipID string
	MembershipName   string
	Percent          decimal.Decimal
}

// ActiveDiscount picks the best active membership covering now.
func (r *Repository) ActiveDiscount(ctx context.Context, customerID string) (MembershipDiscount, error) {
	var d MembershipDiscount
	err := r.pool.QueryRow(ctx, `
		SELECT um.id::text, m.name, m.discount_percent::text
		FROM user_memberships um JOIN memberships m ON m.id = um.membership_id
		WHERE um.customer_id = $1 AND um.is_active AND um.status = 'Paid'
		  AND um.start_date <= $2 AND um.end_date >= $2
		ORDER BY m.discount_percent DESC, um.end_date DESC
		LIMIT 1
	`, customerID, r.now()).Scan(&d.UserMembershipID, &d.MembershipName, &d.Percent)
	if db.IsNotFound(err) {
		return MembershipDiscount{Percent: decimal.Zero}, nil
	}
	if err != nil {
		return d, fmt.Errorf("membership discount: %w", err)
	}
	d.Active = true
	return d, nil
}

// RefreshStatuses activates paid memberships whose window has opened and
// deactivates those that ended.
func (r *Repository) RefreshStatuses(ctx context.Context, now time.Time) (activated, deactivated int64, err error) {
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_memberships SET is_active = true, updated_at = now()
			WHERE status = 'Paid' AND NOT is_active AND start_date <= $1 AND end_date >= $1
		`, now)
		if err != nil {
			return err
		}
		activated = tag.RowsAffected()
		tag, err = tx.Exec(ctx, `
			UPDATE user_memberships SET is_active = false, updated_at = now()
			WHERE is_active AND end_date < $1
		`, now)
		if err != nil {
			return err
		}
		deactivated = tag.RowsAffected()
		return nil
	})
	return activated, deactivated, err
}

// ExpirePayments cancels pending payments created before cutoff and returns
// their ids.
func (r *Repository) ExpirePayments(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+paymentColumns+` FROM membership_payments
			WHERE status = 'PendingPayment' AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, cutoff, limit)
		if err != nil {
			return err
		}
		var pending []MembershipPayment
		for rows.Next() {
			var p MembershipPayment
			if err := scanPayment(rows, &p); err != nil {
				rows.Close()
				return err
			}
			pending = append(pending, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, p := range pending {
			if err := r.cancelPayment(ctx, tx, p, "payment hold expired"); err != nil {
				return err
			}
			ids = append(ids, p.ID)
		}
		return nil
	})
	return ids, err
}

// NextPaymentExpiry returns when the oldest pending payment lapses, or false
// when nothing is pending.
func (r *Repository) NextPaymentExpiry(ctx context.Context, hold time.Duration) (time.Time, bool, error) {
	var oldest *time.Time
	if err := r.pool.QueryRow(ctx, `
		SELECT min(created_at) FROM membership_payments WHERE status = 'PendingPayment'
	`).Scan(&oldest); err != nil {
		return time.Time{}, false, err
	}
	if oldest == nil {
		return time.Time{}, false, nil
	}
	return oldest.Add(hold), true, nil
}
