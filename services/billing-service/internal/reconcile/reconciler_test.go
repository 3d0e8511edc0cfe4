package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/services/billing-service/internal/settlement"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/stripeapi"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	stale  []storage.CheckoutSession
	cutoff time.Time
}

func (f *fakeStore) InTx(_ context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

func (f *fakeStore) StaleOpenSessions(_ context.Context, cutoff time.Time, _ int) ([]storage.CheckoutSession, error) {
	f.cutoff = cutoff
	return f.stale, nil
}

type fakeGateway map[string]stripeapi.Session

func (g fakeGateway) CreateSession(context.Context, stripeapi.SessionRequest) (stripeapi.Session, error) {
	return stripeapi.Session{}, errors.New("not used")
}

func (g fakeGateway) GetSession(_ context.Context, id string) (stripeapi.Session, error) {
	s, ok := g[id]
	if !ok {
		return stripeapi.Session{}, errors.New("no such session")
	}
	return s, nil
}

type fakeSettler struct {
	results []settlement.Result
}

func (s *fakeSettler) Apply(_ context.Context, _ pgx.Tx, res settlement.Result) (bool, error) {
	s.results = append(s.results, res)
	return true, nil
}

type fakeLock struct {
	held     bool
	released int
}

func (l *fakeLock) TryLock(context.Context) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func newReconciler(store *fakeStore, gw fakeGateway, settler *fakeSettler, lock *fakeLock) *Reconciler {
	r := New(store, gw, settler, lock, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	r.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return r
}

func TestReconcileOnceSettlesFinishedSessions(t *testing.T) {
	store := &fakeStore{stale: []storage.CheckoutSession{
		{StripeSessionID: "cs_paid", PaymentRef: "PM-1", Kind: "booking", Amount: decimal.NewFromInt(100000)},
		{StripeSessionID: "cs_expired", PaymentRef: "PM-2", Kind: "order"},
		{StripeSessionID: "cs_open", PaymentRef: "PM-3", Kind: "booking"},
		{StripeSessionID: "cs_gone", PaymentRef: "PM-4", Kind: "booking"},
	}}
	gw := fakeGateway{
		"cs_paid":    {ID: "cs_paid", Status: "complete", PaymentStatus: "paid"},
		"cs_expired": {ID: "cs_expired", Status: "expired", PaymentStatus: "unpaid"},
		"cs_open":    {ID: "cs_open", Status: "open", PaymentStatus: "unpaid"},
	}
	settler := &fakeSettler{}
	r := newReconciler(store, gw, settler, &fakeLock{})

	n, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 45, 0, 0, time.UTC), store.cutoff)

	require.Len(t, settler.results, 2)
	assert.True(t, settler.results[0].Succeeded)
	assert.Equal(t, "PM-1", settler.results[0].PaymentRef)
	assert.Equal(t, "reconcile:cs_paid", settler.results[0].ProviderEventID)
	assert.False(t, settler.results[1].Succeeded)
	assert.Equal(t, "checkout session expired", settler.results[1].Reason)
}

func TestPassSkipsWithoutLock(t *testing.T) {
	store := &fakeStore{stale: []storage.CheckoutSession{{StripeSessionID: "cs_paid", PaymentRef: "PM-1"}}}
	settler := &fakeSettler{}
	lock := &fakeLock{held: true}
	r := newReconciler(store, fakeGateway{"cs_paid": {Status: "complete", PaymentStatus: "paid"}}, settler, lock)

	r.pass(context.Background())
	assert.Empty(t, settler.results)

	lock.held = false
	r.pass(context.Background())
	assert.Len(t, settler.results, 1)
	assert.Equal(t, 1, lock.released)
}
