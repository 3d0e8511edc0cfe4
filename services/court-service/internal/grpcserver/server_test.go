package grpcserver

import (
	"context"
	"testing"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/hoaht-8203/courtops/services/court-service/internal/pricing"
	"github.com/hoaht-8203/courtops/services/court-service/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type courts map[string]storage.Court

func (c courts) GetCourt(_ context.Context, id string) (storage.Court, error) {
	court, ok := c[id]
	if !ok {
		return storage.Court{}, storage.ErrCourtNotFound
	}
	return court, nil
}

func clock(s string) dates.Clock {
	c, err := dates.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func fixture(status string) courts {
	return courts{"c1": {
		ID:     "c1",
		Name:   "Court 1",
		Status: status,
		PricingRules: []pricing.Rule{
			{DaysOfWeek: []int{2, 3, 4, 5, 6}, StartTime: clock("06:00"), EndTime: clock("17:00"), PricePerHour: decimal.NewFromInt(80000), Order: 1},
			{DaysOfWeek: []int{2, 3, 4, 5, 6}, StartTime: clock("17:00"), EndTime: clock("22:00"), PricePerHour: decimal.NewFromInt(120000), Order: 2},
		},
	}}
}

func TestQuoteSpansRules(t *testing.T) {
	srv := New(fixture(storage.StatusInUse))
	resp, err := srv.Quote(context.Background(), &pricingv1.QuoteRequest{
		CourtID:   "c1",
		StartDate: "2025-03-03",
		StartTime: "16:00",
		EndTime:   "18:30",
	})
	require.NoError(t, err)
	assert.Equal(t, "260000", resp.Amount)
	require.Len(t, resp.PerDate, 1)
	assert.Equal(t, "2025-03-03", resp.PerDate[0].Date)
	assert.Equal(t, storage.StatusInUse, resp.CourtStatus)
}

func TestQuoteRejectsUnbookableCourts(t *testing.T) {
	cases := map[string]codes.Code{
		storage.StatusMaintenance: codes.FailedPrecondition,
		storage.StatusInactive:    codes.FailedPrecondition,
		storage.StatusDeleted:     codes.NotFound,
	}
	for st, want := range cases {
		t.Run(st, func(t *testing.T) {
			_, err := New(fixture(st)).Quote(context.Background(), &pricingv1.QuoteRequest{
				CourtID: "c1", StartDate: "2025-03-03", StartTime: "16:00", EndTime: "17:00",
			})
			assert.Equal(t, want, status.Code(err))
		})
	}
}

func TestQuoteValidation(t *testing.T) {
	srv := New(fixture(storage.StatusActive))
	_, err := srv.Quote(context.Background(), &pricingv1.QuoteRequest{StartDate: "2025-03-03", StartTime: "16:00", EndTime: "17:00"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = srv.Quote(context.Background(), &pricingv1.QuoteRequest{CourtID: "c1", StartDate: "2025-03-03", StartTime: "18:00", EndTime: "17:00"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = srv.Quote(context.Background(), &pricingv1.QuoteRequest{CourtID: "zz", StartDate: "2025-03-03", StartTime: "16:00", EndTime: "17:00"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
