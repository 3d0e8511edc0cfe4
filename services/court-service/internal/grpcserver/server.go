// Package grpcserver serves court pricing quotes to other services.
package grpcserver

import (
	"context"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/grpcx"
	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/hoaht-8203/courtops/services/court-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/court-service/internal/pricing"
	"github.com/hoaht-8203/courtops/services/court-service/internal/storage"
	"google.golang.org/grpc"
)

// CourtGetter is the read the pricing server needs from storage.
type CourtGetter interface {
	GetCourt(ctx context.Context, id string) (storage.Court, error)
}

type Server struct {
	courts CourtGetter
}

func New(courts CourtGetter) *Server {
	return &Server{courts: courts}
}

func Register(s grpc.ServiceRegistrar, courts CourtGetter) {
	pricingv1.RegisterPricingServer(s, New(courts))
}

// Quote prices a prospective booking. Courts that cannot take new bookings
// are rejected with FailedPrecondition.
func (s *Server) Quote(ctx context.Context, req *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error) {
	if req.CourtID == "" {
		return nil, grpcx.StatusFromError(apperr.Invalid("court_id is required"))
	}
	q, err := handlers.ParseQuoteRequest(req.StartDate, req.EndDate, req.StartTime, req.EndTime, req.DaysOfWeek)
	if err != nil {
		return nil, grpcx.StatusFromError(err)
	}
	court, err := s.courts.GetCourt(ctx, req.CourtID)
	if err != nil {
		return nil, grpcx.StatusFromError(err)
	}
	switch court.Status {
	case storage.StatusDeleted:
		return nil, grpcx.StatusFromError(storage.ErrCourtNotFound)
	case storage.StatusInactive, storage.StatusMaintenance:
		return nil, grpcx.StatusFromError(apperr.Conflict("court %s is %s and cannot be booked", court.Name, court.Status))
	}
	res, err := pricing.Quote(court.PricingRules, q)
	if err != nil {
		return nil, grpcx.StatusFromError(err)
	}
	resp := &pricingv1.QuoteResponse{
		CourtID:     court.ID,
		CourtName:   court.Name,
		CourtStatus: court.Status,
		Amount:      res.Amount.String(),
		PerDate:     make([]pricingv1.DateQuote, 0, len(res.PerDate)),
	}
	for _, d := range res.PerDate {
		resp.PerDate = append(resp.PerDate, pricingv1.DateQuote{Date: d.Date.String(), Amount: d.Amount.String()})
	}
	return resp, nil
}
