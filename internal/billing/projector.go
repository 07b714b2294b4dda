package billing

import (
	"fmt"
	"time"

	"arcadepos/backend/internal/domain"
)

// ProjectSession quotes what an active session would cost if it ended at now.
func (p Policy) ProjectSession(session domain.GamingSession, now time.Time) (domain.SessionCost, error) {
	if !session.IsActive() {
		return domain.SessionCost{}, fmt.Errorf("%w: session %s is not active", domain.ErrInvalidState, session.SessionNumber)
	}
	minutes, cost, err := p.ElapsedCost(session, now)
	if err != nil {
		return domain.SessionCost{}, err
	}
	return domain.SessionCost{
		SessionID:     session.ID,
		SessionNumber: session.SessionNumber,
		PCID:          session.PC.ID(),
		Duration:      minutes,
		Cost:          cost,
	}, nil
}

// ProjectSale quotes the sale as if every active linked session were
// finalized at now without a discount, which is exactly what payment does.
// The sale passed in is not modified.
func (p Policy) ProjectSale(sale domain.Sale, sessions []domain.GamingSession, now time.Time) (domain.SaleProjection, error) {
	projected := sale.Clone()
	out := domain.SaleProjection{
		SaleID:     sale.ID,
		PerSession: make([]domain.SessionCost, 0),
	}

	for _, session := range sessions {
		if !session.IsActive() || session.SaleID != sale.ID {
			continue
		}
		quote, err := p.ProjectSession(session, now)
		if err != nil {
			return domain.SaleProjection{}, err
		}
		pricing := PricingOf(session)
		pricing.Duration = quote.Duration
		pricing.TotalCost = quote.Cost
		pricing.FinalAmount = quote.Cost
		pricing.Discount = nil
		if err := ApplySessionPricing(&projected, pricing); err != nil {
			return domain.SaleProjection{}, err
		}
		out.HasActiveSessions = true
		out.PerSession = append(out.PerSession, quote)
	}

	if !out.HasActiveSessions {
		if err := Recompute(&projected); err != nil {
			return domain.SaleProjection{}, err
		}
	}
	out.CurrentTotals = projected.Totals
	return out, nil
}
