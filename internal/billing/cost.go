// Package billing turns session time into money and keeps sale totals
// consistent with the session and product lines they carry.
package billing

import (
	"fmt"
	"time"

	"arcadepos/backend/internal/discount"
	"arcadepos/backend/internal/domain"

	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

// Policy holds the billing knobs. The zero value bills exactly the elapsed
// minutes, so a session ended at its start instant costs nothing.
type Policy struct {
	MinBillableMinutes int64
}

// ElapsedMinutes rounds any partial minute up. Zero or negative elapsed time
// is zero minutes.
func ElapsedMinutes(start time.Time, now time.Time) int64 {
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	minutes := int64(elapsed / time.Minute)
	if elapsed%time.Minute != 0 {
		minutes++
	}
	return minutes
}

func (p Policy) BillableMinutes(start time.Time, now time.Time) int64 {
	minutes := ElapsedMinutes(start, now)
	if p.MinBillableMinutes > 0 && minutes < p.MinBillableMinutes {
		return p.MinBillableMinutes
	}
	return minutes
}

// CostForMinutes is rate × minutes / 60 with one rounding step per currency.
func CostForMinutes(rate domain.Money, minutes int64) (domain.Money, error) {
	if minutes < 0 {
		return domain.Money{}, fmt.Errorf("%w: negative duration", domain.ErrInvalidInput)
	}
	return rate.ScaleRatio(decimal.NewFromInt(minutes), minutesPerHour)
}

// ElapsedCost is the single formula shared by finalization and projection.
func (p Policy) ElapsedCost(session domain.GamingSession, now time.Time) (int64, domain.Money, error) {
	minutes := p.BillableMinutes(session.StartTime, now)
	cost, err := CostForMinutes(session.HourlyRate, minutes)
	if err != nil {
		return 0, domain.Money{}, err
	}
	return minutes, cost, nil
}

// SessionPricing is what a session hands to its sale once its cost is fixed.
type SessionPricing struct {
	SessionID     string
	SessionNumber string
	PCNumber      string
	Duration      int64
	TotalCost     domain.Money
	Discount      *domain.AppliedDiscount
	FinalAmount   domain.Money
}

func PricingOf(session domain.GamingSession) SessionPricing {
	pricing := SessionPricing{
		SessionID:     session.ID,
		SessionNumber: session.SessionNumber,
		Duration:      session.Duration,
		TotalCost:     session.TotalCost,
		FinalAmount:   session.FinalAmount,
	}
	if pc, ok := session.PC.Resolved(); ok {
		pricing.PCNumber = pc.PCNumber
	}
	if session.Discount != nil {
		applied := *session.Discount
		pricing.Discount = &applied
	}
	return pricing
}

// Finalize fixes the cost of an active session at end and optionally applies
// a gaming-session discount. The input is not modified.
func (p Policy) Finalize(session domain.GamingSession, end time.Time, d *domain.Discount) (domain.GamingSession, SessionPricing, error) {
	if !session.IsActive() {
		return domain.GamingSession{}, SessionPricing{}, fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, session.SessionNumber, session.Status)
	}

	minutes, cost, err := p.ElapsedCost(session, end)
	if err != nil {
		return domain.GamingSession{}, SessionPricing{}, err
	}

	out := session.Clone()
	out.EndTime = &end
	out.Duration = minutes
	out.TotalCost = cost
	out.Status = domain.SessionStatusCompleted
	out.UpdatedAt = end

	out, err = applySessionDiscount(out, d, end)
	if err != nil {
		return domain.GamingSession{}, SessionPricing{}, err
	}
	return out, PricingOf(out), nil
}

// Reprice replaces the discount on an already completed session and
// recomputes its final amount from the fixed total cost.
func Reprice(session domain.GamingSession, d *domain.Discount, now time.Time) (domain.GamingSession, SessionPricing, error) {
	if session.Status != domain.SessionStatusCompleted {
		return domain.GamingSession{}, SessionPricing{}, fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, session.SessionNumber, session.Status)
	}
	if session.PaymentStatus == domain.PaymentStatusPaid {
		return domain.GamingSession{}, SessionPricing{}, fmt.Errorf("%w: session %s is already paid", domain.ErrInvalidState, session.SessionNumber)
	}
	out, err := applySessionDiscount(session.Clone(), d, now)
	if err != nil {
		return domain.GamingSession{}, SessionPricing{}, err
	}
	out.UpdatedAt = now
	return out, PricingOf(out), nil
}

func applySessionDiscount(session domain.GamingSession, d *domain.Discount, now time.Time) (domain.GamingSession, error) {
	session.Discount = nil
	session.FinalAmount = session.TotalCost
	if d == nil {
		return session, nil
	}

	applied, err := discount.Apply(*d, discount.SessionTarget(), session.TotalCost, now)
	if err != nil {
		return domain.GamingSession{}, err
	}
	final, err := session.TotalCost.Sub(applied.Amount)
	if err != nil {
		return domain.GamingSession{}, err
	}
	session.Discount = &applied
	session.FinalAmount = final
	return session, nil
}
