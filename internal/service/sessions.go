package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arcadepos/backend/internal/billing"
	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/notify"
	"arcadepos/backend/internal/sequence"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/xid"
)

// StartSession locks a PC to a customer and opens a zero priced session line
// on a new or existing pending sale.
func (s *Service) StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.GamingSession, error) {
	pcID := strings.TrimSpace(req.PCID)
	if pcID == "" {
		return domain.GamingSession{}, fmt.Errorf("%w: pc id is required", domain.ErrInvalidInput)
	}

	pc, err := s.repo.GetPC(ctx, pcID)
	if err != nil {
		return domain.GamingSession{}, notFound("pc", pcID, err)
	}
	if !pc.IsActive || pc.Status == domain.PCStatusMaintenance {
		return domain.GamingSession{}, fmt.Errorf("%w: pc %s is not in service", domain.ErrInvalidState, pc.PCNumber)
	}
	if pc.Status != domain.PCStatusAvailable {
		return domain.GamingSession{}, fmt.Errorf("%w: pc %s is %s", domain.ErrInvalidState, pc.PCNumber, pc.Status)
	}
	if active, err := s.repo.GetActiveSessionByPC(ctx, pc.ID); err == nil {
		return domain.GamingSession{}, fmt.Errorf("%w: pc %s already runs session %s", domain.ErrInvalidState, pc.PCNumber, active.SessionNumber)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.GamingSession{}, err
	}

	customerRef := domain.Ref[domain.Customer]{}
	customerName := strings.TrimSpace(req.CustomerName)
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		customer, err := s.repo.GetCustomer(ctx, id)
		if err != nil {
			return domain.GamingSession{}, notFound("customer", id, err)
		}
		customerRef = domain.ResolvedRef(customer.ID, *customer)
		if customerName == "" {
			customerName = customer.Name
		}
	}
	if customerName == "" {
		customerName = domain.WalkInCustomerName
	}

	var existing *domain.Sale
	if id := strings.TrimSpace(req.ExistingSaleID); id != "" {
		existing, err = s.repo.GetSale(ctx, id)
		if err != nil {
			return domain.GamingSession{}, notFound("sale", id, err)
		}
		if existing.Status != domain.SaleStatusPending {
			return domain.GamingSession{}, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, existing.InvoiceNumber, existing.Status)
		}
	}

	now := s.now()
	actor := actorName(ctx)
	var session domain.GamingSession
	var sale domain.Sale

	err = s.commitNumbered(ctx, "start_session", func() (store.Change, error) {
		number, err := s.sequences.Next(ctx, sequence.KindSession, now)
		if err != nil {
			return store.Change{}, err
		}
		session = domain.GamingSession{
			ID:            xid.New("gs"),
			SessionNumber: number,
			PC:            domain.ResolvedRef(pc.ID, *pc),
			Customer:      customerRef,
			CustomerName:  customerName,
			StartTime:     now,
			HourlyRate:    pc.HourlyRate,
			TotalCost:     domain.ZeroMoney(),
			FinalAmount:   domain.ZeroMoney(),
			Status:        domain.SessionStatusActive,
			PaymentStatus: domain.PaymentStatusUnpaid,
			StartedBy:     actor,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		}

		change := store.Change{
			PCTransitions: []store.PCTransition{{PCID: pc.ID, From: domain.PCStatusAvailable, To: domain.PCStatusOccupied}},
		}
		if existing != nil {
			sale = existing.Clone()
			sale.Version++
			sale.UpdatedAt = now
			change.UpdatedSale = &sale
		} else {
			invoice, err := s.sequences.Next(ctx, sequence.KindInvoice, now)
			if err != nil {
				return store.Change{}, err
			}
			sale = domain.Sale{
				ID:            xid.New("sale"),
				InvoiceNumber: invoice,
				Customer:      customerRef,
				Items:         make([]domain.SaleItem, 0, 1),
				AmountPaid:    domain.ZeroMoney(),
				Status:        domain.SaleStatusPending,
				CashierID:     actor,
				CreatedAt:     now,
				UpdatedAt:     now,
				Version:       1,
			}
			change.NewSale = &sale
		}
		if err := billing.AddSessionPlaceholder(&sale, session, pc.PCNumber); err != nil {
			return store.Change{}, err
		}

		session.SaleID = sale.ID
		change.NewSessions = []domain.GamingSession{session}
		return change, nil
	})
	if err != nil {
		return domain.GamingSession{}, err
	}

	s.metrics.SessionTransition(domain.SessionStatusActive, -1)
	s.logAudit(ctx, "session_start", "gaming_session", session.ID,
		fmt.Sprintf("number=%s,pc=%s,sale=%s,rate=%s", session.SessionNumber, pc.PCNumber, sale.InvoiceNumber, session.HourlyRate))
	s.notifyPC(ctx, notify.EventUnlock, pc.ID, session.ID)

	return session, nil
}

// EndSession finalizes an active session, optionally with a gaming session
// discount, frees its PC and writes the final pricing into the linked sale.
func (s *Service) EndSession(ctx context.Context, sessionID string, req domain.EndSessionRequest) (domain.GamingSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return domain.GamingSession{}, err
	}
	if !session.IsActive() {
		return domain.GamingSession{}, fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, session.SessionNumber, session.Status)
	}

	var applied *domain.Discount
	if id := strings.TrimSpace(req.DiscountID); id != "" {
		applied, err = s.repo.GetDiscount(ctx, id)
		if err != nil {
			return domain.GamingSession{}, notFound("discount", id, err)
		}
	}

	sale, err := s.repo.GetSale(ctx, session.SaleID)
	if err != nil {
		return domain.GamingSession{}, notFound("sale", session.SaleID, err)
	}
	if sale.Status != domain.SaleStatusPending {
		return domain.GamingSession{}, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, sale.InvoiceNumber, sale.Status)
	}

	pc, transitions, err := s.releasePC(ctx, session.PC.ID())
	if err != nil {
		return domain.GamingSession{}, err
	}
	if pc != nil {
		session.PC = domain.ResolvedRef(pc.ID, *pc)
	}

	now := s.now()
	finalized, pricing, err := s.policy.Finalize(session, now, applied)
	if err != nil {
		return domain.GamingSession{}, err
	}
	finalized.EndedBy = actorName(ctx)
	finalized.Version = session.Version + 1

	updated := sale.Clone()
	dropped, err := s.revalidateSaleDiscount(ctx, &updated, now)
	if err != nil {
		return domain.GamingSession{}, err
	}
	if err := billing.ApplySessionPricing(&updated, pricing); err != nil {
		return domain.GamingSession{}, err
	}
	updated.Version++
	updated.UpdatedAt = now

	err = s.commit(ctx, "end_session", store.Change{
		UpdatedSessions: []domain.GamingSession{finalized},
		UpdatedSale:     &updated,
		PCTransitions:   transitions,
	})
	if err != nil {
		return domain.GamingSession{}, err
	}
	s.auditDroppedDiscount(ctx, updated, dropped)

	s.metrics.SessionTransition(domain.SessionStatusCompleted, finalized.Duration)
	s.logAudit(ctx, "session_end", "gaming_session", finalized.ID,
		fmt.Sprintf("number=%s,minutes=%d,total=%s,final=%s,discount=%s", finalized.SessionNumber, finalized.Duration, finalized.TotalCost, finalized.FinalAmount, strings.TrimSpace(req.DiscountID)))
	s.notifyPC(ctx, notify.EventLock, finalized.PC.ID(), finalized.ID)

	return finalized, nil
}

// CancelSession aborts an active session without charge. Its sale line is
// removed and a pending sale left empty is cancelled with it.
func (s *Service) CancelSession(ctx context.Context, sessionID string) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, session.SessionNumber, session.Status)
	}

	sale, err := s.repo.GetSale(ctx, session.SaleID)
	if err != nil {
		return notFound("sale", session.SaleID, err)
	}
	if sale.Status != domain.SaleStatusPending {
		return fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, sale.InvoiceNumber, sale.Status)
	}

	_, transitions, err := s.releasePC(ctx, session.PC.ID())
	if err != nil {
		return err
	}

	now := s.now()
	cancelled := session.Clone()
	cancelled.Status = domain.SessionStatusCancelled
	cancelled.EndTime = &now
	cancelled.Duration = billing.ElapsedMinutes(session.StartTime, now)
	cancelled.TotalCost = domain.ZeroMoney()
	cancelled.FinalAmount = domain.ZeroMoney()
	cancelled.Discount = nil
	cancelled.EndedBy = actorName(ctx)
	cancelled.UpdatedAt = now
	cancelled.Version = session.Version + 1

	updated := sale.Clone()
	if _, err := billing.RemoveSessionItem(&updated, session.ID, session.SessionNumber); err != nil {
		return err
	}
	if len(updated.Items) == 0 {
		updated.Status = domain.SaleStatusCancelled
	}
	updated.Version++
	updated.UpdatedAt = now

	err = s.commit(ctx, "cancel_session", store.Change{
		UpdatedSessions: []domain.GamingSession{cancelled},
		UpdatedSale:     &updated,
		PCTransitions:   transitions,
	})
	if err != nil {
		return err
	}

	s.metrics.SessionTransition(domain.SessionStatusCancelled, -1)
	if updated.Status == domain.SaleStatusCancelled {
		s.metrics.SaleTransition(domain.SaleStatusCancelled)
	}
	s.logAudit(ctx, "session_cancel", "gaming_session", cancelled.ID,
		fmt.Sprintf("number=%s,sale=%s,sale_status=%s", cancelled.SessionNumber, updated.InvoiceNumber, updated.Status))
	s.notifyPC(ctx, notify.EventLock, cancelled.PC.ID(), cancelled.ID)
	return nil
}

// ProjectSessionCost quotes an active session as of now. It writes nothing.
func (s *Service) ProjectSessionCost(ctx context.Context, sessionID string) (domain.SessionCost, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return domain.SessionCost{}, err
	}
	return s.policy.ProjectSession(session, s.now())
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.GamingSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return domain.GamingSession{}, err
	}
	pcs, err := s.pcIndex(ctx)
	if err != nil {
		return domain.GamingSession{}, err
	}
	resolveSessionRefs(&session, pcs)
	if id := session.Customer.ID(); id != "" {
		if customer, err := s.repo.GetCustomer(ctx, id); err == nil {
			session.Customer = domain.ResolvedRef(customer.ID, *customer)
		}
	}
	return session, nil
}

func (s *Service) ListActiveSessions(ctx context.Context) ([]domain.GamingSession, error) {
	return s.ListSessions(ctx, store.SessionFilter{Status: domain.SessionStatusActive})
}

func (s *Service) ListSessions(ctx context.Context, filter store.SessionFilter) ([]domain.GamingSession, error) {
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "", domain.SessionStatusActive, domain.SessionStatusCompleted, domain.SessionStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown session status %q", domain.ErrInvalidInput, filter.Status)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	sessions, err := s.repo.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	pcs, err := s.pcIndex(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		resolveSessionRefs(&sessions[i], pcs)
	}
	return sessions, nil
}

func (s *Service) getSession(ctx context.Context, sessionID string) (domain.GamingSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.GamingSession{}, fmt.Errorf("%w: session id is required", domain.ErrInvalidInput)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GamingSession{}, notFound("session", sessionID, err)
	}
	return *session, nil
}

func (s *Service) pcIndex(ctx context.Context) (map[string]domain.PC, error) {
	pcs, err := s.repo.ListPCs(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]domain.PC, len(pcs))
	for _, pc := range pcs {
		index[pc.ID] = pc
	}
	return index, nil
}

func resolveSessionRefs(session *domain.GamingSession, pcs map[string]domain.PC) {
	if pc, ok := pcs[session.PC.ID()]; ok {
		session.PC = domain.ResolvedRef(pc.ID, pc)
	}
}
