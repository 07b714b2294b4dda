package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arcadepos/backend/internal/billing"
	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/logging"
	"arcadepos/backend/internal/metrics"
	"arcadepos/backend/internal/notify"
	"arcadepos/backend/internal/sequence"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const notifyTimeout = 2 * time.Second

type Service struct {
	repo         store.Repository
	sequences    *sequence.Generator
	notifier     notify.Notifier
	metrics      *metrics.Recorder
	policy       billing.Policy
	defaultRate  decimal.Decimal
	clock        func() time.Time
	log          zerolog.Logger
	sequenceZone *time.Location
	counter      sequence.Counter
}

type Option func(*Service)

// WithClock replaces time.Now. Tests use it to pin session durations.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithPolicy(policy billing.Policy) Option {
	return func(s *Service) { s.policy = policy }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCounter takes sequence numbers from counter instead of the repository.
func WithCounter(counter sequence.Counter) Option {
	return func(s *Service) { s.counter = counter }
}

func WithSequenceLocation(loc *time.Location) Option {
	return func(s *Service) { s.sequenceZone = loc }
}

// WithDefaultExchangeRate is used when the repository has no rate on record.
func WithDefaultExchangeRate(rate decimal.Decimal) Option {
	return func(s *Service) {
		if rate.IsPositive() {
			s.defaultRate = rate
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		defaultRate: decimal.NewFromInt(89500),
		clock:       time.Now,
		log:         logging.Component("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = repo
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{Logger: logging.Component("notify")}
	}
	s.sequences = sequence.NewGenerator(s.counter, s.sequenceZone).WithFloor(repo)
	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

// commit persists one change and counts rejected writes.
func (s *Service) commit(ctx context.Context, op string, change store.Change) error {
	if change.IsEmpty() {
		return nil
	}
	err := s.repo.Commit(ctx, change)
	if errors.Is(err, domain.ErrConflict) {
		s.metrics.Conflict(op)
	}
	return err
}

// commitNumbered builds a change that carries freshly minted sequence numbers
// and commits it. A sequence collision is retried once with new numbers.
func (s *Service) commitNumbered(ctx context.Context, op string, build func() (store.Change, error)) error {
	for attempt := 0; ; attempt++ {
		change, err := build()
		if err != nil {
			return err
		}
		err = s.commit(ctx, op, change)
		if err == nil {
			return nil
		}
		if attempt == 0 && errors.Is(err, domain.ErrSequenceCollision) {
			s.log.Warn().Err(err).Str("op", op).Msg("sequence collision, retrying with a new number")
			continue
		}
		return err
	}
}

func (s *Service) exchangeRate(ctx context.Context) (decimal.Decimal, error) {
	rate, err := s.repo.GetExchangeRate(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return s.defaultRate, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rate.Rate, nil
}

// releasePC returns the transition that frees pcID, or nothing when the PC is
// not currently marked occupied.
func (s *Service) releasePC(ctx context.Context, pcID string) (*domain.PC, []store.PCTransition, error) {
	pc, err := s.repo.GetPC(ctx, pcID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if pc.Status != domain.PCStatusOccupied {
		return pc, nil, nil
	}
	return pc, []store.PCTransition{{PCID: pc.ID, From: domain.PCStatusOccupied, To: domain.PCStatusAvailable}}, nil
}

// notifyPC is fire and forget. A failed send is logged and never undoes the
// transition that triggered it.
func (s *Service) notifyPC(ctx context.Context, eventType string, pcID string, sessionID string) {
	if s.notifier == nil || pcID == "" {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	err := s.notifier.Notify(nctx, notify.Event{
		Type:      eventType,
		PCID:      pcID,
		SessionID: sessionID,
		At:        s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("pc_id", pcID).Str("event", eventType).Msg("pc notification failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidInput)
		}
		from = parsed.UTC()
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func notFound(kind string, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return err
}
