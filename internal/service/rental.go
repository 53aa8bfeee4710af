package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/pricing"
	"powerbank-rental-backend/internal/repository"
)

type rentalService struct {
	store       repository.Store
	ledger      LedgerService
	reservation ReservationService
	gateway     device.Gateway
	publisher   EventPublisher
	metrics     *metrics.Metrics
	policy      RentalPolicy
	now         func() time.Time
}

type Option func(*rentalService)

// WithClock replaces the wall clock used for rental timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *rentalService) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *rentalService) { s.metrics = m }
}

func NewRentalService(
	store repository.Store,
	ledger LedgerService,
	reservation ReservationService,
	gateway device.Gateway,
	publisher EventPublisher,
	policy RentalPolicy,
	opts ...Option,
) RentalService {
	s := &rentalService{
		store:       store,
		ledger:      ledger,
		reservation: reservation,
		gateway:     gateway,
		publisher:   publisher,
		policy:      policy,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// request carries the inputs of one transition.
type request struct {
	transition domain.Transition
	userID     int32
	rentalID   int32
	stationID  int32
	packageID  int32
	reason     string
	returned   *device.ReturnedEvent
	system     bool
}

// outcome is what a transition produced. Events are only added once the
// transaction that justifies them has committed.
type outcome struct {
	rental  *domain.Rental
	changed bool
	events  []domain.Event
}

// fire is the single dispatch point of the state machine.
func (s *rentalService) fire(ctx context.Context, req request) (outcome, error) {
	var out outcome
	var err error
	switch req.transition {
	case domain.TransitionStart:
		out, err = s.start(ctx, req)
	case domain.TransitionExtend:
		out, err = s.extend(ctx, req)
	case domain.TransitionCancel:
		out, err = s.cancel(ctx, req)
	case domain.TransitionReturn:
		out, err = s.handleReturn(ctx, req)
	case domain.TransitionSettleDues:
		out, err = s.settleDues(ctx, req)
	case domain.TransitionAccrueOverdue:
		out, err = s.accrueOverdue(ctx, req)
	case domain.TransitionExpirePending:
		out, err = s.expirePending(ctx, req)
	default:
		err = domain.NewValidationError("rentalService.fire", "unknown transition %q", req.transition)
	}

	s.metrics.RecordTransition(string(req.transition), outcomeLabel(err, out.changed))
	if errors.Is(err, domain.ErrInternalInconsistency) {
		logger.Error("Rental transition hit an inconsistency", "transition", req.transition, "rentalID", req.rentalID, "error", err)
	}
	s.publish(ctx, out.events)
	return out, err
}

func outcomeLabel(err error, changed bool) string {
	switch {
	case err == nil && changed:
		return "ok"
	case err == nil:
		return "noop"
	case errors.Is(err, domain.ErrInternalInconsistency):
		return "inconsistency"
	case errors.Is(err, domain.ErrDeviceFailure):
		return "device_failure"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	}
	return "error"
}

func (s *rentalService) StartRental(ctx context.Context, userID, stationID, packageID int32) (*domain.Rental, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionStart, userID: userID, stationID: stationID, packageID: packageID})
	if err != nil {
		return nil, err
	}
	return out.rental, nil
}

func (s *rentalService) ExtendRental(ctx context.Context, userID, rentalID, packageID int32) (*domain.Rental, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionExtend, userID: userID, rentalID: rentalID, packageID: packageID})
	if err != nil {
		return nil, err
	}
	return out.rental, nil
}

func (s *rentalService) CancelRental(ctx context.Context, userID, rentalID int32, reason string) (*domain.Rental, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionCancel, userID: userID, rentalID: rentalID, reason: reason})
	if err != nil {
		return nil, err
	}
	return out.rental, nil
}

// HandleReturn applies a hardware return event. Re-delivered events succeed
// without effect. The rental is nil when the bank had never been rented.
func (s *rentalService) HandleReturn(ctx context.Context, event device.ReturnedEvent) (*domain.Rental, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionReturn, returned: &event})
	if err != nil {
		return nil, err
	}
	return out.rental, nil
}

func (s *rentalService) SettleDues(ctx context.Context, userID, rentalID int32) (*domain.Rental, error) {
	out, err := s.fire(ctx, request{transition: domain.TransitionSettleDues, userID: userID, rentalID: rentalID})
	if err != nil {
		return nil, err
	}
	return out.rental, nil
}

func (s *rentalService) GetRental(ctx context.Context, userID, rentalID int32) (*domain.Rental, []domain.RentalExtension, error) {
	rt, err := s.store.Rentals().GetByID(ctx, rentalID)
	if err != nil {
		return nil, nil, err
	}
	if rt.UserID != userID {
		return nil, nil, domain.NewNotFoundError("rentalService.GetRental", "rental", rentalID)
	}
	exts, err := s.store.Rentals().ListExtensions(ctx, rentalID)
	if err != nil {
		return nil, nil, err
	}
	return rt, exts, nil
}

func (s *rentalService) GetActiveRental(ctx context.Context, userID int32) (*domain.Rental, error) {
	rt, err := s.store.Rentals().FindOpenByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, domain.NewNotFoundError("rentalService.GetActiveRental", "active rental for user", userID)
	}
	return rt, nil
}

func (s *rentalService) ListRentals(ctx context.Context, userID int32, status domain.RentalStatus, page, pageSize int32) ([]domain.Rental, int32, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.store.Rentals().ListByUser(ctx, userID, status, page, pageSize)
}

func normalizePage(page, pageSize int32) (int32, int32) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// collect takes amount from the rental's user for the given scenario. Only
// scenarios that allow partial application accept a short balance; the rest
// fail with the shortfall and take nothing.
func (s *rentalService) collect(ctx context.Context, tx repository.Tx, rt *domain.Rental, scenario domain.PaymentScenario,
	amount decimal.Decimal, description string) (pricing.Allocation, *domain.Transaction, error) {

	balance, err := tx.Balances().LockBalance(ctx, rt.UserID)
	if err != nil {
		return pricing.Allocation{}, nil, err
	}
	alloc := pricing.Allocate(amount, balance.Points, balance.Wallet, s.policy.PointsPerUnit)
	if alloc.IsShort() && !scenario.AllowsPartial() {
		return alloc, nil, domain.NewInsufficientBalanceError("rentalService.collect", alloc.Shortfall)
	}
	if alloc.Components().IsZero() {
		return alloc, nil, nil
	}
	txn, err := s.ledger.Execute(ctx, tx, rt.UserID, alloc, scenario.TransactionType(),
		Reference{RentalID: rt.ID, Description: description})
	if err != nil {
		return alloc, nil, err
	}
	rt.AmountPaid = rt.AmountPaid.Add(alloc.Covered())
	return alloc, txn, nil
}

// refundAll gives back everything still charged for the rental.
func (s *rentalService) refundAll(ctx context.Context, tx repository.Tx, rt *domain.Rental, description string) (domain.Components, error) {
	txs, err := tx.Balances().ListTransactionsByRental(ctx, rt.ID)
	if err != nil {
		return domain.Components{}, err
	}
	net := domain.NetCharged(txs)
	if net.IsZero() {
		return net, nil
	}
	if _, err := s.ledger.Refund(ctx, tx, rt.UserID, net, Reference{RentalID: rt.ID, Description: description}); err != nil {
		return domain.Components{}, err
	}
	rt.AmountPaid = decimal.Zero
	return net, nil
}

// awardBonuses grants the completion and on-time bonuses a fully paid rental
// is entitled to. Flags are set even if the key had been used before.
func (s *rentalService) awardBonuses(ctx context.Context, tx repository.Tx, rt *domain.Rental) ([]domain.Event, error) {
	var earned int64
	if s.policy.CompletionBonus > 0 && !rt.CompletionBonusAwarded {
		_, awarded, err := s.ledger.AwardPoints(ctx, tx, rt.UserID, s.policy.CompletionBonus, "Rental completion bonus", BonusKey(rt.ID, "completion"))
		if err != nil {
			return nil, err
		}
		rt.CompletionBonusAwarded = true
		if awarded {
			earned += s.policy.CompletionBonus
		}
	}
	if s.policy.OnTimeBonus > 0 && rt.IsReturnedOnTime && !rt.TimelyReturnBonusAwarded {
		_, awarded, err := s.ledger.AwardPoints(ctx, tx, rt.UserID, s.policy.OnTimeBonus, "On-time return bonus", BonusKey(rt.ID, "on_time"))
		if err != nil {
			return nil, err
		}
		rt.TimelyReturnBonusAwarded = true
		if awarded {
			earned += s.policy.OnTimeBonus
		}
	}
	if earned == 0 {
		return nil, nil
	}
	ev := s.event(domain.EventPointsEarned, rt, decimal.Zero)
	ev.Points = earned
	return []domain.Event{ev}, nil
}

// dueAt is when late charges start for a rental activated at start.
func (s *rentalService) dueAt(rt *domain.Rental, start time.Time) *time.Time {
	var due time.Time
	switch rt.PaymentModel {
	case domain.PaymentModelPostpaid:
		if s.policy.PostpaidMaxMinutes <= 0 {
			return nil
		}
		due = start.Add(time.Duration(s.policy.PostpaidMaxMinutes) * time.Minute)
	default:
		due = start.Add(time.Duration(rt.IncludedMinutes()) * time.Minute)
	}
	return &due
}

// chargeAt prices the rental as if it were returned at t.
func (s *rentalService) chargeAt(rt *domain.Rental, t time.Time) pricing.Charge {
	terms := pricing.TermsFor(rt, s.policy.PostpaidMaxMinutes)
	return pricing.ComputeCharge(terms, pricing.ElapsedMinutes(*rt.StartedAt, t), s.policy.LateRatePerHour)
}

func (s *rentalService) event(t domain.EventType, rt *domain.Rental, amount decimal.Decimal) domain.Event {
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     rt.UserID,
		RentalID:   rt.ID,
		Amount:     amount,
		DueAt:      rt.DueAt,
		OccurredAt: s.now(),
	}
}

// publish delivers events best-effort; a failed delivery never undoes a
// committed transition.
func (s *rentalService) publish(ctx context.Context, events []domain.Event) {
	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		err := s.publisher.Publish(context.WithoutCancel(ctx), ev)
		s.metrics.RecordEvent(string(ev.Type), err)
		if err != nil {
			logger.Warn("Failed to publish event", "type", ev.Type, "rentalID", ev.RentalID, "error", err)
		}
	}
}
