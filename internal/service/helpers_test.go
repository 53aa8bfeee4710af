package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/repository"
	"powerbank-rental-backend/internal/repository/memory"
	"powerbank-rental-backend/internal/service"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	dispense func(ctx context.Context, station string, slot int32) (*device.DispenseResult, error)
}

func (g *fakeGateway) Dispense(ctx context.Context, station string, slot int32) (*device.DispenseResult, error) {
	g.mu.Lock()
	g.calls++
	fn := g.dispense
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, station, slot)
	}
	return &device.DispenseResult{CommandID: "cmd", Success: true}, nil
}

// flakyStore fails the listed WithinTx calls, counted from 1, before they
// reach the wrapped store.
type flakyStore struct {
	repository.Store
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.fail[n] {
		return errors.New("connection reset by peer")
	}
	return s.Store.WithinTx(ctx, fn)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(t domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *memory.Store
	ledger    service.LedgerService
	svc       service.RentalService
	clock     *fakeClock
	gateway   *fakeGateway
	events    *recordingPublisher
	station   domain.Station
	banks     []domain.PowerBank
	slots     []domain.Slot
	prepaid   domain.RentalPackage
	postpaid  domain.RentalPackage
	extension domain.RentalPackage
}

func testPolicy() service.RentalPolicy {
	p := service.DefaultPolicy()
	p.PointsPerUnit = 10
	p.LateRatePerHour = decimal.RequireFromString("25.00")
	p.DispenseTimeout = time.Second
	return p
}

// newFixture builds a rental service over an in-memory store with one online
// station holding the given number of charged banks.
func newFixture(t *testing.T, policy service.RentalPolicy, banks int) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:   store,
		clock:   &fakeClock{now: t0},
		gateway: &fakeGateway{},
		events:  &recordingPublisher{},
	}
	f.station = store.AddStation("ST-001", "Central Station", domain.StationStatusOnline)
	for i := 0; i < banks; i++ {
		pb, slot := store.AddPowerBank(f.station.ID, int32(i+1), fmt.Sprintf("PB-%03d", i+1), 90)
		f.banks = append(f.banks, pb)
		f.slots = append(f.slots, slot)
	}
	f.prepaid = store.AddPackage("1 hour", 60, decimal.RequireFromString("25.00"), domain.PaymentModelPrepaid)
	f.postpaid = store.AddPackage("Pay as you go", 60, decimal.RequireFromString("10.00"), domain.PaymentModelPostpaid)
	f.extension = store.AddPackage("30 minutes more", 30, decimal.RequireFromString("10.00"), domain.PaymentModelPrepaid)

	f.ledger = service.NewLedgerService(store, nil)
	f.svc = service.NewRentalService(store, f.ledger, service.NewReservationService(), f.gateway, f.events, policy,
		service.WithClock(f.clock.Now))
	return f
}

// useStore rebuilds the rental service over store, keeping everything else.
func (f *fixture) useStore(store repository.Store, policy service.RentalPolicy) {
	f.svc = service.NewRentalService(store, f.ledger, service.NewReservationService(), f.gateway, f.events, policy,
		service.WithClock(f.clock.Now))
}

func (f *fixture) topUp(t *testing.T, userID int32, amount string) {
	t.Helper()
	_, err := f.ledger.TopUp(context.Background(), userID, decimal.RequireFromString(amount), "test top-up")
	require.NoError(t, err)
}

func (f *fixture) givePoints(t *testing.T, userID int32, points int64) {
	t.Helper()
	ctx := context.Background()
	err := f.store.WithinTx(ctx, func(tx repository.Tx) error {
		_, _, err := f.ledger.AwardPoints(ctx, tx, userID, points, "welcome points", fmt.Sprintf("welcome:%d:%d", userID, points))
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int32) *domain.Balance {
	t.Helper()
	b, err := f.store.Balances().GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) rental(t *testing.T, id int32) *domain.Rental {
	t.Helper()
	rt, err := f.store.Rentals().GetByID(context.Background(), id)
	require.NoError(t, err)
	return rt
}

// onlyRental returns the user's single rental, whatever its status.
func (f *fixture) onlyRental(t *testing.T, userID int32) *domain.Rental {
	t.Helper()
	rentals, total, err := f.store.Rentals().ListByUser(context.Background(), userID, "", 1, 10)
	require.NoError(t, err)
	require.Equal(t, int32(1), total)
	return &rentals[0]
}

func (f *fixture) transactions(t *testing.T, rentalID int32, typ domain.TransactionType) []domain.Transaction {
	t.Helper()
	txs, err := f.store.Balances().ListTransactionsByRental(context.Background(), rentalID)
	require.NoError(t, err)
	var out []domain.Transaction
	for _, txn := range txs {
		if txn.Type == typ {
			out = append(out, txn)
		}
	}
	return out
}

func (f *fixture) returned(bank domain.PowerBank, slot int32, at time.Time) device.ReturnedEvent {
	return device.ReturnedEvent{
		PowerBankSerial: bank.SerialNumber,
		StationSerial:   f.station.SerialNumber,
		SlotNumber:      slot,
		BatteryLevel:    55,
		ObservedAt:      at,
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
