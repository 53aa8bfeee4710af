package http_test

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/pricing"
	"powerbank-rental-backend/internal/repository"
	"powerbank-rental-backend/internal/service"
)

// MockRentalService
type MockRentalService struct {
	mock.Mock
}

func rentalOrNil(args mock.Arguments) (*domain.Rental, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rental), args.Error(1)
}

func (m *MockRentalService) StartRental(ctx context.Context, userID, stationID, packageID int32) (*domain.Rental, error) {
	return rentalOrNil(m.Called(ctx, userID, stationID, packageID))
}
func (m *MockRentalService) ExtendRental(ctx context.Context, userID, rentalID, packageID int32) (*domain.Rental, error) {
	return rentalOrNil(m.Called(ctx, userID, rentalID, packageID))
}
func (m *MockRentalService) CancelRental(ctx context.Context, userID, rentalID int32, reason string) (*domain.Rental, error) {
	return rentalOrNil(m.Called(ctx, userID, rentalID, reason))
}
func (m *MockRentalService) HandleReturn(ctx context.Context, event device.ReturnedEvent) (*domain.Rental, error) {
	return rentalOrNil(m.Called(ctx, event))
}
func (m *MockRentalService) SettleDues(ctx context.Context, userID, rentalID int32) (*domain.Rental, error) {
	return rentalOrNil(m.Called(ctx, userID, rentalID))
}
func (m *MockRentalService) AccrueOverdue(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}
func (m *MockRentalService) SendDueReminder(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}
func (m *MockRentalService) SettleOutstanding(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}
func (m *MockRentalService) ExpirePending(ctx context.Context, rentalID int32) (bool, error) {
	args := m.Called(ctx, rentalID)
	return args.Bool(0), args.Error(1)
}
func (m *MockRentalService) GetRental(ctx context.Context, userID, rentalID int32) (*domain.Rental, []domain.RentalExtension, error) {
	args := m.Called(ctx, userID, rentalID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Rental), args.Get(1).([]domain.RentalExtension), args.Error(2)
}
func (m *MockRentalService) GetActiveRental(ctx context.Context, userID int32) (*domain.Rental, error) {
	return rentalOrNil(m.Called(ctx, userID))
}
func (m *MockRentalService) ListRentals(ctx context.Context, userID int32, status domain.RentalStatus, page, pageSize int32) ([]domain.Rental, int32, error) {
	args := m.Called(ctx, userID, status, page, pageSize)
	return args.Get(0).([]domain.Rental), args.Get(1).(int32), args.Error(2)
}

// MockLedgerService
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) AwardPoints(ctx context.Context, tx repository.Tx, userID int32, points int64, reason, key string) (*domain.Transaction, bool, error) {
	args := m.Called(ctx, tx, userID, points, reason, key)
	return args.Get(0).(*domain.Transaction), args.Bool(1), args.Error(2)
}
func (m *MockLedgerService) Execute(ctx context.Context, tx repository.Tx, userID int32, alloc pricing.Allocation, txType domain.TransactionType, ref service.Reference) (*domain.Transaction, error) {
	args := m.Called(ctx, tx, userID, alloc, txType, ref)
	return args.Get(0).(*domain.Transaction), args.Error(1)
}
func (m *MockLedgerService) Refund(ctx context.Context, tx repository.Tx, userID int32, amount domain.Components, ref service.Reference) (*domain.Transaction, error) {
	args := m.Called(ctx, tx, userID, amount, ref)
	return args.Get(0).(*domain.Transaction), args.Error(1)
}
func (m *MockLedgerService) TopUp(ctx context.Context, userID int32, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	args := m.Called(ctx, userID, amount, description)
	return args.Get(0).(*domain.Transaction), args.Error(1)
}
func (m *MockLedgerService) GetBalance(ctx context.Context, userID int32) (*domain.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Balance), args.Error(1)
}
func (m *MockLedgerService) GetTransactions(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Transaction, int32, error) {
	args := m.Called(ctx, userID, page, pageSize)
	return args.Get(0).([]domain.Transaction), args.Get(1).(int32), args.Error(2)
}
func (m *MockLedgerService) VerifyBalance(ctx context.Context, balance domain.Balance) error {
	return m.Called(ctx, balance).Error(0)
}

// MockCatalogService
type MockCatalogService struct {
	mock.Mock
}

func (m *MockCatalogService) ListPackages(ctx context.Context) ([]domain.RentalPackage, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.RentalPackage), args.Error(1)
}
func (m *MockCatalogService) StationAvailability(ctx context.Context, stationID int32) (*domain.Station, int32, error) {
	args := m.Called(ctx, stationID)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*domain.Station), args.Get(1).(int32), args.Error(2)
}

// MockNotificationService
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) GetNotifications(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Notification, int32, error) {
	args := m.Called(ctx, userID, page, pageSize)
	return args.Get(0).([]domain.Notification), args.Get(1).(int32), args.Error(2)
}
func (m *MockNotificationService) MarkAsRead(ctx context.Context, userID, notificationID int32) error {
	return m.Called(ctx, userID, notificationID).Error(0)
}
