package service

import (
	"context"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/pricing"
	"powerbank-rental-backend/internal/repository"
)

type RentalService interface {
	StartRental(ctx context.Context, userID, stationID, packageID int32) (*domain.Rental, error)
	ExtendRental(ctx context.Context, userID, rentalID, packageID int32) (*domain.Rental, error)
	CancelRental(ctx context.Context, userID, rentalID int32, reason string) (*domain.Rental, error)
	HandleReturn(ctx context.Context, event device.ReturnedEvent) (*domain.Rental, error)
	SettleDues(ctx context.Context, userID, rentalID int32) (*domain.Rental, error)

	// Sweep entry points. Each locks and revalidates one rental; a rental that
	// no longer qualifies is left untouched and reported as not changed.
	AccrueOverdue(ctx context.Context, rentalID int32) (bool, error)
	SendDueReminder(ctx context.Context, rentalID int32) (bool, error)
	SettleOutstanding(ctx context.Context, rentalID int32) (bool, error)
	ExpirePending(ctx context.Context, rentalID int32) (bool, error)

	GetRental(ctx context.Context, userID, rentalID int32) (*domain.Rental, []domain.RentalExtension, error)
	GetActiveRental(ctx context.Context, userID int32) (*domain.Rental, error)
	ListRentals(ctx context.Context, userID int32, status domain.RentalStatus, page, pageSize int32) ([]domain.Rental, int32, error)
}

// Reference ties a ledger entry to what caused it.
type Reference struct {
	RentalID    int32
	Description string
}

// PointsAwarder credits bonus points exactly once per idempotency key.
type PointsAwarder interface {
	AwardPoints(ctx context.Context, tx repository.Tx, userID int32, points int64, reason, idempotencyKey string) (*domain.Transaction, bool, error)
}

// LedgerService is the only writer of balances. The in-transaction methods
// expect the caller to hold the user's balance lock through tx.
type LedgerService interface {
	PointsAwarder
	Execute(ctx context.Context, tx repository.Tx, userID int32, alloc pricing.Allocation, txType domain.TransactionType, ref Reference) (*domain.Transaction, error)
	Refund(ctx context.Context, tx repository.Tx, userID int32, amount domain.Components, ref Reference) (*domain.Transaction, error)
	TopUp(ctx context.Context, userID int32, amount decimal.Decimal, description string) (*domain.Transaction, error)

	GetBalance(ctx context.Context, userID int32) (*domain.Balance, error)
	GetTransactions(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Transaction, int32, error)
	// VerifyBalance compares the balance row with the newest transaction's
	// after-values.
	VerifyBalance(ctx context.Context, balance domain.Balance) error
}

// ReservationService moves hardware between states inside the caller's
// transaction.
type ReservationService interface {
	ReserveForPickup(ctx context.Context, tx repository.Tx, stationID, minBattery int32) (*domain.PowerBank, *domain.Slot, error)
	AttachRental(ctx context.Context, tx repository.Tx, slot *domain.Slot, rentalID int32) error
	HandOver(ctx context.Context, tx repository.Tx, powerBankID, slotID, rentalID int32) error
	ReleaseAndOccupy(ctx context.Context, tx repository.Tx, rentalID int32, pb *domain.PowerBank, originSlotID, destStationID, destSlotNumber, battery int32) (*domain.Slot, error)
	ReleaseReserved(ctx context.Context, tx repository.Tx, powerBankID, slotID int32) error
	MarkTaken(ctx context.Context, tx repository.Tx, powerBankID, slotID int32) error
}

type CatalogService interface {
	ListPackages(ctx context.Context) ([]domain.RentalPackage, error)
	StationAvailability(ctx context.Context, stationID int32) (*domain.Station, int32, error)
}

type NotificationService interface {
	GetNotifications(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, userID, notificationID int32) error
}

// EventPublisher hands domain events to the notification collaborator.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
