package repository

import (
	"context"
	"errors"
	"time"

	"powerbank-rental-backend/internal/domain"
)

// ErrDuplicateKey is returned when an insert hits a unique constraint that is
// not otherwise classified.
var ErrDuplicateKey = errors.New("duplicate key")

// Lookups that find nothing return an error matching domain.ErrNotFound.
// Methods documented as "nil when none" return (nil, nil) instead.

type RentalRepository interface {
	// Create inserts a rental. A second open rental for the same user fails
	// with domain.ErrActiveRentalExists.
	Create(ctx context.Context, rental *domain.Rental) error
	GetByID(ctx context.Context, id int32) (*domain.Rental, error)
	LockByID(ctx context.Context, id int32) (*domain.Rental, error)
	// LockActiveByPowerBank locks the ACTIVE rental holding the bank, nil when none.
	LockActiveByPowerBank(ctx context.Context, powerBankID int32) (*domain.Rental, error)
	// LatestByPowerBank returns the most recent rental of the bank, nil when none.
	LatestByPowerBank(ctx context.Context, powerBankID int32) (*domain.Rental, error)
	// FindOpenByUser returns the user's PENDING or ACTIVE rental, nil when none.
	FindOpenByUser(ctx context.Context, userID int32) (*domain.Rental, error)
	Update(ctx context.Context, rental *domain.Rental) error
	ListByUser(ctx context.Context, userID int32, status domain.RentalStatus, page, pageSize int32) ([]domain.Rental, int32, error)

	// Sweep candidates, read without locks and paged by id: each call returns
	// up to limit rentals with id > afterID in ascending id order.
	ListOverdue(ctx context.Context, now time.Time, afterID, limit int32) ([]domain.Rental, error)
	ListDueSoon(ctx context.Context, now, until time.Time, afterID, limit int32) ([]domain.Rental, error)
	ListOutstanding(ctx context.Context, afterID, limit int32) ([]domain.Rental, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, afterID, limit int32) ([]domain.Rental, error)

	AddExtension(ctx context.Context, ext *domain.RentalExtension) error
	ListExtensions(ctx context.Context, rentalID int32) ([]domain.RentalExtension, error)
}

type InventoryRepository interface {
	GetStation(ctx context.Context, id int32) (*domain.Station, error)
	GetStationBySerial(ctx context.Context, serial string) (*domain.Station, error)
	// LockAvailablePair locks one AVAILABLE bank with at least minBattery that is
	// docked in an AVAILABLE slot of the station, skipping rows other
	// transactions hold. Nil when none.
	LockAvailablePair(ctx context.Context, stationID, minBattery int32) (*domain.PowerBank, *domain.Slot, error)
	LockPowerBank(ctx context.Context, id int32) (*domain.PowerBank, error)
	LockPowerBankBySerial(ctx context.Context, serial string) (*domain.PowerBank, error)
	LockSlot(ctx context.Context, id int32) (*domain.Slot, error)
	LockSlotByNumber(ctx context.Context, stationID, slotNumber int32) (*domain.Slot, error)
	UpdatePowerBank(ctx context.Context, pb *domain.PowerBank) error
	UpdateSlot(ctx context.Context, slot *domain.Slot) error
	CountAvailable(ctx context.Context, stationID, minBattery int32) (int32, error)
}

type BalanceRepository interface {
	// GetBalance returns a zero balance for users that never had one.
	GetBalance(ctx context.Context, userID int32) (*domain.Balance, error)
	// LockBalance creates the row if missing and locks it.
	LockBalance(ctx context.Context, userID int32) (*domain.Balance, error)
	UpdateBalance(ctx context.Context, balance *domain.Balance) error
	ListBalances(ctx context.Context, afterUserID, limit int32) ([]domain.Balance, error)

	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	// FindTransactionByKey returns the transaction with the idempotency key, nil when none.
	FindTransactionByKey(ctx context.Context, key string) (*domain.Transaction, error)
	ListTransactionsByRental(ctx context.Context, rentalID int32) ([]domain.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Transaction, int32, error)
	// LatestTransaction returns the user's newest transaction, nil when none.
	LatestTransaction(ctx context.Context, userID int32) (*domain.Transaction, error)
}

type PackageRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.RentalPackage, error)
	ListActive(ctx context.Context) ([]domain.RentalPackage, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, note *domain.Notification) error
	List(ctx context.Context, userID int32, limit, offset int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, id, userID int32) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Rentals() RentalRepository
	Inventory() InventoryRepository
	Balances() BalanceRepository
	Packages() PackageRepository
	Notifications() NotificationRepository
}

// Tx is the set of repositories bound to one open transaction. Lock methods
// hold their rows until the transaction ends.
type Tx interface {
	Repositories
}

// Store gives access to repositories outside a transaction and runs units of
// work inside one. WithinTx commits when fn returns nil and rolls back
// otherwise.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
