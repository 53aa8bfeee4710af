package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every repository works
// inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repos struct {
	rentals       repository.RentalRepository
	inventory     repository.InventoryRepository
	balances      repository.BalanceRepository
	packages      repository.PackageRepository
	notifications repository.NotificationRepository
}

func newRepos(q querier) repos {
	return repos{
		rentals:       NewRentalRepository(q),
		inventory:     NewInventoryRepository(q),
		balances:      NewBalanceRepository(q),
		packages:      NewPackageRepository(q),
		notifications: NewNotificationRepository(q),
	}
}

func (r repos) Rentals() repository.RentalRepository { return r.rentals }
func (r repos) Inventory() repository.InventoryRepository { return r.inventory }
func (r repos) Balances() repository.BalanceRepository { return r.balances }
func (r repos) Packages() repository.PackageRepository { return r.packages }
func (r repos) Notifications() repository.NotificationRepository { return r.notifications }

type Store struct {
	db *sql.DB
	repos
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		repos: newRepos(db),
	}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(newRepos(sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Error("Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
