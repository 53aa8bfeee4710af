package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/repository"
)

type balanceRepository struct {
	s    *Store
	inTx bool
}

func (r *balanceRepository) GetBalance(ctx context.Context, userID int32) (*domain.Balance, error) {
	var out domain.Balance
	r.s.run(r.inTx, func(db *state) {
		b, ok := db.balances[userID]
		if !ok {
			b = domain.Balance{UserID: userID, Wallet: decimal.Zero}
		}
		out = b
	})
	return &out, nil
}

func (r *balanceRepository) LockBalance(ctx context.Context, userID int32) (*domain.Balance, error) {
	var out domain.Balance
	r.s.run(r.inTx, func(db *state) {
		b, ok := db.balances[userID]
		if !ok {
			b = domain.Balance{UserID: userID, Wallet: decimal.Zero, UpdatedAt: time.Now().UTC()}
			db.balances[userID] = b
		}
		out = b
	})
	return &out, nil
}

func (r *balanceRepository) UpdateBalance(ctx context.Context, balance *domain.Balance) error {
	if balance.Points < 0 || balance.Wallet.IsNegative() {
		return fmt.Errorf("balance check violated for user %d", balance.UserID)
	}
	r.s.run(r.inTx, func(db *state) {
		balance.UpdatedAt = time.Now().UTC()
		db.balances[balance.UserID] = *balance
	})
	return nil
}

func (r *balanceRepository) ListBalances(ctx context.Context, afterUserID, n int32) ([]domain.Balance, error) {
	var out []domain.Balance
	r.s.run(r.inTx, func(db *state) {
		for _, b := range db.balances {
			if b.UserID > afterUserID {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return limit(out, n), nil
}

func (r *balanceRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	var err error
	r.s.run(r.inTx, func(db *state) {
		if t.IdempotencyKey != nil {
			for _, existing := range db.transactions {
				if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *t.IdempotencyKey {
					err = repository.ErrDuplicateKey
					return
				}
			}
		}
		t.ID = db.next("transactions")
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		db.transactions = append(db.transactions, *t)
	})
	return err
}

func (r *balanceRepository) FindTransactionByKey(ctx context.Context, key string) (*domain.Transaction, error) {
	var out *domain.Transaction
	r.s.run(r.inTx, func(db *state) {
		for _, t := range db.transactions {
			if t.IdempotencyKey != nil && *t.IdempotencyKey == key {
				cp := t
				out = &cp
				return
			}
		}
	})
	return out, nil
}

func (r *balanceRepository) ListTransactionsByRental(ctx context.Context, rentalID int32) ([]domain.Transaction, error) {
	var out []domain.Transaction
	r.s.run(r.inTx, func(db *state) {
		for _, t := range db.transactions {
			if t.RentalID != nil && *t.RentalID == rentalID {
				out = append(out, t)
			}
		}
	})
	return out, nil
}

func (r *balanceRepository) ListTransactionsByUser(ctx context.Context, userID int32, pageNum, pageSize int32) ([]domain.Transaction, int32, error) {
	var out []domain.Transaction
	r.s.run(r.inTx, func(db *state) {
		for i := len(db.transactions) - 1; i >= 0; i-- {
			if db.transactions[i].UserID == userID {
				out = append(out, db.transactions[i])
			}
		}
	})
	return page(out, pageNum, pageSize), int32(len(out)), nil
}

func (r *balanceRepository) LatestTransaction(ctx context.Context, userID int32) (*domain.Transaction, error) {
	var out *domain.Transaction
	r.s.run(r.inTx, func(db *state) {
		for i := len(db.transactions) - 1; i >= 0; i-- {
			if db.transactions[i].UserID == userID {
				cp := db.transactions[i]
				out = &cp
				return
			}
		}
	})
	return out, nil
}
