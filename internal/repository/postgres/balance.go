package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

const transactionColumns = `id, user_id, rental_id, type, direction, amount, points, points_value, wallet,
	points_before, points_after, wallet_before, wallet_after, idempotency_key, description, created_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(&t.ID, &t.UserID, &t.RentalID, &t.Type, &t.Direction, &t.Amount, &t.Points, &t.PointsValue, &t.Wallet,
		&t.PointsBefore, &t.PointsAfter, &t.WalletBefore, &t.WalletAfter, &t.IdempotencyKey, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type balanceRepository struct {
	db querier
}

func NewBalanceRepository(db querier) repository.BalanceRepository {
	return &balanceRepository{db: db}
}

func (r *balanceRepository) GetBalance(ctx context.Context, userID int32) (*domain.Balance, error) {
	b := &domain.Balance{UserID: userID, Wallet: decimal.Zero}
	query := `SELECT points, wallet, updated_at FROM balances WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&b.Points, &b.Wallet, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LockBalance doubles as the per-user lock for starting rentals.
func (r *balanceRepository) LockBalance(ctx context.Context, userID int32) (*domain.Balance, error) {
	logger.DatabaseCall("UPSERT", "balances", "userID", userID)
	_, err := r.db.ExecContext(ctx, `INSERT INTO balances (user_id, points, wallet, updated_at) VALUES ($1, 0, 0, NOW()) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		logger.DatabaseResult("UPSERT", 0, err, "userID", userID)
		return nil, err
	}

	b := &domain.Balance{UserID: userID}
	query := `SELECT points, wallet, updated_at FROM balances WHERE user_id = $1 FOR UPDATE`
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&b.Points, &b.Wallet, &b.UpdatedAt)
	logger.DatabaseResult("SELECT FOR UPDATE", 1, err, "userID", userID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *balanceRepository) UpdateBalance(ctx context.Context, b *domain.Balance) error {
	b.UpdatedAt = time.Now().UTC()
	query := `UPDATE balances SET points=$1, wallet=$2, updated_at=$3 WHERE user_id=$4`
	logger.DatabaseCall("UPDATE", "balances", "userID", b.UserID)
	_, err := r.db.ExecContext(ctx, query, b.Points, b.Wallet, b.UpdatedAt, b.UserID)
	logger.DatabaseResult("UPDATE", 1, err, "userID", b.UserID)
	return err
}

func (r *balanceRepository) ListBalances(ctx context.Context, afterUserID, limit int32) ([]domain.Balance, error) {
	query := `SELECT user_id, points, wallet, updated_at FROM balances WHERE user_id > $1 ORDER BY user_id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, afterUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.UserID, &b.Points, &b.Wallet, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *balanceRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	query := `INSERT INTO transactions (user_id, rental_id, type, direction, amount, points, points_value, wallet,
	          points_before, points_after, wallet_before, wallet_after, idempotency_key, description, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	logger.DatabaseCall("INSERT", "transactions", "userID", t.UserID, "type", t.Type)
	err := r.db.QueryRowContext(ctx, query, t.UserID, t.RentalID, t.Type, t.Direction, t.Amount, t.Points, t.PointsValue, t.Wallet,
		t.PointsBefore, t.PointsAfter, t.WalletBefore, t.WalletAfter, t.IdempotencyKey, t.Description, t.CreatedAt).Scan(&t.ID)
	logger.DatabaseResult("INSERT", 1, err, "transactionID", t.ID)
	if isUniqueViolation(err, "") {
		return repository.ErrDuplicateKey
	}
	return err
}

func (r *balanceRepository) FindTransactionByKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *balanceRepository) ListTransactionsByRental(ctx context.Context, rentalID int32) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE rental_id = $1 ORDER BY id`
	return r.listTransactions(ctx, query, rentalID)
}

func (r *balanceRepository) ListTransactionsByUser(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Transaction, int32, error) {
	offset := (page - 1) * pageSize

	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	txs, err := r.listTransactions(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	return txs, count, nil
}

func (r *balanceRepository) LatestTransaction(ctx context.Context, userID int32) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY id DESC LIMIT 1`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *balanceRepository) listTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}
