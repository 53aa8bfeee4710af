package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/pricing"
	"powerbank-rental-backend/internal/repository"
)

type ledgerService struct {
	store   repository.Store
	metrics *metrics.Metrics
}

func NewLedgerService(store repository.Store, m *metrics.Metrics) LedgerService {
	return &ledgerService{store: store, metrics: m}
}

// Execute debits the allocation from the user's balance and records it.
func (s *ledgerService) Execute(ctx context.Context, tx repository.Tx, userID int32, alloc pricing.Allocation, txType domain.TransactionType, ref Reference) (*domain.Transaction, error) {
	const op = "ledgerService.Execute"
	logger.EnterMethod(op, "userID", userID, "rentalID", ref.RentalID, "type", txType, "amount", alloc.Covered().StringFixed(2))

	comps := alloc.Components()
	if comps.Points < 0 || comps.Wallet.IsNegative() || comps.IsZero() {
		err := domain.NewValidationError(op, "nothing to charge")
		logger.ExitMethodWithError(op, err)
		return nil, err
	}

	txn, err := s.apply(ctx, tx, op, userID, comps, domain.DirectionDebit, txType, ref, nil)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, err
	}
	logger.ExitMethod(op, "transactionID", txn.ID)
	return txn, nil
}

// Refund credits previously charged components back.
func (s *ledgerService) Refund(ctx context.Context, tx repository.Tx, userID int32, amount domain.Components, ref Reference) (*domain.Transaction, error) {
	const op = "ledgerService.Refund"
	logger.EnterMethod(op, "userID", userID, "rentalID", ref.RentalID, "points", amount.Points, "wallet", amount.Wallet.StringFixed(2))

	if amount.Points < 0 || amount.Wallet.IsNegative() {
		err := domain.NewInconsistencyError(op, "negative refund for rental %d", ref.RentalID)
		s.metrics.RecordInconsistency()
		logger.ExitMethodWithError(op, err)
		return nil, err
	}

	txn, err := s.apply(ctx, tx, op, userID, amount, domain.DirectionCredit, domain.TransactionTypeRefund, ref, nil)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, err
	}
	logger.ExitMethod(op, "transactionID", txn.ID)
	return txn, nil
}

// AwardPoints credits points once per idempotency key. A key that was already
// used reports awarded=false with the original transaction.
func (s *ledgerService) AwardPoints(ctx context.Context, tx repository.Tx, userID int32, points int64, reason, idempotencyKey string) (*domain.Transaction, bool, error) {
	const op = "ledgerService.AwardPoints"
	logger.EnterMethod(op, "userID", userID, "points", points, "key", idempotencyKey)

	if points <= 0 || idempotencyKey == "" {
		err := domain.NewValidationError(op, "award needs positive points and an idempotency key")
		logger.ExitMethodWithError(op, err)
		return nil, false, err
	}

	// The balance lock serializes awards for the user, so the lookup below
	// cannot race with another award using the same key.
	if _, err := tx.Balances().LockBalance(ctx, userID); err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, false, err
	}
	existing, err := tx.Balances().FindTransactionByKey(ctx, idempotencyKey)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, false, err
	}
	if existing != nil {
		logger.ExitMethod(op, "duplicate", true, "transactionID", existing.ID)
		return existing, false, nil
	}

	key := idempotencyKey
	txn, err := s.apply(ctx, tx, op, userID, domain.Components{Points: points}, domain.DirectionCredit,
		domain.TransactionTypePointsAward, Reference{RentalID: rentalIDFromKey(key), Description: reason}, &key)
	if err != nil {
		logger.ExitMethodWithError(op, err)
		return nil, false, err
	}
	logger.ExitMethod(op, "transactionID", txn.ID)
	return txn, true, nil
}

// TopUp credits the wallet in its own transaction.
func (s *ledgerService) TopUp(ctx context.Context, userID int32, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	const op = "ledgerService.TopUp"
	if !amount.IsPositive() {
		return nil, domain.NewValidationError(op, "top-up amount must be positive")
	}
	var txn *domain.Transaction
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		txn, err = s.apply(ctx, tx, op, userID, domain.Components{Wallet: pricing.RoundMoney(amount)}, domain.DirectionCredit,
			domain.TransactionTypeWalletTopUp, Reference{Description: description}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// apply moves comps in the given direction against the locked balance, writes
// the transaction and checks the stored balance equals the recorded after-values.
func (s *ledgerService) apply(ctx context.Context, tx repository.Tx, op string, userID int32, comps domain.Components,
	dir domain.Direction, txType domain.TransactionType, ref Reference, key *string) (*domain.Transaction, error) {

	balance, err := tx.Balances().LockBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	txn := &domain.Transaction{
		UserID:         userID,
		Type:           txType,
		Direction:      dir,
		Amount:         comps.Total(),
		Points:         comps.Points,
		PointsValue:    comps.PointsValue,
		Wallet:         comps.Wallet,
		PointsBefore:   balance.Points,
		WalletBefore:   balance.Wallet,
		IdempotencyKey: key,
		Description:    ref.Description,
	}
	if ref.RentalID != 0 {
		rentalID := ref.RentalID
		txn.RentalID = &rentalID
	}

	switch dir {
	case domain.DirectionDebit:
		if comps.Points > balance.Points || comps.Wallet.GreaterThan(balance.Wallet) {
			short := decimal.Zero
			if comps.Points > balance.Points {
				missing := decimal.NewFromInt(comps.Points - balance.Points)
				short = short.Add(comps.PointsValue.Mul(missing).Div(decimal.NewFromInt(comps.Points)).Round(2))
			}
			if comps.Wallet.GreaterThan(balance.Wallet) {
				short = short.Add(comps.Wallet.Sub(balance.Wallet))
			}
			return nil, domain.NewInsufficientBalanceError(op, short)
		}
		txn.PointsAfter = balance.Points - comps.Points
		txn.WalletAfter = balance.Wallet.Sub(comps.Wallet)
	case domain.DirectionCredit:
		txn.PointsAfter = balance.Points + comps.Points
		txn.WalletAfter = balance.Wallet.Add(comps.Wallet)
	}

	balance.Points = txn.PointsAfter
	balance.Wallet = txn.WalletAfter
	if err := tx.Balances().UpdateBalance(ctx, balance); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Balances().CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	stored, err := tx.Balances().GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("re-read balance: %w", err)
	}
	if stored.Points != txn.PointsAfter || !stored.Wallet.Equal(txn.WalletAfter) {
		s.metrics.RecordInconsistency()
		err := domain.NewInconsistencyError(op, "balance of user %d is %d/%s after transaction %d, expected %d/%s",
			userID, stored.Points, stored.Wallet.StringFixed(2), txn.ID, txn.PointsAfter, txn.WalletAfter.StringFixed(2))
		logger.Error("Ledger inconsistency", "error", err)
		return nil, err
	}
	return txn, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, userID int32) (*domain.Balance, error) {
	return s.store.Balances().GetBalance(ctx, userID)
}

func (s *ledgerService) GetTransactions(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Transaction, int32, error) {
	return s.store.Balances().ListTransactionsByUser(ctx, userID, page, pageSize)
}

func (s *ledgerService) VerifyBalance(ctx context.Context, balance domain.Balance) error {
	const op = "ledgerService.VerifyBalance"
	latest, err := s.store.Balances().LatestTransaction(ctx, balance.UserID)
	if err != nil {
		return err
	}
	if latest == nil {
		if balance.Points != 0 || !balance.Wallet.IsZero() {
			s.metrics.RecordInconsistency()
			return domain.NewInconsistencyError(op, "user %d has balance %d/%s but no transactions",
				balance.UserID, balance.Points, balance.Wallet.StringFixed(2))
		}
		return nil
	}
	if latest.PointsAfter != balance.Points || !latest.WalletAfter.Equal(balance.Wallet) {
		s.metrics.RecordInconsistency()
		return domain.NewInconsistencyError(op, "user %d balance %d/%s differs from transaction %d after-values %d/%s",
			balance.UserID, balance.Points, balance.Wallet.StringFixed(2), latest.ID, latest.PointsAfter, latest.WalletAfter.StringFixed(2))
	}
	return nil
}

// rentalIDFromKey reads the rental id out of a "rental:<id>:<bonus>" key.
func rentalIDFromKey(key string) int32 {
	parts := strings.Split(key, ":")
	if len(parts) < 2 || parts[0] != "rental" {
		return 0
	}
	id, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0
	}
	return int32(id)
}

// BonusKey builds the idempotency key of a rental bonus award.
func BonusKey(rentalID int32, bonus string) string {
	return fmt.Sprintf("rental:%d:%s", rentalID, bonus)
}
