package jobs

import (
	"context"
	"errors"
	"fmt"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
)

// VerifyLedger checks every balance against the after-values of the user's
// newest transaction. Balances are read without locks, so a mismatch is
// re-read once before it is reported.
func (jr *JobRunner) VerifyLedger() error {
	return jr.runWithRecovery(JobVerifyLedger, func() error {
		ctx := context.Background()
		var after int32
		checked, drifted := 0, 0
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			balances, err := jr.store.Balances().ListBalances(ctx, after, jr.batchSize)
			if err != nil {
				return err
			}
			for _, b := range balances {
				checked++
				if err := jr.verifyOne(ctx, b); err != nil {
					drifted++
					logger.Error("Ledger drift detected", "userID", b.UserID, "error", err)
				}
				after = b.UserID
			}
			if int32(len(balances)) < jr.batchSize {
				break
			}
		}
		logger.Info("Ledger verified", "balances", checked, "drifted", drifted)
		if drifted > 0 {
			return fmt.Errorf("%d of %d balances drifted from their ledger", drifted, checked)
		}
		return nil
	})
}

func (jr *JobRunner) verifyOne(ctx context.Context, b domain.Balance) error {
	err := jr.services.Ledger.VerifyBalance(ctx, b)
	if !errors.Is(err, domain.ErrInternalInconsistency) {
		return err
	}
	fresh, ferr := jr.store.Balances().GetBalance(ctx, b.UserID)
	if ferr != nil {
		return ferr
	}
	if fresh.Points == b.Points && fresh.Wallet.Equal(b.Wallet) {
		return err
	}
	return jr.services.Ledger.VerifyBalance(ctx, *fresh)
}
