package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeRentalCharge    TransactionType = "RENTAL_CHARGE"
	TransactionTypeRentalDue       TransactionType = "RENTAL_DUE"
	TransactionTypeRentalExtension TransactionType = "RENTAL_EXTENSION"
	TransactionTypeRefund          TransactionType = "REFUND"
	TransactionTypePointsAward     TransactionType = "POINTS_AWARD"
	TransactionTypeWalletTopUp     TransactionType = "WALLET_TOP_UP"
)

type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Balance holds a user's two spendable balances. Both stay non-negative and
// are only ever changed by the ledger.
type Balance struct {
	UserID    int32           `json:"user_id"`
	Points    int64           `json:"points"`
	Wallet    decimal.Decimal `json:"wallet"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Components is a points/wallet pair moved by one ledger entry.
type Components struct {
	Points      int64           `json:"points"`
	PointsValue decimal.Decimal `json:"points_value"`
	Wallet      decimal.Decimal `json:"wallet"`
}

// Total is the currency value of the pair.
func (c Components) Total() decimal.Decimal {
	return c.PointsValue.Add(c.Wallet)
}

func (c Components) IsZero() bool {
	return c.Points == 0 && c.Wallet.IsZero()
}

// Transaction is an immutable ledger row with before/after snapshots.
type Transaction struct {
	ID             int32           `json:"id"`
	UserID         int32           `json:"user_id"`
	RentalID       *int32          `json:"rental_id,omitempty"`
	Type           TransactionType `json:"type"`
	Direction      Direction       `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	Points         int64           `json:"points"`
	PointsValue    decimal.Decimal `json:"points_value"`
	Wallet         decimal.Decimal `json:"wallet"`
	PointsBefore   int64           `json:"points_before"`
	PointsAfter    int64           `json:"points_after"`
	WalletBefore   decimal.Decimal `json:"wallet_before"`
	WalletAfter    decimal.Decimal `json:"wallet_after"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Components returns the points/wallet pair the row moved.
func (t *Transaction) Components() Components {
	return Components{Points: t.Points, PointsValue: t.PointsValue, Wallet: t.Wallet}
}

// NetCharged sums what a set of rental transactions took from the user and
// subtracts what was already given back. Awards are not charges and are ignored.
func NetCharged(txs []Transaction) Components {
	var net Components
	for _, t := range txs {
		if t.Type == TransactionTypePointsAward {
			continue
		}
		switch t.Direction {
		case DirectionDebit:
			net.Points += t.Points
			net.PointsValue = net.PointsValue.Add(t.PointsValue)
			net.Wallet = net.Wallet.Add(t.Wallet)
		case DirectionCredit:
			net.Points -= t.Points
			net.PointsValue = net.PointsValue.Sub(t.PointsValue)
			net.Wallet = net.Wallet.Sub(t.Wallet)
		}
	}
	return net
}
