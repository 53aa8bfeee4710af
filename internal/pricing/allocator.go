package pricing

import (
	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
)

// Allocation is the plan for paying an amount from points first, then wallet.
type Allocation struct {
	AmountDue   decimal.Decimal `json:"amount_due"`
	PointsUsed  int64           `json:"points_used"`
	PointsValue decimal.Decimal `json:"points_value"`
	WalletUsed  decimal.Decimal `json:"wallet_used"`
	Shortfall   decimal.Decimal `json:"shortfall"`
}

// Covered is the part of AmountDue the allocation pays for.
func (a Allocation) Covered() decimal.Decimal {
	return a.PointsValue.Add(a.WalletUsed)
}

func (a Allocation) IsShort() bool {
	return a.Shortfall.IsPositive()
}

// Components converts the plan into the pair the ledger moves.
func (a Allocation) Components() domain.Components {
	return domain.Components{Points: a.PointsUsed, PointsValue: a.PointsValue, Wallet: a.WalletUsed}
}

// Allocate splits amountDue across a points balance and a wallet balance.
// pointsPerUnit is how many points make one currency unit.
//
// Points are spent first, never fractionally: the count is truncated toward
// zero and capped by the balance, and its currency value rounded to 2dp.
// The wallet covers what is left up to its balance. If a sub-point remainder
// is still uncovered and the user has points left, one more point is spent
// and its value capped at that remainder. Whatever remains is Shortfall.
func Allocate(amountDue decimal.Decimal, points int64, wallet decimal.Decimal, pointsPerUnit int64) Allocation {
	due := RoundMoney(amountDue)
	a := Allocation{
		AmountDue:   due,
		PointsValue: decimal.Zero,
		WalletUsed:  decimal.Zero,
		Shortfall:   decimal.Zero,
	}
	if !due.IsPositive() {
		return a
	}
	if points < 0 {
		points = 0
	}
	if wallet.IsNegative() {
		wallet = decimal.Zero
	}

	if pointsPerUnit > 0 && points > 0 {
		rate := decimal.NewFromInt(pointsPerUnit)
		needed := due.Mul(rate).Floor().IntPart()
		a.PointsUsed = min(needed, points)
		a.PointsValue = PointsToMoney(a.PointsUsed, pointsPerUnit)
	}

	remainder := due.Sub(a.PointsValue)
	a.WalletUsed = decimal.Min(remainder, wallet)
	a.Shortfall = remainder.Sub(a.WalletUsed)

	if a.Shortfall.IsPositive() && pointsPerUnit > 0 && a.PointsUsed < points {
		a.PointsUsed++
		a.PointsValue = a.PointsValue.Add(a.Shortfall)
		a.Shortfall = decimal.Zero
	}
	return a
}

// PointsToMoney is the currency value of a point count, rounded to 2dp.
func PointsToMoney(points, pointsPerUnit int64) decimal.Decimal {
	if pointsPerUnit <= 0 {
		return decimal.Zero
	}
	return RoundMoney(decimal.NewFromInt(points).Div(decimal.NewFromInt(pointsPerUnit)))
}

// RoundMoney rounds half away from zero to 2dp.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
