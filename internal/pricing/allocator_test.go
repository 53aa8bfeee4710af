package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name        string
		due         string
		points      int64
		wallet      string
		pointsUsed  int64
		pointsValue string
		walletUsed  string
		shortfall   string
	}{
		{"points cover everything", "5.00", 100, "0", 50, "5.00", "0", "0"},
		{"points then wallet", "50.00", 100, "60.00", 100, "10.00", "40.00", "0"},
		{"wallet only", "12.50", 0, "20.00", 0, "0", "12.50", "0"},
		{"shortfall after both", "50.00", 100, "20.00", 100, "10.00", "20.00", "20.00"},
		{"nothing available", "8.00", 0, "0", 0, "0", "0", "8.00"},
		{"zero due", "0", 100, "10.00", 0, "0", "0", "0"},
		{"sub point remainder uses one more point", "0.25", 5, "0", 3, "0.25", "0", "0"},
		{"sub point remainder from wallet first", "0.25", 5, "1.00", 2, "0.20", "0.05", "0"},
		{"exact points balance", "10.00", 100, "0", 100, "10.00", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Allocate(dec(tt.due), tt.points, dec(tt.wallet), 10)
			assert.Equal(t, tt.pointsUsed, a.PointsUsed)
			assert.True(t, dec(tt.pointsValue).Equal(a.PointsValue), "points value %s", a.PointsValue)
			assert.True(t, dec(tt.walletUsed).Equal(a.WalletUsed), "wallet used %s", a.WalletUsed)
			assert.True(t, dec(tt.shortfall).Equal(a.Shortfall), "shortfall %s", a.Shortfall)
		})
	}
}

func TestAllocate_ScenarioStartRejected(t *testing.T) {
	a := Allocate(dec("50.00"), 100, dec("20.00"), 10)

	assert.Equal(t, int64(100), a.PointsUsed)
	assert.Equal(t, "10.00", a.PointsValue.StringFixed(2))
	assert.Equal(t, "20.00", a.WalletUsed.StringFixed(2))
	assert.Equal(t, "20.00", a.Shortfall.StringFixed(2))
	assert.True(t, a.IsShort())
}

func TestAllocate_CoversWhenAffordable(t *testing.T) {
	wallets := []string{"0", "0.01", "0.99", "3.33", "17.45", "100.00"}
	dues := []string{"0.01", "0.09", "0.10", "1.05", "7.77", "19.99", "50.00", "123.45"}

	for p := int64(0); p <= 250; p += 7 {
		for _, w := range wallets {
			for _, d := range dues {
				wallet := dec(w)
				due := dec(d)
				capacity := decimal.NewFromInt(p).Div(decimal.NewFromInt(10)).Add(wallet)
				a := Allocate(due, p, wallet, 10)

				assert.LessOrEqual(t, a.PointsUsed, p)
				assert.False(t, a.WalletUsed.GreaterThan(wallet))
				assert.True(t, a.Covered().Add(a.Shortfall).Equal(due), "due %s p %d w %s", d, p, w)

				if due.LessThanOrEqual(capacity) {
					assert.True(t, a.Shortfall.IsZero(), "due %s p %d w %s short %s", d, p, w, a.Shortfall)
					assert.True(t, a.Covered().Sub(due).Abs().LessThanOrEqual(dec("0.01")))
				} else {
					assert.True(t, a.Shortfall.Equal(due.Sub(capacity)), "due %s p %d w %s short %s", d, p, w, a.Shortfall)
				}
			}
		}
	}
}

func TestAllocate_NeverFractionalPoints(t *testing.T) {
	a := Allocate(dec("1.00"), 7, dec("5.00"), 3)

	assert.Equal(t, int64(3), a.PointsUsed)
	assert.Equal(t, "1.00", a.PointsValue.StringFixed(2))
	assert.True(t, a.WalletUsed.IsZero())

	a = Allocate(dec("0.50"), 7, dec("5.00"), 3)
	assert.Equal(t, int64(1), a.PointsUsed)
	assert.Equal(t, "0.33", a.PointsValue.StringFixed(2))
	assert.Equal(t, "0.17", a.WalletUsed.StringFixed(2))
}

func TestAllocate_Deterministic(t *testing.T) {
	first := Allocate(dec("33.33"), 41, dec("12.00"), 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Allocate(dec("33.33"), 41, dec("12.00"), 10))
	}
}

func TestPointsToMoney(t *testing.T) {
	assert.Equal(t, "10.00", PointsToMoney(100, 10).StringFixed(2))
	assert.Equal(t, "0.67", PointsToMoney(2, 3).StringFixed(2))
	assert.True(t, PointsToMoney(5, 0).IsZero())
}
