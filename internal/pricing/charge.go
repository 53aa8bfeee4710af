package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
)

const minutesPerHour = 60

// Terms are the rental's snapshotted package terms plus the policy bounds that
// apply to it.
type Terms struct {
	PaymentModel domain.PaymentModel
	Price        decimal.Decimal
	// DurationMinutes is the included time for PREPAID and the billing unit
	// for POSTPAID.
	DurationMinutes  int32
	ExtensionMinutes int32
	// MaxDurationMinutes bounds POSTPAID usage before late charges apply.
	// Zero disables the bound.
	MaxDurationMinutes int32
}

// TermsFor builds the terms from a rental's snapshot.
func TermsFor(r *domain.Rental, postpaidMaxMinutes int32) Terms {
	return Terms{
		PaymentModel:       r.PaymentModel,
		Price:              r.PackagePrice,
		DurationMinutes:    r.PackageDurationMinutes,
		ExtensionMinutes:   r.ExtensionMinutes,
		MaxDurationMinutes: postpaidMaxMinutes,
	}
}

// Charge is the breakdown of what a rental costs for a given usage time.
type Charge struct {
	BaseAmount     decimal.Decimal `json:"base_amount"`
	OverdueMinutes int64           `json:"overdue_minutes"`
	OverdueAmount  decimal.Decimal `json:"overdue_amount"`
	TotalDue       decimal.Decimal `json:"total_due"`
}

// ComputeCharge prices elapsedMinutes of usage under terms.
//
// PREPAID: base is the package price; every started hour past the included
// minutes (package plus extensions) is billed at lateRatePerHour.
// POSTPAID: base is every started billing unit of usage, at least one; late
// hours only accrue past MaxDurationMinutes.
func ComputeCharge(terms Terms, elapsedMinutes int64, lateRatePerHour decimal.Decimal) Charge {
	if elapsedMinutes < 0 {
		elapsedMinutes = 0
	}

	var c Charge
	var allowed int64
	switch terms.PaymentModel {
	case domain.PaymentModelPostpaid:
		unit := int64(terms.DurationMinutes)
		units := int64(1)
		if unit > 0 {
			units = max(ceilDiv(elapsedMinutes, unit), 1)
		}
		c.BaseAmount = RoundMoney(terms.Price.Mul(decimal.NewFromInt(units)))
		allowed = int64(terms.MaxDurationMinutes)
		if allowed <= 0 {
			allowed = elapsedMinutes
		}
	default:
		c.BaseAmount = RoundMoney(terms.Price)
		allowed = int64(terms.DurationMinutes) + int64(terms.ExtensionMinutes)
	}

	c.OverdueMinutes = max(elapsedMinutes-allowed, 0)
	hours := ceilDiv(c.OverdueMinutes, minutesPerHour)
	c.OverdueAmount = RoundMoney(lateRatePerHour.Mul(decimal.NewFromInt(hours)))
	c.TotalDue = c.BaseAmount.Add(c.OverdueAmount)
	return c
}

// ElapsedMinutes counts whole minutes between start and end.
func ElapsedMinutes(start, end time.Time) int64 {
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Minute)
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
