package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"powerbank-rental-backend/internal/domain"
)

func TestComputeCharge_Prepaid(t *testing.T) {
	oneHour := Terms{PaymentModel: domain.PaymentModelPrepaid, Price: dec("30.00"), DurationMinutes: 60}
	late := dec("25.00")

	tests := []struct {
		name           string
		terms          Terms
		elapsed        int64
		overdueMinutes int64
		overdueAmount  string
		total          string
	}{
		{"within duration", oneHour, 45, 0, "0.00", "30.00"},
		{"exactly at duration", oneHour, 60, 0, "0.00", "30.00"},
		{"one minute late bills a full hour", oneHour, 61, 1, "25.00", "55.00"},
		{"125 minutes on a one hour package", oneHour, 125, 65, "50.00", "80.00"},
		{"exactly two hours late", oneHour, 180, 120, "50.00", "80.00"},
		{"extensions push the limit", Terms{PaymentModel: domain.PaymentModelPrepaid, Price: dec("30.00"), DurationMinutes: 60, ExtensionMinutes: 60}, 125, 5, "25.00", "55.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeCharge(tt.terms, tt.elapsed, late)
			assert.Equal(t, "30.00", c.BaseAmount.StringFixed(2))
			assert.Equal(t, tt.overdueMinutes, c.OverdueMinutes)
			assert.Equal(t, tt.overdueAmount, c.OverdueAmount.StringFixed(2))
			assert.Equal(t, tt.total, c.TotalDue.StringFixed(2))
		})
	}
}

func TestComputeCharge_Postpaid(t *testing.T) {
	hourly := Terms{PaymentModel: domain.PaymentModelPostpaid, Price: dec("10.00"), DurationMinutes: 60, MaxDurationMinutes: 240}
	late := dec("25.00")

	t.Run("minimum one unit", func(t *testing.T) {
		c := ComputeCharge(hourly, 0, late)
		assert.Equal(t, "10.00", c.BaseAmount.StringFixed(2))
		assert.True(t, c.OverdueAmount.IsZero())
	})

	t.Run("partial units round up", func(t *testing.T) {
		c := ComputeCharge(hourly, 61, late)
		assert.Equal(t, "20.00", c.BaseAmount.StringFixed(2))
		assert.Equal(t, int64(0), c.OverdueMinutes)
		assert.Equal(t, "20.00", c.TotalDue.StringFixed(2))
	})

	t.Run("late only past the maximum duration", func(t *testing.T) {
		c := ComputeCharge(hourly, 250, late)
		assert.Equal(t, "50.00", c.BaseAmount.StringFixed(2))
		assert.Equal(t, int64(10), c.OverdueMinutes)
		assert.Equal(t, "25.00", c.OverdueAmount.StringFixed(2))
		assert.Equal(t, "75.00", c.TotalDue.StringFixed(2))
	})

	t.Run("no maximum means no late charge", func(t *testing.T) {
		unbounded := hourly
		unbounded.MaxDurationMinutes = 0
		c := ComputeCharge(unbounded, 10000, late)
		assert.Equal(t, int64(0), c.OverdueMinutes)
		assert.True(t, c.OverdueAmount.IsZero())
	})
}

func TestComputeCharge_NegativeElapsed(t *testing.T) {
	c := ComputeCharge(Terms{PaymentModel: domain.PaymentModelPrepaid, Price: dec("5.00"), DurationMinutes: 30}, -10, decimal.NewFromInt(25))
	assert.Equal(t, int64(0), c.OverdueMinutes)
	assert.Equal(t, "5.00", c.TotalDue.StringFixed(2))
}

func TestTermsFor(t *testing.T) {
	r := &domain.Rental{
		PaymentModel:           domain.PaymentModelPrepaid,
		PackagePrice:           dec("30.00"),
		PackageDurationMinutes: 60,
		ExtensionMinutes:       30,
	}
	terms := TermsFor(r, 1440)
	assert.Equal(t, int32(60), terms.DurationMinutes)
	assert.Equal(t, int32(30), terms.ExtensionMinutes)
	assert.Equal(t, int32(1440), terms.MaxDurationMinutes)
}

func TestElapsedMinutes(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(125), ElapsedMinutes(start, start.Add(125*time.Minute)))
	assert.Equal(t, int64(60), ElapsedMinutes(start, start.Add(60*time.Minute+59*time.Second)))
	assert.Equal(t, int64(0), ElapsedMinutes(start, start.Add(-time.Minute)))
}
