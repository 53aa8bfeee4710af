package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentModel string

const (
	PaymentModelPrepaid  PaymentModel = "PREPAID"
	PaymentModelPostpaid PaymentModel = "POSTPAID"
)

// RentalPackage is a priced offer owned by the catalog. For POSTPAID packages
// Price is charged per DurationMinutes of usage.
type RentalPackage struct {
	ID              int32           `json:"id"`
	Name            string          `json:"name"`
	DurationMinutes int32           `json:"duration_minutes"`
	Price           decimal.Decimal `json:"price"`
	PaymentModel    PaymentModel    `json:"payment_model"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}
