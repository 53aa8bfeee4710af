package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RentalStatus string

const (
	RentalStatusPending   RentalStatus = "PENDING"
	RentalStatusActive    RentalStatus = "ACTIVE"
	RentalStatusCompleted RentalStatus = "COMPLETED"
	RentalStatusCancelled RentalStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
)

// Rental is the central lifecycle record. Package terms are snapshotted at
// start so catalog edits never reach an already-started rental.
type Rental struct {
	ID        int32 `json:"id"`
	UserID    int32 `json:"user_id"`
	PackageID int32 `json:"package_id"`

	Status        RentalStatus  `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	// Package snapshot
	PaymentModel           PaymentModel    `json:"payment_model"`
	PackagePrice           decimal.Decimal `json:"package_price"`
	PackageDurationMinutes int32           `json:"package_duration_minutes"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	AmountPaid    decimal.Decimal `json:"amount_paid"`
	OverdueAmount decimal.Decimal `json:"overdue_amount"`

	PickupStationID  int32  `json:"pickup_station_id"`
	PickupSlotID     int32  `json:"pickup_slot_id"`
	PowerBankID      int32  `json:"power_bank_id"`
	ReturnStationID  *int32 `json:"return_station_id,omitempty"`
	ReturnSlotID     *int32 `json:"return_slot_id,omitempty"`
	ReturnBatteryPct *int32 `json:"return_battery_level,omitempty"`

	IsReturnedOnTime         bool       `json:"is_returned_on_time"`
	TimelyReturnBonusAwarded bool       `json:"timely_return_bonus_awarded"`
	CompletionBonusAwarded   bool       `json:"completion_bonus_awarded"`
	ExtensionMinutes         int32      `json:"extension_minutes"`
	ExtensionCount           int32      `json:"extension_count"`
	DueReminderSentAt        *time.Time `json:"due_reminder_sent_at,omitempty"`
	CancelReason             string     `json:"cancel_reason,omitempty"`
	DispensedAt              *time.Time `json:"dispensed_at,omitempty"` // station confirmed the bank left its slot
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// IsOpen reports whether the rental still holds hardware for its user.
func (r *Rental) IsOpen() bool {
	return r.Status == RentalStatusPending || r.Status == RentalStatusActive
}

// IncludedMinutes is the usage covered by what was paid up front: the package
// duration plus every purchased extension.
func (r *Rental) IncludedMinutes() int32 {
	return r.PackageDurationMinutes + r.ExtensionMinutes
}

// HasOutstandingDues reports whether settle-dues applies to the rental. A
// cancelled rental can owe for a bank the user kept past the cancel window.
func (r *Rental) HasOutstandingDues() bool {
	return (r.Status == RentalStatusCompleted || r.Status == RentalStatusCancelled) &&
		r.PaymentStatus == PaymentStatusPartial &&
		r.OverdueAmount.IsPositive()
}

// RentalExtension is one successful, paid extension. Rows are append-only.
type RentalExtension struct {
	ID              int32           `json:"id"`
	RentalID        int32           `json:"rental_id"`
	PackageID       int32           `json:"package_id"`
	ExtendedMinutes int32           `json:"extended_minutes"`
	Cost            decimal.Decimal `json:"cost"`
	TransactionID   int32           `json:"transaction_id"`
	CreatedAt       time.Time       `json:"created_at"`
}
