package service

import (
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/config"
)

// RentalPolicy is the tunable part of the rental rules.
type RentalPolicy struct {
	PointsPerUnit      int64
	MinBatteryLevel    int32
	LateRatePerHour    decimal.Decimal
	PostpaidMaxMinutes int32
	PostpaidMinWallet  decimal.Decimal
	CompletionBonus    int64
	OnTimeBonus        int64
	CancelWindow       time.Duration // zero: ACTIVE rentals cannot be cancelled
	PendingTimeout     time.Duration
	DueSoonWindow      time.Duration
	MaxExtensions      int32 // zero: unlimited
	DispenseTimeout    time.Duration
}

func PolicyFromConfig(cfg *config.Config) RentalPolicy {
	r := cfg.Rental
	return RentalPolicy{
		PointsPerUnit:      r.PointsPerCurrencyUnit,
		MinBatteryLevel:    r.MinBatteryLevel,
		LateRatePerHour:    r.LateRate(),
		PostpaidMaxMinutes: r.PostpaidMaxDurationMinutes,
		PostpaidMinWallet:  r.PostpaidMinWalletAmount(),
		CompletionBonus:    r.CompletionBonusPoints,
		OnTimeBonus:        r.OnTimeBonusPoints,
		CancelWindow:       time.Duration(r.CancelWindowMinutes) * time.Minute,
		PendingTimeout:     time.Duration(r.PendingTimeoutMinutes) * time.Minute,
		DueSoonWindow:      time.Duration(r.DueSoonMinutes) * time.Minute,
		MaxExtensions:      r.MaxExtensions,
		DispenseTimeout:    cfg.Device.DispenseTimeout(),
	}
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() RentalPolicy {
	return RentalPolicy{
		PointsPerUnit:      10,
		MinBatteryLevel:    20,
		LateRatePerHour:    decimal.RequireFromString("25.00"),
		PostpaidMaxMinutes: 1440,
		PostpaidMinWallet:  decimal.Zero,
		PendingTimeout:     5 * time.Minute,
		DueSoonWindow:      15 * time.Minute,
		DispenseTimeout:    30 * time.Second,
	}
}
