package http

import (
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/pricing"
)

// Money is rendered as fixed two-decimal strings.

type rentalResponse struct {
	ID                     int32               `json:"id"`
	Status                 string              `json:"status"`
	PaymentStatus          string              `json:"payment_status"`
	PaymentModel           string              `json:"payment_model"`
	PackageID              int32               `json:"package_id"`
	PackagePrice           string              `json:"package_price"`
	PackageDurationMinutes int32               `json:"package_duration_minutes"`
	StartedAt              *time.Time          `json:"started_at,omitempty"`
	DueAt                  *time.Time          `json:"due_at,omitempty"`
	EndedAt                *time.Time          `json:"ended_at,omitempty"`
	AmountPaid             string              `json:"amount_paid"`
	OverdueAmount          string              `json:"overdue_amount"`
	PickupStationID        int32               `json:"pickup_station_id"`
	PowerBankID            int32               `json:"power_bank_id"`
	ReturnStationID        *int32              `json:"return_station_id,omitempty"`
	ReturnBatteryLevel     *int32              `json:"return_battery_level,omitempty"`
	IsReturnedOnTime       bool                `json:"is_returned_on_time"`
	ExtensionMinutes       int32               `json:"extension_minutes"`
	ExtensionCount         int32               `json:"extension_count"`
	CancelReason           string              `json:"cancel_reason,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	Extensions             []extensionResponse `json:"extensions,omitempty"`
}

type extensionResponse struct {
	ID              int32     `json:"id"`
	PackageID       int32     `json:"package_id"`
	ExtendedMinutes int32     `json:"extended_minutes"`
	Cost            string    `json:"cost"`
	CreatedAt       time.Time `json:"created_at"`
}

type packageResponse struct {
	ID              int32  `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int32  `json:"duration_minutes"`
	Price           string `json:"price"`
	PaymentModel    string `json:"payment_model"`
}

type availabilityResponse struct {
	StationID int32  `json:"station_id"`
	Serial    string `json:"serial_number"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Available int32  `json:"available"`
}

type balanceResponse struct {
	Points      int64  `json:"points"`
	PointsValue string `json:"points_value"`
	Wallet      string `json:"wallet"`
}

type transactionResponse struct {
	ID          int32     `json:"id"`
	RentalID    *int32    `json:"rental_id,omitempty"`
	Type        string    `json:"type"`
	Direction   string    `json:"direction"`
	Amount      string    `json:"amount"`
	Points      int64     `json:"points"`
	Wallet      string    `json:"wallet"`
	PointsAfter int64     `json:"points_after"`
	WalletAfter string    `json:"wallet_after"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type listResponse[T any] struct {
	Items    []T   `json:"items"`
	Total    int32 `json:"total"`
	Page     int32 `json:"page"`
	PageSize int32 `json:"page_size"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func mapRental(rt *domain.Rental, exts []domain.RentalExtension) *rentalResponse {
	if rt == nil {
		return nil
	}
	resp := &rentalResponse{
		ID:                     rt.ID,
		Status:                 string(rt.Status),
		PaymentStatus:          string(rt.PaymentStatus),
		PaymentModel:           string(rt.PaymentModel),
		PackageID:              rt.PackageID,
		PackagePrice:           money(rt.PackagePrice),
		PackageDurationMinutes: rt.PackageDurationMinutes,
		StartedAt:              rt.StartedAt,
		DueAt:                  rt.DueAt,
		EndedAt:                rt.EndedAt,
		AmountPaid:             money(rt.AmountPaid),
		OverdueAmount:          money(rt.OverdueAmount),
		PickupStationID:        rt.PickupStationID,
		PowerBankID:            rt.PowerBankID,
		ReturnStationID:        rt.ReturnStationID,
		ReturnBatteryLevel:     rt.ReturnBatteryPct,
		IsReturnedOnTime:       rt.IsReturnedOnTime,
		ExtensionMinutes:       rt.ExtensionMinutes,
		ExtensionCount:         rt.ExtensionCount,
		CancelReason:           rt.CancelReason,
		CreatedAt:              rt.CreatedAt,
	}
	for _, e := range exts {
		resp.Extensions = append(resp.Extensions, extensionResponse{
			ID:              e.ID,
			PackageID:       e.PackageID,
			ExtendedMinutes: e.ExtendedMinutes,
			Cost:            money(e.Cost),
			CreatedAt:       e.CreatedAt,
		})
	}
	return resp
}

func mapPackage(p domain.RentalPackage) packageResponse {
	return packageResponse{
		ID:              p.ID,
		Name:            p.Name,
		DurationMinutes: p.DurationMinutes,
		Price:           money(p.Price),
		PaymentModel:    string(p.PaymentModel),
	}
}

func mapBalance(b *domain.Balance, pointsPerUnit int64) balanceResponse {
	return balanceResponse{
		Points:      b.Points,
		PointsValue: money(pricing.PointsToMoney(b.Points, pointsPerUnit)),
		Wallet:      money(b.Wallet),
	}
}

func mapTransaction(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		RentalID:    t.RentalID,
		Type:        string(t.Type),
		Direction:   string(t.Direction),
		Amount:      money(t.Amount),
		Points:      t.Points,
		Wallet:      money(t.Wallet),
		PointsAfter: t.PointsAfter,
		WalletAfter: money(t.WalletAfter),
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}
