// Package device talks to the kiosk hardware channel: outbound dispense
// commands and inbound state-change events.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"powerbank-rental-backend/internal/domain"
)

// ErrDispenseRejected is returned when the station answered but refused to
// release the bank.
var ErrDispenseRejected = errors.New("dispense rejected by station")

type DispenseResult struct {
	CommandID       string `json:"command_id"`
	PowerBankSerial string `json:"power_bank_serial"`
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
}

// Gateway issues commands to stations. Dispense must honour ctx cancellation;
// callers bound it with a timeout.
type Gateway interface {
	Dispense(ctx context.Context, stationSerial string, slotNumber int32) (*DispenseResult, error)
}

// ReturnedEvent reports a bank physically docked at a station. Delivery is
// at-least-once.
type ReturnedEvent struct {
	PowerBankSerial string    `json:"power_bank_serial" validate:"required,max=64"`
	StationSerial   string    `json:"station_serial" validate:"required,max=64"`
	SlotNumber      int32     `json:"slot_number" validate:"gt=0"`
	BatteryLevel    int32     `json:"battery_level" validate:"gte=0,lte=100"`
	ObservedAt      time.Time `json:"observed_at" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (e *ReturnedEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return domain.NewValidationError("ReturnedEvent.Validate", "%s", describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
