package domain

import "time"

type StationStatus string

const (
	StationStatusOnline      StationStatus = "ONLINE"
	StationStatusOffline     StationStatus = "OFFLINE"
	StationStatusMaintenance StationStatus = "MAINTENANCE"
)

type Station struct {
	ID           int32         `json:"id"`
	SerialNumber string        `json:"serial_number"`
	Name         string        `json:"name"`
	Status       StationStatus `json:"status"`
	LastSeenAt   *time.Time    `json:"last_seen_at,omitempty"`
}

type PowerBankStatus string

const (
	PowerBankStatusAvailable   PowerBankStatus = "AVAILABLE"
	PowerBankStatusRented      PowerBankStatus = "RENTED"
	PowerBankStatusMaintenance PowerBankStatus = "MAINTENANCE"
)

type PowerBank struct {
	ID               int32           `json:"id"`
	SerialNumber     string          `json:"serial_number"`
	Status           PowerBankStatus `json:"status"`
	BatteryLevel     int32           `json:"battery_level"`
	CurrentStationID *int32          `json:"current_station_id,omitempty"`
	CurrentSlotID    *int32          `json:"current_slot_id,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type SlotStatus string

const (
	// SlotStatusAvailable: idle, possibly holding a docked bank.
	SlotStatusAvailable SlotStatus = "AVAILABLE"
	// SlotStatusOccupied: engaged by an in-flight rental.
	SlotStatusOccupied    SlotStatus = "OCCUPIED"
	SlotStatusMaintenance SlotStatus = "MAINTENANCE"
)

type Slot struct {
	ID              int32      `json:"id"`
	StationID       int32      `json:"station_id"`
	SlotNumber      int32      `json:"slot_number"`
	Status          SlotStatus `json:"status"`
	PowerBankID     *int32     `json:"power_bank_id,omitempty"`
	CurrentRentalID *int32     `json:"current_rental_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
