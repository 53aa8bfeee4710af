// Package memory is an in-process implementation of the repository contracts
// for local runs and tests. Transactions are serialized on one mutex and roll
// back by restoring a snapshot, so row locks are implied by the transaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/repository"
)

type state struct {
	stations      map[int32]domain.Station
	powerBanks    map[int32]domain.PowerBank
	slots         map[int32]domain.Slot
	packages      map[int32]domain.RentalPackage
	rentals       map[int32]domain.Rental
	extensions    []domain.RentalExtension
	balances      map[int32]domain.Balance
	transactions  []domain.Transaction
	notifications []domain.Notification
	seq           map[string]int32
}

func newState() *state {
	return &state{
		stations:   map[int32]domain.Station{},
		powerBanks: map[int32]domain.PowerBank{},
		slots:      map[int32]domain.Slot{},
		packages:   map[int32]domain.RentalPackage{},
		rentals:    map[int32]domain.Rental{},
		balances:   map[int32]domain.Balance{},
		seq:        map[string]int32{},
	}
}

func (s *state) next(table string) int32 {
	s.seq[table]++
	return s.seq[table]
}

func (s *state) clone() *state {
	c := &state{
		stations:      cloneMap(s.stations),
		powerBanks:    cloneMap(s.powerBanks),
		slots:         cloneMap(s.slots),
		packages:      cloneMap(s.packages),
		rentals:       cloneMap(s.rentals),
		extensions:    append([]domain.RentalExtension(nil), s.extensions...),
		balances:      cloneMap(s.balances),
		transactions:  append([]domain.Transaction(nil), s.transactions...),
		notifications: append([]domain.Notification(nil), s.notifications...),
		seq:           cloneMap(s.seq),
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) run(inTx bool, fn func(st *state)) {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn(s.st)
}

func (s *Store) view(inTx bool) repos {
	return repos{
		rentals:       &rentalRepository{s: s, inTx: inTx},
		inventory:     &inventoryRepository{s: s, inTx: inTx},
		balances:      &balanceRepository{s: s, inTx: inTx},
		packages:      &packageRepository{s: s, inTx: inTx},
		notifications: &notificationRepository{s: s, inTx: inTx},
	}
}

type repos struct {
	rentals       *rentalRepository
	inventory     *inventoryRepository
	balances      *balanceRepository
	packages      *packageRepository
	notifications *notificationRepository
}

func (r repos) Rentals() repository.RentalRepository { return r.rentals }
func (r repos) Inventory() repository.InventoryRepository { return r.inventory }
func (r repos) Balances() repository.BalanceRepository { return r.balances }
func (r repos) Packages() repository.PackageRepository { return r.packages }
func (r repos) Notifications() repository.NotificationRepository { return r.notifications }

func (s *Store) Rentals() repository.RentalRepository { return s.view(false).Rentals() }
func (s *Store) Inventory() repository.InventoryRepository { return s.view(false).Inventory() }
func (s *Store) Balances() repository.BalanceRepository { return s.view(false).Balances() }
func (s *Store) Packages() repository.PackageRepository { return s.view(false).Packages() }
func (s *Store) Notifications() repository.NotificationRepository {
	return s.view(false).Notifications()
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.view(true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Seeding for local runs and tests.

func (s *Store) AddStation(serial, name string, status domain.StationStatus) domain.Station {
	var st domain.Station
	s.run(false, func(db *state) {
		st = domain.Station{ID: db.next("stations"), SerialNumber: serial, Name: name, Status: status}
		db.stations[st.ID] = st
	})
	return st
}

// AddSlot adds an empty slot to a station.
func (s *Store) AddSlot(stationID, slotNumber int32) domain.Slot {
	var slot domain.Slot
	s.run(false, func(db *state) {
		slot = domain.Slot{ID: db.next("slots"), StationID: stationID, SlotNumber: slotNumber, Status: domain.SlotStatusAvailable, UpdatedAt: time.Now().UTC()}
		db.slots[slot.ID] = slot
	})
	return slot
}

// AddPowerBank docks a new AVAILABLE bank in a new slot of the station.
func (s *Store) AddPowerBank(stationID, slotNumber int32, serial string, battery int32) (domain.PowerBank, domain.Slot) {
	slot := s.AddSlot(stationID, slotNumber)
	var pb domain.PowerBank
	s.run(false, func(db *state) {
		pb = domain.PowerBank{
			ID:               db.next("power_banks"),
			SerialNumber:     serial,
			Status:           domain.PowerBankStatusAvailable,
			BatteryLevel:     battery,
			CurrentStationID: ptr(stationID),
			CurrentSlotID:    ptr(slot.ID),
			UpdatedAt:        time.Now().UTC(),
		}
		db.powerBanks[pb.ID] = pb
		slot.PowerBankID = ptr(pb.ID)
		db.slots[slot.ID] = slot
	})
	return pb, slot
}

func (s *Store) AddPackage(name string, minutes int32, price decimal.Decimal, model domain.PaymentModel) domain.RentalPackage {
	var p domain.RentalPackage
	s.run(false, func(db *state) {
		p = domain.RentalPackage{ID: db.next("packages"), Name: name, DurationMinutes: minutes, Price: price, PaymentModel: model, IsActive: true, CreatedAt: time.Now().UTC()}
		db.packages[p.ID] = p
	})
	return p
}

// SetStationStatus changes a station's status.
func (s *Store) SetStationStatus(stationID int32, status domain.StationStatus) {
	s.run(false, func(db *state) {
		st := db.stations[stationID]
		st.Status = status
		db.stations[stationID] = st
	})
}

// PowerBank and Slot read current inventory rows without locking.
func (s *Store) PowerBank(id int32) domain.PowerBank {
	var pb domain.PowerBank
	s.run(false, func(db *state) { pb = db.powerBanks[id] })
	return pb
}

func (s *Store) Slot(id int32) domain.Slot {
	var slot domain.Slot
	s.run(false, func(db *state) { slot = db.slots[id] })
	return slot
}

func ptr[T any](v T) *T {
	return &v
}

func sortRentals(rs []domain.Rental, less func(a, b domain.Rental) bool) {
	sort.SliceStable(rs, func(i, j int) bool { return less(rs[i], rs[j]) })
}

func limit[T any](items []T, n int32) []T {
	if n > 0 && int(n) < len(items) {
		return items[:n]
	}
	return items
}

func page[T any](items []T, pageNum, pageSize int32) []T {
	if pageSize <= 0 {
		return items
	}
	if pageNum < 1 {
		pageNum = 1
	}
	start := int((pageNum - 1) * pageSize)
	if start >= len(items) {
		return nil
	}
	end := min(start+int(pageSize), len(items))
	return items[start:end]
}
