package memory

import (
	"context"
	"sort"
	"time"

	"powerbank-rental-backend/internal/domain"
)

type inventoryRepository struct {
	s    *Store
	inTx bool
}

func (r *inventoryRepository) GetStation(ctx context.Context, id int32) (*domain.Station, error) {
	var out *domain.Station
	r.s.run(r.inTx, func(db *state) {
		if st, ok := db.stations[id]; ok {
			out = &st
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("inventoryRepository.GetStation", "station", id)
	}
	return out, nil
}

func (r *inventoryRepository) GetStationBySerial(ctx context.Context, serial string) (*domain.Station, error) {
	var out *domain.Station
	r.s.run(r.inTx, func(db *state) {
		for _, st := range db.stations {
			if st.SerialNumber == serial {
				cp := st
				out = &cp
				return
			}
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("inventoryRepository.GetStationBySerial", "station", serial)
	}
	return out, nil
}

// candidates returns rentable (bank, slot) pairs at a station, best battery first.
func candidates(db *state, stationID, minBattery int32) [][2]int32 {
	var pairs [][2]int32
	for _, slot := range db.slots {
		if slot.StationID != stationID || slot.Status != domain.SlotStatusAvailable || slot.PowerBankID == nil {
			continue
		}
		pb, ok := db.powerBanks[*slot.PowerBankID]
		if !ok || pb.Status != domain.PowerBankStatusAvailable || pb.BatteryLevel < minBattery {
			continue
		}
		pairs = append(pairs, [2]int32{pb.ID, slot.ID})
	}
	sort.Slice(pairs, func(i, j int) bool {
		bi, bj := db.powerBanks[pairs[i][0]], db.powerBanks[pairs[j][0]]
		if bi.BatteryLevel != bj.BatteryLevel {
			return bi.BatteryLevel > bj.BatteryLevel
		}
		return bi.ID < bj.ID
	})
	return pairs
}

func (r *inventoryRepository) LockAvailablePair(ctx context.Context, stationID, minBattery int32) (*domain.PowerBank, *domain.Slot, error) {
	var pb *domain.PowerBank
	var slot *domain.Slot
	r.s.run(r.inTx, func(db *state) {
		pairs := candidates(db, stationID, minBattery)
		if len(pairs) == 0 {
			return
		}
		b, s := db.powerBanks[pairs[0][0]], db.slots[pairs[0][1]]
		pb, slot = &b, &s
	})
	return pb, slot, nil
}

func (r *inventoryRepository) LockPowerBank(ctx context.Context, id int32) (*domain.PowerBank, error) {
	var out *domain.PowerBank
	r.s.run(r.inTx, func(db *state) {
		if pb, ok := db.powerBanks[id]; ok {
			out = &pb
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("inventoryRepository.LockPowerBank", "power bank", id)
	}
	return out, nil
}

func (r *inventoryRepository) LockPowerBankBySerial(ctx context.Context, serial string) (*domain.PowerBank, error) {
	var out *domain.PowerBank
	r.s.run(r.inTx, func(db *state) {
		for _, pb := range db.powerBanks {
			if pb.SerialNumber == serial {
				cp := pb
				out = &cp
				return
			}
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("inventoryRepository.LockPowerBankBySerial", "power bank", serial)
	}
	return out, nil
}

func (r *inventoryRepository) LockSlot(ctx context.Context, id int32) (*domain.Slot, error) {
	var out *domain.Slot
	r.s.run(r.inTx, func(db *state) {
		if s, ok := db.slots[id]; ok {
			out = &s
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("inventoryRepository.LockSlot", "slot", id)
	}
	return out, nil
}

func (r *inventoryRepository) LockSlotByNumber(ctx context.Context, stationID, slotNumber int32) (*domain.Slot, error) {
	var out *domain.Slot
	r.s.run(r.inTx, func(db *state) {
		for _, s := range db.slots {
			if s.StationID == stationID && s.SlotNumber == slotNumber {
				cp := s
				out = &cp
				return
			}
		}
	})
	if out == nil {
		return nil, domain.NewNotFoundError("inventoryRepository.LockSlotByNumber", "slot", slotNumber)
	}
	return out, nil
}

func (r *inventoryRepository) UpdatePowerBank(ctx context.Context, pb *domain.PowerBank) error {
	var err error
	r.s.run(r.inTx, func(db *state) {
		if _, ok := db.powerBanks[pb.ID]; !ok {
			err = domain.NewNotFoundError("inventoryRepository.UpdatePowerBank", "power bank", pb.ID)
			return
		}
		pb.UpdatedAt = time.Now().UTC()
		db.powerBanks[pb.ID] = *pb
	})
	return err
}

func (r *inventoryRepository) UpdateSlot(ctx context.Context, slot *domain.Slot) error {
	var err error
	r.s.run(r.inTx, func(db *state) {
		if _, ok := db.slots[slot.ID]; !ok {
			err = domain.NewNotFoundError("inventoryRepository.UpdateSlot", "slot", slot.ID)
			return
		}
		slot.UpdatedAt = time.Now().UTC()
		db.slots[slot.ID] = *slot
	})
	return err
}

func (r *inventoryRepository) CountAvailable(ctx context.Context, stationID, minBattery int32) (int32, error) {
	var n int32
	r.s.run(r.inTx, func(db *state) {
		n = int32(len(candidates(db, stationID, minBattery)))
	})
	return n, nil
}
