package service

import (
	"context"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/repository"
)

type catalogService struct {
	store      repository.Store
	minBattery int32
}

func NewCatalogService(store repository.Store, minBattery int32) CatalogService {
	return &catalogService{store: store, minBattery: minBattery}
}

func (s *catalogService) ListPackages(ctx context.Context) ([]domain.RentalPackage, error) {
	return s.store.Packages().ListActive(ctx)
}

// StationAvailability returns the station and how many banks it can rent out now.
func (s *catalogService) StationAvailability(ctx context.Context, stationID int32) (*domain.Station, int32, error) {
	station, err := s.store.Inventory().GetStation(ctx, stationID)
	if err != nil {
		return nil, 0, err
	}
	if station.Status != domain.StationStatusOnline {
		return station, 0, nil
	}
	n, err := s.store.Inventory().CountAvailable(ctx, stationID, s.minBattery)
	if err != nil {
		return nil, 0, err
	}
	return station, n, nil
}
