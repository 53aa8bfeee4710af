package http

import (
	"net/http"

	"powerbank-rental-backend/internal/service"
)

type CatalogHandler struct {
	catalogSvc service.CatalogService
}

func NewCatalogHandler(catalogSvc service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogSvc: catalogSvc}
}

func (h *CatalogHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.catalogSvc.ListPackages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]packageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		items = append(items, mapPackage(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandler) StationAvailability(w http.ResponseWriter, r *http.Request) {
	stationID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	station, n, err := h.catalogSvc.StationAvailability(r.Context(), stationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		StationID: station.ID,
		Serial:    station.SerialNumber,
		Name:      station.Name,
		Status:    string(station.Status),
		Available: n,
	})
}
