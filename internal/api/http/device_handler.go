package http

import (
	"net/http"

	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/service"
)

// DeviceHandler receives hardware callbacks from the device gateway.
type DeviceHandler struct {
	rentalSvc service.RentalService
}

func NewDeviceHandler(rentalSvc service.RentalService) *DeviceHandler {
	return &DeviceHandler{rentalSvc: rentalSvc}
}

type returnedResponse struct {
	Rental *rentalResponse `json:"rental"`
}

// PowerBankReturned applies a return event. Delivery is at-least-once, so a
// re-delivered event answers 200 like the first one.
func (h *DeviceHandler) PowerBankReturned(w http.ResponseWriter, r *http.Request) {
	var ev device.ReturnedEvent
	if err := decode(r, &ev, false); err != nil {
		writeError(w, r, err)
		return
	}
	if station := stationFromContext(r.Context()); station != "" && station != ev.StationSerial {
		logger.WarnContext(r.Context(), "Device token used for another station", "tokenStation", station, "eventStation", ev.StationSerial)
		writeMessage(w, http.StatusForbidden, "forbidden", "token is not valid for this station")
		return
	}
	rt, err := h.rentalSvc.HandleReturn(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, returnedResponse{Rental: mapRental(rt, nil)})
}
