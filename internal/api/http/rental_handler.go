package http

import (
	"net/http"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/service"
)

type RentalHandler struct {
	rentalSvc service.RentalService
}

func NewRentalHandler(rentalSvc service.RentalService) *RentalHandler {
	return &RentalHandler{rentalSvc: rentalSvc}
}

func (h *RentalHandler) StartRental(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	var req startRentalRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	rt, err := h.rentalSvc.StartRental(r.Context(), userID, req.StationID, req.PackageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapRental(rt, nil))
}

func (h *RentalHandler) ListRentals(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	page, size, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.RentalStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.RentalStatusPending, domain.RentalStatusActive, domain.RentalStatusCompleted, domain.RentalStatusCancelled:
	default:
		writeError(w, r, domain.NewValidationError("RentalHandler.ListRentals", "unknown status %q", status))
		return
	}
	rentals, total, err := h.rentalSvc.ListRentals(r.Context(), userID, status, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]*rentalResponse, 0, len(rentals))
	for i := range rentals {
		items = append(items, mapRental(&rentals[i], nil))
	}
	writeJSON(w, http.StatusOK, listResponse[*rentalResponse]{Items: items, Total: total, Page: page, PageSize: size})
}

func (h *RentalHandler) GetActiveRental(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	rt, err := h.rentalSvc.GetActiveRental(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRental(rt, nil))
}

func (h *RentalHandler) GetRental(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	rentalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt, exts, err := h.rentalSvc.GetRental(r.Context(), userID, rentalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRental(rt, exts))
}

func (h *RentalHandler) ExtendRental(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	rentalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req extendRentalRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	rt, err := h.rentalSvc.ExtendRental(r.Context(), userID, rentalID, req.PackageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRental(rt, nil))
}

func (h *RentalHandler) CancelRental(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	rentalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRentalRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	rt, err := h.rentalSvc.CancelRental(r.Context(), userID, rentalID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRental(rt, nil))
}

func (h *RentalHandler) SettleDues(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	rentalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt, err := h.rentalSvc.SettleDues(r.Context(), userID, rentalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRental(rt, nil))
}
