package http

import (
	"net/http"

	"powerbank-rental-backend/internal/service"
)

type LedgerHandler struct {
	ledgerSvc     service.LedgerService
	pointsPerUnit int64
}

func NewLedgerHandler(ledgerSvc service.LedgerService, pointsPerUnit int64) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc, pointsPerUnit: pointsPerUnit}
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	b, err := h.ledgerSvc.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapBalance(b, h.pointsPerUnit))
}

func (h *LedgerHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
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
	txs, total, err := h.ledgerSvc.GetTransactions(r.Context(), userID, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		items = append(items, mapTransaction(t))
	}
	writeJSON(w, http.StatusOK, listResponse[transactionResponse]{Items: items, Total: total, Page: page, PageSize: size})
}
