package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	httpapi "powerbank-rental-backend/internal/api/http"
	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/security"
)

type testServer struct {
	router        http.Handler
	tokens        security.TokenManager
	rentals       *MockRentalService
	ledger        *MockLedgerService
	catalog       *MockCatalogService
	notifications *MockNotificationService
}

func newTestServer(t *testing.T, limiter *httpapi.RateLimiter) *testServer {
	t.Helper()
	ts := &testServer{
		tokens:        security.NewTokenManager("test-secret", "device-secret", "powerbank-test", "rental-backend", time.Hour),
		rentals:       new(MockRentalService),
		ledger:        new(MockLedgerService),
		catalog:       new(MockCatalogService),
		notifications: new(MockNotificationService),
	}
	ts.router = httpapi.NewRouter(httpapi.Services{
		Rentals:       ts.rentals,
		Ledger:        ts.ledger,
		Catalog:       ts.catalog,
		Notifications: ts.notifications,
	}, httpapi.RouterOptions{
		TokenManager:  ts.tokens,
		Metrics:       metrics.New("test"),
		RateLimiter:   limiter,
		PointsPerUnit: 10,
	})
	return ts
}

func (ts *testServer) userToken(t *testing.T, userID int32) string {
	t.Helper()
	tok, err := ts.tokens.GenerateAccessToken(userID, nil)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func activeRental() *domain.Rental {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	due := started.Add(time.Hour)
	return &domain.Rental{
		ID:                     11,
		UserID:                 7,
		PackageID:              2,
		Status:                 domain.RentalStatusActive,
		PaymentStatus:          domain.PaymentStatusPaid,
		PaymentModel:           domain.PaymentModelPrepaid,
		PackagePrice:           decimal.RequireFromString("25"),
		PackageDurationMinutes: 60,
		StartedAt:              &started,
		DueAt:                  &due,
		AmountPaid:             decimal.RequireFromString("25"),
		OverdueAmount:          decimal.Zero,
		PickupStationID:        3,
		PowerBankID:            5,
	}
}

func TestRouter_Public(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	ts.catalog.On("ListPackages", mock.Anything).Return([]domain.RentalPackage{
		{ID: 2, Name: "1 hour", DurationMinutes: 60, Price: decimal.RequireFromString("25"), PaymentModel: domain.PaymentModelPrepaid, IsActive: true},
	}, nil)
	rec = ts.do(http.MethodGet, "/v1/packages", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":"25.00"`)

	ts.catalog.On("StationAvailability", mock.Anything, int32(3)).
		Return(&domain.Station{ID: 3, SerialNumber: "ST-3", Name: "Mall", Status: domain.StationStatusOnline}, int32(4), nil)
	rec = ts.do(http.MethodGet, "/v1/stations/3/availability", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decodeBody(t, rec)["available"])

	rec = ts.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}

func TestRouter_Auth(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("Missing token", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/balance", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Device token on user route", func(t *testing.T) {
		tok, err := ts.tokens.GenerateDeviceToken("ST-3")
		require.NoError(t, err)
		rec := ts.do(http.MethodGet, "/v1/balance", tok, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("User token on device route", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/v1/device/events/returned", ts.userToken(t, 7), "{}")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	ts.rentals.AssertNotCalled(t, "HandleReturn", mock.Anything, mock.Anything)
}

func TestRentalHandler_StartRental(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.userToken(t, 7)

	t.Run("Created", func(t *testing.T) {
		ts.rentals.On("StartRental", mock.Anything, int32(7), int32(3), int32(2)).Return(activeRental(), nil).Once()
		rec := ts.do(http.MethodPost, "/v1/rentals", tok, `{"station_id":3,"package_id":2}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "ACTIVE", body["status"])
		assert.Equal(t, "25.00", body["amount_paid"])
	})

	t.Run("Insufficient balance", func(t *testing.T) {
		err := domain.NewInsufficientBalanceError("rentalService.collect", decimal.RequireFromString("20"))
		ts.rentals.On("StartRental", mock.Anything, int32(7), int32(3), int32(4)).Return(nil, err).Once()
		rec := ts.do(http.MethodPost, "/v1/rentals", tok, `{"station_id":3,"package_id":4}`)
		require.Equal(t, http.StatusPaymentRequired, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "insufficient_balance", body["code"])
		assert.Equal(t, "20.00", body["shortfall"])
	})

	t.Run("No bank", func(t *testing.T) {
		ts.rentals.On("StartRental", mock.Anything, int32(7), int32(9), int32(2)).
			Return(nil, domain.ErrNoAvailableResource.WithOp("reserve")).Once()
		rec := ts.do(http.MethodPost, "/v1/rentals", tok, `{"station_id":9,"package_id":2}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "no_available_resource", decodeBody(t, rec)["code"])
	})

	t.Run("Device failure", func(t *testing.T) {
		ts.rentals.On("StartRental", mock.Anything, int32(7), int32(8), int32(2)).
			Return(nil, domain.NewDeviceError("start", device.ErrDispenseRejected)).Once()
		rec := ts.do(http.MethodPost, "/v1/rentals", tok, `{"station_id":8,"package_id":2}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("Invalid body", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/v1/rentals", tok, `{"package_id":2}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = ts.do(http.MethodPost, "/v1/rentals", tok, `{"station_id":3,"package_id":2,"extra":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = ts.do(http.MethodPost, "/v1/rentals", tok, `not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	ts.rentals.AssertExpectations(t)
}

func TestRentalHandler_Queries(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.userToken(t, 7)

	ts.rentals.On("GetActiveRental", mock.Anything, int32(7)).
		Return(nil, domain.NewNotFoundError("get", "active rental for user", 7)).Once()
	rec := ts.do(http.MethodGet, "/v1/rentals/active", tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.rentals.On("ListRentals", mock.Anything, int32(7), domain.RentalStatus(""), int32(1), int32(20)).
		Return([]domain.Rental{*activeRental()}, int32(1), nil).Once()
	rec = ts.do(http.MethodGet, "/v1/rentals", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])
	assert.Len(t, body["items"], 1)

	rec = ts.do(http.MethodGet, "/v1/rentals?status=LOST", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodGet, "/v1/rentals?page=abc", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	exts := []domain.RentalExtension{{ID: 1, RentalID: 11, PackageID: 3, ExtendedMinutes: 30, Cost: decimal.RequireFromString("10")}}
	ts.rentals.On("GetRental", mock.Anything, int32(7), int32(11)).Return(activeRental(), exts, nil).Once()
	rec = ts.do(http.MethodGet, "/v1/rentals/11", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cost":"10.00"`)

	ts.rentals.AssertExpectations(t)
}

func TestRentalHandler_Transitions(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.userToken(t, 7)

	ts.rentals.On("ExtendRental", mock.Anything, int32(7), int32(11), int32(3)).Return(activeRental(), nil).Once()
	rec := ts.do(http.MethodPost, "/v1/rentals/11/extend", tok, `{"package_id":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.rentals.On("CancelRental", mock.Anything, int32(7), int32(11), "").
		Return(nil, domain.ErrInvalidState.WithOp("cancel")).Once()
	rec = ts.do(http.MethodPost, "/v1/rentals/11/cancel", tok, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rec)["code"])

	ts.rentals.On("SettleDues", mock.Anything, int32(7), int32(11)).Return(activeRental(), nil).Once()
	rec = ts.do(http.MethodPost, "/v1/rentals/11/settle", tok, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/rentals/abc/extend", tok, `{"package_id":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.rentals.AssertExpectations(t)
}

func TestLedgerHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.userToken(t, 7)

	ts.ledger.On("GetBalance", mock.Anything, int32(7)).
		Return(&domain.Balance{UserID: 7, Points: 125, Wallet: decimal.RequireFromString("12.5")}, nil)
	rec := ts.do(http.MethodGet, "/v1/balance", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "12.50", body["wallet"])
	assert.Equal(t, "12.50", body["points_value"])

	ts.ledger.On("GetTransactions", mock.Anything, int32(7), int32(2), int32(5)).
		Return([]domain.Transaction{{ID: 4, Type: domain.TransactionTypeRentalCharge, Direction: domain.DirectionDebit,
			Amount: decimal.RequireFromString("25"), Wallet: decimal.RequireFromString("25"), WalletAfter: decimal.Zero}}, int32(6), nil)
	rec = ts.do(http.MethodGet, "/v1/transactions?page=2&page_size=5", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":"25.00"`)
}

func TestNotificationHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.userToken(t, 7)

	ts.notifications.On("GetNotifications", mock.Anything, int32(7), int32(1), int32(20)).
		Return([]domain.Notification(nil), int32(0), nil)
	rec := ts.do(http.MethodGet, "/v1/notifications", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)

	ts.notifications.On("MarkAsRead", mock.Anything, int32(7), int32(3)).Return(nil)
	rec = ts.do(http.MethodPost, "/v1/notifications/3/read", tok, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ts.notifications.On("MarkAsRead", mock.Anything, int32(7), int32(4)).
		Return(domain.NewNotFoundError("mark", "notification", 4))
	rec = ts.do(http.MethodPost, "/v1/notifications/4/read", tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceHandler_PowerBankReturned(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"power_bank_serial":"PB-1","station_serial":"ST-3","slot_number":2,"battery_level":80,"observed_at":"2025-03-01T12:05:00Z"}`

	t.Run("Applied", func(t *testing.T) {
		tok, err := ts.tokens.GenerateDeviceToken("ST-3")
		require.NoError(t, err)
		done := activeRental()
		done.Status = domain.RentalStatusCompleted
		ts.rentals.On("HandleReturn", mock.Anything, mock.MatchedBy(func(ev device.ReturnedEvent) bool {
			return ev.PowerBankSerial == "PB-1" && ev.SlotNumber == 2
		})).Return(done, nil).Once()

		rec := ts.do(http.MethodPost, "/v1/device/events/returned", tok, body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)
	})

	t.Run("Never rented", func(t *testing.T) {
		tok, err := ts.tokens.GenerateDeviceToken(security.AllStations)
		require.NoError(t, err)
		ts.rentals.On("HandleReturn", mock.Anything, mock.Anything).Return(nil, nil).Once()

		rec := ts.do(http.MethodPost, "/v1/device/events/returned", tok, body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"rental":null`)
	})

	t.Run("Token for another station", func(t *testing.T) {
		tok, err := ts.tokens.GenerateDeviceToken("ST-4")
		require.NoError(t, err)
		rec := ts.do(http.MethodPost, "/v1/device/events/returned", tok, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Invalid event", func(t *testing.T) {
		tok, err := ts.tokens.GenerateDeviceToken(security.AllStations)
		require.NoError(t, err)
		rec := ts.do(http.MethodPost, "/v1/device/events/returned", tok, `{"power_bank_serial":"PB-1","station_serial":"ST-3","slot_number":0,"battery_level":80,"observed_at":"2025-03-01T12:05:00Z"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	ts.rentals.AssertExpectations(t)
}

func TestRateLimiter(t *testing.T) {
	ts := newTestServer(t, httpapi.NewRateLimiter(0.001, 1))
	tok := ts.userToken(t, 7)
	ts.ledger.On("GetBalance", mock.Anything, int32(7)).Return(&domain.Balance{UserID: 7, Wallet: decimal.Zero}, nil).Once()
	ts.ledger.On("GetBalance", mock.Anything, int32(8)).Return(&domain.Balance{UserID: 8, Wallet: decimal.Zero}, nil).Once()

	rec := ts.do(http.MethodGet, "/v1/balance", tok, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodGet, "/v1/balance", tok, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another user has its own bucket.
	rec = ts.do(http.MethodGet, "/v1/balance", ts.userToken(t, 8), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	ts.ledger.AssertExpectations(t)
}
