package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/security"
	"powerbank-rental-backend/internal/service"
)

// Services bundles what the HTTP surface calls into.
type Services struct {
	Rentals       service.RentalService
	Ledger        service.LedgerService
	Catalog       service.CatalogService
	Notifications service.NotificationService
}

type RouterOptions struct {
	TokenManager  security.TokenManager
	Metrics       *metrics.Metrics
	MetricsPath   string
	RateLimiter   *RateLimiter
	PointsPerUnit int64
}

// NewRouter registers every route with its middleware chain: logging,
// metrics, auth, then rate limiting keyed on the authenticated user.
func NewRouter(svcs Services, opts RouterOptions) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "not_found", "route not found")
	})

	router.Use(LoggingMiddleware)
	if opts.Metrics != nil {
		router.Use(MetricsMiddleware(opts.Metrics))
	}
	router.Use(NewAuthMiddleware(opts.TokenManager).Handler)
	if opts.RateLimiter != nil {
		router.Use(opts.RateLimiter.Handler)
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	rentals := NewRentalHandler(svcs.Rentals)
	router.HandleFunc("/v1/rentals", rentals.StartRental).Methods(http.MethodPost)
	router.HandleFunc("/v1/rentals", rentals.ListRentals).Methods(http.MethodGet)
	router.HandleFunc("/v1/rentals/active", rentals.GetActiveRental).Methods(http.MethodGet)
	router.HandleFunc("/v1/rentals/{id}", rentals.GetRental).Methods(http.MethodGet)
	router.HandleFunc("/v1/rentals/{id}/extend", rentals.ExtendRental).Methods(http.MethodPost)
	router.HandleFunc("/v1/rentals/{id}/cancel", rentals.CancelRental).Methods(http.MethodPost)
	router.HandleFunc("/v1/rentals/{id}/settle", rentals.SettleDues).Methods(http.MethodPost)

	catalog := NewCatalogHandler(svcs.Catalog)
	router.HandleFunc("/v1/packages", catalog.ListPackages).Methods(http.MethodGet)
	router.HandleFunc("/v1/stations/{id}/availability", catalog.StationAvailability).Methods(http.MethodGet)

	ledger := NewLedgerHandler(svcs.Ledger, opts.PointsPerUnit)
	router.HandleFunc("/v1/balance", ledger.GetBalance).Methods(http.MethodGet)
	router.HandleFunc("/v1/transactions", ledger.GetTransactions).Methods(http.MethodGet)

	notes := NewNotificationHandler(svcs.Notifications)
	router.HandleFunc("/v1/notifications", notes.GetNotifications).Methods(http.MethodGet)
	router.HandleFunc("/v1/notifications/{id}/read", notes.MarkAsRead).Methods(http.MethodPost)

	devices := NewDeviceHandler(svcs.Rentals)
	router.HandleFunc("/v1/device/events/returned", devices.PowerBankReturned).Methods(http.MethodPost)

	return router
}
