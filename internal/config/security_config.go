package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityAccess                      // User access token required
	SecurityDevice                      // Device gateway token required
)

// EndpointSecurityConfig maps "METHOD route-template" to its required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Operational - Public
	"GET /healthz": SecurityPublic,
	"GET /metrics": SecurityPublic,

	// Catalog - Public
	"GET /v1/packages":                   SecurityPublic,
	"GET /v1/stations/{id}/availability": SecurityPublic,

	// Rentals - Access Protected
	"POST /v1/rentals":             SecurityAccess,
	"GET /v1/rentals":              SecurityAccess,
	"GET /v1/rentals/active":       SecurityAccess,
	"GET /v1/rentals/{id}":         SecurityAccess,
	"POST /v1/rentals/{id}/extend": SecurityAccess,
	"POST /v1/rentals/{id}/cancel": SecurityAccess,
	"POST /v1/rentals/{id}/settle": SecurityAccess,

	// Ledger - Access Protected
	"GET /v1/balance":      SecurityAccess,
	"GET /v1/transactions": SecurityAccess,

	// Notifications - Access Protected
	"GET /v1/notifications":            SecurityAccess,
	"POST /v1/notifications/{id}/read": SecurityAccess,

	// Device gateway callbacks - Device Protected
	"POST /v1/device/events/returned": SecurityDevice,
}

// GetSecurityLevel returns the security level for a given method and route template
func GetSecurityLevel(method, route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[method+" "+route]; exists {
		return level
	}
	// Default to highest user security for unknown endpoints
	return SecurityAccess
}
