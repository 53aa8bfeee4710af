package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbank-rental-backend/internal/domain"
)

type staticToken string

func (s staticToken) ServiceToken() (string, error) { return string(s), nil }

func TestHTTPGateway_Dispense(t *testing.T) {
	var got dispenseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stations/ST-1/dispense", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, got.CommandID, r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(DispenseResult{PowerBankSerial: "PB-1", Success: true})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, staticToken("svc-token"), time.Second)
	res, err := gw.Dispense(context.Background(), "ST-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.SlotNumber)
	assert.Equal(t, "PB-1", res.PowerBankSerial)
	assert.NotEmpty(t, res.CommandID)
}

func TestHTTPGateway_Failures(t *testing.T) {
	t.Run("Rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(DispenseResult{Success: false, Message: "slot empty"})
		}))
		defer srv.Close()

		_, err := NewHTTPGateway(srv.URL, nil, time.Second).Dispense(context.Background(), "ST-1", 1)
		assert.ErrorIs(t, err, ErrDispenseRejected)
	})

	t.Run("Server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "offline", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPGateway(srv.URL, nil, time.Second).Dispense(context.Background(), "ST-1", 1)
		assert.Error(t, err)
	})

	t.Run("Context deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := NewHTTPGateway(srv.URL, nil, time.Second).Dispense(ctx, "ST-1", 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestMockGateway(t *testing.T) {
	ok := NewMockGateway(0, 0)
	res, err := ok.Dispense(context.Background(), "ST-1", 1)
	require.NoError(t, err)
	assert.True(t, res.Success)

	broken := NewMockGateway(0, 1)
	_, err = broken.Dispense(context.Background(), "ST-1", 1)
	assert.ErrorIs(t, err, ErrDispenseRejected)

	slow := NewMockGateway(time.Second, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Dispense(ctx, "ST-1", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReturnedEvent_Validate(t *testing.T) {
	valid := ReturnedEvent{PowerBankSerial: "PB-1", StationSerial: "ST-1", SlotNumber: 2, BatteryLevel: 80, ObservedAt: time.Now()}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(e *ReturnedEvent)
	}{
		{"missing bank", func(e *ReturnedEvent) { e.PowerBankSerial = "" }},
		{"missing station", func(e *ReturnedEvent) { e.StationSerial = "" }},
		{"zero slot", func(e *ReturnedEvent) { e.SlotNumber = 0 }},
		{"battery over 100", func(e *ReturnedEvent) { e.BatteryLevel = 101 }},
		{"no timestamp", func(e *ReturnedEvent) { e.ObservedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
