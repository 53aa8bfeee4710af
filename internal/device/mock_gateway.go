package device

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"powerbank-rental-backend/internal/logger"
)

// MockGateway simulates a station for local runs. FailureRate is the share of
// dispenses the station rejects.
type MockGateway struct {
	Latency     time.Duration
	FailureRate float64
}

func NewMockGateway(latency time.Duration, failureRate float64) *MockGateway {
	return &MockGateway{Latency: latency, FailureRate: failureRate}
}

func (g *MockGateway) Dispense(ctx context.Context, stationSerial string, slotNumber int32) (*DispenseResult, error) {
	commandID := uuid.NewString()
	logger.Debug("Simulating dispense", "station", stationSerial, "slot", slotNumber, "commandID", commandID)

	select {
	case <-time.After(g.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if g.FailureRate > 0 && rand.Float64() < g.FailureRate {
		return &DispenseResult{CommandID: commandID, Message: "latch jammed"},
			fmt.Errorf("%w: simulated failure at %s/%d", ErrDispenseRejected, stationSerial, slotNumber)
	}
	return &DispenseResult{CommandID: commandID, Success: true}, nil
}
