package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"powerbank-rental-backend/internal/logger"
)

// TokenSource supplies the bearer token presented to the gateway.
type TokenSource interface {
	ServiceToken() (string, error)
}

type HTTPGateway struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewHTTPGateway(baseURL string, tokens TokenSource, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type dispenseRequest struct {
	CommandID  string `json:"command_id"`
	SlotNumber int32  `json:"slot_number"`
}

func (g *HTTPGateway) Dispense(ctx context.Context, stationSerial string, slotNumber int32) (*DispenseResult, error) {
	commandID := uuid.NewString()
	logger.ExternalServiceCall("DeviceGateway", "Dispense", "station", stationSerial, "slot", slotNumber, "commandID", commandID)

	result, err := g.dispense(ctx, stationSerial, dispenseRequest{CommandID: commandID, SlotNumber: slotNumber})
	logger.ExternalServiceResult("DeviceGateway", "Dispense", err, "station", stationSerial, "commandID", commandID)
	return result, err
}

func (g *HTTPGateway) dispense(ctx context.Context, stationSerial string, body dispenseRequest) (*DispenseResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispense request: %w", err)
	}

	endpoint := g.baseURL + "/v1/stations/" + url.PathEscape(stationSerial) + "/dispense"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", body.CommandID)

	if g.tokens != nil {
		token, err := g.tokens.ServiceToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispense request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read dispense response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var result DispenseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode dispense response: %w", err)
	}
	if result.CommandID == "" {
		result.CommandID = body.CommandID
	}
	if !result.Success {
		return &result, fmt.Errorf("%w: %s", ErrDispenseRejected, result.Message)
	}
	return &result, nil
}
