package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize bounds inventory response bodies (4MB).
const maxResponseSize = 4 << 20

// Location is a physical place devices are grouped under.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SensorType is one sensor kind known to the inventory.
type SensorType struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Device is the inventory's view of a flashed device.
type Device struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Platform        string `json:"platform"`
	FirmwareVersion string `json:"firmware_version"`
	LocationID      string `json:"location_id,omitempty"`
}

// Sensor is one sensor registered against a device.
type Sensor struct {
	DeviceID string `json:"device_id"`
	TypeID   string `json:"type_id"`
	Name     string `json:"name"`
	Pin      string `json:"pin"`
}

// ClientOptions configures an inventory client.
type ClientOptions struct {
	// Endpoint is the base URL of the inventory service.
	Endpoint string

	// APIKey is an optional bearer token.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Used by tests.
	HTTPClient *http.Client
}

// Client talks to the sensor inventory service.
//
// Create calls treat HTTP 409 (already exists) as success: registration
// is idempotent by design so re-flashing a device never fails its session.
//
// Thread Safety: safe for concurrent use; the client is stateless.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient creates an inventory client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		http:     httpClient,
	}
}

// CreateDevice registers a device. A conflict response means the device
// already exists and counts as success.
func (c *Client) CreateDevice(ctx context.Context, d Device) error {
	return c.post(ctx, "/api/devices", d, nil)
}

// ListLocations returns all known locations.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	var out []Location
	if err := c.get(ctx, "/api/locations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateLocation creates a location by name. Conflict counts as success;
// the caller re-lists to resolve the ID.
func (c *Client) CreateLocation(ctx context.Context, name string) error {
	return c.post(ctx, "/api/locations", Location{Name: name}, nil)
}

// ListSensorTypes returns the sensor type catalogue.
func (c *Client) ListSensorTypes(ctx context.Context) ([]SensorType, error) {
	var out []SensorType
	if err := c.get(ctx, "/api/sensor-types", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSensor registers one sensor on a device. Conflict counts as
// success.
func (c *Client) CreateSensor(ctx context.Context, s Sensor) error {
	return c.post(ctx, "/api/sensors", s, nil)
}

// post sends a JSON body. 2xx and 409 are success; when out is non-nil
// the response body is decoded into it.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrRequestFailed, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %w", ErrRequestFailed, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		// Already exists: idempotent success.
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("%w: %s: decode response: %w", ErrRequestFailed, path, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s: status %d", ErrRequestFailed, path, resp.StatusCode)
	}
}

// get fetches and decodes a JSON resource.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrRequestFailed, path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %w", ErrRequestFailed, path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", ErrRequestFailed, path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
