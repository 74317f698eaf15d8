package firmware

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

// maxCompileResponseSize bounds the compile response body (32MB).
// Covers a full merged image with headroom.
const maxCompileResponseSize = 32 << 20

// SensorAssignment binds one sensor to a device pin.
type SensorAssignment struct {
	// Type is the sensor type slug (e.g., "temperature", "light", "gas").
	Type string `json:"type"`

	// Pin is the device pin identifier (e.g., "D4", "A0").
	Pin string `json:"pin"`

	// Name is the human-readable sensor name shown in the inventory.
	Name string `json:"name"`
}

// DeviceConfig is the user-supplied configuration a firmware build is
// generated from. The same value drives post-flash registration.
type DeviceConfig struct {
	DeviceID     string             `json:"device_id"`
	DeviceName   string             `json:"device_name"`
	Platform     string             `json:"platform"`
	Location     string             `json:"location"`
	WiFiSSID     string             `json:"wifi_ssid"`
	WiFiPassword string             `json:"wifi_password"`
	ServerURL    string             `json:"server_url"`
	Sensors      []SensorAssignment `json:"sensors"`

	// ReadingIntervalSec is how often the device samples its sensors.
	ReadingIntervalSec int `json:"reading_interval_sec,omitempty"`

	// DeepSleep puts the device to sleep between readings.
	DeepSleep bool `json:"deep_sleep,omitempty"`
}

// CompileResult is the compile service's response: a version string and
// the ordered flash files to write.
type CompileResult struct {
	FirmwareVersion string      `json:"firmwareVersion"`
	FlashFiles      []FlashFile `json:"flashFiles"`
}

// CompileClientOptions configures a CompileClient.
type CompileClientOptions struct {
	// Endpoint is the base URL of the compile service.
	Endpoint string

	// APIKey is an optional bearer token.
	APIKey string

	// Timeout is the whole-request budget. Firmware builds are slow;
	// callers should pass the configured compile timeout, not a generic
	// HTTP default.
	Timeout time.Duration

	// HTTPClient overrides the transport. Used by tests.
	HTTPClient *http.Client
}

// CompileClient requests firmware builds from the remote compile service.
//
// Thread Safety:
//   - Safe for concurrent use; the client is stateless between calls.
type CompileClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewCompileClient creates a compile service client.
func NewCompileClient(opts CompileClientOptions) *CompileClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &CompileClient{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		http:     httpClient,
	}
}

// Compile submits a device configuration and returns the built firmware.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - cfg: Device configuration the build is generated from
//
// Returns:
//   - *CompileResult: Version and ordered flash files, payloads decoded
//   - error: ErrCompileFailed (wrapped) on rejection or transport failure
func (c *CompileClient) Compile(ctx context.Context, cfg DeviceConfig) (*CompileResult, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrCompileFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/compile", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompileFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompileFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxCompileResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrCompileFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrCompileFailed, resp.StatusCode, truncate(payload, 200))
	}

	var result CompileResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrCompileFailed, err)
	}

	if len(result.FlashFiles) == 0 {
		return nil, fmt.Errorf("%w: compile response has no flash files", ErrEmptyFirmware)
	}
	for _, f := range result.FlashFiles {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	return &result, nil
}

// truncate clips a response body for inclusion in error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
