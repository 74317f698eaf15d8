package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
)

// Inventory is the client surface the finalizer consumes.
// Satisfied by *Client; tests use fakes.
type Inventory interface {
	CreateDevice(ctx context.Context, d Device) error
	ListLocations(ctx context.Context) ([]Location, error)
	CreateLocation(ctx context.Context, name string) error
	ListSensorTypes(ctx context.Context) ([]SensorType, error)
	CreateSensor(ctx context.Context, s Sensor) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Finalizer runs the idempotent post-flash registration sequence.
// It implements the flasher package's Registrar interface.
type Finalizer struct {
	inv    Inventory
	logger Logger
}

// NewFinalizer creates a finalizer. logger may be nil.
func NewFinalizer(inv Inventory, logger Logger) *Finalizer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Finalizer{inv: inv, logger: logger}
}

// Register ensures the device, its location, and its sensors exist in the
// inventory. The whole sequence is idempotent: re-flashing a registered
// device produces only conflict responses, which count as success.
//
// Partial failures are collected rather than short-circuiting so one
// broken sensor type doesn't block the rest; the combined error surfaces
// as a session warning.
func (f *Finalizer) Register(ctx context.Context, cfg firmware.DeviceConfig, firmwareVersion string) error {
	var failures []error

	locationID, err := f.ensureLocation(ctx, cfg.Location)
	if err != nil {
		failures = append(failures, err)
	}

	device := Device{
		ID:              cfg.DeviceID,
		Name:            cfg.DeviceName,
		Platform:        cfg.Platform,
		FirmwareVersion: firmwareVersion,
		LocationID:      locationID,
	}
	if err := f.inv.CreateDevice(ctx, device); err != nil {
		// Without a device row the sensors have nothing to attach to.
		return fmt.Errorf("create device %s: %w", cfg.DeviceID, err)
	}

	typeIDs, err := f.sensorTypeIndex(ctx)
	if err != nil {
		failures = append(failures, err)
	}

	for _, s := range cfg.Sensors {
		typeID, ok := typeIDs[s.Type]
		if !ok {
			failures = append(failures, fmt.Errorf("%w: sensor type %q", ErrNotFound, s.Type))
			continue
		}
		sensor := Sensor{
			DeviceID: cfg.DeviceID,
			TypeID:   typeID,
			Name:     s.Name,
			Pin:      NormalizePin(s.Type, s.Pin),
		}
		if err := f.inv.CreateSensor(ctx, sensor); err != nil {
			failures = append(failures, fmt.Errorf("create sensor %q: %w", s.Name, err))
		}
	}

	return errors.Join(failures...)
}

// ensureLocation resolves the named location's ID, creating it if absent.
// An empty name skips location handling entirely.
func (f *Finalizer) ensureLocation(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	if id, ok := f.findLocation(ctx, name); ok {
		return id, nil
	}

	if err := f.inv.CreateLocation(ctx, name); err != nil {
		return "", fmt.Errorf("create location %q: %w", name, err)
	}

	// Re-list: covers both a fresh create and a conflict with a location
	// created by a concurrent flash.
	if id, ok := f.findLocation(ctx, name); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: location %q after create", ErrNotFound, name)
}

func (f *Finalizer) findLocation(ctx context.Context, name string) (string, bool) {
	locations, err := f.inv.ListLocations(ctx)
	if err != nil {
		f.logger.Warn("list locations failed", "error", err)
		return "", false
	}
	for _, l := range locations {
		if l.Name == name {
			return l.ID, true
		}
	}
	return "", false
}

// sensorTypeIndex maps sensor type slugs to inventory IDs.
func (f *Finalizer) sensorTypeIndex(ctx context.Context) (map[string]string, error) {
	types, err := f.inv.ListSensorTypes(ctx)
	if err != nil {
		return map[string]string{}, fmt.Errorf("list sensor types: %w", err)
	}
	index := make(map[string]string, len(types))
	for _, t := range types {
		index[t.Slug] = t.ID
	}
	return index, nil
}
