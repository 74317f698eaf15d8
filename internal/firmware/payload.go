package firmware

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Payload holds decoded firmware bytes.
//
// On the wire the compile service sends either a base64 string or a JSON
// integer array; in-process callers construct payloads from raw bytes.
// All three converge here so downstream code never type-probes.
type Payload struct {
	data []byte
}

// PayloadFromBytes wraps raw firmware bytes in a Payload.
func PayloadFromBytes(data []byte) Payload {
	return Payload{data: data}
}

// Bytes returns the decoded firmware bytes.
// Callers must not mutate the returned slice.
func (p Payload) Bytes() []byte { return p.data }

// Len returns the decoded payload size in bytes.
func (p Payload) Len() int { return len(p.data) }

// UnmarshalJSON decodes a payload from either supported wire encoding.
func (p *Payload) UnmarshalJSON(raw []byte) error {
	// Base64 string form: "6AMAAEA..."
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("%w: base64: %w", ErrInvalidPayload, err)
		}
		p.data = data
		return nil
	}

	// Integer array form: [232, 3, 0, 64, ...]
	var ints []int
	if err := json.Unmarshal(raw, &ints); err == nil {
		data := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fmt.Errorf("%w: byte value %d out of range at index %d", ErrInvalidPayload, v, i)
			}
			data[i] = byte(v)
		}
		p.data = data
		return nil
	}

	return fmt.Errorf("%w: expected base64 string or integer array", ErrInvalidPayload)
}

// MarshalJSON encodes the payload as a base64 string, the compact form.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(p.data))
}

// FlashFile is one firmware region: a payload bound to a flash address.
// Immutable once received from the compile service.
type FlashFile struct {
	// Data is the decoded firmware bytes for this region.
	Data Payload `json:"data"`

	// Address is the flash offset the region is written at (e.g., 0x0 for
	// a merged image, 0x10000 for an application partition).
	Address uint32 `json:"address"`
}

// Validate checks that a flash file can actually be written.
func (f FlashFile) Validate() error {
	if f.Data.Len() == 0 {
		return fmt.Errorf("%w: flash file at 0x%X has no data", ErrEmptyFirmware, f.Address)
	}
	return nil
}
