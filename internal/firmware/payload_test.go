package firmware

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestPayload_UnmarshalBase64String(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`"6AMAQA=="`), &p); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	want := []byte{0xE8, 0x03, 0x00, 0x40}
	if !bytes.Equal(p.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", p.Bytes(), want)
	}
}

func TestPayload_UnmarshalIntegerArray(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`[232, 3, 0, 64]`), &p); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	want := []byte{232, 3, 0, 64}
	if !bytes.Equal(p.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", p.Bytes(), want)
	}
}

func TestPayload_UnmarshalInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad base64", `"not!!base64"`},
		{"byte out of range", `[1, 2, 300]`},
		{"negative byte", `[-1]`},
		{"object", `{"x": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Payload
			err := json.Unmarshal([]byte(tt.raw), &p)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("UnmarshalJSON(%s) error = %v, want ErrInvalidPayload", tt.raw, err)
			}
		})
	}
}

func TestPayload_FromBytesAndMarshal(t *testing.T) {
	p := PayloadFromBytes([]byte{0xDE, 0xAD})

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(out) != `"3q0="` {
		t.Errorf("MarshalJSON() = %s, want \"3q0=\"", out)
	}
}

func TestFlashFile_Validate(t *testing.T) {
	good := FlashFile{Data: PayloadFromBytes([]byte{1}), Address: 0x10000}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	empty := FlashFile{Address: 0x0}
	if err := empty.Validate(); !errors.Is(err, ErrEmptyFirmware) {
		t.Errorf("Validate() error = %v, want ErrEmptyFirmware", err)
	}
}

func TestFlashFile_UnmarshalMixedEncodings(t *testing.T) {
	raw := `[
		{"data": "6AM=", "address": 0},
		{"data": [1, 2, 3], "address": 65536}
	]`

	var files []FlashFile
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Address != 0 || files[0].Data.Len() != 2 {
		t.Errorf("file[0] = addr 0x%X len %d, want addr 0x0 len 2", files[0].Address, files[0].Data.Len())
	}
	if files[1].Address != 0x10000 || !bytes.Equal(files[1].Data.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("file[1] = addr 0x%X data %v", files[1].Address, files[1].Data.Bytes())
	}
}
