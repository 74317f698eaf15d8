package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/flasher"
)

// FlashRequest is the POST /flash payload.
//
// The usual path sends only Port and Device: the server compiles the
// firmware and flashes the result. Clients that already hold compiled
// images (offline builds) may send Files and FirmwareVersion directly,
// which skips the compile step.
type FlashRequest struct {
	Port            string                `json:"port"`
	Device          firmware.DeviceConfig `json:"device"`
	FirmwareVersion string                `json:"firmware_version,omitempty"`
	Files           []firmware.FlashFile  `json:"files,omitempty"`
}

// handleFlash compiles firmware for the requested device and runs a full
// flash session on the given port. The request is synchronous: the
// response carries the final session status, and real-time progress is
// streamed over the WebSocket hub while the request is pending.
func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	var req FlashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	if req.Port == "" {
		writeBadRequest(w, "port is required")
		return
	}
	if req.Device.DeviceID == "" {
		writeBadRequest(w, "device.deviceId is required")
		return
	}

	files := req.Files
	version := req.FirmwareVersion

	if len(files) == 0 {
		if s.compiler == nil {
			writeUnavailable(w, "compile service not configured; supply precompiled files")
			return
		}
		result, err := s.compiler.Compile(r.Context(), req.Device)
		if err != nil {
			s.logger.Error("firmware compile failed", "device_id", req.Device.DeviceID, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeCompileFailed, err.Error())
			return
		}
		files = result.FlashFiles
		version = result.FirmwareVersion
	}

	for _, f := range files {
		if err := f.Validate(); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	status, err := s.sessions.Flash(r.Context(), flasher.FlashRequest{
		Port:            req.Port,
		Device:          req.Device,
		FirmwareVersion: version,
		Files:           files,
	})

	// A nil status means the session was rejected before it started.
	// Once a session has run, its outcome (including failure) is reported
	// in the status body with a 200.
	if status == nil {
		switch {
		case errors.Is(err, flasher.ErrSessionActive), errors.Is(err, flasher.ErrInvalidState):
			writeConflict(w, "another session is active; disconnect it first")
		default:
			writeBadRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, status)
}
