package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sensorflash-core/internal/flasher"
)

// SessionResponse is the GET /session payload: the live status snapshot
// plus the session's ordered event log.
type SessionResponse struct {
	flasher.SessionStatus
	Events []flasher.LogEvent `json:"events"`
}

// MonitorRequest is the POST /monitor/start payload.
type MonitorRequest struct {
	Port string `json:"port"`
}

// PortResponse describes one attached serial port for the port picker.
type PortResponse struct {
	Path         string `json:"path"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// handleGetSession returns the current session status and event log.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		SessionStatus: s.sessions.Status(),
		Events:        s.sessions.Events(),
	})
}

// handleDisconnect tears down whatever session is active: a running flash
// is aborted, a monitor is stopped, a finished session is cleared to idle.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Disconnect(); err != nil {
		if errors.Is(err, flasher.ErrNoSession) {
			writeConflict(w, "no active session")
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

// handleMonitorStart opens the requested port and begins streaming serial
// output over the WebSocket hub.
func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	var req MonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Port == "" {
		writeBadRequest(w, "port is required")
		return
	}

	if err := s.sessions.StartMonitor(req.Port); err != nil {
		switch {
		case errors.Is(err, flasher.ErrSessionActive), errors.Is(err, flasher.ErrInvalidState):
			writeConflict(w, err.Error())
		default:
			// Port open failures land here: the device may be unplugged or
			// held by another process.
			writeError(w, http.StatusBadGateway, ErrCodeInternal, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, s.sessions.Status())
}

// handleMonitorStop ends the live monitor and releases the port.
func (s *Server) handleMonitorStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.StopMonitor(); err != nil {
		if errors.Is(err, flasher.ErrNoSession) {
			writeConflict(w, "no monitor session is running")
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

// handleListPorts returns the serial ports currently attached to the host.
func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	if s.ports == nil {
		writeUnavailable(w, "port enumeration not configured")
		return
	}

	infos := s.ports.List()
	ports := make([]PortResponse, 0, len(infos))
	for _, p := range infos {
		ports = append(ports, PortResponse{
			Path:         p.Path,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ports": ports,
		"count": len(ports),
	})
}
