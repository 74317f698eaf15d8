package flasher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/serialport"
)

// sessionIDLength is the number of UUID characters kept in a session ID.
const sessionIDLength = 8

// PortWatcher is the hot-plug surface the session manager consumes.
// Satisfied by *serialport.Watcher.
type PortWatcher interface {
	Subscribe(match func(serialport.PortInfo) bool, onDisconnect func(serialport.PortInfo)) (cancel func())
}

// SessionRecord is the persisted outcome of one session.
type SessionRecord struct {
	ID              string
	Port            string
	Platform        string
	DeviceID        string
	ChipID          string
	FirmwareVersion string
	Attempts        int
	Baud            int
	FallbackUsed    bool
	Outcome         State
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Events          []LogEvent
}

// Recorder persists finished sessions. Satisfied by *history.Repository.
type Recorder interface {
	Record(ctx context.Context, rec SessionRecord) error
}

// FlashRequest is one flash job: the target port plus the compiled
// firmware and the device configuration it was built from.
type FlashRequest struct {
	Port            string
	Device          firmware.DeviceConfig
	FirmwareVersion string
	Files           []firmware.FlashFile
}

// SessionStatus is a point-in-time snapshot of the active (or most
// recently finished) session.
type SessionStatus struct {
	SessionID       string    `json:"session_id"`
	State           State     `json:"state"`
	Port            string    `json:"port,omitempty"`
	ChipID          string    `json:"chip_id,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Progress        float64   `json:"progress"`
	Attempts        int       `json:"attempts"`
	Baud            int       `json:"baud,omitempty"`
	FallbackUsed    bool      `json:"fallback_used"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Config bounds the session manager's behaviour. All values come from the
// service configuration.
type Config struct {
	// Platform is the only device platform this host flashes over serial.
	Platform string

	DefaultBaud        int
	FallbackBaud       int
	MaxConnectAttempts int
	FallbackWindow     time.Duration

	// MonitorBaud is the rate the live monitor opens the port at; it must
	// match the application firmware's console rate, not the bootloader's.
	MonitorBaud int

	// ProbeTimeout bounds one stub liveness probe.
	ProbeTimeout time.Duration
}

// Deps are the session manager's collaborators. Opener, Dialer and
// Watcher are required; the rest may be nil.
type Deps struct {
	Opener    PortOpener
	Dialer    TransportDialer
	Watcher   PortWatcher
	Registrar Registrar
	Recorder  Recorder
	Events    EventSink
	Logger    Logger
}

// SessionManager owns the session state machine and the port ownership
// invariant: at most one session holds an open port, and a session is
// either flashing or monitoring, never both.
//
// Thread Safety: all exported methods are safe for concurrent use. Flash
// is synchronous; concurrent calls beyond the first are rejected with
// ErrSessionActive rather than queued.
type SessionManager struct {
	cfg    Config
	opener PortOpener
	dialer TransportDialer
	watch  PortWatcher
	reg    Registrar
	rec    Recorder
	events EventSink
	logger Logger

	progress *ProgressTracker

	mu           sync.Mutex
	state        State
	sessionID    string
	port         string
	platform     string
	deviceID     string
	chipID       string
	fwVersion    string
	attempts     int
	baud         int
	fallbackUsed bool
	startedAt    time.Time
	lastError    string
	eventLog     []LogEvent

	// Flash-session teardown handles.
	cancelFlash  context.CancelFunc
	unsubscribe  func()
	transport    ChipTransport
	disconnected bool

	// Monitor-session handles.
	monitor     *Monitor
	monitorPort SerialPort
}

// NewSessionManager creates a session manager.
func NewSessionManager(cfg Config, deps Deps) *SessionManager {
	if deps.Events == nil {
		deps.Events = NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	m := &SessionManager{
		cfg:    cfg,
		opener: deps.Opener,
		dialer: deps.Dialer,
		watch:  deps.Watcher,
		reg:    deps.Registrar,
		rec:    deps.Recorder,
		events: deps.Events,
		logger: deps.Logger,
		state:  StateIdle,
	}
	m.progress = NewProgressTracker(func(pct float64) {
		m.mu.Lock()
		id := m.sessionID
		m.mu.Unlock()
		m.events.OnProgress(id, pct)
	})
	return m
}

// Flash runs one complete flash session, synchronously.
//
// The session walks Connecting → Negotiating → VerifyingStub → Erasing →
// Writing → Resetting → Registering → Completed. Reset and registration
// failures are warnings; everything earlier is fatal and lands in Failed.
// A hot-plug disconnect of the target port aborts whatever phase is
// running.
func (m *SessionManager) Flash(ctx context.Context, req FlashRequest) (*SessionStatus, error) {
	if err := m.begin(req); err != nil {
		return nil, err
	}

	// Platform pre-check: never open the port for a platform this host
	// cannot flash over serial.
	if req.Device.Platform != m.cfg.Platform {
		m.appendLog(SeverityError, fmt.Sprintf("platform %q is not flashable over serial, use offline flashing", req.Device.Platform))
		return m.fail(fmt.Errorf("%w: %s", ErrPlatformUnsupported, req.Device.Platform))
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.armTeardown(cancel, req.Port)

	transport := m.dialer.Dial(req.Port)
	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()

	emit := m.appendLog

	// Negotiating
	m.setState(StateNegotiating)
	seq := NewBootSequencer(m.opener, m.logger)
	neg := NewNegotiator(seq, NegotiateConfig{
		DefaultBaud:    m.cfg.DefaultBaud,
		FallbackBaud:   m.cfg.FallbackBaud,
		MaxAttempts:    m.cfg.MaxConnectAttempts,
		FallbackWindow: m.cfg.FallbackWindow,
	}, m.logger, emit)

	result, err := neg.Negotiate(sessionCtx, transport, req.Port)
	m.mu.Lock()
	if result != nil {
		m.chipID = result.ChipID
		m.baud = result.Baud
		m.attempts = result.Attempts
		m.fallbackUsed = result.FallbackUsed
	}
	m.mu.Unlock()
	if err != nil {
		return m.fail(err)
	}
	m.progress.Update(PhaseConnectErase, bandPctAfterConnect)

	// VerifyingStub
	m.setState(StateVerifyingStub)
	check := NewStubCheck(m.cfg.ProbeTimeout, m.logger, emit)
	if err := check.Verify(sessionCtx, transport, result.Baud); err != nil {
		return m.fail(err)
	}
	m.progress.Update(PhaseConnectErase, bandPctAfterStub)

	writer := NewWriter(m.progress, m.logger, emit)

	// Erasing
	m.setState(StateErasing)
	if err := writer.Erase(sessionCtx, transport, req.Files); err != nil {
		return m.fail(err)
	}

	// Writing
	m.setState(StateWriting)
	if err := writer.Write(sessionCtx, transport, req.Files); err != nil {
		return m.fail(err)
	}

	// Resetting (best-effort)
	m.setState(StateResetting)
	writer.Reset(sessionCtx, transport)

	// Registering (failures are warnings)
	m.setState(StateRegistering)
	m.register(sessionCtx, req)

	m.progress.Update(PhaseFinalize, 100)
	m.appendLog(SeveritySuccess, fmt.Sprintf("flash complete: %s firmware %s", req.Device.DeviceID, req.FirmwareVersion))
	m.setState(StateCompleted)
	m.teardownFlash()
	m.record()

	status := m.Status()
	return &status, nil
}

// begin reserves the session slot and initialises session fields.
func (m *SessionManager) begin(req FlashRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateMonitoring {
		return fmt.Errorf("%w: live monitor is running, stop it first", ErrSessionActive)
	}
	if !m.state.canStartFlash() {
		return fmt.Errorf("%w: session %s is %s", ErrSessionActive, m.sessionID, m.state)
	}

	m.sessionID = "ses-" + uuid.New().String()[:sessionIDLength]
	m.port = req.Port
	m.platform = req.Device.Platform
	m.deviceID = req.Device.DeviceID
	m.chipID = ""
	m.fwVersion = req.FirmwareVersion
	m.attempts = 0
	m.baud = 0
	m.fallbackUsed = false
	m.startedAt = time.Now()
	m.lastError = ""
	m.eventLog = nil
	m.disconnected = false
	m.state = StateConnecting
	m.progress.Reset()

	m.logger.Info("flash session started", "session", m.sessionID, "port", req.Port, "device", req.Device.DeviceID)
	m.events.OnPhase(m.sessionID, StateConnecting)
	return nil
}

// armTeardown wires the hot-plug subscription and the cancel handle for
// the running flash.
func (m *SessionManager) armTeardown(cancel context.CancelFunc, portPath string) {
	unsubscribe := m.watch.Subscribe(
		func(p serialport.PortInfo) bool { return p.Path == portPath },
		func(p serialport.PortInfo) {
			m.mu.Lock()
			m.disconnected = true
			m.mu.Unlock()
			m.logger.Warn("owned port disconnected mid-flash", "port", p.Path)
			cancel()
		},
	)

	m.mu.Lock()
	m.cancelFlash = cancel
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// register runs the post-flash registration sequence. Never fatal.
func (m *SessionManager) register(ctx context.Context, req FlashRequest) {
	if m.reg == nil {
		m.appendLog(SeverityInfo, "device registration not configured, skipping")
		return
	}

	m.appendLog(SeverityInfo, "registering device")
	if err := m.reg.Register(ctx, req.Device, req.FirmwareVersion); err != nil {
		m.appendLog(SeverityWarning, fmt.Sprintf("device registration failed: %v (device will self-register on first boot)", err))
		m.logger.Warn("device registration failed", "session", m.sessionID, "error", err)
		return
	}
	m.appendLog(SeveritySuccess, "device registered")
}

// fail moves the session to Failed, tears down and records it, and
// returns the terminal error.
func (m *SessionManager) fail(err error) (*SessionStatus, error) {
	m.mu.Lock()
	if m.disconnected {
		err = fmt.Errorf("%w: %w", ErrPortDisconnected, err)
	}
	m.lastError = err.Error()
	m.mu.Unlock()

	m.appendLog(SeverityError, err.Error())
	m.setState(StateFailed)
	m.teardownFlash()
	m.record()

	m.logger.Error("flash session failed", "session", m.sessionID, "error", err)
	return nil, err
}

// teardownFlash releases everything a flash session holds. Idempotent.
func (m *SessionManager) teardownFlash() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	transport := m.transport
	m.unsubscribe = nil
	m.transport = nil
	m.cancelFlash = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if transport != nil {
		if err := transport.Disconnect(); err != nil {
			m.logger.Warn("transport disconnect failed", "error", err)
		}
	}
}

// record persists the finished session. Failures are logged, never raised;
// losing a history row must not fail a flash that succeeded on the wire.
func (m *SessionManager) record() {
	if m.rec == nil {
		return
	}

	m.mu.Lock()
	rec := SessionRecord{
		ID:              m.sessionID,
		Port:            m.port,
		Platform:        m.platform,
		DeviceID:        m.deviceID,
		ChipID:          m.chipID,
		FirmwareVersion: m.fwVersion,
		Attempts:        m.attempts,
		Baud:            m.baud,
		FallbackUsed:    m.fallbackUsed,
		Outcome:         m.state,
		Error:           m.lastError,
		StartedAt:       m.startedAt,
		FinishedAt:      time.Now(),
		Events:          append([]LogEvent(nil), m.eventLog...),
	}
	m.mu.Unlock()

	// The session context may already be cancelled (disconnect paths);
	// persistence gets its own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.rec.Record(ctx, rec); err != nil {
		m.logger.Warn("failed to record session history", "session", rec.ID, "error", err)
	}
}

// StartMonitor opens the port at the monitor baud rate and streams live
// serial output until StopMonitor, a hot-plug disconnect, or stream
// closure.
func (m *SessionManager) StartMonitor(portPath string) error {
	m.mu.Lock()
	if m.state == StateMonitoring {
		m.mu.Unlock()
		return fmt.Errorf("%w: monitor already running", ErrSessionActive)
	}
	if !m.state.canStartMonitor() {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot monitor while %s", ErrInvalidState, state)
	}
	// Reserve the session slot before releasing the lock. Opening the
	// port can take a while, and a concurrent Flash or StartMonitor must
	// not pass its own state check during that window.
	prev := m.state
	sessionID := "ses-" + uuid.New().String()[:sessionIDLength]
	m.state = StateMonitoring
	m.mu.Unlock()

	rollback := func() {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
	}

	port, err := m.opener.OpenPort(portPath, m.cfg.MonitorBaud)
	if err != nil {
		rollback()
		return err
	}

	monitor := NewMonitor(port,
		func(line string) { m.events.OnMonitorLine(sessionID, line) },
		func(err error) { go m.monitorEnded("stream closed") },
		m.logger,
	)
	if err := monitor.Start(); err != nil {
		_ = port.Close()
		rollback()
		return err
	}

	unsubscribe := m.watch.Subscribe(
		func(p serialport.PortInfo) bool { return p.Path == portPath },
		func(p serialport.PortInfo) { go m.monitorEnded("port disconnected") },
	)

	m.mu.Lock()
	m.sessionID = sessionID
	m.port = portPath
	m.startedAt = time.Now()
	m.lastError = ""
	m.eventLog = nil
	m.monitor = monitor
	m.monitorPort = port
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.events.OnPhase(sessionID, StateMonitoring)
	m.appendLog(SeverityInfo, fmt.Sprintf("monitoring %s at %d baud", portPath, m.cfg.MonitorBaud))
	m.logger.Info("live monitor started", "session", sessionID, "port", portPath)
	return nil
}

// StopMonitor ends the live monitor and releases the port.
func (m *SessionManager) StopMonitor() error {
	return m.stopMonitor("stopped by user")
}

// monitorEnded handles monitor termination that the user didn't request.
func (m *SessionManager) monitorEnded(reason string) {
	if err := m.stopMonitor(reason); err != nil {
		m.logger.Debug("monitor already stopped", "reason", reason)
	}
}

func (m *SessionManager) stopMonitor(reason string) error {
	m.mu.Lock()
	// m.monitor is nil while a start is still opening the port; there is
	// nothing to stop yet.
	if m.state != StateMonitoring || m.monitor == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	monitor := m.monitor
	port := m.monitorPort
	unsubscribe := m.unsubscribe
	m.monitor = nil
	m.monitorPort = nil
	m.unsubscribe = nil
	m.state = StateIdle
	sessionID := m.sessionID
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	monitor.Stop()
	if err := port.Close(); err != nil {
		m.logger.Warn("monitor port close failed", "port", port.Path(), "error", err)
	}

	m.appendLog(SeverityInfo, "monitor ended: "+reason)
	m.events.OnPhase(sessionID, StateIdle)
	m.logger.Info("live monitor stopped", "session", sessionID, "reason", reason)
	return nil
}

// Disconnect destroys whatever session is active: a running flash is
// cancelled, a monitor is stopped, a terminal session is cleared to Idle.
func (m *SessionManager) Disconnect() error {
	m.mu.Lock()
	state := m.state
	cancel := m.cancelFlash
	m.mu.Unlock()

	switch {
	case state == StateMonitoring:
		return m.stopMonitor("disconnect requested")
	case state == StateIdle:
		return ErrNoSession
	case state.IsTerminal():
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		return nil
	default:
		// A flash is in flight; cancelling its context aborts the current
		// phase and the Flash call runs the Failed teardown itself.
		if cancel != nil {
			cancel()
		}
		return nil
	}
}

// Status returns a snapshot of the current session.
func (m *SessionManager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionStatus{
		SessionID:       m.sessionID,
		State:           m.state,
		Port:            m.port,
		ChipID:          m.chipID,
		FirmwareVersion: m.fwVersion,
		Progress:        m.progress.Value(),
		Attempts:        m.attempts,
		Baud:            m.baud,
		FallbackUsed:    m.fallbackUsed,
		StartedAt:       m.startedAt,
		Error:           m.lastError,
	}
}

// Events returns a copy of the current session's log.
func (m *SessionManager) Events() []LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEvent(nil), m.eventLog...)
}

// Close tears down any active session. Called on service shutdown.
func (m *SessionManager) Close() error {
	err := m.Disconnect()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// setState transitions the session state and notifies the sink.
func (m *SessionManager) setState(state State) {
	m.mu.Lock()
	m.state = state
	id := m.sessionID
	m.mu.Unlock()
	m.events.OnPhase(id, state)
}

// appendLog appends to the session's ordered event log and fans it out.
func (m *SessionManager) appendLog(severity Severity, msg string) {
	event := LogEvent{Timestamp: time.Now(), Severity: severity, Message: msg}

	m.mu.Lock()
	m.eventLog = append(m.eventLog, event)
	id := m.sessionID
	m.mu.Unlock()

	m.events.OnLog(id, event)
}
