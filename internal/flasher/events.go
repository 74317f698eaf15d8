package flasher

import "time"

// Severity classifies a session log event.
type Severity string

// Log event severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEvent is one entry in a session's append-only, ordered event log.
// Events drive the UI log pane, the WebSocket/MQTT fan-out, and the
// persisted session history.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// EventSink receives session observability events.
//
// Implementations must be fast and non-blocking; sinks are called inline
// from the session goroutine. The api package's hub and the MQTT fan-out
// both queue internally.
type EventSink interface {
	// OnLog receives an appended log event.
	OnLog(sessionID string, event LogEvent)

	// OnPhase receives a state transition.
	OnPhase(sessionID string, state State)

	// OnProgress receives a monotonic overall progress value in [0,100].
	OnProgress(sessionID string, percent float64)

	// OnMonitorLine receives one decoded line of live monitor output.
	OnMonitorLine(sessionID string, line string)
}

// NopSink discards all events. Useful as a default and in tests.
type NopSink struct{}

func (NopSink) OnLog(string, LogEvent)       {}
func (NopSink) OnPhase(string, State)        {}
func (NopSink) OnProgress(string, float64)   {}
func (NopSink) OnMonitorLine(string, string) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) OnLog(sessionID string, event LogEvent) {
	for _, s := range m {
		s.OnLog(sessionID, event)
	}
}

func (m MultiSink) OnPhase(sessionID string, state State) {
	for _, s := range m {
		s.OnPhase(sessionID, state)
	}
}

func (m MultiSink) OnProgress(sessionID string, percent float64) {
	for _, s := range m {
		s.OnProgress(sessionID, percent)
	}
}

func (m MultiSink) OnMonitorLine(sessionID string, line string) {
	for _, s := range m {
		s.OnMonitorLine(sessionID, line)
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards all log output.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
