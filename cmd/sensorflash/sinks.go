package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/sensorflash-core/internal/flasher"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/mqtt"
)

// mqttSessionSink publishes session events to the MQTT broker so other
// services (dashboards, notifiers) can follow flashing activity without
// holding a WebSocket to this host.
type mqttSessionSink struct {
	client *mqtt.Client
	topics mqtt.Topics
	logger *logging.Logger
}

func newMQTTSink(client *mqtt.Client, logger *logging.Logger) *mqttSessionSink {
	return &mqttSessionSink{client: client, logger: logger}
}

// publish marshals the payload and fires it at the topic, best-effort.
func (s *mqttSessionSink) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshalling MQTT session event", "topic", topic, "error", err)
		return
	}
	if err := s.client.PublishEvent(topic, data); err != nil {
		s.logger.Debug("MQTT session event dropped", "topic", topic, "error", err)
	}
}

// OnLog implements flasher.EventSink.
func (s *mqttSessionSink) OnLog(sessionID string, event flasher.LogEvent) {
	s.publish(s.topics.SessionLog(sessionID), map[string]any{
		"session_id": sessionID,
		"timestamp":  event.Timestamp,
		"severity":   event.Severity,
		"message":    event.Message,
	})
}

// OnPhase implements flasher.EventSink. Terminal states are additionally
// published on the outcome topic, which downstream consumers can watch
// without tracking the whole state machine.
func (s *mqttSessionSink) OnPhase(sessionID string, state flasher.State) {
	s.publish(s.topics.SessionPhase(sessionID), map[string]any{
		"session_id": sessionID,
		"state":      state,
	})
	if state.IsTerminal() {
		s.publish(s.topics.SessionOutcome(sessionID), map[string]any{
			"session_id": sessionID,
			"outcome":    state,
		})
	}
}

// OnProgress implements flasher.EventSink.
func (s *mqttSessionSink) OnProgress(sessionID string, percent float64) {
	s.publish(s.topics.SessionProgress(sessionID), map[string]any{
		"session_id": sessionID,
		"percent":    percent,
	})
}

// OnMonitorLine implements flasher.EventSink.
func (s *mqttSessionSink) OnMonitorLine(sessionID string, line string) {
	s.publish(s.topics.MonitorLine(sessionID), map[string]any{
		"session_id": sessionID,
		"line":       line,
	})
}

// sessionStatuser is the slice of the session manager the InfluxDB sink
// needs to enrich samples with port, chip, and phase.
type sessionStatuser interface {
	Status() flasher.SessionStatus
}

// influxSessionSink writes progress samples and session outcomes to
// InfluxDB for long-term telemetry.
//
// The sink is created before the session manager (it is part of the
// manager's event fan-out), so the status source is attached afterwards
// with SetSessions.
type influxSessionSink struct {
	client *influxdb.Client

	mu       sync.RWMutex
	sessions sessionStatuser
}

func newInfluxSink(client *influxdb.Client) *influxSessionSink {
	return &influxSessionSink{client: client}
}

// SetSessions attaches the status source.
func (s *influxSessionSink) SetSessions(sessions sessionStatuser) {
	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()
}

func (s *influxSessionSink) status() (flasher.SessionStatus, bool) {
	s.mu.RLock()
	sessions := s.sessions
	s.mu.RUnlock()
	if sessions == nil {
		return flasher.SessionStatus{}, false
	}
	return sessions.Status(), true
}

// OnLog implements flasher.EventSink.
func (s *influxSessionSink) OnLog(string, flasher.LogEvent) {}

// OnPhase implements flasher.EventSink. Only terminal states produce a
// point: one outcome row per session.
func (s *influxSessionSink) OnPhase(sessionID string, state flasher.State) {
	if !state.IsTerminal() {
		return
	}
	st, ok := s.status()
	if !ok {
		return
	}
	s.client.WriteSessionOutcome(sessionID, st.Port, st.ChipID, string(state), time.Since(st.StartedAt))
}

// OnProgress implements flasher.EventSink.
func (s *influxSessionSink) OnProgress(sessionID string, percent float64) {
	st, ok := s.status()
	if !ok {
		return
	}
	s.client.WriteProgressSample(sessionID, st.Port, string(st.State), percent)
}

// OnMonitorLine implements flasher.EventSink.
func (s *influxSessionSink) OnMonitorLine(string, string) {}

// compile-time checks
var (
	_ flasher.EventSink = (*mqttSessionSink)(nil)
	_ flasher.EventSink = (*influxSessionSink)(nil)
)
