// Package mqtt provides the optional MQTT fan-out for SensorFlash Core.
//
// It wraps paho.mqtt.golang with connection management, Last Will and
// Testament for offline detection, and topic builders for the
// sensorflash/... hierarchy.
//
// The client is publish-only. Session events (phase transitions, throttled
// progress, log lines, terminal outcomes) and service status are published
// for dashboards and fleet tooling; the service accepts no commands over
// MQTT — all control goes through the HTTP API.
//
// # Topic Hierarchy
//
//	sensorflash/system/status                   retained service status (+LWT)
//	sensorflash/session/{id}/phase              retained current phase
//	sensorflash/session/{id}/progress           progress samples (not retained)
//	sensorflash/session/{id}/log                log events (not retained)
//	sensorflash/session/{id}/monitor            live monitor lines (not retained)
//	sensorflash/session/{id}/outcome            retained terminal outcome
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.SessionPhase(sessionID)
//	client.PublishRetained(topic, payload)
package mqtt
