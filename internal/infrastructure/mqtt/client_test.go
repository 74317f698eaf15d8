package mqtt

import (
	"strings"
	"testing"

	"github.com/nerrad567/sensorflash-core/internal/infrastructure/config"
)

func TestTopics_SessionHierarchy(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "sensorflash/system/status"},
		{"phase", topics.SessionPhase("ses-1"), "sensorflash/session/ses-1/phase"},
		{"progress", topics.SessionProgress("ses-1"), "sensorflash/session/ses-1/progress"},
		{"log", topics.SessionLog("ses-1"), "sensorflash/session/ses-1/log"},
		{"outcome", topics.SessionOutcome("ses-1"), "sensorflash/session/ses-1/outcome"},
		{"monitor", topics.MonitorLine("ses-1"), "sensorflash/session/ses-1/monitor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions_BrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     1883,
			ClientID: "sensorflash-test",
		},
		QoS: 1,
	}

	opts := buildClientOptions(cfg)

	servers := opts.Servers
	if len(servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(servers))
	}
	if got := servers[0].String(); got != "tcp://broker.local:1883" {
		t.Errorf("broker URL = %q, want tcp://broker.local:1883", got)
	}
	if opts.ClientID != "sensorflash-test" {
		t.Errorf("ClientID = %q, want sensorflash-test", opts.ClientID)
	}
}

func TestBuildClientOptions_TLSScheme(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "broker.local",
			Port: 8883,
			TLS:  true,
		},
	}

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("expected TLS config to be set")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "h", Port: 1883, ClientID: "cid"},
	}
	opts := buildClientOptions(cfg)
	configureLWT(opts, "cid")

	if opts.WillTopic != "sensorflash/system/status" {
		t.Errorf("WillTopic = %q, want sensorflash/system/status", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("expected retained LWT")
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %s, want offline status", opts.WillPayload)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{cfg: config.MQTTConfig{QoS: 1}}

	if err := c.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("bad qos error = %v, want ErrInvalidQoS", err)
	}
}
