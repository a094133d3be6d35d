package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/probebench/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "probebench-test",
		},
		QoS:         1,
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
		TopicPrefix: "probebench",
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("bench/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"stream", topics.Stream("can0-vcan0"), "bench/stream/can0-vcan0"},
		{"all streams", topics.AllStreams(), "bench/stream/+"},
		{"channel status", topics.ChannelStatus("dev-7"), "bench/channels/dev-7"},
		{"system status", topics.SystemStatus("node-a"), "bench/system/node-a"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestTopics_ChannelFromStream(t *testing.T) {
	topics := NewTopics("probebench")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"probebench/stream/dev-7", "dev-7", true},
		{"probebench/stream/", "", false},
		{"probebench/stream/a/b", "", false},
		{"probebench/channels/dev-7", "", false},
		{"other/stream/dev-7", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.ChannelFromStream(tt.topic)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ChannelFromStream(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("offline", "node-a", "graceful_shutdown"), &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "node-a" || p.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", p)
	}
	if p.Timestamp == "" {
		t.Error("timestamp should be set")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "bench", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "probebench-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bench" {
		t.Errorf("Username = %q, want bench", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig should be set when TLS is enabled")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestClient_ValidationWithoutConnection(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 0, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish oversize", c.Publish("t", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 0, false), ErrNotConnected},
		{"subscribe empty topic", c.Subscribe("", 0, noop), ErrInvalidTopic},
		{"subscribe nil handler", c.Subscribe("t", 0, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 0, noop), ErrNotConnected},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestClient_NilSafety(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client should not report connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Errorf("HealthCheck(cancelled) = %v, want context error", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
