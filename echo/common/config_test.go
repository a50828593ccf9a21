package common

import (
	"strings"
	"testing"
)

// validServerConfig returns a configuration that passes validation
func validServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint: "127.0.0.1:7777",
		Loop: LoopConf{
			Backend:         BackendGoNet,
			TriggerMode:     TriggerEdge,
			Loops:           1,
			MaxPendingBytes: 8 * 1024 * 1024,
			HighWatermark:   1024 * 1024,
			LowWatermark:    64 * 1024,
		},
		LogLevel: "info",
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr bool
	}{
		{"valid", func(c *ServerConfig) {}, false},
		{"valid epoll", func(c *ServerConfig) { c.Loop.Backend = BackendEpoll }, false},
		{"valid level triggered", func(c *ServerConfig) { c.Loop.TriggerMode = TriggerLevel }, false},
		{"valid multiple loops", func(c *ServerConfig) { c.Loop.Loops = 4 }, false},
		{"empty endpoint", func(c *ServerConfig) { c.Endpoint = "" }, true},
		{"unknown backend", func(c *ServerConfig) { c.Loop.Backend = "select" }, true},
		{"unknown trigger mode", func(c *ServerConfig) { c.Loop.TriggerMode = "oneshot" }, true},
		{"zero loops", func(c *ServerConfig) { c.Loop.Loops = 0 }, true},
		{"negative pending cap", func(c *ServerConfig) { c.Loop.MaxPendingBytes = -1 }, true},
		{"high watermark above cap", func(c *ServerConfig) { c.Loop.HighWatermark = c.Loop.MaxPendingBytes + 1 }, true},
		{"low watermark above high", func(c *ServerConfig) { c.Loop.LowWatermark = c.Loop.HighWatermark }, true},
		{"negative low watermark", func(c *ServerConfig) { c.Loop.LowWatermark = -1 }, true},
		{"invalid log level", func(c *ServerConfig) { c.LogLevel = "verbose" }, true},
		{"warn log level", func(c *ServerConfig) { c.LogLevel = "warn" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validServerConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no validation error, got %v", err)
			}
		})
	}
}

func TestServerConfigString(t *testing.T) {
	config := validServerConfig()
	config.MetricsEndpoint = ":9100"

	s := config.String()

	for _, want := range []string{"127.0.0.1:7777", BackendGoNet, ":9100", "info"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected config string to contain %q:\n%s", want, s)
		}
	}
}

func TestServerConfigStringOmitsEpollFieldsForGoNet(t *testing.T) {
	config := validServerConfig()
	config.Loop.Backend = BackendGoNet

	if strings.Contains(config.String(), "Trigger Mode") {
		t.Errorf("expected no trigger mode section for the gonet backend")
	}
}

func TestClientConfigValidate(t *testing.T) {
	valid := ClientConfig{
		Endpoints:              []string{"localhost:7777"},
		ConnectionsPerEndpoint: 1,
		TimeoutSecond:          5,
		RetryCount:             3,
	}

	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr bool
	}{
		{"valid", func(c *ClientConfig) {}, false},
		{"no endpoints", func(c *ClientConfig) { c.Endpoints = nil }, true},
		{"blank endpoint", func(c *ClientConfig) { c.Endpoints = []string{" "} }, true},
		{"zero connections", func(c *ClientConfig) { c.ConnectionsPerEndpoint = 0 }, true},
		{"zero retries", func(c *ClientConfig) { c.RetryCount = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no validation error, got %v", err)
			}
		})
	}
}
