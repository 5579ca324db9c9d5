package config

import (
	"strings"
	"testing"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("AGENT_ID", "alice")
	t.Setenv("AGENT_ENDPOINT", "https://alice.example.com")
	t.Setenv("AGENT_PUBLIC_KEY", "cHVibGljLWtleQ==")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.AgentID != "alice" {
		t.Errorf("agent id = %q", cfg.Agent.AgentID)
	}
	if cfg.MessagesPerMinute != 60 {
		t.Errorf("rate limit default = %d, want 60", cfg.MessagesPerMinute)
	}
	if cfg.QueueMaxSize != 10000 {
		t.Errorf("queue size default = %d, want 10000", cfg.QueueMaxSize)
	}
	if cfg.DBPath != "data/swarm.db" {
		t.Errorf("db path default = %q", cfg.DBPath)
	}
	if cfg.Wake.Enabled || cfg.WakeEndpoint.Enabled {
		t.Error("wake must default to disabled")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("AGENT_ID", "")
	t.Setenv("AGENT_ENDPOINT", "")
	t.Setenv("AGENT_PUBLIC_KEY", "cHVibGljLWtleQ==")

	_, err := Load()
	if !errdefs.IsKind(err, errdefs.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	for _, name := range []string{"AGENT_ID", "AGENT_ENDPOINT"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestLoadWakeConfig(t *testing.T) {
	setRequired(t)
	t.Setenv("WAKE_ENABLED", "yes")
	t.Setenv("WAKE_ENDPOINT", "https://wake.example.com")
	t.Setenv("WAKE_EP_ENABLED", "1")
	t.Setenv("WAKE_EP_INVOKE_METHOD", "tmux")
	t.Setenv("WAKE_EP_TMUX_TARGET", "agent:0.0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Wake.Enabled || cfg.Wake.Endpoint != "https://wake.example.com" {
		t.Errorf("wake config = %+v", cfg.Wake)
	}
	if !cfg.WakeEndpoint.Enabled || cfg.WakeEndpoint.InvokeMethod != "tmux" {
		t.Errorf("wake endpoint config = %+v", cfg.WakeEndpoint)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"1", false, true},
		{"false", true, false},
		{"No", true, false},
		{"off", true, false},
		{"0", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		if got := parseBool("TEST_KEY", tt.value, tt.def); got != tt.want {
			t.Errorf("parseBool(%q, def=%v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}
