// Package config loads process configuration from the environment.
// A .env file in the working directory is honoured when present.
package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// AgentConfig is the process identity advertised by /swarm/info.
type AgentConfig struct {
	AgentID         string
	Endpoint        string
	PublicKey       string
	ProtocolVersion string
	Capabilities    []string
	Name            string
	Description     string
}

// WakeConfig controls the outgoing wake trigger.
type WakeConfig struct {
	Enabled        bool
	Endpoint       string
	TimeoutSeconds int
}

// WakeEndpointConfig controls the local /api/wake endpoint.
type WakeEndpointConfig struct {
	Enabled               bool
	InvokeMethod          string
	TmuxTarget            string
	WebhookURL            string
	Secret                string
	SessionFile           string
	SessionTimeoutMinutes int
	PrefsFile             string
}

// Config is the full server configuration.
type Config struct {
	Agent             AgentConfig
	MessagesPerMinute int
	QueueMaxSize      int
	DBPath            string
	Wake              WakeConfig
	WakeEndpoint      WakeEndpointConfig
}

// rawConfig is the env-tag view. Booleans stay strings so unrecognised
// values can fall back to their defaults with a warning instead of
// failing the whole load.
type rawConfig struct {
	AgentID          string `env:"AGENT_ID"`
	AgentEndpoint    string `env:"AGENT_ENDPOINT"`
	AgentPublicKey   string `env:"AGENT_PUBLIC_KEY"`
	AgentName        string `env:"AGENT_NAME"`
	AgentDescription string `env:"AGENT_DESCRIPTION"`

	MessagesPerMinute int    `env:"RATE_LIMIT_MESSAGES_PER_MINUTE" envDefault:"60"`
	QueueMaxSize      int    `env:"QUEUE_MAX_SIZE" envDefault:"10000"`
	DBPath            string `env:"DB_PATH" envDefault:"data/swarm.db"`

	WakeEnabled  string `env:"WAKE_ENABLED" envDefault:"false"`
	WakeEndpoint string `env:"WAKE_ENDPOINT"`
	WakeTimeout  int    `env:"WAKE_TIMEOUT" envDefault:"5"`

	WakeEPEnabled        string `env:"WAKE_EP_ENABLED" envDefault:"false"`
	WakeEPInvokeMethod   string `env:"WAKE_EP_INVOKE_METHOD" envDefault:"noop"`
	WakeEPTmuxTarget     string `env:"WAKE_EP_TMUX_TARGET"`
	WakeEPWebhookURL     string `env:"WAKE_EP_WEBHOOK_URL"`
	WakeEPSecret         string `env:"WAKE_EP_SECRET"`
	WakeEPSessionFile    string `env:"WAKE_EP_SESSION_FILE" envDefault:"data/session.json"`
	WakeEPSessionTimeout int    `env:"WAKE_EP_SESSION_TIMEOUT" envDefault:"30"`
	WakePrefsFile        string `env:"WAKE_PREFS_FILE"`
}

// Load reads configuration from the environment (and .env, if any).
// AGENT_ID, AGENT_ENDPOINT and AGENT_PUBLIC_KEY are required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var raw rawConfig
	if err := env.Parse(&raw); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "environment parsing failed")
	}

	var missing []string
	if raw.AgentID == "" {
		missing = append(missing, "AGENT_ID")
	}
	if raw.AgentEndpoint == "" {
		missing = append(missing, "AGENT_ENDPOINT")
	}
	if raw.AgentPublicKey == "" {
		missing = append(missing, "AGENT_PUBLIC_KEY")
	}
	if len(missing) > 0 {
		return nil, errdefs.New(errdefs.KindValidation, "missing required environment: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		Agent: AgentConfig{
			AgentID:         raw.AgentID,
			Endpoint:        raw.AgentEndpoint,
			PublicKey:       raw.AgentPublicKey,
			ProtocolVersion: "0.1.0",
			Capabilities:    []string{"message", "system", "notification"},
			Name:            raw.AgentName,
			Description:     raw.AgentDescription,
		},
		MessagesPerMinute: raw.MessagesPerMinute,
		QueueMaxSize:      raw.QueueMaxSize,
		DBPath:            raw.DBPath,
		Wake: WakeConfig{
			Enabled:        parseBool("WAKE_ENABLED", raw.WakeEnabled, false),
			Endpoint:       raw.WakeEndpoint,
			TimeoutSeconds: raw.WakeTimeout,
		},
		WakeEndpoint: WakeEndpointConfig{
			Enabled:               parseBool("WAKE_EP_ENABLED", raw.WakeEPEnabled, false),
			InvokeMethod:          raw.WakeEPInvokeMethod,
			TmuxTarget:            raw.WakeEPTmuxTarget,
			WebhookURL:            raw.WakeEPWebhookURL,
			Secret:                raw.WakeEPSecret,
			SessionFile:           raw.WakeEPSessionFile,
			SessionTimeoutMinutes: raw.WakeEPSessionTimeout,
			PrefsFile:             raw.WakePrefsFile,
		},
	}
	return cfg, nil
}

// parseBool maps recognised boolean spellings; anything else logs a
// warning and falls back to the declared default.
func parseBool(key, value string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		logger.WarnCF("config", "unrecognised boolean value, using default", map[string]any{
			"key": key, "value": value, "default": def,
		})
		return def
	}
}
