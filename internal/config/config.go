// Package config loads and validates the bridge's runtime configuration
// from environment variables (with an optional YAML override file), in
// the same viper-driven style the teacher uses for its own CLI config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully-resolved, validated runtime configuration (spec §6,
// "Configuration (environment)").
type Config struct {
	// Messaging provider
	ProviderAPIBase    string
	ProviderAPIKey     string
	ProviderAPISecret  string
	TrustedUser        string // normalized phone number
	SendFromNumber     string
	PollIntervalMs     int

	// Agent process
	AgentBinaryPath string
	AgentWorkDir    string
	ModelPrefix     string
	DefaultModel    string
	SparkModel      string

	// Storage
	DBPath   string
	LockPath string

	// Feature flags
	TypingIndicatorsEnabled bool
	ReadReceiptsEnabled     bool
	OutboundStylingEnabled  bool
	StartupBacklogDiscard   bool
	TypingHeartbeatSeconds  int

	// Notifications
	NotificationsEnabled bool
	RawExcerptBytes      int
	RetentionDays        int
	MaxNotificationRows  int

	// Webhook ingress
	WebhookEnabled bool
	WebhookHost    string
	WebhookPort    int
	WebhookPath    string
	WebhookSecret  string
}

const envPrefix = "BRIDGE"

// Load reads configuration from the environment (prefix BRIDGE_) and, if
// present, an optional YAML file at cfgFile (or ~/.config/imessage-codex-bridge/config.yaml),
// then validates it against spec §6's ranges.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "imessage-codex-bridge"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	_ = v.ReadInConfig()

	cfg := &Config{
		ProviderAPIBase:          v.GetString("provider.api_base"),
		ProviderAPIKey:           v.GetString("provider.api_key"),
		ProviderAPISecret:        v.GetString("provider.api_secret"),
		TrustedUser:              NormalizePhoneNumber(v.GetString("trusted_user")),
		SendFromNumber:           v.GetString("send_from_number"),
		PollIntervalMs:           v.GetInt("poll_interval_ms"),
		AgentBinaryPath:          v.GetString("agent.binary_path"),
		AgentWorkDir:             v.GetString("agent.work_dir"),
		ModelPrefix:              v.GetString("model_prefix"),
		DefaultModel:             v.GetString("default_model"),
		SparkModel:               v.GetString("spark_model"),
		DBPath:                   v.GetString("db_path"),
		LockPath:                 v.GetString("lock_path"),
		TypingIndicatorsEnabled:  v.GetBool("features.typing_indicators"),
		ReadReceiptsEnabled:      v.GetBool("features.read_receipts"),
		OutboundStylingEnabled:   v.GetBool("features.outbound_styling"),
		StartupBacklogDiscard:    v.GetBool("features.startup_backlog_discard"),
		TypingHeartbeatSeconds:   v.GetInt("typing_heartbeat_seconds"),
		NotificationsEnabled:     v.GetBool("notifications.enabled"),
		RawExcerptBytes:          v.GetInt("notifications.raw_excerpt_bytes"),
		RetentionDays:            v.GetInt("notifications.retention_days"),
		MaxNotificationRows:      v.GetInt("notifications.max_rows"),
		WebhookEnabled:           v.GetBool("webhook.enabled"),
		WebhookHost:              v.GetString("webhook.host"),
		WebhookPort:              v.GetInt("webhook.port"),
		WebhookPath:              v.GetString("webhook.path"),
		WebhookSecret:            v.GetString("webhook.secret"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".config", "imessage-codex-bridge")

	v.SetDefault("poll_interval_ms", 2000)
	v.SetDefault("model_prefix", "gpt-5")
	v.SetDefault("default_model", "gpt-5-codex")
	v.SetDefault("spark_model", "gpt-5.3-codex-spark")
	v.SetDefault("db_path", filepath.Join(stateDir, "bridge.db"))
	v.SetDefault("lock_path", filepath.Join(stateDir, "bridge.lock"))
	v.SetDefault("features.typing_indicators", true)
	v.SetDefault("features.read_receipts", true)
	v.SetDefault("features.outbound_styling", true)
	v.SetDefault("features.startup_backlog_discard", false)
	v.SetDefault("typing_heartbeat_seconds", 10)
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.raw_excerpt_bytes", 4096)
	v.SetDefault("notifications.retention_days", 30)
	v.SetDefault("notifications.max_rows", 5000)
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.host", "127.0.0.1")
	v.SetDefault("webhook.port", 8787)
	v.SetDefault("webhook.path", "/webhook")
}

// Validate enforces the ranges spec §6 names.
func (c *Config) Validate() error {
	if c.ProviderAPIBase == "" {
		return fmt.Errorf("provider.api_base is required")
	}
	if c.TrustedUser == "" {
		return fmt.Errorf("trusted_user is required")
	}
	if c.SendFromNumber == "" {
		return fmt.Errorf("send_from_number is required")
	}
	if c.PollIntervalMs < 250 || c.PollIntervalMs > 30000 {
		return fmt.Errorf("poll_interval_ms must be in [250, 30000], got %d", c.PollIntervalMs)
	}
	if c.AgentBinaryPath == "" {
		return fmt.Errorf("agent.binary_path is required")
	}
	if c.ModelPrefix == "" {
		return fmt.Errorf("model_prefix is required")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("default_model is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.TypingHeartbeatSeconds < 3 || c.TypingHeartbeatSeconds > 30 {
		return fmt.Errorf("typing_heartbeat_seconds must be in [3, 30], got %d", c.TypingHeartbeatSeconds)
	}
	if c.NotificationsEnabled {
		if c.RawExcerptBytes < 256 || c.RawExcerptBytes > 32768 {
			return fmt.Errorf("notifications.raw_excerpt_bytes must be in [256, 32768], got %d", c.RawExcerptBytes)
		}
		if c.RetentionDays < 1 {
			return fmt.Errorf("notifications.retention_days must be >= 1, got %d", c.RetentionDays)
		}
		if c.MaxNotificationRows < 100 {
			return fmt.Errorf("notifications.max_rows must be >= 100, got %d", c.MaxNotificationRows)
		}
	}
	if c.WebhookEnabled {
		if c.WebhookPath == "" {
			return fmt.Errorf("webhook.path is required when webhook.enabled")
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("webhook.secret is required when webhook.enabled")
		}
	}
	return nil
}

// NormalizePhoneNumber strips non-digits and prefixes "+" (spec §6).
// An empty result after stripping is rejected (returns "").
func NormalizePhoneNumber(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "+" + digits.String()
}
