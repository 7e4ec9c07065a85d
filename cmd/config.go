package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imessage-codex-bridge/internal/config"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "imessage-codex-bridge"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage bridge configuration.

Running bare 'bridge config' is the same as 'bridge config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# imessage-codex-bridge configuration
# See: bridge config show (for effective values and sources)

provider:
  api_base: "{{ .ProviderAPIBase }}"
  api_key: "{{ .ProviderAPIKey }}"
  api_secret: "{{ .ProviderAPISecret }}"

# Phone number the bridge trusts as the operator, e.g. "+15551234567"
trusted_user: "{{ .TrustedUser }}"
send_from_number: "{{ .SendFromNumber }}"

# Poll interval in milliseconds, range [250, 30000]
poll_interval_ms: {{ .PollIntervalMs }}

agent:
  binary_path: "{{ .AgentBinaryPath }}"
  work_dir: "{{ .AgentWorkDir }}"

model_prefix: "{{ .ModelPrefix }}"
default_model: "{{ .DefaultModel }}"
spark_model: "{{ .SparkModel }}"

db_path: "{{ .DBPath }}"
lock_path: "{{ .LockPath }}"

features:
  typing_indicators: {{ .TypingIndicatorsEnabled }}
  read_receipts: {{ .ReadReceiptsEnabled }}
  outbound_styling: {{ .OutboundStylingEnabled }}
  startup_backlog_discard: {{ .StartupBacklogDiscard }}

typing_heartbeat_seconds: {{ .TypingHeartbeatSeconds }}

notifications:
  enabled: {{ .NotificationsEnabled }}
  raw_excerpt_bytes: {{ .RawExcerptBytes }}
  retention_days: {{ .RetentionDays }}
  max_rows: {{ .MaxNotificationRows }}

webhook:
  enabled: {{ .WebhookEnabled }}
  host: "{{ .WebhookHost }}"
  port: {{ .WebhookPort }}
  path: "{{ .WebhookPath }}"
  secret: "{{ .WebhookSecret }}"
`

type configTemplateData struct {
	ProviderAPIBase         string
	ProviderAPIKey          string
	ProviderAPISecret       string
	TrustedUser             string
	SendFromNumber          string
	PollIntervalMs          int
	AgentBinaryPath         string
	AgentWorkDir            string
	ModelPrefix             string
	DefaultModel            string
	SparkModel              string
	DBPath                  string
	LockPath                string
	TypingIndicatorsEnabled bool
	ReadReceiptsEnabled     bool
	OutboundStylingEnabled  bool
	StartupBacklogDiscard   bool
	TypingHeartbeatSeconds  int
	NotificationsEnabled    bool
	RawExcerptBytes         int
	RetentionDays           int
	MaxNotificationRows     int
	WebhookEnabled          bool
	WebhookHost             string
	WebhookPort             int
	WebhookPath             string
	WebhookSecret           string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		fmt.Println("overwriting existing config file")
	}

	// Seed the template from whatever's already resolvable (env vars, an
	// existing config file, defaults). Load fails validation when a required
	// key such as trusted_user or send_from_number is unset; the template is
	// then filled from an empty Config instead.
	c, err := config.Load(cfgFile)
	if err != nil {
		c = &config.Config{}
	}

	data := configTemplateData{
		ProviderAPIBase:         c.ProviderAPIBase,
		ProviderAPIKey:          c.ProviderAPIKey,
		ProviderAPISecret:       c.ProviderAPISecret,
		TrustedUser:             c.TrustedUser,
		SendFromNumber:          c.SendFromNumber,
		PollIntervalMs:          c.PollIntervalMs,
		AgentBinaryPath:         c.AgentBinaryPath,
		AgentWorkDir:            c.AgentWorkDir,
		ModelPrefix:             c.ModelPrefix,
		DefaultModel:            c.DefaultModel,
		SparkModel:              c.SparkModel,
		DBPath:                  c.DBPath,
		LockPath:                c.LockPath,
		TypingIndicatorsEnabled: c.TypingIndicatorsEnabled,
		ReadReceiptsEnabled:     c.ReadReceiptsEnabled,
		OutboundStylingEnabled:  c.OutboundStylingEnabled,
		StartupBacklogDiscard:   c.StartupBacklogDiscard,
		TypingHeartbeatSeconds:  c.TypingHeartbeatSeconds,
		NotificationsEnabled:    c.NotificationsEnabled,
		RawExcerptBytes:         c.RawExcerptBytes,
		RetentionDays:           c.RetentionDays,
		MaxNotificationRows:     c.MaxNotificationRows,
		WebhookEnabled:          c.WebhookEnabled,
		WebhookHost:             c.WebhookHost,
		WebhookPort:             c.WebhookPort,
		WebhookPath:             c.WebhookPath,
		WebhookSecret:           c.WebhookSecret,
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("config file created: %s\n\n", cfgPath)
	fmt.Print(buf.String())
	return nil
}

// configKeyInfo describes one resolved config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Value  any
}

func configKeysOf(c *config.Config) []configKeyInfo {
	return []configKeyInfo{
		{Key: "provider.api_base", EnvVar: "BRIDGE_PROVIDER_API_BASE", Value: c.ProviderAPIBase},
		{Key: "trusted_user", EnvVar: "BRIDGE_TRUSTED_USER", Value: c.TrustedUser},
		{Key: "send_from_number", EnvVar: "BRIDGE_SEND_FROM_NUMBER", Value: c.SendFromNumber},
		{Key: "poll_interval_ms", EnvVar: "BRIDGE_POLL_INTERVAL_MS", Value: c.PollIntervalMs},
		{Key: "agent.binary_path", EnvVar: "BRIDGE_AGENT_BINARY_PATH", Value: c.AgentBinaryPath},
		{Key: "agent.work_dir", EnvVar: "BRIDGE_AGENT_WORK_DIR", Value: c.AgentWorkDir},
		{Key: "model_prefix", EnvVar: "BRIDGE_MODEL_PREFIX", Value: c.ModelPrefix},
		{Key: "default_model", EnvVar: "BRIDGE_DEFAULT_MODEL", Value: c.DefaultModel},
		{Key: "spark_model", EnvVar: "BRIDGE_SPARK_MODEL", Value: c.SparkModel},
		{Key: "db_path", EnvVar: "BRIDGE_DB_PATH", Value: c.DBPath},
		{Key: "lock_path", EnvVar: "BRIDGE_LOCK_PATH", Value: c.LockPath},
		{Key: "features.typing_indicators", EnvVar: "BRIDGE_FEATURES_TYPING_INDICATORS", Value: c.TypingIndicatorsEnabled},
		{Key: "features.read_receipts", EnvVar: "BRIDGE_FEATURES_READ_RECEIPTS", Value: c.ReadReceiptsEnabled},
		{Key: "features.outbound_styling", EnvVar: "BRIDGE_FEATURES_OUTBOUND_STYLING", Value: c.OutboundStylingEnabled},
		{Key: "features.startup_backlog_discard", EnvVar: "BRIDGE_FEATURES_STARTUP_BACKLOG_DISCARD", Value: c.StartupBacklogDiscard},
		{Key: "typing_heartbeat_seconds", EnvVar: "BRIDGE_TYPING_HEARTBEAT_SECONDS", Value: c.TypingHeartbeatSeconds},
		{Key: "notifications.enabled", EnvVar: "BRIDGE_NOTIFICATIONS_ENABLED", Value: c.NotificationsEnabled},
		{Key: "notifications.raw_excerpt_bytes", EnvVar: "BRIDGE_NOTIFICATIONS_RAW_EXCERPT_BYTES", Value: c.RawExcerptBytes},
		{Key: "notifications.retention_days", EnvVar: "BRIDGE_NOTIFICATIONS_RETENTION_DAYS", Value: c.RetentionDays},
		{Key: "notifications.max_rows", EnvVar: "BRIDGE_NOTIFICATIONS_MAX_ROWS", Value: c.MaxNotificationRows},
		{Key: "webhook.enabled", EnvVar: "BRIDGE_WEBHOOK_ENABLED", Value: c.WebhookEnabled},
		{Key: "webhook.host", EnvVar: "BRIDGE_WEBHOOK_HOST", Value: c.WebhookHost},
		{Key: "webhook.port", EnvVar: "BRIDGE_WEBHOOK_PORT", Value: c.WebhookPort},
		{Key: "webhook.path", EnvVar: "BRIDGE_WEBHOOK_PATH", Value: c.WebhookPath},
	}
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("config file: %s\n", cfgPath)
	} else {
		fmt.Println("config file: (none)")
	}
	fmt.Println()

	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeysOf(c) {
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Printf("  %-40s %v  %s\n", k.Key, k.Value, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'bridge config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
