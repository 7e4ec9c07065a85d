package config

import "testing"

func TestNormalizePhoneNumber(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 000-1111": "+15550001111",
		"5550001111":        "+5550001111",
		"   ":               "",
		"":                  "",
		"abc":               "",
	}
	for in, want := range cases {
		if got := NormalizePhoneNumber(in); got != want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate_RequiresProviderBase(t *testing.T) {
	c := &Config{
		TrustedUser:     "+15550001111",
		SendFromNumber:  "+15550002222",
		PollIntervalMs:  2000,
		AgentBinaryPath: "/usr/local/bin/codex",
		ModelPrefix:     "gpt-5",
		DefaultModel:    "gpt-5-codex",
		DBPath:          "/tmp/bridge.db",
		TypingHeartbeatSeconds: 10,
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when provider.api_base missing")
	}
	c.ProviderAPIBase = "https://api.example.com"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_PollIntervalRange(t *testing.T) {
	c := validBaseConfig()
	c.PollIntervalMs = 100
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for poll interval below minimum")
	}
	c.PollIntervalMs = 40000
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for poll interval above maximum")
	}
}

func TestValidate_WebhookRequiresSecretWhenEnabled(t *testing.T) {
	c := validBaseConfig()
	c.WebhookEnabled = true
	c.WebhookPath = "/webhook"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when webhook enabled without secret")
	}
	c.WebhookSecret = "s3cr3t"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NotificationRanges(t *testing.T) {
	c := validBaseConfig()
	c.NotificationsEnabled = true
	c.RawExcerptBytes = 100
	c.RetentionDays = 30
	c.MaxNotificationRows = 5000
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for raw excerpt bytes below minimum")
	}
}

func validBaseConfig() *Config {
	return &Config{
		ProviderAPIBase:        "https://api.example.com",
		TrustedUser:            "+15550001111",
		SendFromNumber:         "+15550002222",
		PollIntervalMs:         2000,
		AgentBinaryPath:        "/usr/local/bin/codex",
		ModelPrefix:            "gpt-5",
		DefaultModel:           "gpt-5-codex",
		DBPath:                 "/tmp/bridge.db",
		TypingHeartbeatSeconds: 10,
	}
}
