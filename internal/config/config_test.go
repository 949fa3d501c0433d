package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
history_db: /var/lib/supportbot/history.db
log_level: debug
context_budget: 8000
openai:
  api_key: sk-test
  model: gpt-4
  fallback_model: gpt-3.5-turbo
  deadline_seconds: 120
  serialize: true
telegram:
  token: 123:abc
  admin_uname: admin
  bot_uname: "@SupportBot"
email:
  mailgun_url: https://api.mailgun.net/v3/example.com/messages
  mailgun_key: key-test
  address: support@example.com
  signature: The Support Team
actions:
  binder_db: postgres://binder:pw@localhost/binder
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ContextBudget != 8000 {
		t.Fatalf("context_budget = %d", cfg.ContextBudget)
	}
	if !cfg.OpenAI.Serialize {
		t.Fatal("serialize not parsed")
	}
	if cfg.Telegram == nil || cfg.Telegram.BotUname != "@SupportBot" {
		t.Fatalf("telegram section wrong: %+v", cfg.Telegram)
	}
	if cfg.Email == nil || cfg.Email.Signature != "The Support Team" {
		t.Fatalf("email section wrong: %+v", cfg.Email)
	}
	if cfg.Actions == nil || cfg.Actions.BinderDB == "" {
		t.Fatalf("actions section wrong: %+v", cfg.Actions)
	}
	// Untouched tunables keep their defaults.
	if cfg.Queue.Size != 100 || cfg.Queue.Policy != "drop_oldest" {
		t.Fatalf("queue defaults wrong: %+v", cfg.Queue)
	}
}

func TestLoadMinimalTelegramOnly(t *testing.T) {
	path := writeConfig(t, `
history_db: history.db
openai:
  api_key: sk-test
telegram:
  token: 123:abc
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Email != nil || cfg.Actions != nil {
		t.Fatal("absent sections must stay nil")
	}
	if cfg.OpenAI.Model != "gpt-4" || cfg.OpenAI.FallbackModel != "gpt-3.5-turbo" {
		t.Fatalf("model defaults wrong: %+v", cfg.OpenAI)
	}
	if cfg.ContextBudget != 10000 {
		t.Fatalf("context budget default wrong: %d", cfg.ContextBudget)
	}
}

func TestLoadRejectsPlatformlessConfig(t *testing.T) {
	path := writeConfig(t, `
history_db: history.db
openai:
  api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("want validation error with no platform configured")
	}
	if !strings.Contains(err.Error(), "at least one of telegram or email") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram = &TelegramConfig{}
	cfg.Actions = &ActionsConfig{}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("want validation errors")
	}
	for _, want := range []string{
		"history_db is required",
		"openai.api_key is required",
		"telegram.token is required",
		"actions.binder_db is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SUPPORTBOT_TOKEN", "tok-123")
	os.Unsetenv("SUPPORTBOT_UNSET")

	cases := []struct {
		in   string
		want string
	}{
		{"token: ${SUPPORTBOT_TOKEN}", "token: tok-123"},
		{"token: ${SUPPORTBOT_UNSET:-fallback}", "token: fallback"},
		{"token: ${SUPPORTBOT_TOKEN:-fallback}", "token: tok-123"},
		{"token: ${SUPPORTBOT_UNSET}", "token: ${SUPPORTBOT_UNSET}"},
		{"plain text", "plain text"},
	}
	for _, tc := range cases {
		if got := ExpandEnvVars(tc.in); got != tc.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("SUPPORTBOT_TEST_KEY", "sk-env")
	path := writeConfig(t, `
history_db: history.db
openai:
  api_key: ${SUPPORTBOT_TEST_KEY}
telegram:
  token: 123:abc
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Fatalf("api_key = %q", cfg.OpenAI.APIKey)
	}
}
