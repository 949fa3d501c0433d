package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. The telegram, email, and actions
// sections are optional: a platform or capability runs only when its
// section is present.
type Config struct {
	HistoryDB     string          `yaml:"history_db"`
	LogLevel      string          `yaml:"log_level"`
	SystemPrompt  string          `yaml:"system_prompt,omitempty"`
	ContextBudget int             `yaml:"context_budget"`
	OpenAI        OpenAIConfig    `yaml:"openai"`
	Queue         QueueConfig     `yaml:"queue"`
	Telegram      *TelegramConfig `yaml:"telegram,omitempty"`
	Email         *EmailConfig    `yaml:"email,omitempty"`
	Actions       *ActionsConfig  `yaml:"actions,omitempty"`
	Metrics       MetricsConfig   `yaml:"metrics"`
}

type OpenAIConfig struct {
	APIKey          string `yaml:"api_key"`
	APIBase         string `yaml:"api_base,omitempty"`
	Model           string `yaml:"model"`
	FallbackModel   string `yaml:"fallback_model"`
	DeadlineSeconds int    `yaml:"deadline_seconds"`
	MaxTokens       int    `yaml:"max_tokens,omitempty"`
	// Serialize limits in-flight completions to one at a time.
	Serialize bool `yaml:"serialize,omitempty"`
}

type QueueConfig struct {
	Size   int    `yaml:"size"`
	Policy string `yaml:"policy"` // drop_oldest | block
}

type TelegramConfig struct {
	Token              string `yaml:"token"`
	AdminUname         string `yaml:"admin_uname"`
	BotUname           string `yaml:"bot_uname"` // mention handle stripped from inbound text, e.g. @SupportBot
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds,omitempty"`
	CycleBudgetSeconds int    `yaml:"cycle_budget_seconds,omitempty"`
}

type EmailConfig struct {
	MailgunURL string `yaml:"mailgun_url"`
	MailgunKey string `yaml:"mailgun_key"`
	Address    string `yaml:"address"`
	Signature  string `yaml:"signature,omitempty"`
	CC         string `yaml:"cc,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
	Path       string `yaml:"path,omitempty"`
}

type ActionsConfig struct {
	// BinderDB is the connection string of the legacy identity database
	// the account-merge action executes against.
	BinderDB string `yaml:"binder_db"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Defaults returns a config with every tunable at its default.
func Defaults() *Config {
	return &Config{
		LogLevel:      "info",
		ContextBudget: 10000,
		OpenAI: OpenAIConfig{
			Model:           "gpt-4",
			FallbackModel:   "gpt-3.5-turbo",
			DeadlineSeconds: 500,
		},
		Queue: QueueConfig{
			Size:   100,
			Policy: "drop_oldest",
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9091",
		},
	}
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Validate checks that the config has valid values, collecting all errors.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.HistoryDB == "" {
		errs = append(errs, "history_db is required")
	}
	if cfg.OpenAI.APIKey == "" {
		errs = append(errs, "openai.api_key is required")
	}
	if cfg.ContextBudget < 1 {
		errs = append(errs, "context_budget must be >= 1")
	}
	if cfg.OpenAI.DeadlineSeconds < 1 {
		errs = append(errs, "openai.deadline_seconds must be >= 1")
	}
	switch cfg.Queue.Policy {
	case "drop_oldest", "block":
	default:
		errs = append(errs, "queue.policy must be one of: drop_oldest, block")
	}
	if cfg.Queue.Size < 1 {
		errs = append(errs, "queue.size must be >= 1")
	}

	if cfg.Telegram != nil && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is configured")
	}
	if cfg.Email != nil {
		if cfg.Email.MailgunURL == "" {
			errs = append(errs, "email.mailgun_url is required when email is configured")
		}
		if cfg.Email.MailgunKey == "" {
			errs = append(errs, "email.mailgun_key is required when email is configured")
		}
		if cfg.Email.Address == "" {
			errs = append(errs, "email.address is required when email is configured")
		}
	}
	if cfg.Actions != nil && cfg.Actions.BinderDB == "" {
		errs = append(errs, "actions.binder_db is required when actions are configured")
	}
	if cfg.Telegram == nil && cfg.Email == nil {
		errs = append(errs, "at least one of telegram or email must be configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
