package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level d3sk configuration.
type Config struct {
	Store      StoreConfig               `json:"store"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Knowledge  KnowledgeConfig           `json:"knowledge"`
	Engine     EngineConfig              `json:"engine"`
	Connectors ConnectorConfig           `json:"connectors"`
	API        APIConfig                 `json:"api"`
}

// StoreConfig holds persistence settings. Session, ticket, and tenant
// databases live under DataDir.
type StoreConfig struct {
	DataDir string `json:"data_dir"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// KnowledgeConfig holds vector-search service settings.
type KnowledgeConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	TopK    int    `json:"top_k,omitempty"` // default 3
}

// EngineConfig tunes turn processing.
type EngineConfig struct {
	GreetingPrecheck  bool   `json:"greeting_precheck"`
	ClassifyTimeout   int    `json:"classify_timeout,omitempty"`   // seconds, default 10
	RetrieveTimeout   int    `json:"retrieve_timeout,omitempty"`   // seconds, default 10
	SynthesizeTimeout int    `json:"synthesize_timeout,omitempty"` // seconds, default 30
	SessionTTL        int    `json:"session_ttl,omitempty"`        // hours, default 72
	SweepSchedule     string `json:"sweep_schedule,omitempty"`     // cron expression, default "@every 1h"
}

// ConnectorConfig holds settings for external platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	TenantID  string  `json:"tenant_id"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
	TenantID string `json:"tenant_id"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a minimal config from environment variables with
// D3SK_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			DataDir: getenv("D3SK_DATA_DIR", "/data"),
		},
		Providers: make(map[string]ProviderConfig),
		Knowledge: KnowledgeConfig{
			BaseURL: os.Getenv("D3SK_KNOWLEDGE_URL"),
			APIKey:  os.Getenv("D3SK_KNOWLEDGE_API_KEY"),
			TopK:    getenvInt("D3SK_KNOWLEDGE_TOP_K", 3),
		},
		Engine: EngineConfig{
			GreetingPrecheck: getenv("D3SK_GREETING_PRECHECK", "true") == "true",
			SessionTTL:       getenvInt("D3SK_SESSION_TTL", 72),
		},
		API: APIConfig{
			Host: getenv("D3SK_API_HOST", "0.0.0.0"),
			Port: getenvInt("D3SK_API_PORT", 8080),
			Key:  os.Getenv("D3SK_API_KEY"),
		},
	}

	// Default provider from env
	if apiKey := os.Getenv("D3SK_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("D3SK_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if apiKey := os.Getenv("D3SK_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("D3SK_OPENAI_BASE_URL"),
			Model:   getenv("D3SK_MODEL", "gpt-4o-mini"),
		}
	}

	// Telegram connector from env
	if token := os.Getenv("D3SK_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{
			Token:    token,
			TenantID: os.Getenv("D3SK_TELEGRAM_TENANT_ID"),
		}
		if ids := os.Getenv("D3SK_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: D3SK_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	// Slack connector from env
	if botToken := os.Getenv("D3SK_SLACK_BOT_TOKEN"); botToken != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: botToken,
			AppToken: os.Getenv("D3SK_SLACK_APP_TOKEN"),
			TenantID: os.Getenv("D3SK_SLACK_TENANT_ID"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Store.DataDir == "" {
		errs = append(errs, "store.data_dir is required")
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s.type must be openai or anthropic, got %q", name, p.Type))
		}
	}

	if c.Knowledge.BaseURL == "" {
		errs = append(errs, "knowledge.base_url is required")
	}

	if c.Connectors.Telegram != nil {
		if c.Connectors.Telegram.Token == "" {
			errs = append(errs, "connectors.telegram.token is required")
		}
		if c.Connectors.Telegram.TenantID == "" {
			errs = append(errs, "connectors.telegram.tenant_id is required")
		}
	}
	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
		if c.Connectors.Slack.TenantID == "" {
			errs = append(errs, "connectors.slack.tenant_id is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
