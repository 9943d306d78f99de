package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	DataDir  string         `env:"CHATVAULT_DATA_DIR" json:"data_dir"`
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Storage  StorageConfig  `json:"storage"`
	LLM      LLMConfig      `json:"llm"`
}

type GatewayConfig struct {
	Host               string `env:"CHATVAULT_GATEWAY_HOST"                 json:"host"`
	Port               int    `env:"CHATVAULT_GATEWAY_PORT"                 json:"port"`
	SendTimeoutSeconds int    `env:"CHATVAULT_GATEWAY_SEND_TIMEOUT_SECONDS" json:"send_timeout_seconds"`
}

type StorageConfig struct {
	MongoURI string `env:"CHATVAULT_STORAGE_MONGO_URI" json:"mongo_uri"`
	Database string `env:"CHATVAULT_STORAGE_DATABASE"  json:"database"`
}

type LLMConfig struct {
	APIKey  string `env:"CHATVAULT_LLM_API_KEY"  json:"api_key"`
	APIBase string `env:"CHATVAULT_LLM_API_BASE" json:"api_base,omitempty"`
	Model   string `env:"CHATVAULT_LLM_MODEL"    json:"model"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	LINE     LINEConfig     `json:"line"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig carries credentials for up to two concurrently
// supervised Telegram identities, mirroring the user/bot session split.
type TelegramConfig struct {
	Enabled   bool                `env:"CHATVAULT_CHANNELS_TELEGRAM_ENABLED"    json:"enabled"`
	UserToken string              `env:"CHATVAULT_CHANNELS_TELEGRAM_USER_TOKEN" json:"user_token,omitempty"`
	BotToken  string              `env:"CHATVAULT_CHANNELS_TELEGRAM_BOT_TOKEN"  json:"bot_token,omitempty"`
	AllowFrom FlexibleStringSlice `env:"CHATVAULT_CHANNELS_TELEGRAM_ALLOW_FROM" json:"allow_from"`
}

type LINEConfig struct {
	Enabled            bool                `env:"CHATVAULT_CHANNELS_LINE_ENABLED"              json:"enabled"`
	ChannelSecret      string              `env:"CHATVAULT_CHANNELS_LINE_CHANNEL_SECRET"       json:"channel_secret"`
	ChannelAccessToken string              `env:"CHATVAULT_CHANNELS_LINE_CHANNEL_ACCESS_TOKEN" json:"channel_access_token"`
	WebhookHost        string              `env:"CHATVAULT_CHANNELS_LINE_WEBHOOK_HOST"         json:"webhook_host"`
	WebhookPort        int                 `env:"CHATVAULT_CHANNELS_LINE_WEBHOOK_PORT"         json:"webhook_port"`
	WebhookPath        string              `env:"CHATVAULT_CHANNELS_LINE_WEBHOOK_PATH"         json:"webhook_path"`
	AllowFrom          FlexibleStringSlice `env:"CHATVAULT_CHANNELS_LINE_ALLOW_FROM"           json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool                `env:"CHATVAULT_CHANNELS_DISCORD_ENABLED"    json:"enabled"`
	Token     string              `env:"CHATVAULT_CHANNELS_DISCORD_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"CHATVAULT_CHANNELS_DISCORD_ALLOW_FROM" json:"allow_from"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".chatvault", "data"),
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               5050,
			SendTimeoutSeconds: 10,
		},
		Channels: ChannelsConfig{
			LINE: LINEConfig{
				WebhookHost: "0.0.0.0",
				WebhookPort: 5051,
				WebhookPath: "/callback",
			},
		},
		Storage: StorageConfig{
			Database: "chatvault",
		},
		LLM: LLMConfig{
			Model: "gpt-4o",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MediaPath returns the media directory for a platform under the data dir.
func (c *Config) MediaPath(platform string) string {
	return filepath.Join(c.DataDir, "media", platform)
}
