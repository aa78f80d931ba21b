package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Webhook     WebhookConfig             `json:"webhook"`
	Responder   ResponderConfig           `json:"responder"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// WebhookConfig holds the channel webhook credentials: the verify token used
// for the subscription challenge and the app secret for payload signatures.
type WebhookConfig struct {
	VerifyToken string `json:"verify_token"`
	AppSecret   string `json:"app_secret"`
}

// ResponderConfig configures the AI auto-reply pipeline. When APIKey is empty
// auto-reply is disabled and inbound messages just wait for the operator.
type ResponderConfig struct {
	BaseURL         string  `json:"base_url"`
	Model           string  `json:"model"`
	APIKey          string  `json:"api_key"`
	MinConfidence   float64 `json:"min_confidence"`
	HistoryLimit    int     `json:"history_limit"`
	HistoryCacheTTL int     `json:"history_cache_ttl"` // minutes
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	return &cfg, nil
}
