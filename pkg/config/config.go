package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agents       AgentsConfig       `json:"agents"`
	Providers    ProvidersConfig    `json:"providers"`
	Channels     ChannelsConfig     `json:"channels"`
	Triggers     TriggersConfig     `json:"triggers"`
	Conversation ConversationConfig `json:"conversation"`
	Gateway      GatewayConfig      `json:"gateway"`
	Logging      LoggingConfig      `json:"logging"`
	mu           sync.RWMutex
}

type AgentsConfig struct {
	InteractionModel  string  `json:"interaction_model" env:"OPENPOKE_AGENTS_INTERACTION_MODEL"`
	ExecutionModel    string  `json:"execution_model" env:"OPENPOKE_AGENTS_EXECUTION_MODEL"`
	MaxToolIterations int     `json:"max_tool_iterations" env:"OPENPOKE_AGENTS_MAX_TOOL_ITERATIONS"`
	MaxTokens         int     `json:"max_tokens" env:"OPENPOKE_AGENTS_MAX_TOKENS"`
	Temperature       float64 `json:"temperature" env:"OPENPOKE_AGENTS_TEMPERATURE"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenAI     ProviderConfig `json:"openai"`
	Zhipu      ProviderConfig `json:"zhipu"`
	VLLM       ProviderConfig `json:"vllm"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"OPENPOKE_CHANNELS_TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"OPENPOKE_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"OPENPOKE_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" env:"OPENPOKE_CHANNELS_CLI_ENABLED"`
}

type TriggersConfig struct {
	FailureThreshold  int `json:"failure_threshold" env:"OPENPOKE_TRIGGERS_FAILURE_THRESHOLD"`
	BackoffBaseSecs   int `json:"backoff_base_seconds" env:"OPENPOKE_TRIGGERS_BACKOFF_BASE_SECONDS"`
	BackoffCapSecs    int `json:"backoff_cap_seconds" env:"OPENPOKE_TRIGGERS_BACKOFF_CAP_SECONDS"`
	ExecTimeoutSecs   int `json:"exec_timeout_seconds" env:"OPENPOKE_TRIGGERS_EXEC_TIMEOUT_SECONDS"`
	StoreRetrySecs    int `json:"store_retry_seconds" env:"OPENPOKE_TRIGGERS_STORE_RETRY_SECONDS"`
	MaxConcurrentRuns int `json:"max_concurrent_runs" env:"OPENPOKE_TRIGGERS_MAX_CONCURRENT_RUNS"`
}

type ConversationConfig struct {
	LogPath          string `json:"log_path" env:"OPENPOKE_CONVERSATION_LOG_PATH"`
	DedupWindowSecs  int    `json:"dedup_window_seconds" env:"OPENPOKE_CONVERSATION_DEDUP_WINDOW_SECONDS"`
	DedupCacheSize   int    `json:"dedup_cache_size" env:"OPENPOKE_CONVERSATION_DEDUP_CACHE_SIZE"`
	MinDedupLength   int    `json:"min_dedup_length" env:"OPENPOKE_CONVERSATION_MIN_DEDUP_LENGTH"`
	HistoryTailLines int    `json:"history_tail_lines" env:"OPENPOKE_CONVERSATION_HISTORY_TAIL_LINES"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled" env:"OPENPOKE_GATEWAY_ENABLED"`
	Host    string `json:"host" env:"OPENPOKE_GATEWAY_HOST"`
	Port    int    `json:"port" env:"OPENPOKE_GATEWAY_PORT"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"OPENPOKE_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			InteractionModel:  "openai/gpt-4.1-mini",
			ExecutionModel:    "openai/gpt-4.1",
			MaxToolIterations: 10,
			MaxTokens:         8192,
			Temperature:       0.7,
		},
		Providers: ProvidersConfig{},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: []string{},
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Triggers: TriggersConfig{
			FailureThreshold:  3,
			BackoffBaseSecs:   30,
			BackoffCapSecs:    900,
			ExecTimeoutSecs:   300,
			StoreRetrySecs:    5,
			MaxConcurrentRuns: 5,
		},
		Conversation: ConversationConfig{
			LogPath:          "~/.openpoke/conversation/conversation.log",
			DedupWindowSecs:  60,
			DedupCacheSize:   100,
			MinDedupLength:   3,
			HistoryTailLines: 200,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    18900,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Warning: config file not found at %s, using defaults\n", path)
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ConversationLogPath returns the conversation log path with ~ expanded.
func (c *Config) ConversationLogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Conversation.LogPath)
}

// DataDir returns the directory holding durable state (trigger store,
// conversation log).
func (c *Config) DataDir() string {
	return filepath.Dir(filepath.Dir(c.ConversationLogPath()))
}

// GetAPIKey returns the first configured provider API key, in priority order.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range []ProviderConfig{c.Providers.OpenRouter, c.Providers.OpenAI, c.Providers.Zhipu, c.Providers.VLLM} {
		if p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// GetAPIBase returns the API base matching the provider whose key is in use.
func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIKey != "" {
		if c.Providers.OpenRouter.APIBase != "" {
			return c.Providers.OpenRouter.APIBase
		}
		return "https://openrouter.ai/api/v1"
	}
	if c.Providers.OpenAI.APIKey != "" {
		if c.Providers.OpenAI.APIBase != "" {
			return c.Providers.OpenAI.APIBase
		}
		return "https://api.openai.com/v1"
	}
	if c.Providers.Zhipu.APIKey != "" {
		return c.Providers.Zhipu.APIBase
	}
	if c.Providers.VLLM.APIKey != "" {
		return c.Providers.VLLM.APIBase
	}
	return ""
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
