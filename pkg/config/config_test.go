package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agents.MaxToolIterations != 10 {
		t.Errorf("got max iterations %d", cfg.Agents.MaxToolIterations)
	}
	if cfg.Triggers.FailureThreshold != 3 {
		t.Errorf("got failure threshold %d", cfg.Triggers.FailureThreshold)
	}
	if cfg.Conversation.DedupWindowSecs != 60 {
		t.Errorf("got dedup window %d", cfg.Conversation.DedupWindowSecs)
	}
	if !cfg.Channels.CLI.Enabled {
		t.Error("CLI channel should be enabled by default")
	}
	if cfg.Channels.Telegram.Enabled {
		t.Error("telegram should be disabled by default")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agents.MaxTokens != 8192 {
		t.Errorf("got max tokens %d", cfg.Agents.MaxTokens)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"triggers": {"failure_threshold": 7}, "logging": {"level": "debug"}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Triggers.FailureThreshold != 7 {
		t.Errorf("got failure threshold %d", cfg.Triggers.FailureThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("got level %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Triggers.BackoffBaseSecs != 30 {
		t.Errorf("got backoff base %d", cfg.Triggers.BackoffBaseSecs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("OPENPOKE_TRIGGERS_FAILURE_THRESHOLD", "9")
	t.Setenv("OPENPOKE_AGENTS_EXECUTION_MODEL", "test/model")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Triggers.FailureThreshold != 9 {
		t.Errorf("got failure threshold %d", cfg.Triggers.FailureThreshold)
	}
	if cfg.Agents.ExecutionModel != "test/model" {
		t.Errorf("got model %q", cfg.Agents.ExecutionModel)
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Agents.InteractionModel = "custom/interaction"
	cfg.Triggers.MaxConcurrentRuns = 2

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Agents.InteractionModel != "custom/interaction" {
		t.Errorf("got model %q", loaded.Agents.InteractionModel)
	}
	if loaded.Triggers.MaxConcurrentRuns != 2 {
		t.Errorf("got max concurrent %d", loaded.Triggers.MaxConcurrentRuns)
	}
}

func TestGetAPIBasePriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenAI.APIKey = "oa-key"

	if got := cfg.GetAPIKey(); got != "or-key" {
		t.Errorf("got key %q", got)
	}
	if got := cfg.GetAPIBase(); got != "https://openrouter.ai/api/v1" {
		t.Errorf("got base %q", got)
	}

	cfg.Providers.OpenRouter.APIKey = ""
	if got := cfg.GetAPIBase(); got != "https://api.openai.com/v1" {
		t.Errorf("got base %q", got)
	}
}

func TestConversationLogPathExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	path := cfg.ConversationLogPath()
	if len(path) == 0 || path[0] == '~' {
		t.Errorf("home not expanded: %q", path)
	}
}
