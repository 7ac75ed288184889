package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsmostafa/pageindex/internal/pageindex"
)

var envKeys = []string{
	"LLM_PROVIDER", "LLM_API_BASE", "LLM_API_KEY", "LLM_MODEL", "LLM_MAX_TOKENS",
	"LLM_TEMPERATURE", "LLM_TIMEOUT", "LLM_OPERATION_TIMEOUT", "LLM_MAX_RETRIES",
	"PAGEINDEX_LOG_LEVEL", "PAGEINDEX_INDEX_PATH",
}

// isolate clears every variable Load reads and points the user config dir
// at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.0, cfg.LLM.Temperature)
	assert.Equal(t, DefaultIndexPath, cfg.Index.Path)
	assert.Equal(t, 5, cfg.Search.TopK)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
llm:
  provider: anthropic
  api_key: file-key
  model: claude-test
  temperature: 0.2
  timeout: 45s
  operation_timeout: 10m
  max_retries: 0
index:
  path: out/tree.pidx
  page_delimiter: "\f"
search:
  top_k: 8
  min_relevance: medium
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.LLM.OperationTimeout)
	assert.Equal(t, 0, cfg.LLM.MaxRetries)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens, "unset keys keep their defaults")
	assert.Equal(t, "out/tree.pidx", cfg.Index.Path)
	assert.Equal(t, "\f", cfg.Index.PageDelimiter)
	assert.Equal(t, pageindex.DefaultMaxDepth, cfg.Index.MaxDepth)
	assert.Equal(t, 8, cfg.Search.TopK)
	assert.Equal(t, "json", cfg.Logging.Format)

	r, err := cfg.MinRelevance()
	require.NoError(t, err)
	assert.Equal(t, pageindex.RelevanceMedium, r)
}

func TestLoadDefaultPath(t *testing.T) {
	isolate(t)
	path := DefaultPath()
	require.NotEmpty(t, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	writeConfig(t, filepath.Dir(path), "llm:\n  model: from-default-path\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-default-path", cfg.LLM.Model)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "llm:\n  api_key: file-key\n  model: file-model\n  max_tokens: 100\n")

	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_API_BASE", "http://localhost:11434/v1")
	t.Setenv("LLM_MAX_TOKENS", "2048")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("LLM_TIMEOUT", "30")
	t.Setenv("LLM_OPERATION_TIMEOUT", "5m")
	t.Setenv("LLM_MAX_RETRIES", "1")
	t.Setenv("PAGEINDEX_LOG_LEVEL", "info")
	t.Setenv("PAGEINDEX_INDEX_PATH", "elsewhere.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "file-model", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.APIBase)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.LLM.OperationTimeout)
	assert.Equal(t, 1, cfg.LLM.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "elsewhere.json", cfg.Index.Path)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "bad yaml", body: "llm: [unclosed"},
		{name: "bad duration", body: "llm:\n  timeout: soon\n"},
		{name: "bad max tokens env", env: map[string]string{"LLM_MAX_TOKENS": "lots"}},
		{name: "bad temperature env", env: map[string]string{"LLM_TEMPERATURE": "warm"}},
		{name: "bad timeout env", env: map[string]string{"LLM_TIMEOUT": "1 minute"}},
		{name: "bad operation timeout env", env: map[string]string{"LLM_OPERATION_TIMEOUT": "later"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := writeConfig(t, dir, tt.body)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		dir := isolate(t)
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.LLM.APIKey = "k"
		cfg.LLM.Model = "m"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"anthropic", func(c *Config) { c.LLM.Provider = "Anthropic" }, false},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gemini" }, true},
		{"missing key", func(c *Config) { c.LLM.APIKey = "" }, true},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, true},
		{"zero max tokens", func(c *Config) { c.LLM.MaxTokens = 0 }, true},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, true},
		{"operation timeout", func(c *Config) { c.LLM.OperationTimeout = time.Minute }, false},
		{"negative operation timeout", func(c *Config) { c.LLM.OperationTimeout = -time.Second }, true},
		{"zero top k", func(c *Config) { c.Search.TopK = 0 }, true},
		{"bad min relevance", func(c *Config) { c.Search.MinRelevance = "urgent" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProviderConfig(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "Anthropic"
	cfg.LLM.APIKey = "k"
	cfg.LLM.Model = "m"
	cfg.LLM.Timeout = time.Minute

	pc := cfg.ProviderConfig()
	assert.Equal(t, pageindex.ProviderAnthropic, pc.Provider)
	assert.Equal(t, time.Minute, pc.RequestTimeout)
	assert.Equal(t, pageindex.DefaultMaxRetries, pc.MaxRetries)

	p, err := pageindex.NewProvider(pc)
	require.NoError(t, err)
	assert.Equal(t, "m", p.Model())
}
