// Package config loads pageindex settings from a YAML file, a .env file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/itsmostafa/pageindex/internal/pageindex"
)

const (
	DefaultIndexPath = "data/tree_index.json"
	DefaultTimeout   = 120 * time.Second
	configDirName    = "pageindex"
	configFileName   = "config.yaml"
)

// Config is the full application configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects and configures the reasoning provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	APIBase     string        `yaml:"api_base"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`

	// OperationTimeout bounds a whole index or search run, retries
	// included. 0 means no limit.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// IndexConfig controls tree building and where the tree is stored.
type IndexConfig struct {
	Path          string `yaml:"path"`
	PageDelimiter string `yaml:"page_delimiter"`
	MaxDepth      int    `yaml:"max_depth"`
}

// SearchConfig holds searcher defaults.
type SearchConfig struct {
	TopK            int    `yaml:"top_k"`
	MinRelevance    string `yaml:"min_relevance"`
	MaxOutlineBytes int    `yaml:"max_outline_bytes"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   pageindex.ProviderOpenAI,
			MaxTokens:  pageindex.DefaultMaxTokens,
			Timeout:    DefaultTimeout,
			MaxRetries: pageindex.DefaultMaxRetries,
		},
		Index: IndexConfig{
			Path:     DefaultIndexPath,
			MaxDepth: pageindex.DefaultMaxDepth,
		},
		Search: SearchConfig{
			TopK:            pageindex.DefaultTopK,
			MaxOutlineBytes: pageindex.DefaultMaxOutlineBytes,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// DefaultPath returns <user config dir>/pageindex/config.yaml, or "" when
// the user config dir is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// Load builds the configuration. Values come from defaults, then the YAML
// file, then the environment (including a .env file in the working
// directory). An explicit path must exist; the default path is optional.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case explicit || !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.APIBase, "LLM_API_BASE")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Logging.Level, "PAGEINDEX_LOG_LEVEL")
	setString(&c.Index.Path, "PAGEINDEX_INDEX_PATH")

	if err := setInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS"); err != nil {
		return err
	}
	if err := setInt(&c.LLM.MaxRetries, "LLM_MAX_RETRIES"); err != nil {
		return err
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LLM_TEMPERATURE %q: %w", v, err)
		}
		c.LLM.Temperature = f
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LLM_TIMEOUT %q: %w", v, err)
		}
		c.LLM.Timeout = d
	}
	if v := os.Getenv("LLM_OPERATION_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LLM_OPERATION_TIMEOUT %q: %w", v, err)
		}
		c.LLM.OperationTimeout = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks that a reasoning provider can be built from c.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "", pageindex.ProviderOpenAI, pageindex.ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM provider %q (want %s or %s)",
			c.LLM.Provider, pageindex.ProviderOpenAI, pageindex.ProviderAnthropic)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required. Set LLM_API_KEY or llm.api_key in the config file")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM model is required. Set LLM_MODEL or llm.model in the config file")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.OperationTimeout < 0 {
		return fmt.Errorf("llm.operation_timeout must not be negative, got %s", c.LLM.OperationTimeout)
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("search.top_k must be at least 1, got %d", c.Search.TopK)
	}
	if _, err := c.MinRelevance(); err != nil {
		return err
	}
	return nil
}

// MinRelevance parses search.min_relevance. Empty means no filter.
func (c *Config) MinRelevance() (pageindex.Relevance, error) {
	if strings.TrimSpace(c.Search.MinRelevance) == "" {
		return 0, nil
	}
	r, ok := pageindex.ParseRelevance(c.Search.MinRelevance)
	if !ok {
		return 0, fmt.Errorf("search.min_relevance must be high, medium or low, got %q", c.Search.MinRelevance)
	}
	return r, nil
}

// ProviderConfig converts the llm section for pageindex.NewProvider.
func (c *Config) ProviderConfig() pageindex.ProviderConfig {
	return pageindex.ProviderConfig{
		Provider:       strings.ToLower(c.LLM.Provider),
		APIBase:        c.LLM.APIBase,
		APIKey:         c.LLM.APIKey,
		Model:          c.LLM.Model,
		MaxTokens:      c.LLM.MaxTokens,
		Temperature:    c.LLM.Temperature,
		RequestTimeout: c.LLM.Timeout,
		MaxRetries:     c.LLM.MaxRetries,
	}
}
