package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/pageindex/internal/config"
	"github.com/itsmostafa/pageindex/internal/logging"
	"github.com/itsmostafa/pageindex/internal/pageindex"
	"github.com/itsmostafa/pageindex/internal/version"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "pageindex",
	Short: "Reasoning-based document indexing and search",
	Long: `PageIndex builds a hierarchical table-of-contents tree for a document with a
single model call, then answers queries by letting the model reason over that
tree instead of over vector embeddings.

The LLM is configured with a YAML file (see --config) or the LLM_* environment
variables. A .env file in the working directory is loaded first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("pageindex %s\n", version.String()))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <user config dir>/pageindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the per-invocation configuration shared by subcommands.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger := logging.NewLogger(cmd.ErrOrStderr(), logging.LevelFromString(cfg.Logging.Level), cfg.Logging.Format)
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) provider() (pageindex.LLMProvider, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	pc := e.cfg.ProviderConfig()
	pc.Logger = e.logger
	return pageindex.NewProvider(pc)
}

// indexPath returns the index file named by args, or the configured one.
func (e *env) indexPath(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return e.cfg.Index.Path
}

// unescape turns a delimiter typed as `\f` or `\n---\n` into the real
// characters. Values that are not valid Go escapes are used as-is.
func unescape(s string) string {
	if s == "" {
		return s
	}
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}
