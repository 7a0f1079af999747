// Package cmd provides the CLI commands for alchemy.
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dataalchemy/alchemy/internal/config"
	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/llm"
	"github.com/dataalchemy/alchemy/internal/logging"
	"github.com/dataalchemy/alchemy/internal/output"
	"github.com/dataalchemy/alchemy/internal/registry"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/pkg/version"
)

// Persistent flags shared by every command.
var (
	configPath string
	workDir    string
	debugMode  bool
	plainMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the alchemy CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alchemy",
		Short: "Turn a question and a pile of documents into a living artifact",
		Long: `Alchemy ingests local documents into a per-task hybrid index,
plans and executes structured plus semantic search for a query, and has
an LLM synthesize the results into an HTML artifact. Each run can
iterate on its own output, and interrupted runs resume from their last
checkpoint.

Start with:
  alchemy run "summarize our Q3 incidents" --input ./reports`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("alchemy version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&workDir, "workdir", "", "Workspace root (overrides config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.alchemy/logs/")
	cmd.PersistentFlags().BoolVar(&plainMode, "plain", false, "Disable styled output")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug logging when requested.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	cleanup, err := logging.SetupDefault(true)
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Info("debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig builds the effective configuration for one command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	return cfg, nil
}

// newWriter creates the styled console writer, honoring --plain.
func newWriter(out io.Writer) *output.Writer {
	if plainMode {
		return output.NewWithStyle(out, false)
	}
	return output.New(out)
}

// setupFileLogging routes slog to the rotating file without stderr noise.
// Best-effort: a failure leaves the default logger in place.
func setupFileLogging() func() {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}

// buildEmbedder selects the embedding backend. Offline mode and missing
// endpoints fall back to the deterministic hash embedder.
func buildEmbedder(cfg *config.Config, offline bool) (embed.Embedder, error) {
	if offline || cfg.Offline || cfg.EmbeddingBase() == "" {
		return embed.NewStaticEmbedder(), nil
	}
	var apiKey string
	if len(cfg.Models.APIKeys) > 0 {
		apiKey = cfg.Models.APIKeys[0]
	}
	inner, err := embed.NewAPIEmbedder(embed.APIConfig{
		BaseURL: cfg.EmbeddingBase(),
		APIKey:  apiKey,
		Model:   cfg.Models.Embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embed.NewCachedEmbedder(inner, 4096), nil
}

// buildModelRegistry registers the generator and reasoning models.
func buildModelRegistry(cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	names := []string{cfg.Models.Generator}
	if cfg.Models.Reasoning != cfg.Models.Generator {
		names = append(names, cfg.Models.Reasoning)
	}
	for _, name := range names {
		err := reg.Register(llm.ModelConfig{
			Name:    name,
			Type:    llm.ModelAPI,
			APIBase: cfg.Models.APIBase,
			APIKeys: cfg.Models.APIKeys,
		})
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

// vectorBackend maps the configured backend name, defaulting to flat.
func vectorBackend(cfg *config.Config) store.Backend {
	if cfg.Vector.Backend == string(store.BackendHNSW) {
		return store.BackendHNSW
	}
	return store.BackendFlat
}

// taskRegistry creates the workspace task index.
func taskRegistry(cfg *config.Config) *registry.Registry {
	return registry.New(cfg.WorkDir)
}
