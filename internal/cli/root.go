package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roniherschmann/go-hitstore/internal/config"
	"github.com/roniherschmann/go-hitstore/internal/core"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	Backend    string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the hitstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "hitstore",
		Short:         "Offline analytics hit store",
		Long:          "Buffers analytics hits on local storage while offline, deduplicates them and sends them later.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory holding the offline store (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend: sqlite|badger (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewFirstCommand(opts))
	cmd.AddCommand(NewLastCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewRewriteCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))

	return cmd
}

// loadConfig layers defaults, the config file, the environment and flags,
// then configures logging.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Load()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.LogLevel, opts.Verbose)
	return cfg, nil
}

func openStore(opts *RootOptions) (*core.HitStore, config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, config.Config{}, err
	}
	hits, err := core.Open(cfg, core.WithIngestBuffer(cfg.IngestBuffer))
	if err != nil {
		return nil, config.Config{}, err
	}
	return hits, cfg, nil
}
