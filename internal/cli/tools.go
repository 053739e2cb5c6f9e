package cli

import (
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roniherschmann/go-hitstore/internal/config"
	"github.com/roniherschmann/go-hitstore/internal/core"
	"github.com/roniherschmann/go-hitstore/internal/dispatch"
	"github.com/roniherschmann/go-hitstore/internal/export"
	"github.com/roniherschmann/go-hitstore/internal/rewrite"
)

// NewRewriteCommand prints the offline form of a hit without storing it.
func NewRewriteCommand(opts *RootOptions) *cobra.Command {
	var olt string
	cmd := &cobra.Command{
		Use:   "rewrite <hit-url>",
		Short: "Print the offline form of a hit without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hit := rewrite.Rewrite(args[0], rewrite.OriginTime(olt, time.Now()))
			return printValue(cmd.OutOrStdout(), opts.Format, "hit", hit)
		},
	}
	cmd.Flags().StringVar(&olt, "olt", "", "origin time to inject (defaults to now)")
	return cmd
}

func NewExportCommand(opts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored hits to a Parquet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()

			all := hits.All(cmd.Context())
			if err := export.WriteFile(out, all); err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), opts.Format, "exported", len(all))
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination .parquet file")
	return cmd
}

func NewFlushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send stored hits now, oldest first, stopping at the first failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, cfg, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()

			sent := newSender(hits, cfg).Flush(cmd.Context())
			return printValue(cmd.OutOrStdout(), opts.Format, "sent", sent)
		},
	}
}

func newSender(hits *core.HitStore, cfg config.Config) *dispatch.Sender {
	return dispatch.NewSender(hits, dispatch.Options{
		Client:     &http.Client{Timeout: cfg.CollectorTimeout},
		MaxRetries: cfg.MaxRetries,
		Interval:   cfg.DispatchInterval,
	})
}
