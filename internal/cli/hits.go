package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roniherschmann/go-hitstore/internal/core"
)

var errNotFound = errors.New("no matching hit")

func NewInsertCommand(opts *RootOptions) *cobra.Command {
	var olt string
	cmd := &cobra.Command{
		Use:   "insert <hit-url>",
		Short: "Store a hit for later sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()

			hit, ok := hits.Insert(cmd.Context(), args[0], olt)
			if !ok {
				return fmt.Errorf("insert failed: offline storage could not commit")
			}
			return printValue(cmd.OutOrStdout(), opts.Format, "hit", hit)
		},
	}
	cmd.Flags().StringVar(&olt, "olt", "", "shared multihit origin time (seconds since epoch)")
	return cmd
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored hits, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()
			return printHits(cmd.OutOrStdout(), opts.Format, hits.All(cmd.Context()))
		},
	}
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <hit>",
		Short: "Look up a stored hit by its exact string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()

			h, ok := hits.Get(cmd.Context(), args[0])
			if !ok {
				return errNotFound
			}
			return printHit(cmd.OutOrStdout(), opts.Format, h)
		},
	}
}

func NewCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count stored hits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()
			return printValue(cmd.OutOrStdout(), opts.Format, "count", hits.Count(cmd.Context()))
		},
	}
}

func NewFirstCommand(opts *RootOptions) *cobra.Command {
	return newEndCommand(opts, "first", "Show the oldest stored hit", (*core.HitStore).First)
}

func NewLastCommand(opts *RootOptions) *cobra.Command {
	return newEndCommand(opts, "last", "Show the newest stored hit", (*core.HitStore).Last)
}

func newEndCommand(opts *RootOptions, use, short string, pick func(*core.HitStore, context.Context) (core.Hit, bool)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()

			h, ok := pick(hits, cmd.Context())
			if !ok {
				return errNotFound
			}
			return printHit(cmd.OutOrStdout(), opts.Format, h)
		},
	}
}

func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var (
		olderThan time.Duration
		before    string
		hit       string
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored hits by identity, age, or all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()
			ctx := cmd.Context()

			var n int
			switch {
			case hit != "":
				if hits.Exists(ctx, hit) {
					n = 1
				}
				if !hits.Delete(ctx, hit) {
					return fmt.Errorf("purge failed: offline storage could not commit")
				}
			case before != "":
				cutoff, err := time.Parse(time.RFC3339Nano, before)
				if err != nil {
					return fmt.Errorf("--before must be RFC3339: %w", err)
				}
				n = hits.DeleteOlderThan(ctx, cutoff)
			case olderThan > 0:
				n = hits.DeleteOlderThan(ctx, time.Now().Add(-olderThan))
			case all:
				n = hits.DeleteAll(ctx)
			default:
				return errors.New("nothing to purge: pass --hit, --before, --older-than or --all")
			}
			if n < 0 {
				return fmt.Errorf("purge failed: offline storage could not commit")
			}
			return printValue(cmd.OutOrStdout(), opts.Format, "deleted", n)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete hits older than this age (e.g. 720h)")
	cmd.Flags().StringVar(&before, "before", "", "delete hits created before this RFC3339 time")
	cmd.Flags().StringVar(&hit, "hit", "", "delete the hit with this exact string")
	cmd.Flags().BoolVar(&all, "all", false, "delete every stored hit")
	cmd.MarkFlagsMutuallyExclusive("older-than", "before", "hit", "all")
	return cmd
}

func NewRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <hit> <count>",
		Short: "Set the retry count of a stored hit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return fmt.Errorf("count must be a non-negative integer, got %q", args[1])
			}
			hits, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()

			if !hits.SetRetryCount(cmd.Context(), args[0], n) {
				return errNotFound
			}
			return nil
		},
	}
}
