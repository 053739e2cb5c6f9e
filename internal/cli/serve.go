package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/roniherschmann/go-hitstore/internal/http"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	var (
		port       int
		noDispatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the ingester, purger and dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, cfg, err := openStore(opts)
			if err != nil {
				return err
			}
			defer hits.Close()
			if port > 0 {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           httpapi.NewRouter(cfg, hits),
				ReadHeaderTimeout: 5 * time.Second,
			}

			// The ingester outlives the server so hits enqueued by handlers
			// still finishing during Shutdown are inserted.
			ingestCtx, stopIngest := context.WithCancel(context.WithoutCancel(ctx))
			defer stopIngest()
			ingestDone := make(chan struct{})
			go func() {
				hits.RunIngester(ingestCtx)
				close(ingestDone)
			}()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				hits.RunPurger(gctx, cfg.MaxAge, cfg.PurgeInterval)
				return nil
			})
			if !noDispatch {
				sender := newSender(hits, cfg)
				g.Go(func() error {
					sender.Run(gctx)
					return nil
				})
			}
			g.Go(func() error {
				log.Info().Int("port", cfg.Port).Str("store", cfg.StorePath()).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("shutdown signal")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			stopIngest()
			<-ingestDone
			log.Info().Msg("bye")
			return err
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&noDispatch, "no-dispatch", false, "store hits without sending them")
	return cmd
}
