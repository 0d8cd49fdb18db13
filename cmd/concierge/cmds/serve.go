package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/concierge/pkg/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /invocations, /healthz and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			a, err := buildApp(ctx, cmd, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.Config.Server.Address
			if cmd.Flags().Changed("address") {
				addr, _ = cmd.Flags().GetString("address")
			}
			srv := server.New(a.Supervisor,
				server.WithAddress(addr),
				server.WithModel(a.Config.Server.Model),
				server.WithRecursionLimit(a.Config.Supervisor.RecursionLimit),
				server.WithGatherer(a.Registry),
				server.WithTimeouts(a.Config.Server.ReadTimeout, a.Config.Server.ShutdownTimeout),
				server.WithContext(a.Context),
			)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return a.RunEvents(ctx)
			})
			eg.Go(func() error {
				select {
				case <-a.Router.Running():
				case <-ctx.Done():
					return nil
				}
				return srv.ListenAndServe(ctx)
			})
			err = eg.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().String("address", ":8080", "Listen address (default from config)")
	cmd.Flags().Bool("dry-run", false, "Use the offline keyword router instead of a model provider")
	cmd.Flags().Bool("verbose-events", false, "Log event router internals")
	return cmd
}
