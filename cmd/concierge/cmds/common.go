// Package cmds holds the concierge subcommands.
package cmds

import (
	"context"

	"github.com/go-go-golems/concierge/pkg/app"
	"github.com/go-go-golems/concierge/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// loadConfig reads the file named by --config plus CONCIERGE_* overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Str("model", cfg.LLM.Model).Msg("loaded configuration")
	return cfg, nil
}

// buildApp loads the configuration and wires the application. dryRun swaps
// the model provider for the offline keyword router.
func buildApp(ctx context.Context, cmd *cobra.Command, dryRun bool) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	var opts []app.Option
	if dryRun {
		opts = append(opts, app.WithEngine(app.NewDryRunEngine()))
	}
	if verbose, _ := cmd.Flags().GetBool("verbose-events"); verbose {
		opts = append(opts, app.WithVerboseEvents(true))
	}
	return app.Build(ctx, cfg, opts...)
}

// startEvents runs the event router in the background and returns once it is
// ready. The returned function stops it and waits for pending handlers.
func startEvents(ctx context.Context, a *app.App) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.RunEvents(ctx); err != nil {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()
	select {
	case <-a.Router.Running():
	case <-done:
	}
	return func() {
		cancel()
		<-done
	}
}
