package cmds

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/normalize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the supervisor one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			stream, _ := cmd.Flags().GetBool("stream")
			output, _ := cmd.Flags().GetString("output")

			a, err := buildApp(ctx, cmd, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			limit := a.Config.Supervisor.RecursionLimit
			if cmd.Flags().Changed("recursion-limit") {
				limit, _ = cmd.Flags().GetInt("recursion-limit")
			}

			stop := startEvents(ctx, a)
			defer stop()
			runCtx := a.Context(ctx)
			t := conversation.Transcript{conversation.NewUserMessage(strings.Join(args, " "))}
			w := cmd.OutOrStdout()

			if stream {
				for u, err := range a.Supervisor.Stream(runCtx, t, limit) {
					if err != nil {
						return err
					}
					if u.Result != nil {
						log.Info().Str("run_id", u.Result.RunID).Bool("exhausted", u.Result.Exhausted).Msg("run finished")
						continue
					}
					for s := range normalize.Render(slices.Values(u.Messages)) {
						if _, err := fmt.Fprint(w, s); err != nil {
							return err
						}
					}
				}
				return nil
			}

			res, err := a.Supervisor.Route(runCtx, t, limit)
			if err != nil {
				return err
			}
			log.Info().Str("run_id", res.RunID).Strs("delegations", res.Delegations).Bool("exhausted", res.Exhausted).Msg("run finished")

			switch output {
			case "final":
				_, err = fmt.Fprintln(w, res.Final.Content)
			case "text":
				_, err = fmt.Fprint(w, normalize.Join(normalize.Render(slices.Values(res.Transcript.WithoutSystem()))))
			case "json":
				content := normalize.Join(normalize.Render(slices.Values(res.Transcript.WithoutSystem())))
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				err = enc.Encode(normalize.NewChatCompletion(normalize.NewCompletionID(), a.Config.Server.Model, content))
			default:
				return errors.Errorf("unknown output %q", output)
			}
			return err
		},
	}
	cmd.Flags().Bool("stream", false, "Print each agent message as it is produced")
	cmd.Flags().Bool("dry-run", false, "Use the offline keyword router instead of a model provider")
	cmd.Flags().Int("recursion-limit", 0, "Maximum delegations (default from config)")
	cmd.Flags().String("output", "text", "Output format (text, final, json)")
	cmd.Flags().Bool("verbose-events", false, "Log event router internals")
	return cmd
}
