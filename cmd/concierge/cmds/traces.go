package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/go-go-golems/concierge/pkg/sqlfuncs"
	"github.com/spf13/cobra"
)

func NewTracesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces [run-id]",
		Short: "List recorded runs, or dump the events of one run as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := sqlfuncs.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := events.NewTraceRecorder(store.DB())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if len(args) == 0 {
				limit, _ := cmd.Flags().GetInt("limit")
				runs, err := rec.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%d events\t%s\n", r.RunID, r.Events, r.Started)
				}
				return nil
			}

			rows, err := rec.Events(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, r := range rows {
				line, err := json.Marshal(map[string]any{
					"id":      r.ID,
					"node":    r.Node,
					"type":    r.Type,
					"time":    r.CreatedAt,
					"payload": json.RawMessage(r.Payload),
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(line))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Number of runs to list")
	return cmd
}
