package cmds

import (
	"github.com/spf13/cobra"
)

func NewSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the customer service fixture and index the product documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			// seeding never calls the model
			a, err := buildApp(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Seed(cmd.Context())
		},
	}
}
