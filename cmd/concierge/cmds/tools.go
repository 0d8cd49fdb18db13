package cmds

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type toolListing struct {
	Agent       string   `yaml:"agent"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
}

func NewToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools bound to each agent as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			// listing tools never calls the model
			a, err := buildApp(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var out []toolListing
			for _, spec := range a.Agents {
				for _, def := range spec.Tools.ListTools() {
					out = append(out, toolListing{
						Agent:       spec.Name,
						Name:        def.Name,
						Description: def.Description,
						Tags:        def.Tags,
					})
				}
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		},
	}
}
