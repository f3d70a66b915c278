package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pickup-backup/pickup/pkg/providers"
)

func newPluginsCommand() *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the available generator and target plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := providers.NewBuiltinRegistry().List()

			if asYAML {
				out, err := yaml.Marshal(infos)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tAPI\tSTAGING")
			for _, info := range infos {
				api := "-"
				if info.APIVersion != nil {
					api = info.APIVersion.String()
				}
				staging := ""
				if info.FolderCapable {
					staging = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Kind, info.Name, api, staging)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the catalogue as YAML")

	return cmd
}
