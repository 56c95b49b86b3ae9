package main

import (
	"encoding/json"

	"cellrun/internal/settings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSchemaCmd() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin settings schema",
		Long:  `Prints the settings schema as JSON, or with --defaults a settings file holding the defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if defaults {
				data, err := yaml.Marshal(settings.Defaults())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(settings.Schema)
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Print a default settings file instead")
	return cmd
}
