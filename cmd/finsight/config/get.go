package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/pkg/cliui"
)

const getLongDesc string = `Get a configuration value.

Prints the effective value of key from config.toml, falling back to the
built-in default when the file does not set it.

Use --raw to print only the value, for scripts.

Examples:
  finsight config get search.threshold
  finsight config get embedding.model --raw`

const getShortDesc string = "Get a configuration value"

func newGetCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:               "get <key>",
		Short:             getShortDesc,
		Long:              getLongDesc,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			cfger, err := openConfiger(cmd, key)
			if err != nil {
				return err
			}

			value, err := cfger.GetConfigValue(key)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(w, value)
				return nil
			}

			printTarget(w, cfger.GetTarget())
			if value == "" {
				value = cliui.DimStyle.Render("<not set>")
			} else {
				value = cliui.ValueStyle.Render(value)
			}
			fmt.Fprintf(w, "  %s  %s\n\n", cliui.KeyStyle.Render(key), value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the value")

	return cmd
}
