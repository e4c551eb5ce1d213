package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/config"
)

const listLongDesc string = `List all configuration values.

Prints every key with its effective value. Keys that differ from the built-in
default are highlighted; use --changed to print only those.

Examples:
  finsight config list
  finsight config list --changed`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	var changedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := openConfiger(cmd, "")
			if err != nil {
				return err
			}
			cfg, err := cfger.LoadConfig()
			if err != nil {
				return err
			}
			defaults := config.NewDefaultConfig()

			w := cmd.OutOrStdout()
			printTarget(w, cfger.GetTarget())

			keys := config.ValidConfigKeys()
			width := 0
			for _, k := range keys {
				width = max(width, len(k))
			}

			for _, key := range keys {
				value, err := cfg.Value(key)
				if err != nil {
					return err
				}
				def, err := defaults.Value(key)
				if err != nil {
					return err
				}
				changed := value != def
				if changedOnly && !changed {
					continue
				}

				name := fmt.Sprintf("%-*s", width, key)
				switch {
				case value == "":
					fmt.Fprintf(w, "  %s = %s\n", cliui.DimStyle.Render(name), cliui.DimStyle.Render("<not set>"))
				case changed:
					fmt.Fprintf(w, "  %s = %s\n", cliui.KeyStyle.Render(name), cliui.ValueStyle.Render(fmt.Sprintf("%q", value)))
				default:
					fmt.Fprintf(w, "  %s = %s\n", cliui.DimStyle.Render(name), cliui.DimStyle.Render(fmt.Sprintf("%q", value)))
				}
			}
			fmt.Fprintln(w)

			return nil
		},
	}

	cmd.Flags().BoolVar(&changedOnly, "changed", false, "Only list keys that differ from their defaults")

	return cmd
}
