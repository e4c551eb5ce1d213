package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/pkg/cliui"
)

const setLongDesc string = `Set a configuration value.

Writes key = value into config.toml, creating the file when needed. The
resulting configuration is validated before it is saved, so weights that are
both zero or a threshold outside [0, 1] are rejected.

Examples:
  finsight config set search.semantic_weight 0.6
  finsight config set search.threshold 0.35
  finsight config set vector_store.provider qdrant
  finsight config set embedding.dimensions 768`

const setShortDesc string = "Set a configuration value"

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "set <key> <value>",
		Short:             setShortDesc,
		Long:              setLongDesc,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			cfger, err := openConfiger(cmd, key)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printTarget(w, cfger.GetTarget())

			if err := cfger.SetConfigValue(key, value); err != nil {
				return err
			}

			fmt.Fprintf(w, "  %s Set %s = %s\n\n",
				cliui.SuccessMark,
				cliui.KeyStyle.Render(key),
				cliui.ValueStyle.Render(value),
			)
			return nil
		},
	}

	return cmd
}
