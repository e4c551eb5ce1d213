// Package configcmder provides the config command for reading and editing
// .finsight/config.toml.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/config"
)

const configLongDesc string = `Manage persistent finsight configuration.

Configuration is stored as config.toml in the .finsight/ directory. Values
there sit below FINSIGHT_* environment variables and command flags.

Keys use dotted notation matching the TOML sections, for example:
  storage.backend, vector_store.provider, embedding.model,
  search.semantic_weight, search.text_weight, search.threshold,
  generation.provider, client.api_target

Changes to the [search] section are picked up by a running "finsight serve".

Examples:
  finsight config set search.semantic_weight 0.6
  finsight config set embedding.provider ollama
  finsight config get search.threshold
  finsight config list`

const configShortDesc string = "Manage persistent finsight configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// openConfiger validates key (when given) and resolves the config file for
// the command's --config-dir.
func openConfiger(cmd *cobra.Command, key string) (*config.Configer, error) {
	if key != "" && !config.IsValidConfigKey(key) {
		return nil, fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}

	cfger, err := config.NewConfiger(cmdutil.ConfigDir(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfger, nil
}

func printTarget(w io.Writer, target string) {
	if target == "" {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
		return
	}
	fmt.Fprintf(w, "\n  %s %s\n\n",
		cliui.KeyStyle.Render("Config file:"),
		cliui.DimStyle.Render(target),
	)
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
