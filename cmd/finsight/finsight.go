// Package finsightcmder is the root finsight command.
package finsightcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/finsight/cmd/finsight/ask"
	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	configcmder "github.com/papercomputeco/finsight/cmd/finsight/config"
	ingestcmder "github.com/papercomputeco/finsight/cmd/finsight/ingest"
	reconcilecmder "github.com/papercomputeco/finsight/cmd/finsight/reconcile"
	searchcmder "github.com/papercomputeco/finsight/cmd/finsight/search"
	servecmder "github.com/papercomputeco/finsight/cmd/finsight/serve"
	snapshotcmder "github.com/papercomputeco/finsight/cmd/finsight/snapshot"
	statuscmder "github.com/papercomputeco/finsight/cmd/finsight/status"
	versioncmder "github.com/papercomputeco/finsight/cmd/version"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/dotdir"
)

const finsightLongDesc string = `finsight is a hybrid retrieval engine for financial news.

Run the server and query it using:
  finsight serve                 Run the API server (REST and MCP)
  finsight ingest <file>         Add articles from a JSON or YAML file
  finsight search <query>        Rank articles by semantic, text or hybrid search
  finsight ask <question>        Answer a question from retrieved articles
  finsight status                Show corpus and provider status`

const finsightShortDesc string = "finsight - financial news retrieval"

func NewFinsightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "finsight",
		Short:        finsightShortDesc,
		Long:         finsightLongDesc,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := dotdir.NewManager().Target(cmdutil.ConfigDir(cmd))
			if err != nil {
				return fmt.Errorf("resolving config dir: %w", err)
			}
			return config.LoadDotEnv(dir)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .finsight/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(ingestcmder.NewIngestCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(reconcilecmder.NewReconcileCmd())
	cmd.AddCommand(snapshotcmder.NewExportCmd())
	cmd.AddCommand(snapshotcmder.NewImportCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
