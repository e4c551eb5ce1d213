// Package snapshotcmder provides the export and import commands that copy
// documents and vectors to and from a snapshot file.
package snapshotcmder

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/rag"
	"github.com/papercomputeco/finsight/pkg/snapshot"
)

const exportLongDesc string = `Export documents and vectors to a snapshot file.

Opens the configured document store and vector index directly and writes both
into one JSON bundle. Paths ending in .gz are gzip compressed.

Stop "finsight serve" first when it uses the same sqlite files.

Examples:
  finsight export corpus.json
  finsight export corpus.json.gz --storage postgres --postgres-dsn postgres://localhost/finsight`

const exportShortDesc string = "Export documents and vectors"

const importLongDesc string = `Import documents and vectors from a snapshot file.

Loads a bundle written by "finsight export". Vectors are imported as stored,
so the embedding dimensions of the bundle must match the configured index.
Vectors without a matching document are skipped.

Use --clear to empty both stores before importing.

Examples:
  finsight import corpus.json
  finsight import corpus.json.gz --clear`

const importShortDesc string = "Import documents and vectors"

var storeFlags = []string{
	config.FlagStorageBackend,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingDims,
}

type storeFlagValues struct {
	storage, sqlitePath, postgresDSN string
	vectorProvider, vectorTarget     string
	embedDims                        uint
}

func addStoreFlags(cmd *cobra.Command, v *storeFlagValues) {
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageBackend, &v.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &v.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &v.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &v.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &v.vectorTarget)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &v.embedDims)
}

func NewExportCmd() *cobra.Command {
	flags := &storeFlagValues{}

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: exportShortDesc,
		Long:  exportLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return withService(cmd, func(ctx context.Context, svc *rag.Service) error {
				var stats *snapshot.Stats
				err := cliui.Step(cmd.OutOrStdout(), "Exporting to "+path, func() error {
					var exportErr error
					stats, exportErr = svc.Export(ctx, path)
					return exportErr
				})
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), "Exported", stats)
				return nil
			})
		},
	}

	addStoreFlags(cmd, flags)

	return cmd
}

func NewImportCmd() *cobra.Command {
	flags := &storeFlagValues{}
	var clearExisting bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: importShortDesc,
		Long:  importLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return withService(cmd, func(ctx context.Context, svc *rag.Service) error {
				var stats *snapshot.Stats
				err := cliui.Step(cmd.OutOrStdout(), "Importing "+path, func() error {
					var importErr error
					stats, importErr = svc.Import(ctx, path, clearExisting)
					return importErr
				})
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), "Imported", stats)
				return nil
			})
		},
	}

	addStoreFlags(cmd, flags)
	cmd.Flags().BoolVar(&clearExisting, "clear", false, "Empty both stores before importing")

	return cmd
}

// withService opens the configured stores for the duration of fn.
func withService(cmd *cobra.Command, fn func(context.Context, *rag.Service) error) error {
	cfg, err := cmdutil.LoadConfig(cmd, storeFlags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := rag.Open(ctx, cfg, cmdutil.ConfigDir(cmd), cmdutil.NewLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.Background()) }()

	return fn(ctx, svc)
}

func printStats(w io.Writer, verb string, stats *snapshot.Stats) {
	fmt.Fprintf(w, "\n  %s %s %s documents and %s vectors\n",
		cliui.SuccessMark,
		verb,
		cliui.KeyStyle.Render(fmt.Sprint(stats.Documents)),
		cliui.KeyStyle.Render(fmt.Sprint(stats.Vectors)),
	)
	if stats.Skipped > 0 {
		fmt.Fprintf(w, "  %s\n", cliui.WarnStyle.Render(fmt.Sprintf("skipped %d vectors without a document", stats.Skipped)))
	}
	fmt.Fprintln(w)
}
