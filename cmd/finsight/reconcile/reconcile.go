// Package reconcilecmder provides the reconcile command that compares the
// document store with the vector index.
package reconcilecmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/ingest"
)

const reconcileLongDesc string = `Compare the document store with the vector index.

Lists vectors whose document is gone (orphans) and documents that have no
vector (missing). With --repair the server deletes the orphans and embeds the
missing documents.

Documents added with --no-embed show up as missing until they are repaired.

Examples:
  finsight reconcile
  finsight reconcile --repair`

const reconcileShortDesc string = "Compare documents with the vector index"

const maxListed = 10

func NewReconcileCmd() *cobra.Command {
	var (
		repair    bool
		apiTarget string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: reconcileShortDesc,
		Long:  reconcileLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cmdutil.NewClient(cmd, apiTarget)
			if err != nil {
				return err
			}
			report, err := c.Reconcile(cmd.Context(), repair)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphan vectors and embed missing documents")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &apiTarget)

	return cmd
}

func printReport(w io.Writer, r *ingest.ReconcileReport) {
	fmt.Fprintln(w)
	if r.Consistent() {
		fmt.Fprintf(w, "  %s Document store and vector index agree\n\n", cliui.SuccessMark)
		return
	}

	printIDs(w, "Orphan vectors:", r.Orphans)
	printIDs(w, "Missing vectors:", r.Missing)

	if r.Repaired {
		fmt.Fprintf(w, "\n  %s Removed %d, embedded %d\n\n", cliui.SuccessMark, r.Removed, r.Embedded)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("Run with --repair to fix."))
}

func printIDs(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s %s\n", cliui.WarnStyle.Render(label), cliui.ValueStyle.Render(fmt.Sprint(len(ids))))
	for i, id := range ids {
		if i == maxListed {
			fmt.Fprintf(w, "    %s\n", cliui.DimStyle.Render(fmt.Sprintf("... and %d more", len(ids)-maxListed)))
			break
		}
		fmt.Fprintf(w, "    %s\n", cliui.IDStyle.Render(id))
	}
}
