// Package statuscmder provides the status command that reports on a running
// finsight server.
package statuscmder

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/rag"
)

const statusLongDesc string = `Show the state of a running finsight server.

Prints corpus sizes, the configured providers, the active search weights and
the degradation counters of the query path (for example how often hybrid
search fell back to text-only because the embedder was unavailable).

Examples:
  finsight status
  finsight status --api-target http://localhost:9000`

const statusShortDesc string = "Show server status"

func NewStatusCmd() *cobra.Command {
	var apiTarget string

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cmdutil.NewClient(cmd, apiTarget)
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &apiTarget)

	return cmd
}

func printStatus(w io.Writer, s *rag.Status) {
	row := func(key, value string) {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-12s", key)), cliui.ValueStyle.Render(value))
	}

	fmt.Fprintln(w)
	row("Documents:", strconv.Itoa(s.DocumentCount))
	row("Vectors:", strconv.Itoa(s.VectorIndexSize))
	if s.DocumentCount != s.VectorIndexSize {
		fmt.Fprintf(w, "  %s\n", cliui.WarnStyle.Render("document and vector counts differ; run \"finsight reconcile\""))
	}

	fmt.Fprintln(w)
	row("Storage:", s.Providers.Storage)
	row("Index:", s.Providers.Vector)
	em := s.Analytics.EmbeddingModel
	row("Embedding:", fmt.Sprintf("%s/%s (%d dims)", em.Provider, em.Model, em.Dimensions))
	if s.Generation != nil {
		row("Generation:", s.Generation.Provider+"/"+s.Generation.Model)
	} else {
		row("Generation:", cliui.DimStyle.Render("none"))
	}
	if s.Providers.Events != "" {
		row("Events:", s.Providers.Events)
	}

	fmt.Fprintln(w)
	row("Weights:", fmt.Sprintf("semantic %g, text %g", s.Tuning.Weights.Semantic, s.Tuning.Weights.Text))
	row("Threshold:", strconv.FormatFloat(s.Tuning.Threshold, 'g', -1, 64))

	searches := s.Analytics.Search.Searches
	if len(searches) > 0 {
		fmt.Fprintln(w)
		for _, m := range slices.Sorted(maps.Keys(searches)) {
			row(string(m)+":", strconv.FormatInt(searches[m], 10))
		}
	}

	if len(s.Degraded) > 0 {
		fmt.Fprintf(w, "\n  %s\n", cliui.WarnStyle.Render("Degraded:"))
		for _, reason := range slices.Sorted(maps.Keys(s.Degraded)) {
			fmt.Fprintf(w, "    %s %d\n", cliui.DimStyle.Render(reason), s.Degraded[reason])
		}
	}
	fmt.Fprintln(w)
}
