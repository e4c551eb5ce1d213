// Package searchcmder provides the search command for ranked retrieval over
// the news corpus.
package searchcmder

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/client"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/search"
)

type searchCommander struct {
	query      string
	topK       int
	searchType string
	filters    string
	sortBy     string
	quiet      bool

	apiTarget string
}

const searchLongDesc string = `Search the news corpus via the finsight API.

Runs a semantic, keyword or hybrid search and prints the ranked documents
with their scores. Requires a running "finsight serve".

Filters are a JSON object over document metadata. All keys must match. A
plain value matches by equality, a list by membership, and an object holds
one of $eq, $in or a range built from $gt/$gte and $lt/$lte.

Use --quiet to print only document ids, one per line.

Examples:
  finsight search "apple earnings"
  finsight search "rate cut" --search-type text --top 10
  finsight search "chip exports" --filters '{"category":"markets"}'
  finsight search "fed minutes" --sort-by date
  finsight search "guidance" --filters '{"source":["reuters","bloomberg"],"date":{"$gte":"2024-01-01"}}'`

const searchShortDesc string = "Search the news corpus"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]
			c, err := cmdutil.NewClient(cmd, cmder.apiTarget)
			if err != nil {
				return err
			}
			return cmder.run(cmd, c)
		},
	}

	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 0, "Number of results to return (server default when 0)")
	cmd.Flags().StringVarP(&cmder.searchType, "search-type", "t", string(search.MethodHybrid), "semantic, text or hybrid")
	cmd.Flags().StringVarP(&cmder.filters, "filters", "f", "", "JSON metadata filter")
	cmd.Flags().StringVar(&cmder.sortBy, "sort-by", string(search.OrderScore), "score, date (newest first) or title")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only document ids, one per line")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)

	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command, api *client.Client) error {
	out, err := api.Search(cmd.Context(), client.SearchParams{
		Query:      c.query,
		K:          c.topK,
		SearchType: c.searchType,
		Filters:    c.filters,
		SortBy:     c.sortBy,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.quiet {
		for _, r := range out.Results {
			fmt.Fprintln(w, r.Document.ID)
		}
		return nil
	}

	if out.Count == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "\n%s %s %s\n\n",
		cliui.HeaderStyle.Render("Search results for:"),
		cliui.IDStyle.Render(fmt.Sprintf("%q", out.Query)),
		cliui.DimStyle.Render("("+out.SearchType+")"),
	)

	width := cliui.TerminalWidth(os.Stdout, 100) - 4
	for i, r := range out.Results {
		printResult(w, i+1, r, width)
	}
	return nil
}

func printResult(w io.Writer, rank int, r search.Result, width int) {
	doc := r.Document
	scores := fmt.Sprintf("score: %.4f", r.Score)
	if r.Method == search.MethodHybrid {
		scores += fmt.Sprintf("  (semantic %.3f, text %.3f)", r.SemanticScore, r.TextScore)
	}

	fmt.Fprintf(w, "  %s  %s  %s\n",
		cliui.RankStyle.Render(fmt.Sprintf("#%d", rank)),
		cliui.IDStyle.Render(doc.ID),
		cliui.ScoreStyle.Render(scores),
	)
	if title := doc.Metadata.StringValue("title", ""); title != "" {
		fmt.Fprintf(w, "  %s\n", cliui.HeaderStyle.Render(cliui.Preview(title, width)))
	}
	fmt.Fprintf(w, "  %s\n", cliui.PreviewStyle.Render(cliui.Preview(doc.Text, width)))

	var byline []string
	for _, key := range []string{"source", "date"} {
		if v := doc.Metadata.StringValue(key, ""); v != "" {
			byline = append(byline, v)
		}
	}
	if len(byline) > 0 {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render(strings.Join(byline, " · ")))
	}
	fmt.Fprintln(w)
}
