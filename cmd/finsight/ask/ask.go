// Package askcmder provides the ask command that answers questions from the
// news corpus.
package askcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/api"
	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/client"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/rag"
)

type askCommander struct {
	question    string
	topK        int
	searchType  string
	insightType string
	filters     string
	asJSON      bool

	apiTarget string
}

const askLongDesc string = `Ask a question about the news corpus.

Retrieves the most relevant articles and asks the configured generation
provider for insights grounded in them. The insight type (general,
market_analysis, portfolio_advice or news_summary) is inferred from the
question unless --insight-type is given.

When the server has no generation provider the command fails; use
"finsight search" to browse the sources directly.

Examples:
  finsight ask "what did apple report this quarter?"
  finsight ask "how are markets reacting to the rate cut" --insight-type market_analysis
  finsight ask "chip export news" --filters '{"category":"technology"}' --top 8
  finsight ask "tesla sentiment" --json`

const askShortDesc string = "Ask a question about the news corpus"

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.question = args[0]
			c, err := cmdutil.NewClient(cmd, cmder.apiTarget)
			if err != nil {
				return err
			}
			return cmder.run(cmd, c)
		},
	}

	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 0, "Number of articles to retrieve (server default when 0)")
	cmd.Flags().StringVarP(&cmder.searchType, "search-type", "t", "", "semantic, text or hybrid")
	cmd.Flags().StringVarP(&cmder.insightType, "insight-type", "i", "", "general, market_analysis, portfolio_advice or news_summary")
	cmd.Flags().StringVarP(&cmder.filters, "filters", "f", "", "JSON metadata filter")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the full answer as JSON")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)

	return cmd
}

func (c *askCommander) run(cmd *cobra.Command, cl *client.Client) error {
	answer, err := c.request(cmd, cl)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	printAnswer(w, answer, cliui.IsTerminal(os.Stdout))
	return nil
}

func (c *askCommander) request(cmd *cobra.Command, cl *client.Client) (*rag.Answer, error) {
	var filters map[string]any
	if c.filters != "" {
		// Parse locally so malformed filters fail before the round trip.
		if _, err := filter.ParseJSON(c.filters); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(c.filters), &filters); err != nil {
			return nil, fmt.Errorf("parsing filters: %w", err)
		}
	}

	if c.insightType == "" && c.searchType == "" {
		return cl.Ask(cmd.Context(), api.AskRequest{
			Question: c.question,
			K:        c.topK,
			Filters:  filters,
		})
	}
	return cl.Insights(cmd.Context(), api.InsightsRequest{
		Query:       c.question,
		SearchType:  c.searchType,
		InsightType: c.insightType,
		K:           c.topK,
		Filters:     filters,
	})
}

func printAnswer(w io.Writer, answer *rag.Answer, tty bool) {
	body := answer.Insights
	if tty {
		if rendered, err := cliui.RenderMarkdown(body); err == nil {
			body = rendered
		}
	}

	fmt.Fprintf(w, "\n%s %s\n",
		cliui.HeaderStyle.Render("Insights"),
		cliui.DimStyle.Render(fmt.Sprintf("(%s, %s)", answer.InsightType, answer.Retrieval.Method)),
	)
	fmt.Fprintln(w, body)

	if answer.Status != rag.StatusSuccess {
		fmt.Fprintf(w, "  %s\n", cliui.WarnStyle.Render("status: "+answer.Status))
	}

	if len(answer.Sources) == 0 {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No sources found."))
		return
	}

	fmt.Fprintf(w, "\n%s\n", cliui.HeaderStyle.Render("Sources"))
	for i, src := range answer.Sources {
		fmt.Fprintf(w, "  %s  %s  %s  %s\n",
			cliui.RankStyle.Render(fmt.Sprintf("[%d]", i+1)),
			cliui.PreviewStyle.Render(src.Title),
			cliui.DimStyle.Render(src.Source),
			cliui.ScoreStyle.Render(fmt.Sprintf("%.3f", src.Score)),
		)
	}

	footer := fmt.Sprintf("%d documents · %s", answer.Retrieval.DocumentsFound, cliui.FormatDuration(answer.TotalTime))
	if g := answer.Generation; g != nil {
		footer += fmt.Sprintf(" · %s/%s", g.Provider, g.Model)
		if g.TokensUsed > 0 {
			footer += fmt.Sprintf(" · %d tokens", g.TokensUsed)
		}
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render(footer))
}
