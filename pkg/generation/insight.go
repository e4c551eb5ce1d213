package generation

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/finsight/pkg/fault"
)

// InsightType selects the analyst persona used for an answer.
type InsightType string

const (
	InsightGeneral         InsightType = "general"
	InsightMarketAnalysis  InsightType = "market_analysis"
	InsightPortfolioAdvice InsightType = "portfolio_advice"
	InsightNewsSummary     InsightType = "news_summary"
)

// InsightTypes lists every insight type.
var InsightTypes = []InsightType{InsightGeneral, InsightMarketAnalysis, InsightPortfolioAdvice, InsightNewsSummary}

var systemPrompts = map[InsightType]string{
	InsightGeneral: "You are a financial AI assistant that provides intelligent insights based on retrieved financial documents. " +
		"Analyze the provided context and answer questions accurately and helpfully. " +
		"Focus on actionable insights and be concise but informative.",
	InsightMarketAnalysis: "You are a market analyst AI that specializes in financial market analysis. " +
		"Provide detailed market insights, trends, and analysis based on the retrieved financial data. " +
		"Include relevant metrics, comparisons, and forward-looking perspectives.",
	InsightPortfolioAdvice: "You are a portfolio management AI assistant. " +
		"Provide investment advice and portfolio insights based on the retrieved financial information. " +
		"Consider risk factors, diversification, and long-term investment strategies.",
	InsightNewsSummary: "You are a financial news analyst AI. " +
		"Summarize and analyze the provided financial news and information. " +
		"Highlight key developments, their implications, and potential market impacts.",
}

// ParseInsightType validates an insight type name. An empty name is general.
func ParseInsightType(name string) (InsightType, error) {
	t := InsightType(strings.ToLower(strings.TrimSpace(name)))
	if t == "" {
		return InsightGeneral, nil
	}
	if _, ok := systemPrompts[t]; !ok {
		return "", fault.Validation("insight_type", "unknown insight type %q", name)
	}
	return t, nil
}

// SystemPrompt returns the persona prompt for t, falling back to general.
func SystemPrompt(t InsightType) string {
	if p, ok := systemPrompts[t]; ok {
		return p
	}
	return systemPrompts[InsightGeneral]
}

// questionRules are checked in order; the first rule with a matching keyword
// wins.
var questionRules = []struct {
	insight  InsightType
	keywords []string
}{
	{InsightMarketAnalysis, []string{"market", "stock", "trading", "analysis", "trends"}},
	{InsightPortfolioAdvice, []string{"portfolio", "investment", "invest", "allocat", "risk"}},
	{InsightNewsSummary, []string{"news", "latest", "recent", "update", "event"}},
}

// ClassifyQuestion picks the insight type for a free-form question.
func ClassifyQuestion(question string) InsightType {
	lower := strings.ToLower(question)
	for _, rule := range questionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.insight
			}
		}
	}
	return InsightGeneral
}

// BuildPrompt frames query and the retrieved context. Without context the
// prompt asks for a general answer that says no current documents were
// available.
func BuildPrompt(query, context string) string {
	if strings.TrimSpace(context) == "" {
		return fmt.Sprintf(`Query: %s

I don't have specific relevant documents in my knowledge base to answer this query.
Please provide a general response based on your training knowledge, but indicate that
you don't have access to current specific data on this topic.
`, query)
	}

	return fmt.Sprintf(`Based on the following financial documents and information, please answer the user's query:

QUERY: %s

RELEVANT DOCUMENTS:
%s

Please provide a comprehensive and insightful response based on the above information.
If the documents don't fully address the query, please indicate what information is missing
and provide the best response possible with the available data.
`, query, context)
}
