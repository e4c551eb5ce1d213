package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/rag"
	"github.com/papercomputeco/finsight/pkg/retrieval"
	"github.com/papercomputeco/finsight/pkg/search"
)

var (
	searchToolName    = "search"
	searchDescription = "Search financial news articles with semantic, text or hybrid ranking. Returns the best matching articles with their scores and metadata."

	retrieveToolName    = "retrieve"
	retrieveDescription = "Retrieve the most relevant financial news for a question and return a bounded context block suitable for answering it."

	summaryToolName    = "document_summary"
	summaryDescription = "Summarize the stored corpus: document count, categories, sources and the distinct values of every metadata field."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	Query      string         `json:"query" jsonschema:"the search query text"`
	SearchType string         `json:"search_type,omitempty" jsonschema:"semantic, text or hybrid (default: hybrid)"`
	TopK       int            `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
	Filters    map[string]any `json:"filters,omitempty" jsonschema:"metadata filters, e.g. {\"category\": \"markets\"}"`
	SortBy     string         `json:"sort_by,omitempty" jsonschema:"score, date (newest first) or title (default: score)"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Preview  string            `json:"preview"`
	Metadata document.Metadata `json:"metadata,omitempty"`
}

// SearchOutput represents the output of the search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// RetrieveInput represents the input arguments for the retrieve tool.
type RetrieveInput struct {
	Query   string         `json:"query" jsonschema:"the question to retrieve context for"`
	TopK    int            `json:"top_k,omitempty" jsonschema:"number of documents to use (default: 5)"`
	Filters map[string]any `json:"filters,omitempty" jsonschema:"metadata filters"`
}

// RetrieveOutput represents the output of the retrieve tool.
type RetrieveOutput struct {
	Query   string       `json:"query"`
	Context string       `json:"context"`
	Sources []rag.Source `json:"sources"`
}

// SummaryInput is empty; the summary tool takes no arguments.
type SummaryInput struct{}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger
	logger.Debug("MCP search request",
		"query", input.Query,
		"search_type", input.SearchType,
		"top_k", input.TopK,
	)

	f, err := filter.FromMap(input.Filters)
	if err != nil {
		return toolError("Invalid filters: %v", err), SearchOutput{}, nil
	}

	results, err := s.config.Service.Search(ctx, input.SearchType, search.Request{
		Query:   input.Query,
		K:       input.TopK,
		Filters: f,
		SortBy:  search.Order(input.SortBy),
	})
	if err != nil {
		logger.Error("MCP search failed", "error", err)
		return toolError("Search failed: %v", err), SearchOutput{}, nil
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: make([]SearchResult, 0, len(results)),
	}
	for _, r := range results {
		output.Results = append(output.Results, SearchResult{
			ID:       r.Document.ID,
			Score:    r.Score,
			Preview:  rag.Excerpt(r.Document.Text),
			Metadata: r.Document.Metadata,
		})
	}
	output.Count = len(output.Results)

	return jsonResult(output), output, nil
}

// handleRetrieve processes a retrieve request.
func (s *Server) handleRetrieve(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (*mcp.CallToolResult, RetrieveOutput, error) {
	f, err := filter.FromMap(input.Filters)
	if err != nil {
		return toolError("Invalid filters: %v", err), RetrieveOutput{}, nil
	}

	res, err := s.config.Service.Retrieve(ctx, retrieval.Request{
		Query:   input.Query,
		K:       input.TopK,
		Filters: f,
	})
	if err != nil {
		s.config.Logger.Error("MCP retrieve failed", "error", err)
		return toolError("Retrieve failed: %v", err), RetrieveOutput{}, nil
	}

	output := RetrieveOutput{
		Query:   input.Query,
		Context: res.ContextText(0),
		Sources: rag.Sources(res.Results),
	}
	return jsonResult(output), output, nil
}

// handleSummary reports corpus statistics.
func (s *Server) handleSummary(ctx context.Context, _ *mcp.CallToolRequest, _ SummaryInput) (*mcp.CallToolResult, document.Summary, error) {
	summary, err := s.config.Service.Summary(ctx)
	if err != nil {
		s.config.Logger.Error("MCP summary failed", "error", err)
		return toolError("Summary failed: %v", err), document.Summary{}, nil
	}
	return jsonResult(summary), *summary, nil
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// jsonResult serializes structured output into a TextContent block for
// clients that ignore structured content.
func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return toolError("Failed to serialize results: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}
