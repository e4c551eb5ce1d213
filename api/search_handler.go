package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/rag"
	"github.com/papercomputeco/finsight/pkg/retrieval"
	"github.com/papercomputeco/finsight/pkg/search"
)

const defaultSuggestions = 5

// RetrieveRequest is the body of POST /v1/retrieve.
type RetrieveRequest struct {
	Query      string         `json:"query"`
	K          int            `json:"k,omitempty"`
	SearchType string         `json:"search_type,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	Threshold  *float64       `json:"threshold,omitempty"`
}

// SearchResponse is the body returned by GET /v1/search.
type SearchResponse struct {
	Query      string          `json:"query"`
	SearchType string          `json:"search_type"`
	SortBy     search.Order    `json:"sort_by"`
	Results    []search.Result `json:"results"`
	Count      int             `json:"count"`
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question string         `json:"question"`
	K        int            `json:"k,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
}

// InsightsRequest is the body of POST /v1/insights.
type InsightsRequest struct {
	Query       string         `json:"query"`
	SearchType  string         `json:"search_type,omitempty"`
	InsightType string         `json:"insight_type,omitempty"`
	K           int            `json:"k,omitempty"`
	Filters     map[string]any `json:"filters,omitempty"`
}

// handleRetrieve handles POST /v1/retrieve.
func (s *Server) handleRetrieve(c *fiber.Ctx) error {
	var body RetrieveRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	f, err := filter.FromMap(body.Filters)
	if err != nil {
		return s.fail(c, err)
	}

	res, err := s.svc.Retrieve(c.UserContext(), retrieval.Request{
		Query:     body.Query,
		K:         body.K,
		Method:    body.SearchType,
		Filters:   f,
		Threshold: body.Threshold,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

// handleSearch handles GET /v1/search.
// Query parameters:
//   - query (required): the search query text
//   - search_type (optional, default hybrid): semantic, text or hybrid
//   - k (optional): number of results to return
//   - filters (optional): JSON metadata filter object
//   - threshold (optional): semantic similarity floor
//   - sort_by (optional, default score): score, date or title
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return badRequest(c, "query parameter is required")
	}

	k, ok := queryInt(c, "k")
	if !ok {
		return badRequest(c, "k must be a positive integer")
	}

	f, err := queryFilters(c)
	if err != nil {
		return s.fail(c, err)
	}

	order, err := search.ParseOrder(c.Query("sort_by"))
	if err != nil {
		return s.fail(c, err)
	}

	req := search.Request{Query: query, K: k, Filters: f, SortBy: order}
	if raw := c.Query("threshold"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return badRequest(c, "threshold must be a number")
		}
		req.Threshold = &t
	}

	searchType := c.Query("search_type", string(search.MethodHybrid))
	results, err := s.svc.Search(c.UserContext(), searchType, req)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(SearchResponse{
		Query:      query,
		SearchType: searchType,
		SortBy:     order,
		Results:    results,
		Count:      len(results),
	})
}

// scopedSearch returns the handler for GET /v1/categories/:name/search and
// GET /v1/sources/:name/search. query is optional and defaults to the scope
// name.
func (s *Server) scopedSearch(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		k, ok := queryInt(c, "k")
		if !ok {
			return badRequest(c, "k must be a positive integer")
		}

		filters, err := queryFilters(c)
		if err != nil {
			return s.fail(c, err)
		}

		order, err := search.ParseOrder(c.Query("sort_by"))
		if err != nil {
			return s.fail(c, err)
		}

		query := c.Query("query")
		searchType := c.Query("search_type", string(search.MethodHybrid))
		results, err := s.svc.SearchScoped(c.UserContext(), key, c.Params("name"), searchType, search.Request{
			Query:   query,
			K:       k,
			Filters: filters,
			SortBy:  order,
		})
		if err != nil {
			return s.fail(c, err)
		}

		if query == "" {
			query = c.Params("name")
		}
		return c.JSON(SearchResponse{
			Query:      query,
			SearchType: searchType,
			SortBy:     order,
			Results:    results,
			Count:      len(results),
		})
	}
}

// handleSuggestions handles GET /v1/suggestions?q=...&limit=...
func (s *Server) handleSuggestions(c *fiber.Ctx) error {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}
	if limit == 0 {
		limit = defaultSuggestions
	}

	suggestions := s.svc.Suggestions(c.UserContext(), c.Query("q"), limit)
	if suggestions == nil {
		suggestions = []string{}
	}
	return c.JSON(map[string]any{
		"suggestions": suggestions,
	})
}

// handleAsk handles POST /v1/ask. It needs a configured generator.
func (s *Server) handleAsk(c *fiber.Ctx) error {
	if !s.svc.CanGenerate() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "generation is not configured",
			Kind:  fault.KindProviderUnavailable,
		})
	}

	var body AskRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Question == "" {
		return badRequest(c, "question is required")
	}

	f, err := filter.FromMap(body.Filters)
	if err != nil {
		return s.fail(c, err)
	}

	answer, err := s.svc.Ask(c.UserContext(), body.Question, body.K, f)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(answer)
}

// handleInsights handles POST /v1/insights. Without a generator the answer
// carries the retrieved sources only.
func (s *Server) handleInsights(c *fiber.Ctx) error {
	var body InsightsRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	f, err := filter.FromMap(body.Filters)
	if err != nil {
		return s.fail(c, err)
	}

	answer, err := s.svc.Insights(c.UserContext(), rag.InsightRequest{
		Query:       body.Query,
		Method:      body.SearchType,
		InsightType: body.InsightType,
		K:           body.K,
		Filters:     f,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(answer)
}
