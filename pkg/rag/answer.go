package rag

import (
	"context"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/generation"
	"github.com/papercomputeco/finsight/pkg/retrieval"
	"github.com/papercomputeco/finsight/pkg/search"
	"github.com/papercomputeco/finsight/pkg/telemetry"
)

const (
	// NoGeneratorMessage is the Insights text when no generator is configured.
	NoGeneratorMessage = "generation is not configured; returning retrieved context only"

	excerptLength = 200
	untitled      = "Untitled"
)

// Pipeline states.
const (
	StatusSuccess = "success"
	StatusPartial = "partial_success"
)

// InsightRequest asks for insights over retrieved context.
type InsightRequest struct {
	Query       string      `json:"query"`
	Method      string      `json:"method,omitempty"`
	InsightType string      `json:"insight_type,omitempty"`
	K           int         `json:"k,omitempty"`
	Filters     filter.Expr `json:"filters,omitempty"`
}

// Answer is the outcome of one question over the corpus.
type Answer struct {
	Query       string                 `json:"query"`
	Insights    string                 `json:"insights"`
	InsightType generation.InsightType `json:"insight_type"`
	Retrieval   RetrievalInfo          `json:"retrieval"`
	Generation  *GenerationInfo        `json:"generation,omitempty"`
	Sources     []Source               `json:"sources"`
	Status      string                 `json:"status"`
	TotalTime   time.Duration          `json:"total_time"`
	CompletedAt time.Time              `json:"completed_at"`
}

// RetrievalInfo describes the retrieval step of an Answer.
type RetrievalInfo struct {
	Method         search.Method `json:"method"`
	DocumentsFound int           `json:"documents_found"`
	ContextLength  int           `json:"context_length"`
}

// GenerationInfo describes the generation step of an Answer.
type GenerationInfo struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"latency"`
}

// Source is one retrieved document cited by an Answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// Insights retrieves context for req.Query and asks the generator about it.
// Without a generator the Answer carries the sources and NoGeneratorMessage.
// Retrieval never fails for well-formed requests; generator failures are
// returned.
func (s *Service) Insights(ctx context.Context, req InsightRequest) (*Answer, error) {
	start := time.Now()

	insightType, err := generation.ParseInsightType(req.InsightType)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "rag.insights",
		attribute.String("insight_type", string(insightType)),
	)
	answer, err := s.insights(ctx, req, insightType, start)
	telemetry.End(span, err)
	return answer, err
}

// Ask answers a question, picking the insight type from its wording.
func (s *Service) Ask(ctx context.Context, question string, k int, f filter.Expr) (*Answer, error) {
	return s.Insights(ctx, InsightRequest{
		Query:       question,
		InsightType: string(generation.ClassifyQuestion(question)),
		K:           k,
		Filters:     f,
	})
}

func (s *Service) insights(ctx context.Context, req InsightRequest, insightType generation.InsightType, start time.Time) (*Answer, error) {
	res, err := s.orchestrator.Retrieve(ctx, retrieval.Request{
		Query:   req.Query,
		K:       req.K,
		Method:  req.Method,
		Filters: req.Filters,
	})
	if err != nil {
		return nil, err
	}

	contextText := res.ContextText(s.maxContext)
	answer := &Answer{
		Query:       res.Query,
		InsightType: insightType,
		Retrieval: RetrievalInfo{
			Method:         res.Method,
			DocumentsFound: len(res.Results),
			ContextLength:  utf8.RuneCountInString(contextText),
		},
		Sources: Sources(res.Results),
		Status:  StatusPartial,
	}

	if s.generator == nil {
		s.logger.Warn("generation not configured, returning context only")
		answer.Insights = NoGeneratorMessage
	} else {
		resp, err := s.generator.Generate(ctx, generation.Request{
			Prompt:       generation.BuildPrompt(res.Query, contextText),
			SystemPrompt: generation.SystemPrompt(insightType),
			MaxTokens:    s.maxTokens,
			Temperature:  s.temperature,
		})
		if err != nil {
			s.logger.Error("generating insights", "insight_type", insightType, "error", err)
			return nil, err
		}
		answer.Insights = resp.Content
		answer.Generation = &GenerationInfo{
			Provider:   resp.Provider,
			Model:      resp.Model,
			TokensUsed: resp.TokensUsed,
			Latency:    resp.Latency,
		}
		answer.Status = StatusSuccess
	}

	answer.CompletedAt = s.now()
	answer.TotalTime = time.Since(start)
	s.logger.Info("answered query",
		"insight_type", insightType,
		"documents_found", answer.Retrieval.DocumentsFound,
		"total_time", answer.TotalTime,
	)
	return answer, nil
}

// Sources cites each result with its title, source and an excerpt.
func Sources(results []search.Result) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			DocumentID: r.Document.ID,
			Title:      r.Document.Metadata.StringValue(document.KeyTitle, untitled),
			Source:     r.Document.Metadata.StringValue(document.KeySource, document.Unknown),
			Score:      r.Score,
			Excerpt:    Excerpt(r.Document.Text),
		}
	}
	return out
}

// Excerpt returns the first 200 characters of text, marked with "..." when
// cut.
func Excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}
	return string([]rune(text)[:excerptLength]) + "..."
}
