package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/generation"
	"github.com/papercomputeco/finsight/pkg/ingest"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/rag"
	"github.com/papercomputeco/finsight/pkg/retrieval"
	"github.com/papercomputeco/finsight/pkg/search"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
	vectormem "github.com/papercomputeco/finsight/pkg/vector/inmemory"
)

var vocabulary = []string{"apple", "earnings", "stock", "tesla", "deliveries", "fell", "grew", "record"}

var corpus = []document.Input{
	{ID: "d1", Text: "Apple earnings grew", Metadata: document.Metadata{"category": "business", "title": "Apple earnings", "source": "reuters"}},
	{ID: "d2", Text: "Apple stock fell", Metadata: document.Metadata{"category": "markets"}},
	{ID: "d3", Text: "Tesla deliveries record", Metadata: document.Metadata{"category": "automotive"}},
}

func newTestServer(gen generation.Generator) (*Server, *rag.Service) {
	svc, err := rag.New(rag.Config{
		Store:     inmemory.NewStore(),
		Vectors:   vectormem.NewDriver(len(vocabulary)),
		Embedder:  testutils.NewMockEmbedder(vocabulary...),
		Generator: gen,
		Workers:   1,
		Logger:    logger.Nop(),
	})
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = svc.Close(context.Background()) })

	_, err = svc.AddDocuments(context.Background(), corpus, true)
	Expect(err).NotTo(HaveOccurred())

	server, err := NewServer(Config{ListenAddr: ":0"}, svc, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return server, svc
}

func do(server *Server, method, target, body string) (*http.Response, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := server.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, raw
}

var _ = Describe("Server", func() {
	var (
		server    *Server
		svc       *rag.Service
		generator *testutils.MockGenerator
	)

	BeforeEach(func() {
		generator = testutils.NewMockGenerator("Apple looks strong.")
		server, svc = newTestServer(generator)
	})

	It("requires a service", func() {
		_, err := NewServer(Config{}, nil, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("rag service is required")))
	})

	It("answers ping", func() {
		resp, body := do(server, http.MethodGet, "/ping", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal(`"pong"`))
	})

	Describe("GET /v1/search", func() {
		It("returns ranked results", func() {
			resp, body := do(server, http.MethodGet, "/v1/search?query=apple+earnings&k=2", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.SearchType).To(Equal("hybrid"))
			Expect(out.Count).To(Equal(len(out.Results)))
			Expect(out.Results[0].Document.ID).To(Equal("d1"))
		})

		It("applies JSON filters", func() {
			filters := url.QueryEscape(`{"category":"markets"}`)
			resp, body := do(server, http.MethodGet, "/v1/search?query=apple&search_type=text&filters="+filters, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Results).To(HaveLen(1))
			Expect(out.Results[0].Document.ID).To(Equal("d2"))
		})

		DescribeTable("rejects malformed requests with 400",
			func(target string) {
				resp, body := do(server, http.MethodGet, target, "")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var out ErrorResponse
				Expect(json.Unmarshal(body, &out)).To(Succeed())
				Expect(out.Kind).To(Equal("validation"))
			},
			Entry("missing query", "/v1/search"),
			Entry("non-numeric k", "/v1/search?query=apple&k=abc"),
			Entry("zero k", "/v1/search?query=apple&k=0"),
			Entry("unknown search type", "/v1/search?query=apple&search_type=fuzzy"),
			Entry("bad filters", "/v1/search?query=apple&filters=nope"),
			Entry("threshold out of range", "/v1/search?query=apple&threshold=2"),
			Entry("unknown sort order", "/v1/search?query=apple&sort_by=popularity"),
		)

		It("sorts by title when asked", func() {
			_, err := svc.AddDocuments(context.Background(), []document.Input{
				{ID: "d4", Text: "Apple stock record", Metadata: document.Metadata{"title": "Alpha movers"}},
			}, true)
			Expect(err).NotTo(HaveOccurred())

			resp, body := do(server, http.MethodGet, "/v1/search?query=apple&search_type=text&sort_by=title", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.SortBy).To(Equal(search.OrderTitle))
			ids := make([]string, len(out.Results))
			for i, r := range out.Results {
				ids[i] = r.Document.ID
			}
			Expect(ids).To(Equal([]string{"d4", "d1", "d2"}))
		})

		It("reports the score order by default", func() {
			resp, body := do(server, http.MethodGet, "/v1/search?query=apple&search_type=text", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.SortBy).To(Equal(search.OrderScore))
			Expect(out.Results[0].Document.ID).To(Equal("d1"))
		})
	})

	Describe("scoped search", func() {
		It("searches within a category", func() {
			resp, body := do(server, http.MethodGet, "/v1/categories/markets/search?query=apple&search_type=text", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Results).To(HaveLen(1))
			Expect(out.Results[0].Document.ID).To(Equal("d2"))
		})

		It("searches for the source name when the query is empty", func() {
			resp, body := do(server, http.MethodGet, "/v1/sources/reuters/search?search_type=text", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Query).To(Equal("reuters"))
			for _, r := range out.Results {
				Expect(r.Document.Metadata["source"]).To(Equal("reuters"))
			}
		})

		It("rejects an unknown search type", func() {
			resp, _ := do(server, http.MethodGet, "/v1/categories/markets/search?search_type=fuzzy", "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an unknown sort order", func() {
			resp, _ := do(server, http.MethodGet, "/v1/sources/reuters/search?sort_by=popularity", "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /v1/retrieve", func() {
		It("retrieves with the hybrid default", func() {
			resp, body := do(server, http.MethodPost, "/v1/retrieve", `{"query":"apple earnings","k":2}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out retrieval.Result
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Method).To(BeEquivalentTo("hybrid"))
			Expect(out.Results[0].Document.ID).To(Equal("d1"))
		})

		It("rejects a blank query", func() {
			resp, _ := do(server, http.MethodPost, "/v1/retrieve", `{"query":"  "}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /v1/suggestions", func() {
		It("completes titles", func() {
			resp, body := do(server, http.MethodGet, "/v1/suggestions?q=earn", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("Apple earnings"))
		})

		It("returns an empty list for short input", func() {
			_, body := do(server, http.MethodGet, "/v1/suggestions?q=a", "")
			Expect(string(body)).To(MatchJSON(`{"suggestions":[]}`))
		})
	})

	Describe("POST /v1/ask", func() {
		It("answers with sources", func() {
			resp, body := do(server, http.MethodPost, "/v1/ask", `{"question":"latest apple news","k":2}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out rag.Answer
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Insights).To(Equal("Apple looks strong."))
			Expect(out.InsightType).To(Equal(generation.InsightNewsSummary))
			Expect(out.Sources).NotTo(BeEmpty())
		})

		It("requires a question", func() {
			resp, _ := do(server, http.MethodPost, "/v1/ask", `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("is unavailable without a generator", func() {
			bare, _ := newTestServer(nil)
			resp, body := do(bare, http.MethodPost, "/v1/ask", `{"question":"apple"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(string(body)).To(ContainSubstring("generation is not configured"))
		})
	})

	Describe("POST /v1/insights", func() {
		It("returns retrieved sources without a generator", func() {
			bare, _ := newTestServer(nil)
			resp, body := do(bare, http.MethodPost, "/v1/insights", `{"query":"apple","search_type":"text"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out rag.Answer
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Status).To(Equal(rag.StatusPartial))
			Expect(out.Generation).To(BeNil())
			Expect(out.Sources).To(HaveLen(2))
		})

		It("rejects unknown insight types", func() {
			resp, _ := do(server, http.MethodPost, "/v1/insights", `{"query":"apple","insight_type":"horoscope"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("documents", func() {
		It("adds synchronously", func() {
			resp, body := do(server, http.MethodPost, "/v1/documents",
				`{"documents":[{"text":"Tesla stock fell","metadata":{"category":"markets"}}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var out ingest.AddResult
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Created).To(Equal(1))
			Expect(out.Embedded).To(BeTrue())
		})

		It("reports duplicates", func() {
			_, body := do(server, http.MethodPost, "/v1/documents", `{"documents":[{"text":"Apple stock fell"}]}`)

			var out ingest.AddResult
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Duplicates).To(Equal(1))
			Expect(out.IDs).To(Equal([]string{"d2"}))
		})

		It("rejects empty text", func() {
			resp, _ := do(server, http.MethodPost, "/v1/documents", `{"documents":[{"text":""}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("queues async batches and reports the job", func() {
			resp, body := do(server, http.MethodPost, "/v1/documents?async=true",
				`{"documents":[{"text":"Tesla earnings grew"}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var accepted JobAccepted
			Expect(json.Unmarshal(body, &accepted)).To(Succeed())
			Expect(accepted.JobID).NotTo(BeEmpty())

			Eventually(func() ingest.JobState {
				_, body := do(server, http.MethodGet, "/v1/jobs/"+accepted.JobID, "")
				var status ingest.JobStatus
				Expect(json.Unmarshal(body, &status)).To(Succeed())
				return status.State
			}).WithTimeout(5 * time.Second).Should(Equal(ingest.JobSucceeded))
		})

		It("returns 404 for unknown jobs", func() {
			resp, _ := do(server, http.MethodGet, "/v1/jobs/nope", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("gets, lists, updates and deletes", func() {
			resp, body := do(server, http.MethodGet, "/v1/documents/d1", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("Apple earnings grew"))

			filters := url.QueryEscape(`{"category":["business","automotive"]}`)
			_, body = do(server, http.MethodGet, "/v1/documents?filters="+filters, "")
			Expect(string(body)).To(ContainSubstring(`"count":2`))

			resp, body = do(server, http.MethodPatch, "/v1/documents/d2", `{"metadata":{"source":"bloomberg"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("bloomberg"))

			resp, _ = do(server, http.MethodDelete, "/v1/documents/d3", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _ = do(server, http.MethodGet, "/v1/documents/d3", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			resp, _ = do(server, http.MethodDelete, "/v1/documents/d3", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			Expect(svc.Status(context.Background()).VectorIndexSize).To(Equal(2))
		})

		It("returns 404 when updating an unknown document", func() {
			resp, _ := do(server, http.MethodPatch, "/v1/documents/missing", `{"metadata":{"a":"b"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("summarizes the corpus", func() {
			resp, body := do(server, http.MethodGet, "/v1/summary", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out document.Summary
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Total).To(Equal(3))
			Expect(out.Categories).To(HaveKeyWithValue("business", 1))
		})
	})

	It("reconciles the stores", func() {
		resp, body := do(server, http.MethodPost, "/v1/reconcile", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out ingest.ReconcileReport
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.Consistent()).To(BeTrue())
	})

	It("reports status", func() {
		resp, body := do(server, http.MethodGet, "/v1/status", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out rag.Status
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.DocumentCount).To(Equal(3))
		Expect(out.Capabilities).To(HaveKeyWithValue("generation", true))
	})
})
