package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/embeddings/ollama"
	"github.com/papercomputeco/finsight/pkg/fault"
)

func TestOllama(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ollama Embeddings Suite")
}

var _ = Describe("Embedder", func() {
	It("posts inputs to /api/embed", func() {
		var got struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/embed"))
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
			_ = json.NewEncoder(w).Encode(map[string]any{
				"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
			})
		}))
		defer server.Close()

		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL, Model: "all-minilm"})
		Expect(err).NotTo(HaveOccurred())

		vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(Equal([][]float32{{0.1, 0.2}, {0.3, 0.4}}))
		Expect(got.Model).To(Equal("all-minilm"))
		Expect(got.Input).To(Equal([]string{"a", "b"}))
	})

	It("defaults the model", func() {
		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Info().Model).To(Equal(ollama.DefaultEmbeddingModel))
		Expect(e.Info().Provider).To(Equal(ollama.ProviderName))
	})

	It("reports an unreachable server as unavailable", func() {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: url, Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		_, err = e.Embed(context.Background(), "x")
		Expect(fault.IsUnavailable(err)).To(BeTrue())
	})

	It("reports a deadline as a timeout", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = e.Embed(ctx, "x")
		Expect(fault.IsTimeout(err)).To(BeTrue())
	})
})
