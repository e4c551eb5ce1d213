package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/generation"
	"github.com/papercomputeco/finsight/pkg/generation/ollama"
)

func TestOllama(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ollama Generation Suite")
}

var _ = Describe("Generator", func() {
	var (
		server   *httptest.Server
		reply    map[string]any
		lastBody map[string]any
	)

	BeforeEach(func() {
		reply = map[string]any{
			"model":             "llama3.2",
			"message":           map[string]any{"role": "assistant", "content": "Markets were flat."},
			"done":              true,
			"prompt_eval_count": 20,
			"eval_count":        7,
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/chat"))
			lastBody = map[string]any{}
			Expect(json.NewDecoder(r.Body).Decode(&lastBody)).To(Succeed())
			_ = json.NewEncoder(w).Encode(reply)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("disables streaming and passes options", func() {
		g := ollama.New(ollama.Config{BaseURL: server.URL + "/"})
		resp, err := g.Generate(context.Background(), generation.NewRequest("Markets?", "sys"))
		Expect(err).NotTo(HaveOccurred())

		Expect(lastBody["stream"]).To(BeFalse())
		Expect(lastBody["model"]).To(Equal(ollama.DefaultModel))
		options := lastBody["options"].(map[string]any)
		Expect(options["temperature"]).To(BeNumerically("~", 0.7))
		Expect(options["num_predict"]).To(BeNumerically("==", 1000))

		Expect(resp.Content).To(Equal("Markets were flat."))
		Expect(resp.TokensUsed).To(Equal(27))
	})

	It("surfaces model errors", func() {
		reply = map[string]any{"error": "model not found"}
		g := ollama.New(ollama.Config{BaseURL: server.URL})
		_, err := g.Generate(context.Background(), generation.NewRequest("Markets?", ""))
		Expect(fault.IsUnavailable(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("model not found"))
	})
})
