package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/finsight/cmd/finsight/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))

		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}

		origDir, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(os.Chdir(origDir)).To(Succeed()) })

		// A local .finsight dir wins over the home directory.
		Expect(os.MkdirAll(filepath.Join(tmpDir, ".finsight"), 0o755)).To(Succeed())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	Describe("set", func() {
		It("writes config.toml", func() {
			Expect(run("set", "search.semantic_weight", "0.6")).To(Succeed())

			data, err := os.ReadFile(filepath.Join(tmpDir, ".finsight", "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("semantic_weight = 0.6"))
		})

		It("rejects unknown keys", func() {
			err := run("set", "proxy.provider", "anthropic")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects values that fail validation", func() {
			Expect(run("set", "search.threshold", "1.2")).NotTo(Succeed())
			Expect(run("set", "embedding.dimensions", "many")).NotTo(Succeed())
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "search.threshold")).NotTo(Succeed())
			Expect(run("set")).NotTo(Succeed())
		})
	})

	Describe("get", func() {
		It("prints the raw value", func() {
			Expect(run("set", "generation.provider", "ollama")).To(Succeed())
			out.Reset()

			Expect(run("get", "generation.provider", "--raw")).To(Succeed())
			Expect(out.String()).To(Equal("ollama\n"))
		})

		It("falls back to defaults", func() {
			Expect(run("get", "client.api_target", "--raw")).To(Succeed())
			Expect(out.String()).To(Equal("http://localhost:8081\n"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).NotTo(Succeed())
		})

		It("requires exactly one argument", func() {
			Expect(run("get")).NotTo(Succeed())
		})
	})

	Describe("list", func() {
		It("prints every key", func() {
			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("search.threshold"))
			Expect(out.String()).To(ContainSubstring("storage.backend"))
		})

		It("limits output to changed keys", func() {
			Expect(run("set", "search.text_weight", "0.5")).To(Succeed())
			out.Reset()

			Expect(run("list", "--changed")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("search.text_weight"))
			Expect(out.String()).NotTo(ContainSubstring("search.semantic_weight"))
		})

		It("rejects any arguments", func() {
			Expect(run("list", "extra")).NotTo(Succeed())
		})
	})
})
