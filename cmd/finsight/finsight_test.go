package finsightcmder_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	finsightcmder "github.com/papercomputeco/finsight/cmd/finsight"
)

func TestFinsightCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Finsight Command Suite")
}

var _ = Describe("NewFinsightCmd", func() {
	It("registers every subcommand", func() {
		cmd := finsightcmder.NewFinsightCmd()

		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"serve", "ingest", "search", "ask", "status",
			"reconcile", "export", "import", "config", "version",
		))
	})

	It("exposes the global flags", func() {
		cmd := finsightcmder.NewFinsightCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("shares flag definitions across client commands", func() {
		cmd := finsightcmder.NewFinsightCmd()
		for _, name := range []string{"search", "ask", "status", "reconcile", "ingest"} {
			sub, _, err := cmd.Find([]string{name})
			Expect(err).NotTo(HaveOccurred())
			flag := sub.Flags().Lookup("api-target")
			Expect(flag).NotTo(BeNil(), name)
			Expect(flag.DefValue).To(Equal("http://localhost:8081"), name)
		}
	})

	Context("with a config dir", func() {
		var (
			dir string
			out *bytes.Buffer
		)

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
			out = &bytes.Buffer{}
		})

		run := func(args ...string) error {
			cmd := finsightcmder.NewFinsightCmd()
			cmd.SetOut(out)
			cmd.SetErr(out)
			cmd.SetArgs(append(args, "--config-dir", dir))
			return cmd.Execute()
		}

		It("loads .env before running a command", func() {
			Expect(os.WriteFile(filepath.Join(dir, ".env"), []byte("FINSIGHT_TEST_MARKER=loaded\n"), 0o600)).To(Succeed())
			DeferCleanup(os.Unsetenv, "FINSIGHT_TEST_MARKER")

			Expect(run("version", "--short")).To(Succeed())
			Expect(os.Getenv("FINSIGHT_TEST_MARKER")).To(Equal("loaded"))
			Expect(out.String()).To(Equal("dev\n"))
		})

		It("routes config edits to the override dir", func() {
			Expect(run("config", "set", "search.threshold", "0.4")).To(Succeed())
			_, err := os.Stat(filepath.Join(dir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())

			out.Reset()
			Expect(run("config", "get", "search.threshold", "--raw")).To(Succeed())
			Expect(out.String()).To(Equal("0.4\n"))
		})

		It("rejects --async together with --local", func() {
			file := filepath.Join(dir, "news.json")
			Expect(os.WriteFile(file, []byte(`[{"text":"Fed holds rates"}]`), 0o600)).To(Succeed())

			err := run("ingest", file, "--local", "--async")
			Expect(err).To(MatchError(ContainSubstring("--async")))
		})

		It("reports malformed filters before contacting the server", func() {
			err := run("ask", "what happened", "--filters", `{"score":{"$regex":"x"}}`, "--api-target", "http://127.0.0.1:1")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).NotTo(ContainSubstring("failed to connect"))
		})
	})
})
