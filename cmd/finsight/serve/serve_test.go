package servecmder

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/logger"
)

var _ = Describe("NewServeCmd", func() {
	It("registers the log file flag", func() {
		cmd := NewServeCmd()
		flag := cmd.Flags().Lookup("log-file")
		Expect(flag).NotTo(BeNil())
		Expect(flag.DefValue).To(BeEmpty())
	})
})

var _ = Describe("withLogFile", func() {
	var terminal *bytes.Buffer

	BeforeEach(func() {
		terminal = &bytes.Buffer{}
	})

	It("returns the terminal logger unchanged without a path", func() {
		base := logger.New(logger.WithWriter(terminal))
		log, closer, err := withLogFile(base, "", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(log).To(BeIdenticalTo(base))
		Expect(closer.Close()).To(Succeed())
	})

	It("writes to the terminal and to the file as JSON", func() {
		path := filepath.Join(GinkgoT().TempDir(), "serve.log")
		log, closer, err := withLogFile(logger.New(logger.WithWriter(terminal)), path, false)
		Expect(err).NotTo(HaveOccurred())

		log.With("component", "api").Info("listening", "addr", ":8080")
		log.Debug("hidden")
		Expect(closer.Close()).To(Succeed())

		Expect(terminal.String()).To(ContainSubstring("listening"))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		Expect(lines).To(HaveLen(1))

		var record map[string]any
		Expect(json.Unmarshal([]byte(lines[0]), &record)).To(Succeed())
		Expect(record).To(HaveKeyWithValue("msg", "listening"))
		Expect(record).To(HaveKeyWithValue("component", "api"))
		Expect(record).To(HaveKeyWithValue("addr", ":8080"))
	})

	It("fails when the file cannot be opened", func() {
		dir := GinkgoT().TempDir()
		blocker := filepath.Join(dir, "blocker")
		Expect(os.WriteFile(blocker, nil, 0o600)).To(Succeed())

		_, _, err := withLogFile(logger.Nop(), filepath.Join(blocker, "serve.log"), false)
		Expect(err).To(HaveOccurred())
	})
})
