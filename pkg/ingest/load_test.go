package ingest_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/ingest"
)

var _ = Describe("LoadInputs", func() {
	DescribeTable("accepts bare lists and wrapped files",
		func(format ingest.Format, body string) {
			inputs, err := ingest.LoadInputs(strings.NewReader(body), format)
			Expect(err).NotTo(HaveOccurred())
			Expect(inputs).To(HaveLen(2))
			Expect(inputs[0].ID).To(Equal("d1"))
			Expect(inputs[0].Metadata).To(HaveKeyWithValue("category", "markets"))
			Expect(inputs[1].ID).To(BeEmpty())
			Expect(inputs[1].Text).To(Equal("Tesla deliveries record"))
		},
		Entry("json list", ingest.FormatJSON,
			`[{"id":"d1","text":"Apple stock fell","metadata":{"category":"markets"}},{"text":"Tesla deliveries record"}]`),
		Entry("json object", ingest.FormatJSON,
			`{"documents":[{"id":"d1","text":"Apple stock fell","metadata":{"category":"markets"}},{"text":"Tesla deliveries record"}]}`),
		Entry("yaml list", ingest.FormatYAML, `
- id: d1
  text: Apple stock fell
  metadata:
    category: markets
- text: Tesla deliveries record
`),
		Entry("yaml object", ingest.FormatYAML, `
documents:
  - id: d1
    text: Apple stock fell
    metadata:
      category: markets
  - text: Tesla deliveries record
`),
	)

	It("keeps YAML dates as strings", func() {
		inputs, err := ingest.LoadInputs(strings.NewReader("- text: x\n  metadata:\n    date: 2024-03-01\n"), ingest.FormatYAML)
		Expect(err).NotTo(HaveOccurred())
		Expect(inputs[0].Metadata["date"]).To(Equal("2024-03-01"))
	})

	It("returns nothing for empty input", func() {
		inputs, err := ingest.LoadInputs(strings.NewReader("  \n"), ingest.FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(inputs).To(BeEmpty())
	})

	It("reports malformed files", func() {
		_, err := ingest.LoadInputs(strings.NewReader(`[{"text": }]`), ingest.FormatJSON)
		Expect(err).To(HaveOccurred())

		_, err = ingest.LoadInputs(strings.NewReader("[]"), ingest.Format("csv"))
		Expect(err).To(MatchError(ContainSubstring("unknown document format")))
	})

	It("picks the format from the file extension", func() {
		Expect(ingest.FormatForPath("news.YML")).To(Equal(ingest.FormatYAML))
		Expect(ingest.FormatForPath("news.yaml")).To(Equal(ingest.FormatYAML))
		Expect(ingest.FormatForPath("news.json")).To(Equal(ingest.FormatJSON))

		path := filepath.Join(GinkgoT().TempDir(), "news.yaml")
		Expect(os.WriteFile(path, []byte("- text: Fed holds rates\n"), 0o600)).To(Succeed())

		inputs, err := ingest.LoadFile(path, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(inputs).To(HaveLen(1))
		Expect(inputs[0].Text).To(Equal("Fed holds rates"))
	})
})
