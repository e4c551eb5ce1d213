package config_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/finsight/pkg/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
			Expect(cfg.Search.SemanticWeight).To(Equal(0.7))
			Expect(cfg.Search.TextWeight).To(Equal(0.3))
			Expect(cfg.Search.Threshold).To(Equal(0.5))
			Expect(cfg.Search.MaxContext).To(Equal(uint(4000)))
		})

		It("loads every section", func() {
			writeConfig(`version = 0

[storage]
backend = "postgres"
postgres_dsn = "postgres://localhost/finsight"

[vector_store]
provider = "qdrant"
target = "localhost:6334"
collection = "news"

[embedding]
provider = "ollama"
target = "http://localhost:11434"
model = "nomic-embed-text"
dimensions = 768

[search]
semantic_weight = 0.6
text_weight = 0.4
threshold = 0.25

[generation]
provider = "anthropic"
temperature = 0.2

[api]
listen = ":9091"

[ingest]
workers = 8

[events]
enabled = true
brokers = "k1:9092, k2:9092"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Backend).To(Equal("postgres"))
			Expect(cfg.Storage.PostgresDSN).To(Equal("postgres://localhost/finsight"))
			Expect(cfg.VectorStore.Provider).To(Equal("qdrant"))
			Expect(cfg.VectorStore.Collection).To(Equal("news"))
			Expect(cfg.Embedding.Model).To(Equal("nomic-embed-text"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(768)))
			Expect(cfg.Search.SemanticWeight).To(Equal(0.6))
			Expect(cfg.Search.Threshold).To(Equal(0.25))
			Expect(cfg.Generation.Provider).To(Equal("anthropic"))
			Expect(cfg.Generation.Temperature).To(Equal(0.2))
			Expect(cfg.API.Listen).To(Equal(":9091"))
			Expect(cfg.Ingest.Workers).To(Equal(uint(8)))
			Expect(cfg.Ingest.QueueSize).To(Equal(uint(256)))
			Expect(cfg.Events.BrokerList()).To(Equal([]string{"k1:9092", "k2:9092"}))
		})

		It("keeps explicit zero weights", func() {
			writeConfig(`[search]
semantic_weight = 1.0
text_weight = 0.0
`)
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Search.TextWeight).To(BeZero())
			Expect(cfg.Search.Threshold).To(Equal(0.5))
		})

		It("returns error for malformed TOML", func() {
			writeConfig("not valid toml [[[")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(cfg).To(BeNil())
		})

		It("returns error for unsupported config version", func() {
			writeConfig("version = 99\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version")))
			Expect(cfg).To(BeNil())
		})
	})

	Describe("SaveConfig", func() {
		It("round trips through disk", func() {
			cfg := config.NewDefaultConfig()
			cfg.Embedding.Dimensions = 768
			cfg.Search.TextWeight = 0

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(cfg)).To(Succeed())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("returns error for nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).NotTo(Succeed())
		})
	})

	Describe("SetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets string, uint, float and bool keys", func() {
			Expect(c.SetConfigValue("generation.provider", "ollama")).To(Succeed())
			Expect(c.SetConfigValue("embedding.dimensions", "512")).To(Succeed())
			Expect(c.SetConfigValue("search.threshold", "0.35")).To(Succeed())
			Expect(c.SetConfigValue("telemetry.tracing", "true")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Generation.Provider).To(Equal("ollama"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(512)))
			Expect(cfg.Search.Threshold).To(Equal(0.35))
			Expect(cfg.Telemetry.Tracing).To(BeTrue())
		})

		It("returns error for unknown key", func() {
			err := c.SetConfigValue("nonexistent_key", "value")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("returns error for invalid numbers", func() {
			err := c.SetConfigValue("embedding.dimensions", "not-a-number")
			Expect(err).To(MatchError(ContainSubstring("invalid value")))

			err = c.SetConfigValue("search.semantic_weight", "heavy")
			Expect(err).To(MatchError(ContainSubstring("invalid value")))
		})

		It("rejects values that fail validation", func() {
			Expect(c.SetConfigValue("search.threshold", "1.5")).NotTo(Succeed())
			Expect(c.SetConfigValue("storage.backend", "mongo")).NotTo(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Search.Threshold).To(Equal(0.5))
		})
	})

	Describe("GetConfigValue", func() {
		It("returns defaults and set values", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			val, err := c.GetConfigValue("client.api_target")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("http://localhost:8081"))

			val, err = c.GetConfigValue("search.semantic_weight")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("0.7"))

			Expect(c.SetConfigValue("ingest.workers", "6")).To(Succeed())
			val, err = c.GetConfigValue("ingest.workers")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("6"))
		})

		It("returns empty string for key with no default", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			val, err := c.GetConfigValue("storage.sqlite_path")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(BeEmpty())
		})
	})

	Describe("Value", func() {
		It("reads keys from an in-memory config", func() {
			cfg := config.NewDefaultConfig()
			cfg.Search.TextWeight = 0.25

			val, err := cfg.Value("search.text_weight")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("0.25"))

			_, err = cfg.Value("proxy.listen")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ValidConfigKeys", func() {
		It("lists every key in section order", func() {
			keys := config.ValidConfigKeys()
			Expect(keys[0]).To(Equal("storage.backend"))
			Expect(keys).To(ContainElements(
				"search.semantic_weight",
				"search.text_weight",
				"search.threshold",
				"generation.provider",
				"events.brokers",
			))
			for _, k := range keys {
				Expect(config.IsValidConfigKey(k)).To(BeTrue(), k)
			}
			Expect(config.IsValidConfigKey("proxy.upstream")).To(BeFalse())
		})
	})
})

var _ = Describe("Validate", func() {
	It("accepts the defaults", func() {
		Expect(config.NewDefaultConfig().Validate()).To(Succeed())
	})

	It("reports every problem at once", func() {
		cfg := config.NewDefaultConfig()
		cfg.Search.SemanticWeight = 0
		cfg.Search.TextWeight = 0
		cfg.Events.Enabled = true
		cfg.Events.Brokers = " , "

		err := cfg.Validate()
		Expect(err).To(MatchError(ContainSubstring("both be zero")))
		Expect(err).To(MatchError(ContainSubstring("events.brokers")))
	})

	It("requires a dsn for postgres", func() {
		cfg := config.NewDefaultConfig()
		cfg.Storage.Backend = "postgres"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("postgres_dsn")))
	})
})

var _ = Describe("Viper", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "viper-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("layers env over file over defaults", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(`[search]
threshold = 0.3

[api]
listen = ":7000"
`), 0o600)
		Expect(err).NotTo(HaveOccurred())

		GinkgoT().Setenv("FINSIGHT_API_LISTEN", ":7777")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.API.Listen).To(Equal(":7777"))
		Expect(cfg.Search.Threshold).To(Equal(0.3))
		Expect(cfg.Search.SemanticWeight).To(Equal(0.7))
	})

	It("lets bound flags win", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		var listen string
		cmd := &cobra.Command{Use: "test"}
		config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
		Expect(cmd.Flags().Set("listen", ":6000")).To(Succeed())
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPIListen})

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.API.Listen).To(Equal(":6000"))
	})

	It("registers flag defaults from NewDefaultConfig", func() {
		var threshold float64
		var workers uint
		cmd := &cobra.Command{Use: "test"}
		config.AddFloatFlag(cmd, config.Flags, config.FlagThreshold, &threshold)
		config.AddUintFlag(cmd, config.Flags, config.FlagIngestWorkers, &workers)

		Expect(threshold).To(Equal(0.5))
		Expect(workers).To(Equal(uint(3)))
	})
})

var _ = Describe("LoadDotEnv", func() {
	It("loads without overriding the environment", func() {
		dir, err := os.MkdirTemp("", "dotenv-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		err = os.WriteFile(filepath.Join(dir, ".env"),
			[]byte("FINSIGHT_TEST_KEY=from-file\nFINSIGHT_TEST_KEEP=from-file\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		GinkgoT().Setenv("FINSIGHT_TEST_KEEP", "from-env")
		GinkgoT().Setenv("FINSIGHT_TEST_KEY", "")
		Expect(os.Unsetenv("FINSIGHT_TEST_KEY")).To(Succeed())

		Expect(config.LoadDotEnv(dir)).To(Succeed())
		Expect(config.APIKey("FINSIGHT_TEST_KEY")).To(Equal("from-file"))
		Expect(config.APIKey("FINSIGHT_TEST_KEEP")).To(Equal("from-env"))
		Expect(config.APIKey("")).To(BeEmpty())
	})
})

var _ = Describe("Watch", func() {
	var (
		dir  string
		path string
		mu   sync.Mutex
		seen []*config.Config
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "config.toml")
		Expect(os.WriteFile(path, []byte("[search]\nthreshold = 0.5\n"), 0o600)).To(Succeed())
		seen = nil
	})

	watch := func(v *viper.Viper) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- config.Watch(ctx, path, v, slog.New(slog.NewTextHandler(io.Discard, nil)), func(cfg *config.Config) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, cfg)
			})
		}()
		DeferCleanup(func() {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		// Give the watcher time to register the directory.
		time.Sleep(100 * time.Millisecond)
	}

	delivered := func() []*config.Config {
		mu.Lock()
		defer mu.Unlock()
		return append([]*config.Config(nil), seen...)
	}

	thresholds := func() []float64 {
		var out []float64
		for _, cfg := range delivered() {
			out = append(out, cfg.Search.Threshold)
		}
		return out
	}

	It("delivers parsed changes and skips invalid ones", func() {
		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())
		watch(v)

		Expect(os.WriteFile(path, []byte("[search]\nthreshold = 7\n"), 0o600)).To(Succeed())
		Expect(os.WriteFile(path, []byte("[search]\nthreshold = 0.2\n"), 0o600)).To(Succeed())

		Eventually(thresholds).WithTimeout(3 * time.Second).Should(ContainElement(0.2))
		Expect(thresholds()).NotTo(ContainElement(7.0))
	})

	It("keeps flag and environment overrides above the file", func() {
		GinkgoT().Setenv("FINSIGHT_SEARCH_TEXT_WEIGHT", "0.25")

		var threshold float64
		cmd := &cobra.Command{Use: "serve"}
		config.AddFloatFlag(cmd, config.Flags, config.FlagThreshold, &threshold)
		Expect(cmd.Flags().Set("threshold", "0.9")).To(Succeed())

		v, err := config.InitViper(dir)
		Expect(err).NotTo(HaveOccurred())
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagThreshold})
		watch(v)

		Expect(os.WriteFile(path, []byte("[search]\nthreshold = 0.1\nsemantic_weight = 0.6\ntext_weight = 0.4\n"), 0o600)).To(Succeed())

		Eventually(func() []float64 {
			var out []float64
			for _, cfg := range delivered() {
				out = append(out, cfg.Search.SemanticWeight)
			}
			return out
		}).WithTimeout(3 * time.Second).Should(ContainElement(0.6))

		for _, cfg := range delivered() {
			Expect(cfg.Search.Threshold).To(Equal(0.9))
			Expect(cfg.Search.TextWeight).To(Equal(0.25))
		}
	})
})
