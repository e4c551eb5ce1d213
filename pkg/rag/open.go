package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/document/postgres"
	"github.com/papercomputeco/finsight/pkg/document/sqlite"
	"github.com/papercomputeco/finsight/pkg/dotdir"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/finsight/pkg/embeddings/utils"
	"github.com/papercomputeco/finsight/pkg/eventstream"
	"github.com/papercomputeco/finsight/pkg/eventstream/kafka"
	"github.com/papercomputeco/finsight/pkg/generation"
	generationutils "github.com/papercomputeco/finsight/pkg/generation/utils"
	"github.com/papercomputeco/finsight/pkg/search"
	"github.com/papercomputeco/finsight/pkg/telemetry"
	"github.com/papercomputeco/finsight/pkg/utils"
	"github.com/papercomputeco/finsight/pkg/vector"
	vectorutils "github.com/papercomputeco/finsight/pkg/vector/utils"
)

const vectorDBFile = "vectors.db"

var generationKeyEnvs = map[string]string{
	generationutils.ProviderOpenAI:    "OPENAI_API_KEY",
	generationutils.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Open builds a Service from cfg. configDir overrides .finsight/ resolution
// for default database paths. Any capability that cannot be constructed
// aborts with an error; everything opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config, configDir string, log *slog.Logger) (svc *Service, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	shutdown, err := telemetry.Setup(telemetry.Config{
		Enabled:        cfg.Telemetry.Tracing,
		ServiceVersion: utils.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	closers = append(closers, func() error { return shutdown(context.Background()) })

	store, err := openStore(ctx, cfg, configDir, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.Close)

	embedder, err := openEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, embedder.Close)

	vectors, err := openVectors(ctx, cfg, configDir, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, vectors.Close)

	generator, err := openGenerator(cfg)
	if err != nil {
		return nil, err
	}

	var publisher eventstream.Publisher
	if cfg.Events.Enabled {
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.BrokerList(),
			Topic:   cfg.Events.Topic,
			Logger:  log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating event publisher: %w", err)
		}
		publisher = p
		closers = append(closers, p.Close)
	}

	tuning := TuningFromConfig(cfg)

	providers := Providers{
		Storage:    cfg.Storage.Backend,
		Vector:     cfg.VectorStore.Provider,
		Embedding:  cfg.Embedding.Provider,
		Generation: generationutils.ProviderNone,
		Events:     "none",
	}
	if generator != nil {
		providers.Generation = cfg.Generation.Provider
	}
	if publisher != nil {
		providers.Events = "kafka"
	}

	return New(Config{
		Store:         store,
		Vectors:       vectors,
		Embedder:      embedder,
		Generator:     generator,
		Publisher:     publisher,
		Tuning:        &tuning,
		DefaultK:      int(cfg.Search.DefaultK),
		MaxContext:    int(cfg.Search.MaxContext),
		SearchTimeout: seconds(cfg.Search.TimeoutSeconds),
		IngestTimeout: seconds(cfg.Ingest.TimeoutSeconds),
		MaxTokens:     int(cfg.Generation.MaxTokens),
		Temperature:   cfg.Generation.Temperature,
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		Providers:     providers,
		Logger:        log,
		Shutdown:      shutdown,
	})
}

// TuningFromConfig reads the search weights and threshold of cfg.
func TuningFromConfig(cfg *config.Config) search.Tuning {
	return search.Tuning{
		Weights: search.Weights{
			Semantic: cfg.Search.SemanticWeight,
			Text:     cfg.Search.TextWeight,
		},
		Threshold: cfg.Search.Threshold,
	}
}

func openStore(ctx context.Context, cfg *config.Config, configDir string, log *slog.Logger) (document.Store, error) {
	opts := []inmemory.Option{inmemory.WithLogger(log.With("component", "store"))}

	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		return inmemory.NewStore(opts...), nil
	case "postgres":
		p, err := postgres.NewPersister(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return openPersisted(ctx, p, opts)
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			var err error
			path, err = dotdir.NewManager().DatabasePath(configDir)
			if err != nil {
				return nil, err
			}
		}
		p, err := sqlite.NewPersister(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
		}
		return openPersisted(ctx, p, opts)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func openPersisted(ctx context.Context, p document.Persister, opts []inmemory.Option) (document.Store, error) {
	store, err := inmemory.Open(ctx, append(opts, inmemory.WithPersister(p))...)
	if err != nil {
		return nil, errors.Join(err, p.Close())
	}
	return store, nil
}

func openEmbedder(cfg *config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	e, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType:      cfg.Embedding.Provider,
		TargetURL:         cfg.Embedding.Target,
		Model:             cfg.Embedding.Model,
		APIKey:            config.APIKey(cfg.Embedding.APIKeyEnv),
		Dimensions:        int(cfg.Embedding.Dimensions),
		Task:              cfg.Embedding.Task,
		BatchSize:         int(cfg.Embedding.BatchSize),
		Timeout:           seconds(cfg.Embedding.TimeoutSeconds),
		MaxRetries:        int(cfg.Embedding.MaxRetries),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Logger:            log.With("component", "embedding"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return e, nil
}

func openVectors(ctx context.Context, cfg *config.Config, configDir string, log *slog.Logger) (vector.Driver, error) {
	target := cfg.VectorStore.Target
	if target == "" && cfg.VectorStore.Provider == vectorutils.ProviderSQLite {
		dir, err := dotdir.NewManager().Target(configDir)
		if err != nil {
			return nil, err
		}
		target = filepath.Join(dir, vectorDBFile)
	}

	d, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		TargetURL:    target,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   int(cfg.Embedding.Dimensions),
		APIKey:       config.APIKey(cfg.VectorStore.APIKeyEnv),
		Logger:       log.With("component", "vector"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}
	return d, nil
}

// openGenerator returns nil when generation is disabled.
func openGenerator(cfg *config.Config) (generation.Generator, error) {
	keyEnv := cfg.Generation.APIKeyEnv
	if keyEnv == "" {
		keyEnv = generationKeyEnvs[cfg.Generation.Provider]
	}

	g, err := generationutils.NewGenerator(&generationutils.NewGeneratorOpts{
		ProviderType: cfg.Generation.Provider,
		TargetURL:    cfg.Generation.Target,
		Model:        cfg.Generation.Model,
		APIKey:       config.APIKey(keyEnv),
		Timeout:      seconds(cfg.Generation.TimeoutSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	return g, nil
}

func seconds(n uint) time.Duration {
	return time.Duration(n) * time.Second
}
