package config

const (
	defaultStorageBackend = "sqlite"

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "finsight"

	defaultEmbeddingProvider   = "jina"
	defaultEmbeddingTarget     = "https://api.jina.ai"
	defaultEmbeddingModel      = "jina-embeddings-v3"
	defaultEmbeddingDimensions = 1024
	defaultEmbeddingTask       = "text-matching"
	defaultEmbeddingKeyEnv     = "JINA_API_KEY"
	defaultEmbeddingBatch      = 32
	defaultEmbeddingTimeout    = 30
	defaultEmbeddingRetries    = 3
	defaultEmbeddingRPS        = 5

	defaultSemanticWeight = 0.7
	defaultTextWeight     = 0.3
	defaultThreshold      = 0.5
	defaultK              = 5
	defaultMaxContext     = 4000
	defaultSearchTimeout  = 15

	defaultGenerationProvider = "openai"
	defaultMaxTokens          = 1000
	defaultTemperature        = 0.7
	defaultGenerationTimeout  = 60

	defaultAPIListen       = ":8081"
	defaultClientAPITarget = "http://localhost:8081"

	defaultIngestWorkers   = 3
	defaultIngestQueueSize = 256
	defaultIngestTimeout   = 30

	defaultEventBrokers = "localhost:9092"
	defaultEventTopic   = "finsight.documents"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend: defaultStorageBackend,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:          defaultEmbeddingProvider,
			Target:            defaultEmbeddingTarget,
			Model:             defaultEmbeddingModel,
			Dimensions:        defaultEmbeddingDimensions,
			Task:              defaultEmbeddingTask,
			APIKeyEnv:         defaultEmbeddingKeyEnv,
			BatchSize:         defaultEmbeddingBatch,
			TimeoutSeconds:    defaultEmbeddingTimeout,
			MaxRetries:        defaultEmbeddingRetries,
			RequestsPerSecond: defaultEmbeddingRPS,
		},
		Search: SearchConfig{
			SemanticWeight: defaultSemanticWeight,
			TextWeight:     defaultTextWeight,
			Threshold:      defaultThreshold,
			DefaultK:       defaultK,
			MaxContext:     defaultMaxContext,
			TimeoutSeconds: defaultSearchTimeout,
		},
		Generation: GenerationConfig{
			Provider:       defaultGenerationProvider,
			MaxTokens:      defaultMaxTokens,
			Temperature:    defaultTemperature,
			TimeoutSeconds: defaultGenerationTimeout,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Ingest: IngestConfig{
			Workers:        defaultIngestWorkers,
			QueueSize:      defaultIngestQueueSize,
			TimeoutSeconds: defaultIngestTimeout,
		},
		Events: EventsConfig{
			Brokers: defaultEventBrokers,
			Topic:   defaultEventTopic,
		},
	}
}
