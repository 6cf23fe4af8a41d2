// Package config defines the engine's startup configuration surface.
package config

// RedisConfig configures the Redis-backed cache L2 and pub/sub broker.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tlsInsecureSkipVerify"`
}

// KafkaConfig configures the optional Kafka-backed broadcaster.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
}

// EmbeddingConfig configures the external embedding service.
type EmbeddingConfig struct {
	BaseURL   string            `yaml:"baseURL"`
	Model     string            `yaml:"model"`
	APIKey    string            `yaml:"apiKey"`
	APIHeader string            `yaml:"apiHeader"`
	Headers   map[string]string `yaml:"headers"`
	Path      string            `yaml:"path"`
	Timeout   int               `yaml:"timeoutSeconds"`
}

// VectorConfig configures the external vector store HTTP endpoint.
type VectorConfig struct {
	URL         string `yaml:"url"`
	Collections struct {
		Shared   string `yaml:"shared"`
		Private  string `yaml:"private"`
		Profiles string `yaml:"profiles"`
		Skills   string `yaml:"skills"`
	} `yaml:"collections"`
}

// GraphConfig configures the external Cypher-like graph store.
type GraphConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// ExtractionConfig configures an optional external entity-extraction service.
type ExtractionConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// ObsConfig controls logging and OpenTelemetry export.
type ObsConfig struct {
	LogPath        string `yaml:"logPath"`
	LogLevel       string `yaml:"logLevel"`
	ServiceName    string `yaml:"serviceName"`
	OTLPEndpoint   string `yaml:"otlpEndpoint"`
}

// AuditConfig configures the optional Postgres-backed mining/consolidation ledger.
type AuditConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the complete recognized configuration surface of the engine.
type Config struct {
	AgentID string `yaml:"agentId"`

	Vector    VectorConfig     `yaml:"vector"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Graph     GraphConfig      `yaml:"graph"`
	Extract   ExtractionConfig `yaml:"extraction"`
	Redis     RedisConfig      `yaml:"redis"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	Obs       ObsConfig        `yaml:"obs"`
	Audit     AuditConfig      `yaml:"audit"`

	AutoCapture    bool `yaml:"autoCapture"`
	AutoRecall     bool `yaml:"autoRecall"`
	CaptureMaxChars int `yaml:"captureMaxChars"`

	EnableAutoLink     bool    `yaml:"enableAutoLink"`
	AutoLinkThreshold  float64 `yaml:"autoLinkThreshold"`
	EnableDecay        bool    `yaml:"enableDecay"`
	EnablePriorityScoring bool `yaml:"enablePriorityScoring"`
	EnableConfidenceTags  bool `yaml:"enableConfidenceTags"`
	EnableBM25            bool `yaml:"enableBM25"`

	SpreadActivationDepth int     `yaml:"spreadActivationDepth"`
	SpreadActivationDecay float64 `yaml:"spreadActivationDecay"`

	EnablePreferenceTracking bool `yaml:"enablePreferenceTracking"`
	EnableSentimentTracking  bool `yaml:"enableSentimentTracking"`
	EnableLessonExtraction   bool `yaml:"enableLessonExtraction"`
	EnableTemporalMining     bool `yaml:"enableTemporalMining"`
	EnableProactiveWarnings  bool `yaml:"enableProactiveWarnings"`

	EnableDreamConsolidation bool `yaml:"enableDreamConsolidation"`
	DreamIntervalHours       int  `yaml:"dreamIntervalHours"`

	EnableBroadcast          bool   `yaml:"enableBroadcast"`
	EnableCollectiveSynthesis bool  `yaml:"enableCollectiveSynthesis"`
	BrokerKind               string `yaml:"brokerKind"`
}
