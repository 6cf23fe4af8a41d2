package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from defaults, an optional CONFIG_FILE YAML
// overlay, then environment variables (optionally sourced from a local .env
// file) in increasing order of precedence, validates required fields, and
// clamps bounded options to their documented ranges.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		AutoCapture:              true,
		AutoRecall:               true,
		CaptureMaxChars:          500,
		EnableAutoLink:           true,
		AutoLinkThreshold:        0.70,
		EnableDecay:              true,
		EnablePriorityScoring:    true,
		EnableConfidenceTags:     true,
		EnableBM25:               true,
		SpreadActivationDepth:    2,
		SpreadActivationDecay:    0.5,
		EnablePreferenceTracking: true,
		EnableSentimentTracking:  true,
		EnableLessonExtraction:   true,
		EnableTemporalMining:     true,
		EnableProactiveWarnings:  true,
		EnableDreamConsolidation: true,
		DreamIntervalHours:       12,
		BrokerKind:               "redis",
	}

	if err := loadYAMLFile(&cfg); err != nil {
		return Config{}, err
	}

	cfg.AgentID = firstNonEmpty(trimEnv("AGENT_ID"), cfg.AgentID)
	cfg.Vector.URL = firstNonEmpty(trimEnv("VECTOR_DB_URL"), cfg.Vector.URL)
	cfg.Vector.Collections.Shared = firstNonEmpty(trimEnv("COLLECTION_SHARED"), cfg.Vector.Collections.Shared, "shared")
	cfg.Vector.Collections.Private = firstNonEmpty(trimEnv("COLLECTION_PRIVATE"), cfg.Vector.Collections.Private, "private")
	cfg.Vector.Collections.Profiles = firstNonEmpty(trimEnv("COLLECTION_PROFILES"), cfg.Vector.Collections.Profiles, "profiles")
	cfg.Vector.Collections.Skills = firstNonEmpty(trimEnv("COLLECTION_SKILLS"), cfg.Vector.Collections.Skills, "skills")

	cfg.Embedding.BaseURL = firstNonEmpty(trimEnv("EMBEDDING_URL"), cfg.Embedding.BaseURL)
	cfg.Embedding.Model = firstNonEmpty(trimEnv("EMBEDDING_MODEL"), cfg.Embedding.Model, "text-embedding-3-small")
	cfg.Embedding.APIKey = firstNonEmpty(trimEnv("EMBEDDING_API_KEY"), cfg.Embedding.APIKey)
	cfg.Embedding.APIHeader = firstNonEmpty(trimEnv("EMBEDDING_API_HEADER"), cfg.Embedding.APIHeader, "Authorization")
	cfg.Embedding.Path = firstNonEmpty(trimEnv("EMBEDDING_PATH"), cfg.Embedding.Path, "/v1/embeddings")
	if v := trimEnv("EMBEDDING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Timeout = n
		}
	}
	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = 10
	}

	cfg.Graph.URL = firstNonEmpty(trimEnv("GRAPH_URL"), cfg.Graph.URL)
	cfg.Graph.Enabled = parseBool(trimEnv("ENABLE_GRAPH"), cfg.Graph.Enabled || cfg.Graph.URL != "")

	cfg.Extract.URL = firstNonEmpty(trimEnv("EXTRACTION_URL"), cfg.Extract.URL)
	cfg.Extract.Enabled = parseBool(trimEnv("ENABLE_EXTRACTION"), cfg.Extract.Enabled || cfg.Extract.URL != "")

	cfg.Redis.Addr = firstNonEmpty(trimEnv("REDIS_URL"), cfg.Redis.Addr)
	cfg.Redis.Enabled = parseBool(trimEnv("ENABLE_BROADCAST"), cfg.Redis.Enabled || cfg.Redis.Addr != "")
	cfg.EnableBroadcast = cfg.Redis.Enabled

	cfg.Kafka.Brokers = firstNonEmpty(trimEnv("KAFKA_BROKERS"), cfg.Kafka.Brokers)
	if v := trimEnv("BROKER_KIND"); v != "" {
		cfg.BrokerKind = strings.ToLower(v)
	}

	cfg.Obs.LogPath = firstNonEmpty(trimEnv("LOG_PATH"), cfg.Obs.LogPath)
	cfg.Obs.LogLevel = firstNonEmpty(trimEnv("LOG_LEVEL"), cfg.Obs.LogLevel, "info")
	cfg.Obs.ServiceName = firstNonEmpty(trimEnv("OTEL_SERVICE_NAME"), cfg.Obs.ServiceName, "engram")
	cfg.Obs.OTLPEndpoint = firstNonEmpty(trimEnv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.Obs.OTLPEndpoint)

	cfg.Audit.DSN = firstNonEmpty(trimEnv("AUDIT_DSN"), cfg.Audit.DSN)

	if v := trimEnv("AUTO_CAPTURE"); v != "" {
		cfg.AutoCapture = parseBool(v, cfg.AutoCapture)
	}
	if v := trimEnv("AUTO_RECALL"); v != "" {
		cfg.AutoRecall = parseBool(v, cfg.AutoRecall)
	}
	if v := trimEnv("CAPTURE_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CaptureMaxChars = n
		}
	}
	if v := trimEnv("AUTO_LINK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AutoLinkThreshold = f
		}
	}
	if v := trimEnv("SPREAD_ACTIVATION_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SpreadActivationDepth = n
		}
	}
	if v := trimEnv("SPREAD_ACTIVATION_DECAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SpreadActivationDecay = f
		}
	}
	if v := trimEnv("DREAM_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DreamIntervalHours = n
		}
	}
	for _, b := range []struct {
		env string
		ptr *bool
	}{
		{"ENABLE_AUTO_LINK", &cfg.EnableAutoLink},
		{"ENABLE_DECAY", &cfg.EnableDecay},
		{"ENABLE_PRIORITY_SCORING", &cfg.EnablePriorityScoring},
		{"ENABLE_CONFIDENCE_TAGS", &cfg.EnableConfidenceTags},
		{"ENABLE_BM25", &cfg.EnableBM25},
		{"ENABLE_PREFERENCE_TRACKING", &cfg.EnablePreferenceTracking},
		{"ENABLE_SENTIMENT_TRACKING", &cfg.EnableSentimentTracking},
		{"ENABLE_LESSON_EXTRACTION", &cfg.EnableLessonExtraction},
		{"ENABLE_TEMPORAL_MINING", &cfg.EnableTemporalMining},
		{"ENABLE_PROACTIVE_WARNINGS", &cfg.EnableProactiveWarnings},
		{"ENABLE_DREAM_CONSOLIDATION", &cfg.EnableDreamConsolidation},
		{"ENABLE_COLLECTIVE_SYNTHESIS", &cfg.EnableCollectiveSynthesis},
	} {
		if v := trimEnv(b.env); v != "" {
			*b.ptr = parseBool(v, *b.ptr)
		}
	}

	return validate(cfg)
}

// loadYAMLFile overlays an optional YAML config file onto cfg's defaults,
// before environment variables are applied. The path comes from CONFIG_FILE;
// if unset, no file is read and cfg is left untouched. ${VAR} references in
// the file are expanded from the environment first.
func loadYAMLFile(cfg *Config) error {
	path := trimEnv("CONFIG_FILE")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func validate(cfg Config) (Config, error) {
	if cfg.Vector.URL == "" {
		return Config{}, errors.New("VECTOR_DB_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.Vector.URL); err != nil {
		return Config{}, fmt.Errorf("VECTOR_DB_URL is not a valid URL: %w", err)
	}
	if cfg.Embedding.BaseURL == "" {
		return Config{}, errors.New("EMBEDDING_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.Embedding.BaseURL); err != nil {
		return Config{}, fmt.Errorf("EMBEDDING_URL is not a valid URL: %w", err)
	}
	if cfg.AgentID == "" {
		return Config{}, errors.New("AGENT_ID is required")
	}
	if cfg.Graph.Enabled && cfg.Graph.URL == "" {
		return Config{}, errors.New("GRAPH_URL is required when ENABLE_GRAPH is true")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return Config{}, errors.New("REDIS_URL is required when ENABLE_BROADCAST is true")
	}
	if cfg.BrokerKind == "kafka" && cfg.Kafka.Brokers == "" {
		return Config{}, errors.New("KAFKA_BROKERS is required when BROKER_KIND is kafka")
	}
	if cfg.BrokerKind != "redis" && cfg.BrokerKind != "kafka" {
		return Config{}, fmt.Errorf("BROKER_KIND must be one of redis, kafka (got %q)", cfg.BrokerKind)
	}

	cfg.CaptureMaxChars = clampInt(cfg.CaptureMaxChars, 100, 10000, 500)
	cfg.AutoLinkThreshold = clampFloat(cfg.AutoLinkThreshold, 0.3, 0.99, 0.70)
	if cfg.SpreadActivationDepth <= 0 {
		cfg.SpreadActivationDepth = 2
	}
	if cfg.DreamIntervalHours <= 0 {
		cfg.DreamIntervalHours = 12
	}
	return cfg, nil
}

func trimEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
