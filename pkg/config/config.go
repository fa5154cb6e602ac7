// Package config loads runtime settings. Layers apply in order: compiled
// defaults, the YAML file named by LEXRAG_CONFIG, a .env file in the working
// directory (never overriding the real environment), then environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at the YAML file.
const FileEnv = "LEXRAG_CONFIG"

type Qdrant struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

type Embedder struct {
	// Provider is "ollama" or "openai".
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	// RateLimit is calls per second; zero disables limiting.
	RateLimit        float64       `yaml:"rate_limit"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// Cache configures the Redis query-embedding cache. An empty Addr disables it.
type Cache struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Neo4j configures the outline store. An empty URI disables it.
type Neo4j struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type NATS struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type Chunking struct {
	Size      int `yaml:"size"`
	Overlap   int `yaml:"overlap"`
	BatchSize int `yaml:"batch_size"`
}

type Retrieval struct {
	TopK              int           `yaml:"top_k"`
	SmalltalkTopK     int           `yaml:"smalltalk_top_k"`
	SmalltalkSources  int           `yaml:"smalltalk_sources"`
	AnalysisTopK      int           `yaml:"analysis_top_k"`
	FanOutPadding     int           `yaml:"fan_out_padding"`
	BroadTopK         int           `yaml:"broad_top_k"`
	FallbackThreshold float64       `yaml:"fallback_threshold"`
	PreviewLen        int           `yaml:"preview_len"`
	Workers           int           `yaml:"workers"`
	SearchTimeout     time.Duration `yaml:"search_timeout"`
}

// Config is the full runtime configuration.
type Config struct {
	Qdrant      Qdrant    `yaml:"qdrant"`
	Embedder    Embedder  `yaml:"embedder"`
	Cache       Cache     `yaml:"cache"`
	Neo4j       Neo4j     `yaml:"neo4j"`
	NATS        NATS      `yaml:"nats"`
	Chunking    Chunking  `yaml:"chunking"`
	Retrieval   Retrieval `yaml:"retrieval"`
	MetricsAddr string    `yaml:"metrics_addr"`
	LogLevel    string    `yaml:"log_level"`
}

// Default returns the compiled defaults.
func Default() *Config {
	return &Config{
		Qdrant: Qdrant{Addr: "localhost:6334", Collection: "legal_documents"},
		Embedder: Embedder{
			Provider:         "ollama",
			BaseURL:          "http://localhost:11434",
			Model:            "bge-m3",
			Timeout:          60 * time.Second,
			Burst:            1,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Cache:    Cache{TTL: 24 * time.Hour},
		Neo4j:    Neo4j{User: "neo4j"},
		NATS:     NATS{URL: "nats://localhost:4222", Queue: "lexrag-indexers"},
		Chunking: Chunking{Size: 1500, Overlap: 200, BatchSize: 100},
		Retrieval: Retrieval{
			TopK:              60,
			SmalltalkTopK:     20,
			SmalltalkSources:  30,
			AnalysisTopK:      40,
			FanOutPadding:     5,
			BroadTopK:         5,
			FallbackThreshold: 0.35,
			PreviewLen:        300,
			Workers:           4,
			SearchTimeout:     30 * time.Second,
		},
		MetricsAddr: ":9091",
		LogLevel:    "info",
	}
}

// Load builds the configuration from every layer and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path. Keys absent from the file keep
// their current value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	e := &envReader{}

	c.Qdrant.Addr = envOr("LEXRAG_QDRANT_ADDR", c.Qdrant.Addr)
	c.Qdrant.Collection = envOr("LEXRAG_COLLECTION", c.Qdrant.Collection)

	c.Embedder.Provider = envOr("LEXRAG_EMBED_PROVIDER", c.Embedder.Provider)
	c.Embedder.BaseURL = envOr("LEXRAG_EMBED_URL", c.Embedder.BaseURL)
	c.Embedder.Model = envOr("LEXRAG_EMBED_MODEL", c.Embedder.Model)
	c.Embedder.APIKey = envOr("LEXRAG_EMBED_API_KEY", envOr("OPENAI_API_KEY", c.Embedder.APIKey))
	c.Embedder.Timeout = e.duration("LEXRAG_EMBED_TIMEOUT", c.Embedder.Timeout)
	c.Embedder.RateLimit = e.float("LEXRAG_EMBED_RATE", c.Embedder.RateLimit)

	c.Cache.Addr = envOr("LEXRAG_REDIS_ADDR", c.Cache.Addr)
	c.Cache.Password = envOr("LEXRAG_REDIS_PASSWORD", c.Cache.Password)
	c.Cache.DB = e.int("LEXRAG_REDIS_DB", c.Cache.DB)
	c.Cache.TTL = e.duration("LEXRAG_CACHE_TTL", c.Cache.TTL)

	c.Neo4j.URI = envOr("LEXRAG_NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.User = envOr("LEXRAG_NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = envOr("LEXRAG_NEO4J_PASSWORD", c.Neo4j.Password)

	c.NATS.URL = envOr("LEXRAG_NATS_URL", c.NATS.URL)

	c.Chunking.Size = e.int("LEXRAG_CHUNK_SIZE", c.Chunking.Size)
	c.Chunking.Overlap = e.int("LEXRAG_CHUNK_OVERLAP", c.Chunking.Overlap)
	c.Chunking.BatchSize = e.int("LEXRAG_BATCH_SIZE", c.Chunking.BatchSize)

	c.Retrieval.TopK = e.int("LEXRAG_TOP_K", c.Retrieval.TopK)
	c.Retrieval.FallbackThreshold = e.float("LEXRAG_FALLBACK_THRESHOLD", c.Retrieval.FallbackThreshold)
	c.Retrieval.Workers = e.int("LEXRAG_SEARCH_WORKERS", c.Retrieval.Workers)

	c.MetricsAddr = envOr("LEXRAG_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("LEXRAG_LOG_LEVEL", c.LogLevel)

	if e.err != nil {
		return fmt.Errorf("config: %w", e.err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Embedder.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedder.provider %q: want ollama or openai", c.Embedder.Provider))
	}
	if c.Qdrant.Addr == "" || c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.addr and qdrant.collection are required"))
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size %d: must be positive", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap %d: must be in [0, size)", c.Chunking.Overlap))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d: must be positive", c.Retrieval.TopK))
	}
	if c.Retrieval.FallbackThreshold < 0 || c.Retrieval.FallbackThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.fallback_threshold %g: must be in [0, 1]", c.Retrieval.FallbackThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed variables and keeps every parse error.
type envReader struct{ err error }

func (e *envReader) fail(key, v string, err error) {
	e.err = errors.Join(e.err, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *envReader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return n
}

func (e *envReader) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return f
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return d
}
