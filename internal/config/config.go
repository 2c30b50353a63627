// Package config loads and validates the engine configuration.
//
// Engine settings live in .lattice.yaml next to the workspace config, with
// a user-level fallback at ~/.lattice/config.yaml. They cover the runtime
// stack (embedding backend, vector backend, caches, concurrency); the
// workspace itself (projects, relationships) is a separate JSON document
// handled by the workspace package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Vector    VectorConfig    `yaml:"vector" json:"vector"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Indexing  IndexingConfig  `yaml:"indexing" json:"indexing"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// Provider selects the backend: "ollama" or "static".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name for remote providers.
	Model string `yaml:"model" json:"model"`
	// URL is the remote API endpoint.
	URL string `yaml:"url" json:"url"`
	// Dimensions overrides autodetection when non-zero.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is the number of texts embedded per backend call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxQPS rate-limits embedding calls during indexing (0 = unlimited).
	MaxQPS int `yaml:"max_qps" json:"max_qps"`
	// CacheSize bounds the embedding LRU cache (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Timeout bounds a single backend call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// VectorConfig configures the vector store backend.
type VectorConfig struct {
	// Backend selects "hnsw" (embedded) or "qdrant" (remote).
	Backend string `yaml:"backend" json:"backend"`
	// DataDir is where embedded collections persist. Defaults to
	// <workspace>/.lattice/vectors.
	DataDir string       `yaml:"data_dir" json:"data_dir"`
	Qdrant  QdrantConfig `yaml:"qdrant" json:"qdrant"`
}

// QdrantConfig configures the remote qdrant backend.
type QdrantConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key" json:"api_key"`
	UseTLS bool   `yaml:"use_tls" json:"use_tls"`
}

// CacheConfig configures the tiered result cache.
type CacheConfig struct {
	// L1Size bounds the in-process LRU (entries).
	L1Size int `yaml:"l1_size" json:"l1_size"`
	// L2 configures the shared NATS JetStream KV tier.
	L2 L2Config `yaml:"l2" json:"l2"`
	// L3TTL bounds how long precomputed template results stay fresh.
	L3TTL time.Duration `yaml:"l3_ttl" json:"l3_ttl"`
	// Prefetch configures the Markov prefetcher.
	Prefetch PrefetchConfig `yaml:"prefetch" json:"prefetch"`
}

// L2Config configures the shared remote cache tier.
type L2Config struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	URL     string        `yaml:"url" json:"url"`
	Bucket  string        `yaml:"bucket" json:"bucket"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// PrefetchConfig configures query prefetching.
type PrefetchConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// TopK is how many predicted successors to warm per query.
	TopK int `yaml:"top_k" json:"top_k"`
	// Budget bounds concurrently running prefetches.
	Budget int `yaml:"budget" json:"budget"`
}

// IndexingConfig configures the per-project indexing pipeline.
type IndexingConfig struct {
	// Workers is the chunk+embed worker pool size per project.
	Workers int `yaml:"workers" json:"workers"`
	// ChannelCapacity bounds the queues between pipeline stages.
	ChannelCapacity int `yaml:"channel_capacity" json:"channel_capacity"`
	// BatchSize is the upsert batch threshold B.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// FlushInterval is the upsert flush deadline T.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// MaxFileSizeMB skips files larger than this.
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	// GlobalConcurrency caps concurrent embed/upsert work engine-wide.
	GlobalConcurrency int `yaml:"global_concurrency" json:"global_concurrency"`
	// WatchDebounce coalesces file events before re-indexing.
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// SearchConfig configures the query pipeline.
type SearchConfig struct {
	// DefaultK is the result count when the caller does not pass one.
	DefaultK int `yaml:"default_k" json:"default_k"`
	// HeadroomFactor inflates k during retrieval for re-ranking.
	HeadroomFactor int `yaml:"headroom_factor" json:"headroom_factor"`
	// ExpansionLimit caps appended query expansions.
	ExpansionLimit int `yaml:"expansion_limit" json:"expansion_limit"`
	// RRFConstant smooths reciprocal rank fusion for hybrid templates.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
}

// DiscoveryConfig configures auto-discovery.
type DiscoveryConfig struct {
	// MaxDepth bounds the directory walk.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// Markers maps manifest filenames to project hints. Empty means the
	// built-in table; entries here extend or override it.
	Markers map[string]string `yaml:"markers" json:"markers"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			URL:       "http://localhost:11434",
			BatchSize: 32,
			CacheSize: 4096,
			Timeout:   30 * time.Second,
		},
		Vector: VectorConfig{
			Backend: "hnsw",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Cache: CacheConfig{
			L1Size: 512,
			L2: L2Config{
				Bucket: "lattice-results",
				TTL:    10 * time.Minute,
			},
			L3TTL: 24 * time.Hour,
			Prefetch: PrefetchConfig{
				TopK:   2,
				Budget: 4,
			},
		},
		Indexing: IndexingConfig{
			Workers:           4,
			ChannelCapacity:   64,
			BatchSize:         128,
			FlushInterval:     500 * time.Millisecond,
			MaxFileSizeMB:     5,
			GlobalConcurrency: 8,
			WatchDebounce:     750 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultK:       10,
			HeadroomFactor: 3,
			ExpansionLimit: 8,
			RRFConstant:    60,
		},
		Discovery: DiscoveryConfig{
			MaxDepth: 3,
		},
	}
}

// Load reads a config file, applies defaults for unset fields, applies
// environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault searches the standard locations: $LATTICE_CONFIG, then
// .lattice.yaml in dir, then ~/.lattice/config.yaml. Missing files are
// fine; defaults apply.
func LoadDefault(dir string) (*Config, error) {
	if env := os.Getenv("LATTICE_CONFIG"); env != "" {
		return Load(env)
	}
	local := filepath.Join(dir, ".lattice.yaml")
	if _, err := os.Stat(local); err == nil {
		return Load(local)
	}
	if home, err := os.UserHomeDir(); err == nil {
		user := filepath.Join(home, ".lattice", "config.yaml")
		if _, err := os.Stat(user); err == nil {
			return Load(user)
		}
	}
	return Load("")
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks option sets and numeric ranges.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("embedding.provider must be ollama or static, got %q", c.Embedding.Provider)
	}
	switch c.Vector.Backend {
	case "hnsw", "qdrant":
	default:
		return fmt.Errorf("vector.backend must be hnsw or qdrant, got %q", c.Vector.Backend)
	}
	if c.Vector.Backend == "qdrant" && c.Vector.Qdrant.Host == "" {
		return fmt.Errorf("vector.qdrant.host is required for the qdrant backend")
	}
	if c.Indexing.Workers < 1 {
		return fmt.Errorf("indexing.workers must be at least 1, got %d", c.Indexing.Workers)
	}
	if c.Indexing.ChannelCapacity < 1 {
		return fmt.Errorf("indexing.channel_capacity must be at least 1, got %d", c.Indexing.ChannelCapacity)
	}
	if c.Indexing.GlobalConcurrency < 1 {
		return fmt.Errorf("indexing.global_concurrency must be at least 1, got %d", c.Indexing.GlobalConcurrency)
	}
	if c.Search.HeadroomFactor < 1 {
		return fmt.Errorf("search.headroom_factor must be at least 1, got %d", c.Search.HeadroomFactor)
	}
	if c.Search.DefaultK < 1 {
		return fmt.Errorf("search.default_k must be at least 1, got %d", c.Search.DefaultK)
	}
	if c.Cache.L1Size < 1 {
		return fmt.Errorf("cache.l1_size must be at least 1, got %d", c.Cache.L1Size)
	}
	if c.Cache.L2.Enabled && c.Cache.L2.URL == "" {
		return fmt.Errorf("cache.l2.url is required when the shared cache is enabled")
	}
	if c.Discovery.MaxDepth < 1 {
		return fmt.Errorf("discovery.max_depth must be at least 1, got %d", c.Discovery.MaxDepth)
	}
	return nil
}

// applyEnv lets LATTICE_* variables override file values. Only settings
// that make sense per-invocation are exposed.
func (c *Config) applyEnv() {
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LATTICE_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("LATTICE_EMBEDDING_URL"); v != "" {
		c.Embedding.URL = v
	}
	if v := os.Getenv("LATTICE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("LATTICE_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("LATTICE_QDRANT_HOST"); v != "" {
		c.Vector.Qdrant.Host = v
	}
	if v := os.Getenv("LATTICE_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Vector.Qdrant.Port = port
		}
	}
	if v := os.Getenv("LATTICE_NATS_URL"); v != "" {
		c.Cache.L2.URL = v
		c.Cache.L2.Enabled = true
	}
	if v := os.Getenv("LATTICE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.Workers = n
		}
	}
}

// DataDir returns the engine state directory for a workspace rooted at dir.
func DataDir(dir string) string {
	return filepath.Join(dir, ".lattice")
}

// Redacted returns a copy safe for logging, with secrets blanked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Vector.Qdrant.APIKey != "" {
		out.Vector.Qdrant.APIKey = "***"
	}
	if out.Cache.L2.URL != "" && strings.Contains(out.Cache.L2.URL, "@") {
		out.Cache.L2.URL = "***"
	}
	return out
}
