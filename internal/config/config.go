// Package config loads and validates corpusmcp configuration.
//
// Precedence, lowest to highest:
//  1. built-in defaults
//  2. user config (~/.config/corpusmcp/config.yaml)
//  3. project config (.corpusmcp.yaml in the scan root)
//  4. CORPUSMCP_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete corpusmcp configuration.
type Config struct {
	Version int            `yaml:"version" json:"version"`
	Paths   PathsConfig    `yaml:"paths" json:"paths"`
	Chunker ChunkerConfig  `yaml:"chunker" json:"chunker"`
	Embed   EmbedConfig    `yaml:"embeddings" json:"embeddings"`
	Keyword KeywordConfig  `yaml:"keywords" json:"keywords"`
	Scanner ScannerConfig  `yaml:"scanner" json:"scanner"`
	Storage StorageConfig  `yaml:"storage" json:"storage"`
	Vector  VectorConfig   `yaml:"vector" json:"vector"`
	Query   QueryConfig    `yaml:"query" json:"query"`
	Server  ServerConfig   `yaml:"server" json:"server"`
	Watcher WatcherConfig  `yaml:"watcher" json:"watcher"`
}

// PathsConfig configures where persisted state lives and what is scanned.
type PathsConfig struct {
	// DataDir holds the relational store; the ANN index lives in memory only.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Include and Exclude are glob lists applied during scans.
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkerConfig configures chunking strategy parameters.
type ChunkerConfig struct {
	// CodeChunkSize is the target chunk size for code files, in characters.
	CodeChunkSize int `yaml:"code_chunk_size" json:"code_chunk_size"`
	// ProseChunkSize is the target chunk size for prose files, in characters.
	ProseChunkSize int `yaml:"prose_chunk_size" json:"prose_chunk_size"`
	// ProseOverlap enables the prose_overlap strategy for prose files.
	ProseOverlap bool `yaml:"prose_overlap" json:"prose_overlap"`
	// OverlapFraction is the trailing fraction of the previous chunk
	// prepended under prose_overlap (default 0.15).
	OverlapFraction float64 `yaml:"overlap_fraction" json:"overlap_fraction"`
	// MaxFileSize is the ingestion ceiling in bytes; larger files are
	// skipped with file_too_large.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// EmbedConfig configures the embedding backend.
type EmbedConfig struct {
	// Backend selects the embedder: "static" (built-in) or "onnx".
	Backend string `yaml:"backend" json:"backend"`
	// Model is the model identity recorded alongside vectors.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the vector dimension; all stored vectors must share it.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is the inference batch ceiling.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// ModelDir holds model.onnx and tokenizer.json for the onnx backend.
	ModelDir string `yaml:"model_dir" json:"model_dir"`
	// ORTLibPath points at the onnxruntime shared library ("" = system).
	ORTLibPath string `yaml:"ort_lib_path" json:"ort_lib_path"`
	// CacheSize is the LRU embedding cache capacity (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// KeywordConfig configures the keyword analyzer.
type KeywordConfig struct {
	// TopK is the number of keywords kept per file.
	TopK int `yaml:"top_k" json:"top_k"`
	// RebuildGrowth triggers an IDF rebuild when the corpus grows by this
	// fraction since the last rebuild (default 0.10).
	RebuildGrowth float64 `yaml:"rebuild_growth" json:"rebuild_growth"`
}

// ScannerConfig configures directory scans.
type ScannerConfig struct {
	// Workers is the bounded worker pool size (0 = NumCPU).
	Workers int `yaml:"workers" json:"workers"`
	// RateLimit caps throughput in files per RateInterval (0 = unthrottled).
	RateLimit    int           `yaml:"rate_limit" json:"rate_limit"`
	RateInterval time.Duration `yaml:"rate_interval" json:"rate_interval"`
	// FollowSymlinks is not read by the scanner: symlinked directories are
	// always followed when they resolve inside the scan root, and symlinked
	// files are always read.
	FollowSymlinks bool `yaml:"follow_symlinks" json:"follow_symlinks"`
}

// StorageConfig configures the relational store.
type StorageConfig struct {
	// BusyTimeout is the SQLite busy timeout.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
	// CacheMB is the SQLite page cache size in megabytes.
	CacheMB int `yaml:"cache_mb" json:"cache_mb"`
	// MaxRetries caps contention retries on the write path.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// VectorConfig configures the ANN index.
type VectorConfig struct {
	// M is the HNSW max connections per layer.
	M int `yaml:"m" json:"m"`
	// EfSearch is the HNSW query-time search width.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// IdleEviction unloads the index after this idle period under memory
	// pressure (default 300s).
	IdleEviction time.Duration `yaml:"idle_eviction" json:"idle_eviction"`
}

// QueryConfig configures result shaping.
type QueryConfig struct {
	// MaxResults is the hard result cap per primitive.
	MaxResults int `yaml:"max_results" json:"max_results"`
	// MaxContentChars is the per-result content ceiling.
	MaxContentChars int `yaml:"max_content_chars" json:"max_content_chars"`
}

// ServerConfig configures the server loop.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	// Freshness enables query-time freshness annotations.
	Freshness bool `yaml:"freshness" json:"freshness"`
}

// WatcherConfig configures the optional live re-index watcher.
type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Chunker: ChunkerConfig{
			CodeChunkSize:   350,
			ProseChunkSize:  800,
			OverlapFraction: 0.15,
			MaxFileSize:     5 * 1024 * 1024,
		},
		Embed: EmbedConfig{
			Backend:    "static",
			Model:      "static-384",
			Dimensions: 384,
			BatchSize:  32,
			CacheSize:  4096,
		},
		Keyword: KeywordConfig{
			TopK:          20,
			RebuildGrowth: 0.10,
		},
		Scanner: ScannerConfig{
			Workers:      runtime.NumCPU(),
			RateInterval: time.Second,
		},
		Storage: StorageConfig{
			BusyTimeout: 5 * time.Second,
			CacheMB:     64,
			MaxRetries:  5,
		},
		Vector: VectorConfig{
			M:            16,
			EfSearch:     64,
			IdleEviction: 300 * time.Second,
		},
		Query: QueryConfig{
			MaxResults:      50,
			MaxContentChars: 8192,
		},
		Server: ServerConfig{
			LogLevel:  "info",
			Freshness: true,
		},
		Watcher: WatcherConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// DefaultDataDir returns the default persisted-state directory (~/data).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "corpusmcp-data")
	}
	return filepath.Join(home, "data")
}

// UserConfigPath returns the user-level config file path.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "corpusmcp", "config.yaml")
}

// Load builds the effective configuration for a project root.
func Load(projectRoot string) (*Config, error) {
	cfg := Default()

	if p := UserConfigPath(); p != "" {
		if err := mergeFile(cfg, p); err != nil {
			return nil, err
		}
	}
	if projectRoot != "" {
		if err := mergeFile(cfg, filepath.Join(projectRoot, ".corpusmcp.yaml")); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CORPUSMCP_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("CORPUSMCP_EMBED_BACKEND"); v != "" {
		cfg.Embed.Backend = v
	}
	if v := os.Getenv("CORPUSMCP_EMBED_MODEL_DIR"); v != "" {
		cfg.Embed.ModelDir = v
	}
	if v := os.Getenv("CORPUSMCP_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("CORPUSMCP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scanner.Workers = n
		}
	}
	if v := os.Getenv("CORPUSMCP_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Query.MaxResults = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunker.CodeChunkSize <= 0 || c.Chunker.ProseChunkSize <= 0 {
		return fmt.Errorf("chunk sizes must be positive")
	}
	if c.Chunker.OverlapFraction < 0 || c.Chunker.OverlapFraction >= 1 {
		return fmt.Errorf("overlap_fraction must be in [0, 1)")
	}
	if c.Embed.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.Embed.BatchSize <= 0 || c.Embed.BatchSize > 256 {
		return fmt.Errorf("embedding batch_size must be in [1, 256]")
	}
	switch c.Embed.Backend {
	case "static", "onnx":
	default:
		return fmt.Errorf("unknown embedding backend: %q", c.Embed.Backend)
	}
	if c.Keyword.TopK <= 0 {
		return fmt.Errorf("keyword top_k must be positive")
	}
	if c.Keyword.RebuildGrowth <= 0 {
		return fmt.Errorf("keyword rebuild_growth must be positive")
	}
	if c.Query.MaxResults <= 0 {
		return fmt.Errorf("query max_results must be positive")
	}
	return nil
}

// StorePath returns the relational store file inside the data directory.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "corpus.db")
}
