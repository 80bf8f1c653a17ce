// Package config resolves pipeline settings from flags, environment
// variables, an optional pipeline.yaml, and built-in defaults.
//
// Precedence is flags > env > config file > defaults. The CLI pushes
// explicitly-set flag values in via Set; everything else falls through
// viper. Environment variables use the PIPELINE_ prefix with dashes
// mapped to underscores (PIPELINE_BATCH_SIZE for --batch-size).
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/docpipe/docpipe/internal/types"
)

// Configuration keys. The first block mirrors the CLI flag set; the
// second block is env/config-file only.
const (
	KeySteps            = "steps"
	KeyIndexURL         = "index-url"
	KeyLogDir           = "log-dir"
	KeyBatchSize        = "batch-size"
	KeyCacheHost        = "cache-host"
	KeyCachePort        = "cache-port"
	KeyCacheTTL         = "cache-ttl"
	KeyNoPII            = "no-pii"
	KeyNoDedup          = "no-dedup"
	KeySummaryMaxLength = "summary-max-length"
	KeySummaryMinLength = "summary-min-length"
	KeyClusterCount     = "cluster-count"
	KeyMinClusterSize   = "min-cluster-size"

	KeyMaxBodyBytes        = "max-body-bytes"
	KeyCacheBackend        = "cache-backend"
	KeyCacheSize           = "cache-size"
	KeyPIINER              = "pii-ner"
	KeyPIIRedact           = "pii-redact"
	KeySummaryModel        = "summary-model"
	KeySummaryTimeout      = "summary-timeout"
	KeySummaryWorkers      = "summary-workers"
	KeySummaryChunkWords   = "summary-chunk-words"
	KeySummaryChunkOverlap = "summary-chunk-overlap"
	KeyEmbedURL            = "embed-url"
	KeyEmbedModel          = "embed-model"
	KeyEmbedChunkTokens    = "embed-chunk-tokens"
	KeyEmbedChunkOverlap   = "embed-chunk-overlap"
	KeyEmbedTimeout        = "embed-timeout"
	KeyEmbedWorkers        = "embed-workers"
	KeyClusterKeywords     = "cluster-keywords"
	KeyClusterSeed         = "cluster-seed"
	KeyIndexClass          = "index-class"
	KeyIndexTimeout        = "index-timeout"
	KeyIndexRetries        = "index-retries"
	KeyIndexWorkers        = "index-workers"
	KeySchemaDir           = "schema-dir"
)

// Flag defaults, shared with the CLI so the flag table and viper
// registration stay single-sourced.
const (
	DefaultIndexURL         = "http://localhost:8080"
	DefaultLogDir           = "logs"
	DefaultBatchSize        = 100
	DefaultCacheHost        = "localhost"
	DefaultCachePort        = 6379
	DefaultCacheTTL         = 86400
	DefaultSummaryMaxLength = 150
	DefaultSummaryMinLength = 50
	DefaultClusterCount     = 5
	DefaultMinClusterSize   = 3
)

// CacheBackend values for KeyCacheBackend.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
	CacheBackendNone   = "none"
)

var (
	mu sync.Mutex
	v  *viper.Viper
)

// Initialize sets up the package viper instance: defaults, the
// PIPELINE_ env prefix, and an optional pipeline.yaml in the working
// directory. Safe to call more than once; later calls reset overrides.
func Initialize() error {
	mu.Lock()
	defer mu.Unlock()

	nv := viper.New()
	nv.SetEnvPrefix("PIPELINE")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	nv.AutomaticEnv()
	registerDefaults(nv)

	nv.SetConfigName("pipeline")
	nv.SetConfigType("yaml")
	nv.AddConfigPath(".")
	if err := nv.ReadInConfig(); err != nil {
		// Missing config file is the normal case.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading pipeline.yaml: %w", err)
		}
	}

	v = nv
	return nil
}

// Set records an explicit override, typically from a flag the user set
// on the command line. Explicit values outrank env and defaults.
func Set(key string, value interface{}) {
	mu.Lock()
	defer mu.Unlock()
	ensureInitializedLocked()
	v.Set(key, value)
}

func registerDefaults(nv *viper.Viper) {
	nv.SetDefault(KeySteps, strings.Join(types.CanonicalStages, ","))
	nv.SetDefault(KeyIndexURL, DefaultIndexURL)
	nv.SetDefault(KeyLogDir, DefaultLogDir)
	nv.SetDefault(KeyBatchSize, DefaultBatchSize)
	nv.SetDefault(KeyCacheHost, DefaultCacheHost)
	nv.SetDefault(KeyCachePort, DefaultCachePort)
	nv.SetDefault(KeyCacheTTL, DefaultCacheTTL)
	nv.SetDefault(KeyNoPII, false)
	nv.SetDefault(KeyNoDedup, false)
	nv.SetDefault(KeySummaryMaxLength, DefaultSummaryMaxLength)
	nv.SetDefault(KeySummaryMinLength, DefaultSummaryMinLength)
	nv.SetDefault(KeyClusterCount, DefaultClusterCount)
	nv.SetDefault(KeyMinClusterSize, DefaultMinClusterSize)

	nv.SetDefault(KeyMaxBodyBytes, 1<<20)
	nv.SetDefault(KeyCacheBackend, CacheBackendRedis)
	nv.SetDefault(KeyCacheSize, 4096)
	nv.SetDefault(KeyPIINER, true)
	nv.SetDefault(KeyPIIRedact, false)
	nv.SetDefault(KeySummaryModel, "claude-3-5-haiku-latest")
	nv.SetDefault(KeySummaryTimeout, "60s")
	nv.SetDefault(KeySummaryWorkers, 1)
	nv.SetDefault(KeySummaryChunkWords, 800)
	nv.SetDefault(KeySummaryChunkOverlap, 80)
	nv.SetDefault(KeyEmbedURL, "http://localhost:8081")
	nv.SetDefault(KeyEmbedModel, "all-MiniLM-L6-v2")
	nv.SetDefault(KeyEmbedChunkTokens, 256)
	nv.SetDefault(KeyEmbedChunkOverlap, 32)
	nv.SetDefault(KeyEmbedTimeout, "30s")
	nv.SetDefault(KeyEmbedWorkers, 4)
	nv.SetDefault(KeyClusterKeywords, 5)
	nv.SetDefault(KeyClusterSeed, 42)
	nv.SetDefault(KeyIndexClass, "Document")
	nv.SetDefault(KeyIndexTimeout, "30s")
	nv.SetDefault(KeyIndexRetries, 3)
	nv.SetDefault(KeyIndexWorkers, 2)
	nv.SetDefault(KeySchemaDir, "schemas")
}

func ensureInitializedLocked() {
	if v != nil {
		return
	}
	nv := viper.New()
	nv.SetEnvPrefix("PIPELINE")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	nv.AutomaticEnv()
	registerDefaults(nv)
	v = nv
}

// Config is the fully resolved pipeline configuration. Construct via
// Resolve; all fields are validated there.
type Config struct {
	Steps     []string `validate:"required,min=1,unique,dive,stage"`
	BatchSize int      `validate:"gte=1"`
	LogDir    string   `validate:"required"`
	SchemaDir string   `validate:"required"`

	Loader    Loader
	PII       PII
	Summarize Summarize
	Embed     Embed
	Cluster   Cluster
	Index     Index
	Cache     Cache
}

// Loader bounds document ingestion.
type Loader struct {
	MaxBodyBytes int `validate:"gte=1"`
}

// PII controls the detection stage. Redact rewrites document bodies;
// detection alone only annotates metadata.
type PII struct {
	Enabled bool
	NER     bool
	Redact  bool
}

// Summarize controls the summarization stage.
type Summarize struct {
	MaxLength    int           `validate:"gte=1"`
	MinLength    int           `validate:"gte=0,ltfield=MaxLength"`
	ChunkWords   int           `validate:"gte=1"`
	ChunkOverlap int           `validate:"gte=0,ltfield=ChunkWords"`
	Model        string        `validate:"required"`
	Timeout      time.Duration `validate:"gt=0"`
	Workers      int           `validate:"gte=1"`
}

// Embed controls the embedding stage.
type Embed struct {
	URL          string        `validate:"required,endpoint"`
	Model        string        `validate:"required"`
	ChunkTokens  int           `validate:"gte=1"`
	ChunkOverlap int           `validate:"gte=0,ltfield=ChunkTokens"`
	Timeout      time.Duration `validate:"gt=0"`
	Workers      int           `validate:"gte=1"`
}

// Cluster controls the clustering stage. Seed fixes k-means
// initialization so repeated runs cluster identically.
type Cluster struct {
	MaxClusters    int `validate:"gte=1"`
	MinClusterSize int `validate:"gte=1"`
	TopKeywords    int `validate:"gte=1"`
	Seed           int64
}

// Index controls the vector index client and stage.
type Index struct {
	URL        string        `validate:"required,endpoint"`
	Class      string        `validate:"required"`
	Timeout    time.Duration `validate:"gt=0"`
	MaxRetries int           `validate:"gte=0"`
	Workers    int           `validate:"gte=1"`
}

// Cache selects and sizes the cache backend.
type Cache struct {
	Backend string        `validate:"oneof=redis memory none"`
	Host    string        `validate:"required"`
	Port    int           `validate:"gte=0,lte=65535"`
	TTL     time.Duration `validate:"gt=0"`
	Size    int           `validate:"gte=1"`
}

// Addr returns the host:port pair for the redis backend.
func (c Cache) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Resolve builds a Config from the current viper state and validates
// it. Dedup and PII are dropped from Steps when their disable flags
// are set; disabling a stage that was not requested is not an error.
func Resolve() (*Config, error) {
	mu.Lock()
	ensureInitializedLocked()
	nv := v
	mu.Unlock()

	steps, err := parseSteps(nv.GetString(KeySteps))
	if err != nil {
		return nil, err
	}
	if nv.GetBool(KeyNoDedup) {
		steps = removeStep(steps, types.StageDeduplicate)
	}
	piiEnabled := !nv.GetBool(KeyNoPII)
	if !piiEnabled {
		steps = removeStep(steps, types.StagePII)
	}

	cfg := &Config{
		Steps:     steps,
		BatchSize: nv.GetInt(KeyBatchSize),
		LogDir:    nv.GetString(KeyLogDir),
		SchemaDir: nv.GetString(KeySchemaDir),
		Loader: Loader{
			MaxBodyBytes: nv.GetInt(KeyMaxBodyBytes),
		},
		PII: PII{
			Enabled: piiEnabled,
			NER:     nv.GetBool(KeyPIINER),
			Redact:  nv.GetBool(KeyPIIRedact),
		},
		Summarize: Summarize{
			MaxLength:    nv.GetInt(KeySummaryMaxLength),
			MinLength:    nv.GetInt(KeySummaryMinLength),
			ChunkWords:   nv.GetInt(KeySummaryChunkWords),
			ChunkOverlap: nv.GetInt(KeySummaryChunkOverlap),
			Model:        nv.GetString(KeySummaryModel),
			Timeout:      nv.GetDuration(KeySummaryTimeout),
			Workers:      nv.GetInt(KeySummaryWorkers),
		},
		Embed: Embed{
			URL:          nv.GetString(KeyEmbedURL),
			Model:        nv.GetString(KeyEmbedModel),
			ChunkTokens:  nv.GetInt(KeyEmbedChunkTokens),
			ChunkOverlap: nv.GetInt(KeyEmbedChunkOverlap),
			Timeout:      nv.GetDuration(KeyEmbedTimeout),
			Workers:      nv.GetInt(KeyEmbedWorkers),
		},
		Cluster: Cluster{
			MaxClusters:    nv.GetInt(KeyClusterCount),
			MinClusterSize: nv.GetInt(KeyMinClusterSize),
			TopKeywords:    nv.GetInt(KeyClusterKeywords),
			Seed:           nv.GetInt64(KeyClusterSeed),
		},
		Index: Index{
			URL:        nv.GetString(KeyIndexURL),
			Class:      nv.GetString(KeyIndexClass),
			Timeout:    nv.GetDuration(KeyIndexTimeout),
			MaxRetries: nv.GetInt(KeyIndexRetries),
			Workers:    nv.GetInt(KeyIndexWorkers),
		},
		Cache: Cache{
			Backend: nv.GetString(KeyCacheBackend),
			Host:    nv.GetString(KeyCacheHost),
			Port:    nv.GetInt(KeyCachePort),
			TTL:     time.Duration(nv.GetInt(KeyCacheTTL)) * time.Second,
			Size:    nv.GetInt(KeyCacheSize),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSteps splits a comma list of stage names, trimming whitespace
// and normalising case. An empty list is invalid.
func parseSteps(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	steps := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.ToLower(strings.TrimSpace(p))
		if s == "" {
			continue
		}
		if !types.IsStage(s) {
			return nil, fmt.Errorf("%w: unknown step %q (valid: %s)",
				ErrInvalid, p, strings.Join(types.CanonicalStages, ", "))
		}
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: steps list is empty", ErrInvalid)
	}
	return steps, nil
}

func removeStep(steps []string, name string) []string {
	out := steps[:0]
	for _, s := range steps {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}
