// docpipe enriches exported documents and indexes them for search.
//
// The root command runs the pipeline over an export directory; the
// schema, lineage, and search subcommands inspect the pieces a run
// leaves behind.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/docpipe/docpipe/internal/cache"
	"github.com/docpipe/docpipe/internal/cluster"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/dedup"
	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/health"
	"github.com/docpipe/docpipe/internal/lineage"
	"github.com/docpipe/docpipe/internal/loader"
	"github.com/docpipe/docpipe/internal/logging"
	"github.com/docpipe/docpipe/internal/pii"
	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/runlock"
	"github.com/docpipe/docpipe/internal/summarize"
	"github.com/docpipe/docpipe/internal/telemetry"
	"github.com/docpipe/docpipe/internal/types"
	"github.com/docpipe/docpipe/internal/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:   "docpipe [flags] EXPORT_DIR",
	Short: "Enrich exported documents and index them for search",
	Long: `docpipe loads a directory of exported documents (JSON, JSONL, CSV,
Markdown), runs them through the enabled enrichment stages, and upserts
the results into a vector index. Every document keeps a lineage record
of what each stage did to it.

Stages run in canonical order regardless of how --steps lists them:
  load, dedup, pii, summarize, embed, cluster, index

Configuration resolves flags over PIPELINE_* environment variables over
an optional pipeline.yaml in the working directory.

Examples:
  docpipe ./export                          # full pipeline, default config
  docpipe --steps load,dedup,embed ./export # skip the model-backed stages
  docpipe --no-pii --batch-size 50 ./export
  PIPELINE_INDEX_URL=http://weaviate:8080 docpipe ./export`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		pushFlagOverrides(cmd)
		return nil
	},
	RunE: runPipeline,
}

// Flags that shape command output rather than pipeline behaviour; they
// never go into the config layer.
var outputFlags = map[string]bool{
	"quiet":       true,
	"status-json": true,
	"lineage-out": true,
	"json":        true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String(config.KeySteps, strings.Join(types.CanonicalStages, ","), "comma-separated list of stages to run")
	pf.String(config.KeyIndexURL, config.DefaultIndexURL, "vector index base URL")
	pf.String(config.KeyLogDir, config.DefaultLogDir, "directory for logs and the run lock")
	pf.Int(config.KeyBatchSize, config.DefaultBatchSize, "documents per batch")
	pf.String(config.KeyCacheHost, config.DefaultCacheHost, "redis host")
	pf.Int(config.KeyCachePort, config.DefaultCachePort, "redis port")
	pf.Int(config.KeyCacheTTL, config.DefaultCacheTTL, "cache TTL in seconds")
	pf.Bool(config.KeyNoPII, false, "skip the PII detection stage")
	pf.Bool(config.KeyNoDedup, false, "skip the deduplication stage")
	pf.Int(config.KeySummaryMaxLength, config.DefaultSummaryMaxLength, "summary length cap in words")
	pf.Int(config.KeySummaryMinLength, config.DefaultSummaryMinLength, "bodies at or below this many words are their own summary")
	pf.Int(config.KeyClusterCount, config.DefaultClusterCount, "maximum number of clusters")
	pf.Int(config.KeyMinClusterSize, config.DefaultMinClusterSize, "smallest cluster kept as a label")
	pf.String(config.KeyCacheBackend, config.CacheBackendRedis, "cache backend: redis, memory, or none")
	pf.String(config.KeySchemaDir, "schemas", "directory holding schema JSON files")
	pf.String(config.KeyEmbedURL, "http://localhost:8081", "embedding service base URL")
	pf.String(config.KeyEmbedModel, "all-MiniLM-L6-v2", "embedding model name")
	pf.String(config.KeySummaryModel, "claude-3-5-haiku-latest", "summarization model name")
	pf.String(config.KeyIndexClass, "Document", "vector index class name")

	rootCmd.Flags().Bool("quiet", false, "suppress the stderr log mirror")
	rootCmd.Flags().Bool("status-json", false, "print the run result and health snapshot as JSON")
	rootCmd.Flags().String("lineage-out", "", "write lineage records to this JSONL file after the run")
}

// pushFlagOverrides copies every flag the user set into the config
// layer, where explicit values outrank env vars and pipeline.yaml.
func pushFlagOverrides(cmd *cobra.Command) {
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if outputFlags[f.Name] {
			return
		}
		config.Set(f.Name, f.Value.String())
	})
}

func runPipeline(cmd *cobra.Command, args []string) error {
	exportDir := args[0]
	info, err := os.Stat(exportDir)
	if err != nil {
		return fmt.Errorf("export directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export path %s is not a directory", exportDir)
	}

	cfg, err := config.Resolve()
	if err != nil {
		return err
	}

	lock, err := runlock.Acquire(cfg.LogDir)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			return fmt.Errorf("another pipeline run is in progress (%w)", err)
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	quiet, _ := cmd.Flags().GetBool("quiet")
	logger, closeLogs, err := logging.New(logging.Options{Dir: cfg.LogDir, Quiet: quiet})
	if err != nil {
		return err
	}
	defer func() { _ = closeLogs() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "docpipe", Version); err != nil {
		logger.Warn("telemetry init failed; continuing without it", zap.Error(err))
	}
	defer telemetry.Shutdown(context.WithoutCancel(ctx))

	runID := uuid.NewString()
	bus := events.NewBus(logger)
	bus.Register(events.NewLogHandler(logger))
	agg := health.NewAggregator(64)
	bus.Register(agg)
	reporter := events.NewReporter(bus, runID)

	backend := openCache(ctx, cfg, logger)
	defer closeCache(backend)

	store := telemetry.WrapStore(lineage.NewMemoryStore())
	ledger := lineage.NewManager(store, backend, cfg.Cache.TTL, logger)

	stages, err := buildStages(cfg, ledger, reporter, backend, logger)
	if err != nil {
		return err
	}

	logger.Info("pipeline starting",
		zap.String("run_id", runID),
		zap.String("export_dir", exportDir),
		zap.Strings("steps", cfg.Steps),
		zap.Int("batch_size", cfg.BatchSize))

	p := pipeline.New(pipeline.Options{
		Loader: loader.New(loader.Options{
			Dir:          exportDir,
			MaxBodyBytes: cfg.Loader.MaxBodyBytes,
			Logger:       logger,
		}),
		Stages:    stages,
		Ledger:    ledger,
		BatchSize: cfg.BatchSize,
		Reporter:  reporter,
		LogPath:   logging.Path(cfg.LogDir),
		Logger:    logger,
	})

	res, err := p.Run(ctx)
	if err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
		return err
	}

	if path, _ := cmd.Flags().GetString("lineage-out"); path != "" {
		if err := writeLineage(context.WithoutCancel(ctx), store, path, logger); err != nil {
			logger.Error("lineage export failed", zap.Error(err))
			return err
		}
	}

	statusJSON, _ := cmd.Flags().GetBool("status-json")
	return printSummary(res, agg.Snapshot(), statusJSON)
}

// openCache picks the configured backend, falling back from redis to
// the in-process cache when the server is unreachable. A nil return
// disables caching; every consumer tolerates that.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.Backend {
	switch cfg.Cache.Backend {
	case config.CacheBackendNone:
		return nil
	case config.CacheBackendMemory:
		mem, err := cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)
		if err != nil {
			logger.Warn("memory cache unavailable; caching disabled", zap.Error(err))
			return nil
		}
		return mem
	default:
		r := cache.NewRedis(cfg.Cache.Addr(), "docpipe:", cfg.Cache.TTL)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable; falling back to in-process cache",
				zap.String("addr", cfg.Cache.Addr()),
				zap.Error(err))
			_ = r.Close()
			mem, merr := cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)
			if merr != nil {
				return nil
			}
			return mem
		}
		logger.Info("cache connected", zap.String("addr", cfg.Cache.Addr()))
		return r
	}
}

func closeCache(backend cache.Backend) {
	if c, ok := backend.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// buildStages constructs the enabled transform stages in the order
// cfg.Steps lists them. The load entry is implicit: the loader always
// feeds the chain, so its name here is accepted and skipped.
func buildStages(cfg *config.Config, ledger *lineage.Manager, reporter *events.Reporter, backend cache.Backend, logger *zap.Logger) ([]pipeline.Stage, error) {
	stages := make([]pipeline.Stage, 0, len(cfg.Steps))
	for _, name := range cfg.Steps {
		switch name {
		case types.StageLoad:
		case types.StageDeduplicate:
			stages = append(stages, dedup.New(dedup.Options{
				Steps:  ledger,
				Logger: logger,
			}))
		case types.StagePII:
			var tagger pii.Tagger
			if cfg.PII.NER {
				tagger = pii.NewProseTagger()
			}
			stages = append(stages, pii.NewStage(pii.NewDetector(tagger), pii.Options{
				Redact: cfg.PII.Redact,
				Steps:  ledger,
				Logger: logger,
			}))
		case types.StageSummarize:
			client, err := summarize.NewAnthropicClient("", cfg.Summarize.Model)
			if err != nil {
				return nil, fmt.Errorf("summarize stage: %w", err)
			}
			stages = append(stages, summarize.New(client, summarize.Options{
				MaxWords:     cfg.Summarize.MaxLength,
				MinWords:     cfg.Summarize.MinLength,
				ChunkWords:   cfg.Summarize.ChunkWords,
				ChunkOverlap: cfg.Summarize.ChunkOverlap,
				Workers:      cfg.Summarize.Workers,
				Steps:        ledger,
				Reporter:     reporter,
				Memo:         cache.NewMemoizer(backend, "summary", cfg.Cache.TTL),
				Logger:       logger,
			}))
		case types.StageEmbed:
			stages = append(stages, embed.New(
				embed.NewHTTPClient(cfg.Embed.URL, cfg.Embed.Model, cfg.Embed.Timeout),
				embed.Options{
					ChunkTokens:  cfg.Embed.ChunkTokens,
					ChunkOverlap: cfg.Embed.ChunkOverlap,
					Workers:      cfg.Embed.Workers,
					Steps:        ledger,
					Reporter:     reporter,
					Memo:         cache.NewMemoizer(backend, "embed", cfg.Cache.TTL),
					Logger:       logger,
				}))
		case types.StageIndex:
			// Workers bounds the upsert connection pool; batches upsert
			// in one request, so parallelism lives in the transport.
			client := vectorindex.NewClient(cfg.Index.URL, cfg.Index.Class, cfg.Index.Timeout, logger).
				WithHTTPClient(&http.Client{
					Timeout: cfg.Index.Timeout,
					Transport: &http.Transport{
						MaxConnsPerHost:     cfg.Index.Workers,
						MaxIdleConnsPerHost: cfg.Index.Workers,
					},
				})
			stages = append(stages, vectorindex.NewIndexer(client, vectorindex.IndexerOptions{
				Steps:      ledger,
				Reporter:   reporter,
				MaxRetries: cfg.Index.MaxRetries,
				Logger:     logger,
			}))
		case types.StageCluster:
			stages = append(stages, cluster.New(cluster.Options{
				MaxClusters:    cfg.Cluster.MaxClusters,
				MinClusterSize: cfg.Cluster.MinClusterSize,
				TopKeywords:    cfg.Cluster.TopKeywords,
				Seed:           cfg.Cluster.Seed,
				Steps:          ledger,
				Logger:         logger,
			}))
		}
	}
	return stages, nil
}

func writeLineage(ctx context.Context, store lineage.Store, path string, logger *zap.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lineage export: %w", err)
	}
	n, err := lineage.ExportJSONL(ctx, store, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("lineage export: %w", err)
	}
	logger.Info("lineage exported", zap.String("path", path), zap.Int("records", n))
	return nil
}

func printSummary(res *pipeline.Result, snap health.Snapshot, statusJSON bool) error {
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Result *pipeline.Result `json:"result"`
			Health health.Snapshot  `json:"health"`
		}{res, snap})
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("processed %d of %d documents in %s\n",
			res.Processed, res.Loaded, res.Duration.Round(time.Millisecond))
		fmt.Printf("  deduplicated %d, failed %d, cancelled %d, indexed %d\n",
			res.Deduplicated, res.Failed, res.Cancelled, res.Indexed)
		fmt.Printf("log: %s\n", res.LogPath)
		return nil
	}
	fmt.Printf("processed=%d loaded=%d deduplicated=%d failed=%d cancelled=%d indexed=%d duration=%s log=%s\n",
		res.Processed, res.Loaded, res.Deduplicated, res.Failed, res.Cancelled, res.Indexed,
		res.Duration.Round(time.Millisecond), res.LogPath)
	return nil
}

func main() {
	rootCmd.InitDefaultHelpCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "docpipe: %v\n", err)
		os.Exit(1)
	}
}
