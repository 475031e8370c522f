package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hankchiu-tw/docpipe/internal/analysis"
	"github.com/hankchiu-tw/docpipe/internal/config"
	"github.com/hankchiu-tw/docpipe/internal/gcs"
	"github.com/hankchiu-tw/docpipe/internal/index"
	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/services"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/vertex"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

func main() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	requeueDoc := flag.Int64("requeue", 0, "reset the failed units of this document id instead of running a pass")
	deleteDoc := flag.Int64("delete", 0, "remove this document id from the search index instead of running a pass")
	flag.Parse()

	if err := run(*configPath, *requeueDoc, *deleteDoc); err != nil {
		slog.Error("Fatal error.", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, requeueDoc, deleteDoc int64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.OpenSQLite(cfg.Paths.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	if requeueDoc > 0 {
		pipeline := services.NewPipeline(st)
		n, err := pipeline.Requeue(ctx, requeueDoc)
		if err != nil {
			return err
		}
		slog.Info("Requeue complete.", "documentId", requeueDoc, "unitCount", n)
		return nil
	}
	if deleteDoc > 0 {
		pipeline := services.NewPipeline(st)
		n, err := pipeline.Delete(ctx, deleteDoc)
		if err != nil {
			return err
		}
		slog.Info("Delete marked.", "documentId", deleteDoc, "chunkCount", n)
		return nil
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := pipeline.Run(ctx); err != nil {
		slog.Warn("Pass finished with stage errors.", "error", err)
	}
	slog.Info("Pass complete.")
	return nil
}

// buildPipeline wires the stages of one pass in processing order. Stages
// whose external collaborator is not configured are left out of the pass.
func buildPipeline(ctx context.Context, cfg *config.Config, st store.Store) (*services.Pipeline, func(), error) {
	ws := workspace.New(cfg.Paths.DataDir)
	pipeline := services.NewPipeline(st)
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	scanner, err := services.NewScanner(st, ws, services.ScannerConfig{
		InboxDir:    cfg.Paths.InboxDir,
		ProcessMode: models.ProcessMode(cfg.Scanner.ProcessMode),
	})
	if err != nil {
		return nil, cleanup, err
	}
	pipeline.Register("scanner", scanner)

	splitter, err := services.NewSplitter(st, ws, services.SplitterConfig{
		PagesPerUnit: cfg.Splitter.PagesPerUnit,
		BatchSize:    cfg.Splitter.BatchSize,
	})
	if err != nil {
		return nil, cleanup, err
	}
	pipeline.Register("splitter", splitter)

	if cfg.Analysis.Endpoint != "" {
		analyzer := analysis.NewClient(analysis.Config{
			Endpoint: cfg.Analysis.Endpoint,
			APIKey:   cfg.Analysis.APIKey,
		})
		poller, err := services.NewPoller(st, ws, analyzer, services.PollerConfig{
			SubmitInterval: cfg.Analysis.SubmitInterval,
			PollPeriod:     cfg.Analysis.PollPeriod,
			MaxWaitTime:    cfg.Analysis.MaxWaitTime,
			BatchSize:      cfg.Analysis.BatchSize,
		})
		if err != nil {
			return nil, cleanup, err
		}
		pipeline.Register("analysis-poller", poller)
	} else {
		slog.Warn("Analysis endpoint not configured; skipping analysis stage.")
	}

	pipeline.Register("result-extractor", services.NewExtractor(st, ws, services.NewFitzRenderer(), cfg.Analysis.BatchSize))

	if cfg.Vertex.ProjectID != "" {
		describer, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID: cfg.Vertex.ProjectID,
			Region:    cfg.Vertex.Region,
			Model:     cfg.Vertex.Model,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create vertex client: %w", err)
		}
		closers = append(closers, func() { describer.Close() })
		pipeline.Register("figure-enricher", services.NewEnricher(st, ws, describer, services.EnricherConfig{
			Concurrency: cfg.Vertex.Concurrency,
		}))
	} else {
		slog.Warn("Vertex project not configured; skipping figure enrichment.")
	}

	bundler := services.NewBundler(st, ws)
	chunker, err := services.NewChunker(st, bundler, services.ChunkerConfig{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	})
	if err != nil {
		return nil, cleanup, err
	}
	pipeline.Register("bundler-chunker", chunker)

	if cfg.Index.Endpoint != "" {
		idx := index.NewClient(index.Config{
			Endpoint:  cfg.Index.Endpoint,
			APIKey:    cfg.Index.APIKey,
			IndexName: cfg.Index.IndexName,
		})
		pipeline.Register("chunk-uploader", services.NewUploader(st, idx, services.UploaderConfig{
			BatchSize: cfg.Index.BatchSize,
		}))
	} else {
		slog.Warn("Index endpoint not configured; skipping chunk upload.")
	}

	if cfg.Archive.Bucket != "" {
		bundles, err := gcs.NewArchiver(ctx, cfg.Archive.Bucket)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create archive client: %w", err)
		}
		closers = append(closers, func() { bundles.Close() })
		pipeline.Register("bundle-archiver", services.NewArchiver(st, ws, bundles, services.ArchiverConfig{
			Concurrency: cfg.Archive.Concurrency,
		}))
	}

	return pipeline, cleanup, nil
}
