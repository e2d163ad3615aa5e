package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/retrace-app/retrace/internal/capture"
	"github.com/retrace-app/retrace/internal/dedupe"
	"github.com/retrace-app/retrace/internal/httpapi"
	"github.com/retrace-app/retrace/internal/pipeline"
	"github.com/retrace-app/retrace/internal/store"
	"github.com/retrace-app/retrace/internal/thumbnail"
	"github.com/retrace-app/retrace/internal/vector"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and the search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe wires every component and blocks until shutdown. Startup
// failures here are fatal; once the ingestion loop is running, nothing
// short of a signal stops the process. Errors propagate back through
// cobra so the deferred store closes always run before exit.
func runServe() error {
	cfg := loadConfig()
	dataDir := cfg.ResolvedDataDir()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Schema setup happens here, before the ingestion loop begins.
	records, err := store.Open(storePath(cfg))
	if err != nil {
		return fmt.Errorf("open keyword store: %w", err)
	}
	defer records.Close()

	coll, err := vector.OpenCollection(vectorPath(cfg))
	if err != nil {
		return fmt.Errorf("open vector collection: %w", err)
	}
	defer coll.Close()

	var provider vector.EmbeddingProvider
	if cfg.Embedding.APIKey != "" {
		provider = vector.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	} else {
		slog.Info("no embedding credential configured, semantic indexing disabled")
	}

	indexer := vector.NewIndexer(provider, coll, vector.IndexerConfig{
		QueueDepth:        cfg.Embedding.QueueDepth,
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
	})

	dedup, err := dedupe.New(cfg.Dedupe.Threshold)
	if err != nil {
		return fmt.Errorf("create deduplicator: %w", err)
	}

	thumbs, err := thumbnail.NewGenerator(filepath.Join(dataDir, "thumbnails"))
	if err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}

	source := capture.NewClient(cfg.Capture.BaseURL)

	pipe := pipeline.New(pipeline.Config{
		PollInterval:       cfg.Capture.PollInterval,
		PageLimit:          cfg.Capture.PageLimit,
		IndexDuplicateText: cfg.Dedupe.IndexDuplicateText,
	}, source, dedup, thumbs, records, indexer)

	api := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		Token:        cfg.HTTP.Token,
		RateLimitRPM: cfg.HTTP.RateLimitRPM,
	}, records, coll, indexer, pipe, source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	indexer.Start()
	pipe.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.ListenAndServe(gctx)
	})

	err = g.Wait()

	// Let the in-flight cycle finish and drain the indexer; the deferred
	// closes then shut the stores deterministically.
	pipe.Stop()
	indexer.Stop()

	if err != nil {
		return err
	}
	slog.Info("retrace stopped cleanly")
	return nil
}
