package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// BundleStore receives archived bundle files. Writes must be idempotent; an
// object that already exists is not a failure.
type BundleStore interface {
	SaveAtomically(ctx context.Context, objectName, content string) error
}

// ArchiverConfig tunes the archive mirror pass.
type ArchiverConfig struct {
	Concurrency int
	BatchSize   int
}

// Archiver mirrors the per-page bundle files of chunked documents to an
// object store and advances them to archived so they leave the chunked work
// set. Because the store skips existing objects, re-archiving a document is
// a no-op.
type Archiver struct {
	store   store.Store
	ws      *workspace.Workspace
	bundles BundleStore
	config  ArchiverConfig
}

func NewArchiver(st store.Store, ws *workspace.Workspace, bundles BundleStore, cfg ArchiverConfig) *Archiver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Archiver{store: st, ws: ws, bundles: bundles, config: cfg}
}

// Process mirrors one batch of chunked documents. A document whose archive
// fails stays chunked and is retried on a later pass.
func (a *Archiver) Process(ctx context.Context) error {
	docs, err := a.store.ListDocumentsByStatus(ctx, models.DocumentChunked, a.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list chunked documents: %w", err)
	}

	for _, doc := range docs {
		logCtx := slog.With("documentId", doc.ID, "fileName", doc.FileName)
		if err := a.archiveDocument(ctx, doc); err != nil {
			logCtx.Error("Failed to archive bundle files.", "error", err)
			continue
		}
		if err := a.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentArchived, ""); err != nil {
			logCtx.Error("Failed to advance document to archived.", "error", err)
			continue
		}
		logCtx.Info("Archived bundle files.")
	}
	return nil
}

func (a *Archiver) archiveDocument(ctx context.Context, doc *models.Document) error {
	bundleDir := a.ws.BundleDir(doc.DirName)
	entries, err := os.ReadDir(bundleDir)
	if err != nil {
		return fmt.Errorf("failed to read bundle dir: %w", err)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.config.Concurrency)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		eg.Go(func() error {
			content, err := os.ReadFile(filepath.Join(bundleDir, name))
			if err != nil {
				return fmt.Errorf("bundle file %s: %w", name, err)
			}
			objectName := fmt.Sprintf("%s/bundle/%s", doc.DirName, name)
			if err := a.bundles.SaveAtomically(gctx, objectName, string(content)); err != nil {
				return fmt.Errorf("bundle file %s: %w", name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
