package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hankchiu-tw/docpipe/internal/index"
	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
)

// ChunkIndex is the downstream search index the chunks are pushed to.
type ChunkIndex interface {
	Upload(ctx context.Context, items []index.UploadItem) error
	Delete(ctx context.Context, items []index.DeleteItem) error
}

// UploaderConfig tunes the chunk upload pass.
type UploaderConfig struct {
	BatchSize int
}

// Uploader pushes pending-upload chunks to the search index and removes
// pending-delete chunks from it, flipping their statuses on success.
type Uploader struct {
	store  store.Store
	index  ChunkIndex
	config UploaderConfig
}

func NewUploader(st store.Store, idx ChunkIndex, cfg UploaderConfig) *Uploader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Uploader{store: st, index: idx, config: cfg}
}

// Process uploads one batch of pending chunks, then processes one batch of
// pending deletions. Chunks are grouped per document so each index call
// carries one document's metadata.
func (u *Uploader) Process(ctx context.Context) error {
	if err := u.uploadPending(ctx); err != nil {
		return err
	}
	return u.deletePending(ctx)
}

func (u *Uploader) uploadPending(ctx context.Context) error {
	chunks, err := u.store.ListChunksByStatus(ctx, models.ChunkPendingUpload, u.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending-upload chunks: %w", err)
	}

	for documentID, docChunks := range groupByDocument(chunks) {
		logCtx := slog.With("documentId", documentID, "chunkCount", len(docChunks))

		doc, err := u.store.GetDocument(ctx, documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logCtx.Warn("Chunks reference a missing document; skipping.")
				continue
			}
			return fmt.Errorf("failed to load document %d: %w", documentID, err)
		}

		items := make([]index.UploadItem, 0, len(docChunks))
		ids := make([]int64, 0, len(docChunks))
		for _, c := range docChunks {
			items = append(items, index.UploadItem{
				DocumentID: c.DocumentID,
				FileName:   doc.FileName,
				Seq:        c.Seq,
				Content:    c.Content,
			})
			ids = append(ids, c.ID)
		}

		if err := u.index.Upload(ctx, items); err != nil {
			logCtx.Error("Failed to upload chunks to index.", "error", err)
			if uerr := u.store.UpdateChunkStatus(ctx, ids, models.ChunkUploadFailed); uerr != nil {
				logCtx.Error("Failed to mark chunks upload-failed.", "error", uerr)
			}
			continue
		}
		if err := u.store.UpdateChunkStatus(ctx, ids, models.ChunkUploaded); err != nil {
			logCtx.Error("Failed to mark chunks uploaded.", "error", err)
			continue
		}
		logCtx.Info("Uploaded chunks to index.")
	}
	return nil
}

func (u *Uploader) deletePending(ctx context.Context) error {
	chunks, err := u.store.ListChunksByStatus(ctx, models.ChunkPendingDelete, u.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending-delete chunks: %w", err)
	}

	for documentID, docChunks := range groupByDocument(chunks) {
		logCtx := slog.With("documentId", documentID, "chunkCount", len(docChunks))

		items := make([]index.DeleteItem, 0, len(docChunks))
		ids := make([]int64, 0, len(docChunks))
		for _, c := range docChunks {
			items = append(items, index.DeleteItem{DocumentID: c.DocumentID, Seq: c.Seq})
			ids = append(ids, c.ID)
		}

		if err := u.index.Delete(ctx, items); err != nil {
			logCtx.Error("Failed to delete chunks from index; will retry next pass.", "error", err)
			continue
		}
		if err := u.store.UpdateChunkStatus(ctx, ids, models.ChunkDeleted); err != nil {
			logCtx.Error("Failed to mark chunks deleted.", "error", err)
			continue
		}
		logCtx.Info("Deleted chunks from index.")

		// The document is tombstoned once its last indexed chunk is gone.
		active, err := u.store.CountActiveChunks(ctx, documentID)
		if err != nil {
			logCtx.Error("Failed to count remaining chunks.", "error", err)
			continue
		}
		if active == 0 {
			if err := u.store.UpdateDocumentStatus(ctx, documentID, models.DocumentDeleted, ""); err != nil {
				logCtx.Error("Failed to mark document deleted.", "error", err)
				continue
			}
			logCtx.Info("Document deleted.")
		}
	}
	return nil
}

func groupByDocument(chunks []*models.Chunk) map[int64][]*models.Chunk {
	grouped := make(map[int64][]*models.Chunk)
	for _, c := range chunks {
		grouped[c.DocumentID] = append(grouped[c.DocumentID], c)
	}
	return grouped
}
