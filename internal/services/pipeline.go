package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
)

// Stage is one batch pass of the pipeline. Stages find their work by entity
// status, so running a stage against an empty backlog is free.
type Stage interface {
	Process(ctx context.Context) error
}

type namedStage struct {
	name  string
	stage Stage
}

// Pipeline runs the registered stages of one pass in order. A stage-level
// error is logged and the pass continues: every stage re-derives its work
// from persisted state, so the next pass picks up whatever this one missed.
type Pipeline struct {
	store  store.Store
	stages []namedStage
}

func NewPipeline(st store.Store) *Pipeline {
	return &Pipeline{store: st}
}

// Register appends a stage to the pass order.
func (p *Pipeline) Register(name string, stage Stage) {
	p.stages = append(p.stages, namedStage{name: name, stage: stage})
}

// Run executes one full pass and returns the joined stage errors, if any.
func (p *Pipeline) Run(ctx context.Context) error {
	var errs []error
	for _, s := range p.stages {
		slog.Info("Running stage.", "stage", s.name)
		if err := s.stage.Process(ctx); err != nil {
			slog.Error("Stage failed; continuing pass.", "stage", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Requeue resets a document's failed and stuck split units back to
// pending-analysis and returns the document to processing. This is the only
// way a failed unit re-enters the pipeline; nothing retries automatically.
func (p *Pipeline) Requeue(ctx context.Context, documentID int64) (int, error) {
	n, err := p.store.RequeueUnits(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue units: %w", err)
	}
	if n > 0 {
		if err := p.store.UpdateDocumentStatus(ctx, documentID, models.DocumentProcessing, ""); err != nil {
			return n, fmt.Errorf("failed to return document to processing: %w", err)
		}
	}
	slog.Info("Requeued units.", "documentId", documentID, "unitCount", n)
	return n, nil
}

// Delete marks a document's chunks for removal from the search index. A
// document with nothing in the index is tombstoned immediately; otherwise the
// next upload pass drains the pending deletions and tombstones it once the
// last chunk is gone. This is an explicit operator action.
func (p *Pipeline) Delete(ctx context.Context, documentID int64) (int, error) {
	if _, err := p.store.GetDocument(ctx, documentID); err != nil {
		return 0, fmt.Errorf("failed to load document: %w", err)
	}

	n, err := p.store.MarkChunksForDelete(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark chunks for delete: %w", err)
	}

	active, err := p.store.CountActiveChunks(ctx, documentID)
	if err != nil {
		return n, fmt.Errorf("failed to count remaining chunks: %w", err)
	}
	if active == 0 {
		if err := p.store.UpdateDocumentStatus(ctx, documentID, models.DocumentDeleted, ""); err != nil {
			return n, fmt.Errorf("failed to mark document deleted: %w", err)
		}
	}
	slog.Info("Marked document for deletion.", "documentId", documentID, "chunkCount", n)
	return n, nil
}
