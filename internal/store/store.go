// Package store persists the pipeline's entities and statuses. The statuses
// are what make every stage resumable: each stage queries a batch by status,
// processes it, and writes the next status, committing per unit.
package store

import (
	"context"
	"errors"

	"github.com/hankchiu-tw/docpipe/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the pipeline's database of record.
type Store interface {
	// Documents.
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
	FindDocumentByFileName(ctx context.Context, fileName string) (*models.Document, error)
	ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus, limit int) ([]*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id int64, status models.DocumentStatus, errorDetails string) error

	// Split units.
	CreateSplitUnits(ctx context.Context, units []*models.SplitUnit) error
	ListUnitsByStatus(ctx context.Context, status models.UnitStatus, limit int) ([]*models.SplitUnit, error)
	ListUnitsByDocument(ctx context.Context, documentID int64) ([]*models.SplitUnit, error)
	UpdateUnitStatus(ctx context.Context, id int64, status models.UnitStatus, reason string) error
	// RequeueUnits resets a document's failed and stuck units back to
	// pending-analysis. Explicit operator action; nothing re-queues
	// automatically.
	RequeueUnits(ctx context.Context, documentID int64) (int, error)

	// Pages and their sub-artifacts. Upserts key on the deterministic
	// (document, page_number[, sub_index]) identity so re-extraction is
	// idempotent.
	UpsertPage(ctx context.Context, page *models.Page) error
	ListPagesByDocument(ctx context.Context, documentID int64) ([]*models.Page, error)
	UpsertTable(ctx context.Context, table *models.Table) error
	ListTablesByPage(ctx context.Context, pageID int64) ([]*models.Table, error)
	UpsertFigure(ctx context.Context, figure *models.Figure) error
	ListFiguresByPage(ctx context.Context, pageID int64) ([]*models.Figure, error)
	ListFiguresMissingDescription(ctx context.Context, limit int) ([]*FigureRef, error)
	SetFigureDescription(ctx context.Context, figureID int64, description string) error

	// Chunks.
	ReplaceChunks(ctx context.Context, documentID int64, contents []string) error
	HasChunks(ctx context.Context, documentID int64) (bool, error)
	ListChunksByStatus(ctx context.Context, status models.ChunkStatus, limit int) ([]*models.Chunk, error)
	UpdateChunkStatus(ctx context.Context, ids []int64, status models.ChunkStatus) error
	// MarkChunksForDelete flips every chunk of the document that is not
	// already deleted to pending-delete and returns how many it marked.
	MarkChunksForDelete(ctx context.Context, documentID int64) (int, error)
	// CountActiveChunks counts the document's chunks in any status other
	// than deleted.
	CountActiveChunks(ctx context.Context, documentID int64) (int, error)
}

// FigureRef is a figure joined with the context the enrichment step needs to
// locate its artifacts.
type FigureRef struct {
	Figure      models.Figure
	DocumentID  int64
	DocumentDir string
}
