package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// SplitterConfig tunes document splitting.
type SplitterConfig struct {
	PagesPerUnit int
	BatchSize    int
}

// Splitter divides pending documents into fixed-size split units and extracts
// each unit's page range into its own PDF.
type Splitter struct {
	store  store.Store
	ws     *workspace.Workspace
	config SplitterConfig
}

func NewSplitter(st store.Store, ws *workspace.Workspace, cfg SplitterConfig) (*Splitter, error) {
	if cfg.PagesPerUnit <= 0 {
		return nil, fmt.Errorf("%w: pages per unit must be positive, got %d", ErrInvalidConfiguration, cfg.PagesPerUnit)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Splitter{store: st, ws: ws, config: cfg}, nil
}

// PlanUnits lays out the split units for a document of pageCount pages. The
// resulting ranges are contiguous, non-overlapping, and cover 1..pageCount;
// only the last unit may be short. A zero-page document yields no units.
func PlanUnits(pageCount, pagesPerUnit int) []*models.SplitUnit {
	if pageCount <= 0 {
		return nil
	}
	numUnits := (pageCount + pagesPerUnit - 1) / pagesPerUnit
	units := make([]*models.SplitUnit, 0, numUnits)
	for seq := 0; seq < numUnits; seq++ {
		startPage := seq*pagesPerUnit + 1
		count := pagesPerUnit
		if startPage+count-1 > pageCount {
			count = pageCount - startPage + 1
		}
		units = append(units, &models.SplitUnit{
			Seq:       seq,
			StartPage: startPage,
			PageCount: count,
			Status:    models.UnitPendingSplit,
		})
	}
	return units
}

// Process splits one batch of pending documents. A unit whose extraction
// fails is marked failed without affecting its siblings; the document still
// advances to processing so the healthy units flow on.
func (s *Splitter) Process(ctx context.Context) error {
	docs, err := s.store.ListDocumentsByStatus(ctx, models.DocumentPending, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending documents: %w", err)
	}

	for _, doc := range docs {
		logCtx := slog.With("documentId", doc.ID, "fileName", doc.FileName)
		if err := s.splitDocument(ctx, logCtx, doc); err != nil {
			logCtx.Error("Failed to split document.", "error", err)
			if err := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFailed, err.Error()); err != nil {
				logCtx.Error("Failed to update document status to failed.", "error", err)
			}
		}
	}
	return nil
}

func (s *Splitter) splitDocument(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	units := PlanUnits(doc.PageCount, s.config.PagesPerUnit)
	for _, u := range units {
		u.DocumentID = doc.ID
	}
	if err := s.store.CreateSplitUnits(ctx, units); err != nil {
		return fmt.Errorf("failed to create split units: %w", err)
	}
	logCtx.Info("Planned split units.", "pageCount", doc.PageCount, "unitCount", len(units))

	sourcePath := s.ws.SourcePDFPath(doc.DirName)
	for _, unit := range units {
		if err := s.extractUnit(sourcePath, doc.DirName, unit); err != nil {
			logCtx.Error("Failed to extract split unit.", "unitSeq", unit.Seq, "error", err)
			if uerr := s.store.UpdateUnitStatus(ctx, unit.ID, models.UnitFailed, extractionFailureReason(err)); uerr != nil {
				logCtx.Error("Failed to update unit status to failed.", "unitSeq", unit.Seq, "error", uerr)
			}
			continue
		}
		if err := s.store.UpdateUnitStatus(ctx, unit.ID, models.UnitPendingAnalysis, ""); err != nil {
			return fmt.Errorf("failed to advance unit %d: %w", unit.Seq, err)
		}
	}

	return s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentProcessing, "")
}

// extractionFailureReason maps an extraction error to the unit's stored
// failure reason. The well-known mismatch reason is reserved for actual page
// count mismatches; any other error is recorded as-is.
func extractionFailureReason(err error) string {
	var mismatch *PageCountMismatchError
	if errors.As(err, &mismatch) {
		return models.ReasonPageCountMismatch
	}
	return err.Error()
}

// extractUnit writes the unit's page range to split/<seq>.pdf and verifies
// the extracted page count against the plan.
func (s *Splitter) extractUnit(sourcePath, dirName string, unit *models.SplitUnit) error {
	outPath := s.ws.SplitPDFPath(dirName, unit.Seq)
	if err := api.TrimFile(sourcePath, outPath, []string{unit.PageRange()}, nil); err != nil {
		return fmt.Errorf("failed to extract pages %s: %w", unit.PageRange(), err)
	}
	got, err := api.PageCountFile(outPath)
	if err != nil {
		return fmt.Errorf("failed to count extracted pages: %w", err)
	}
	if got != unit.PageCount {
		return &PageCountMismatchError{UnitSeq: unit.Seq, Expected: unit.PageCount, Actual: got}
	}
	return nil
}
