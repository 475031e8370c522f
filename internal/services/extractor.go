package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// renderDPI is the rasterization density for figure crops. Analysis bounding
// regions are in inches, so pixel = inch * renderDPI.
const renderDPI = 300

// Extractor turns a unit's raw analysis result into per-page artifacts:
// page markdown, normalized tables, and cropped figure images, all keyed by
// absolute page number so re-extraction overwrites in place.
type Extractor struct {
	store     store.Store
	ws        *workspace.Workspace
	renderer  PageRenderer
	batchSize int
}

func NewExtractor(st store.Store, ws *workspace.Workspace, renderer PageRenderer, batchSize int) *Extractor {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Extractor{store: st, ws: ws, renderer: renderer, batchSize: batchSize}
}

// Process extracts one batch of analysis-succeeded units. A failing unit is
// marked page-split-failed with its reason; siblings are unaffected.
func (e *Extractor) Process(ctx context.Context) error {
	units, err := e.store.ListUnitsByStatus(ctx, models.UnitAnalysisSucceeded, e.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list analysis-succeeded units: %w", err)
	}

	for _, unit := range units {
		logCtx := slog.With("documentId", unit.DocumentID, "unitId", unit.ID, "unitSeq", unit.Seq)
		if err := e.extractUnit(ctx, unit); err != nil {
			logCtx.Error("Failed to extract unit results.", "error", err)
			if uerr := e.store.UpdateUnitStatus(ctx, unit.ID, models.UnitPageSplitFailed, err.Error()); uerr != nil {
				logCtx.Error("Failed to mark unit page-split-failed.", "error", uerr)
			}
			continue
		}
		if err := e.store.UpdateUnitStatus(ctx, unit.ID, models.UnitPageSplitSucceeded, ""); err != nil {
			logCtx.Error("Failed to advance unit to page-split-succeeded.", "error", err)
			continue
		}
		logCtx.Info("Extracted unit results.")
	}
	return nil
}

func (e *Extractor) extractUnit(ctx context.Context, unit *models.SplitUnit) error {
	raw, err := os.ReadFile(e.ws.RawResultPath(unit.DocumentDir, unit.Seq))
	if err != nil {
		return fmt.Errorf("failed to read raw analysis result: %w", err)
	}
	var result models.AnalyzeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to parse raw analysis result: %w", err)
	}

	segments := result.PageContents()
	if len(segments) != unit.PageCount {
		return &PageCountMismatchError{UnitSeq: unit.Seq, Expected: unit.PageCount, Actual: len(segments)}
	}

	// pageIDs maps the 1-based page position within the unit to the
	// persisted page row, for anchoring tables and figures.
	pageIDs := make(map[int]int64, len(segments))
	for i, segment := range segments {
		pageNumber := unit.StartPage + i
		content := strings.TrimSpace(segment)

		if err := workspace.Save(e.ws.PageMarkdownPath(unit.DocumentDir, pageNumber), []byte(content)); err != nil {
			return err
		}
		page := &models.Page{
			DocumentID:  unit.DocumentID,
			SplitUnitID: unit.ID,
			PageNumber:  pageNumber,
			PageInUnit:  i + 1,
			Status:      models.PageRawExtracted,
		}
		if err := e.store.UpsertPage(ctx, page); err != nil {
			return fmt.Errorf("failed to upsert page %d: %w", pageNumber, err)
		}
		pageIDs[i+1] = page.ID

		if err := e.extractPageTables(ctx, unit, page, content); err != nil {
			return err
		}
	}

	return e.extractFigures(ctx, unit, &result, pageIDs)
}

func (e *Extractor) extractPageTables(ctx context.Context, unit *models.SplitUnit, page *models.Page, content string) error {
	tables, err := extractTables(content)
	if err != nil {
		return fmt.Errorf("page %d: %w", page.PageNumber, err)
	}
	for ti, md := range tables {
		tableIndex := ti + 1
		if err := workspace.Save(e.ws.TablePath(unit.DocumentDir, page.PageNumber, tableIndex), []byte(md)); err != nil {
			return err
		}
		table := &models.Table{
			PageID:     page.ID,
			PageNumber: page.PageNumber,
			TableIndex: tableIndex,
		}
		if err := e.store.UpsertTable(ctx, table); err != nil {
			return fmt.Errorf("failed to upsert table %d of page %d: %w", tableIndex, page.PageNumber, err)
		}
	}
	return nil
}

func (e *Extractor) extractFigures(ctx context.Context, unit *models.SplitUnit, result *models.AnalyzeResult, pageIDs map[int]int64) error {
	splitPath := e.ws.SplitPDFPath(unit.DocumentDir, unit.Seq)

	for _, fig := range result.Figures {
		pageInUnit, figureInPage, err := models.ParseFigureID(fig.ID)
		if err != nil {
			return err
		}
		if pageInUnit > unit.PageCount {
			return fmt.Errorf("figure %q references page %d beyond unit page count %d", fig.ID, pageInUnit, unit.PageCount)
		}
		if len(fig.BoundingRegions) == 0 {
			return fmt.Errorf("figure %q has no bounding regions", fig.ID)
		}
		bbox, err := models.BoundingBox(fig.BoundingRegions[0].Polygon)
		if err != nil {
			return fmt.Errorf("figure %q: %w", fig.ID, err)
		}

		pageImage, err := e.renderer.RenderPage(splitPath, pageInUnit-1, renderDPI)
		if err != nil {
			return fmt.Errorf("figure %q: %w", fig.ID, err)
		}
		crop := cropImage(pageImage, image.Rect(
			int(math.Floor(bbox.X0*renderDPI)),
			int(math.Floor(bbox.Y0*renderDPI)),
			int(math.Ceil(bbox.X1*renderDPI)),
			int(math.Ceil(bbox.Y1*renderDPI)),
		))

		var buf bytes.Buffer
		if err := png.Encode(&buf, crop); err != nil {
			return fmt.Errorf("figure %q: failed to encode PNG: %w", fig.ID, err)
		}

		pageNumber := unit.StartPage + pageInUnit - 1
		if err := workspace.Save(e.ws.FigurePath(unit.DocumentDir, pageNumber, figureInPage), buf.Bytes()); err != nil {
			return err
		}
		figure := &models.Figure{
			PageID:      pageIDs[pageInUnit],
			PageNumber:  pageNumber,
			FigureIndex: figureInPage,
		}
		if err := e.store.UpsertFigure(ctx, figure); err != nil {
			return fmt.Errorf("failed to upsert figure %q: %w", fig.ID, err)
		}
	}
	return nil
}
