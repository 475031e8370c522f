package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// Describer generates a natural-language description for one figure image,
// given the markdown text of the page it was cut from.
type Describer interface {
	DescribeFigure(ctx context.Context, pageText string, imagePNG []byte) (string, error)
}

// EnricherConfig tunes the figure-description pass.
type EnricherConfig struct {
	Concurrency int
	BatchSize   int
}

// Enricher fills in missing figure descriptions with bounded concurrency.
// An enrichment failure leaves the description null; the bundler then omits
// that figure's section.
type Enricher struct {
	store     store.Store
	ws        *workspace.Workspace
	describer Describer
	config    EnricherConfig
}

func NewEnricher(st store.Store, ws *workspace.Workspace, describer Describer, cfg EnricherConfig) *Enricher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Enricher{store: st, ws: ws, describer: describer, config: cfg}
}

// Process describes one batch of figures that have no description yet.
func (e *Enricher) Process(ctx context.Context) error {
	refs, err := e.store.ListFiguresMissingDescription(ctx, e.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list figures missing descriptions: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.config.Concurrency)

	for _, ref := range refs {
		ref := ref
		eg.Go(func() error {
			logCtx := slog.With("documentId", ref.DocumentID, "pageNumber", ref.Figure.PageNumber, "figureIndex", ref.Figure.FigureIndex)
			if err := e.describeFigure(gctx, ref); err != nil {
				// Scoped to one figure; the description stays null
				// and the batch continues.
				logCtx.Error("Failed to describe figure.", "error", err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (e *Enricher) describeFigure(ctx context.Context, ref *store.FigureRef) error {
	pageText, err := os.ReadFile(e.ws.PageMarkdownPath(ref.DocumentDir, ref.Figure.PageNumber))
	if err != nil {
		return fmt.Errorf("failed to read page text: %w", err)
	}
	imagePNG, err := os.ReadFile(e.ws.FigurePath(ref.DocumentDir, ref.Figure.PageNumber, ref.Figure.FigureIndex))
	if err != nil {
		return fmt.Errorf("failed to read figure image: %w", err)
	}

	description, err := e.describer.DescribeFigure(ctx, string(pageText), imagePNG)
	if err != nil {
		return err
	}
	return e.store.SetFigureDescription(ctx, ref.Figure.ID, description)
}
