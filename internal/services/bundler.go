package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// Bundler reassembles a document's per-page artifacts into one body, in
// strict absolute page order. Gaps from failed units are simply absent; the
// pages that survived are bundled as-is.
type Bundler struct {
	store store.Store
	ws    *workspace.Workspace
}

func NewBundler(st store.Store, ws *workspace.Workspace) *Bundler {
	return &Bundler{store: st, ws: ws}
}

// BundleDocument builds the reassembled body for one document and writes each
// page's bundled section to the workspace. The output depends only on the
// persisted pages and figures, never on insertion order. A document with no
// pages at all returns ErrNoContent.
func (b *Bundler) BundleDocument(ctx context.Context, documentID int64, dirName string) (string, error) {
	pages, err := b.store.ListPagesByDocument(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("failed to list pages: %w", err)
	}
	if len(pages) == 0 {
		return "", ErrNoContent
	}

	sections := make([]string, 0, len(pages))
	for _, page := range pages {
		section, err := b.bundlePage(ctx, dirName, page.ID, page.PageNumber)
		if err != nil {
			return "", err
		}
		if err := workspace.Save(b.ws.BundlePath(dirName, page.PageNumber), []byte(section)); err != nil {
			return "", err
		}
		sections = append(sections, section)
	}
	return strings.Join(sections, "\n\n"), nil
}

// bundlePage appends one section per described figure to the page's text,
// ascending by figure index. Figures without a description are omitted.
func (b *Bundler) bundlePage(ctx context.Context, dirName string, pageID int64, pageNumber int) (string, error) {
	text, err := os.ReadFile(b.ws.PageMarkdownPath(dirName, pageNumber))
	if err != nil {
		return "", fmt.Errorf("failed to read page %d text: %w", pageNumber, err)
	}

	figures, err := b.store.ListFiguresByPage(ctx, pageID)
	if err != nil {
		return "", fmt.Errorf("failed to list figures of page %d: %w", pageNumber, err)
	}

	var sb strings.Builder
	sb.Write(text)
	for _, fig := range figures {
		if fig.Description == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n\n### Figure %d (page %d)\n\n%s", fig.FigureIndex, pageNumber, *fig.Description))
	}
	return sb.String(), nil
}
