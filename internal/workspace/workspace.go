// Package workspace defines the deterministic on-disk layout of per-document
// artifacts. Every path is derived from the document directory plus page
// number (and sub-index where applicable), so re-running a stage overwrites
// its previous output instead of duplicating it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Per-document subdirectories.
const (
	sourceName = "source.pdf"
	splitDir   = "split"   // <seq>.pdf
	rawDir     = "raw"     // <seq>.json analysis results
	pagesDir   = "pages"   // <page>.md
	tablesDir  = "tables"  // <page>_<table>.md
	figuresDir = "figures" // <page>_<figure>.png
	bundleDir  = "bundle"  // <page>.md
)

// Workspace resolves artifact paths beneath a root data directory.
type Workspace struct {
	root string
}

// New creates a workspace rooted at dataDir.
func New(dataDir string) *Workspace {
	return &Workspace{root: dataDir}
}

// DocumentDir returns the directory owning all artifacts of one document.
func (w *Workspace) DocumentDir(dirName string) string {
	return filepath.Join(w.root, dirName)
}

// InitDocument creates the artifact subdirectories for a new document.
func (w *Workspace) InitDocument(dirName string) error {
	for _, sub := range []string{splitDir, rawDir, pagesDir, tablesDir, figuresDir, bundleDir} {
		if err := os.MkdirAll(filepath.Join(w.DocumentDir(dirName), sub), 0o755); err != nil {
			return fmt.Errorf("failed to create workspace dir: %w", err)
		}
	}
	return nil
}

// SourcePDFPath is the ingested source file inside the document workspace.
func (w *Workspace) SourcePDFPath(dirName string) string {
	return filepath.Join(w.DocumentDir(dirName), sourceName)
}

// SplitPDFPath is the extracted sub-document for one split unit.
func (w *Workspace) SplitPDFPath(dirName string, seq int) string {
	return filepath.Join(w.DocumentDir(dirName), splitDir, fmt.Sprintf("%d.pdf", seq))
}

// RawResultPath is the persisted analysis result for one split unit.
func (w *Workspace) RawResultPath(dirName string, seq int) string {
	return filepath.Join(w.DocumentDir(dirName), rawDir, fmt.Sprintf("%d.json", seq))
}

// PageMarkdownPath is the raw extracted text of one absolute page.
func (w *Workspace) PageMarkdownPath(dirName string, pageNumber int) string {
	return filepath.Join(w.DocumentDir(dirName), pagesDir, fmt.Sprintf("%d.md", pageNumber))
}

// TablePath is the normalized markdown of one table, keyed by page number
// and the table's in-page index.
func (w *Workspace) TablePath(dirName string, pageNumber, tableIndex int) string {
	return filepath.Join(w.DocumentDir(dirName), tablesDir, fmt.Sprintf("%d_%d.md", pageNumber, tableIndex))
}

// FigurePath is the cropped image of one figure, keyed by page number and
// the figure's in-page index.
func (w *Workspace) FigurePath(dirName string, pageNumber, figureIndex int) string {
	return filepath.Join(w.DocumentDir(dirName), figuresDir, fmt.Sprintf("%d_%d.png", pageNumber, figureIndex))
}

// BundleDir is the directory holding a document's per-page bundle files.
func (w *Workspace) BundleDir(dirName string) string {
	return filepath.Join(w.DocumentDir(dirName), bundleDir)
}

// BundlePath is the reassembled per-page body (text plus figure sections).
func (w *Workspace) BundlePath(dirName string, pageNumber int) string {
	return filepath.Join(w.DocumentDir(dirName), bundleDir, fmt.Sprintf("%d.md", pageNumber))
}

// Save writes content to path, creating parent directories as needed.
func Save(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists as a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
