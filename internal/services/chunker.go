package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
)

// ChunkerConfig tunes chunk sizes, in approximate token units.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// Chunker drives bundling and chunking for documents whose units have all
// reached a terminal status. The resulting chunks replace any previous chunk
// set and start in pending-upload; the document itself advances to chunked
// so it leaves the processing work set and later batches reach newer
// documents.
type Chunker struct {
	store   store.Store
	bundler *Bundler
	config  ChunkerConfig
}

func NewChunker(st store.Store, bundler *Bundler, cfg ChunkerConfig) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfiguration, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, chunk size), got %d", ErrInvalidConfiguration, cfg.ChunkOverlap)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Chunker{store: st, bundler: bundler, config: cfg}, nil
}

// Process bundles and chunks one batch of eligible documents. A document is
// eligible once every split unit is terminal; on success it advances to
// chunked and stops occupying the processing batch.
func (c *Chunker) Process(ctx context.Context) error {
	docs, err := c.store.ListDocumentsByStatus(ctx, models.DocumentProcessing, c.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list processing documents: %w", err)
	}

	for _, doc := range docs {
		logCtx := slog.With("documentId", doc.ID, "fileName", doc.FileName)
		ready, err := c.ready(ctx, doc.ID)
		if err != nil {
			logCtx.Error("Failed to check document readiness.", "error", err)
			continue
		}
		if !ready {
			continue
		}

		if err := c.chunkDocument(ctx, doc); err != nil {
			logCtx.Error("Failed to bundle and chunk document.", "error", err)
			if uerr := c.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFailed, err.Error()); uerr != nil {
				logCtx.Error("Failed to mark document failed.", "error", uerr)
			}
			continue
		}
		if err := c.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentChunked, ""); err != nil {
			logCtx.Error("Failed to advance document to chunked.", "error", err)
			continue
		}
		logCtx.Info("Document bundled and chunked.")
	}
	return nil
}

func (c *Chunker) ready(ctx context.Context, documentID int64) (bool, error) {
	units, err := c.store.ListUnitsByDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	for _, u := range units {
		if !u.Status.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

func (c *Chunker) chunkDocument(ctx context.Context, doc *models.Document) error {
	body, err := c.bundler.BundleDocument(ctx, doc.ID, doc.DirName)
	if err != nil {
		if errors.Is(err, ErrNoContent) {
			return err
		}
		return fmt.Errorf("bundling failed: %w", err)
	}

	chunks := ChunkText(body, c.config.ChunkSize, c.config.ChunkOverlap)
	if err := c.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	return nil
}

// ChunkText splits body into token-bounded chunks where consecutive chunks
// share roughly chunkOverlap tokens of trailing context. Chunk boundaries
// fall on whitespace so no word is ever split. Chunking is stable, and with
// zero overlap the chunks concatenate back to body exactly.
func ChunkText(body string, chunkSize, chunkOverlap int) []string {
	if body == "" {
		return nil
	}
	atoms := splitAtoms(body)

	var chunks []string
	i := 0
	for i < len(atoms) {
		tokens := 0
		j := i
		for j < len(atoms) && (j == i || tokens+approxTokens(atoms[j]) <= chunkSize) {
			tokens += approxTokens(atoms[j])
			j++
		}
		chunks = append(chunks, strings.Join(atoms[i:j], ""))
		if j >= len(atoms) {
			break
		}

		// Walk back over the tail of this chunk to build the overlap,
		// always leaving at least one fresh atom of forward progress.
		back := j
		overlapTokens := 0
		for back > i+1 && overlapTokens+approxTokens(atoms[back-1]) <= chunkOverlap {
			overlapTokens += approxTokens(atoms[back-1])
			back--
		}
		i = back
	}
	return chunks
}

// splitAtoms cuts body into word atoms, each carrying its trailing
// whitespace, so that concatenating the atoms reproduces body byte for byte.
func splitAtoms(s string) []string {
	var atoms []string
	start := 0
	prevSpace := false
	for i, r := range s {
		isSpace := unicode.IsSpace(r)
		if i > 0 && prevSpace && !isSpace {
			atoms = append(atoms, s[start:i])
			start = i
		}
		prevSpace = isSpace
	}
	if start < len(s) {
		atoms = append(atoms, s[start:])
	}
	return atoms
}

// approxTokens estimates the token count of a string as one token per four
// runes, rounded up.
func approxTokens(s string) int {
	runes := utf8.RuneCountInString(s)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
