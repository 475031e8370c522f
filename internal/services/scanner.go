package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// ScannerConfig holds the ingestion settings.
type ScannerConfig struct {
	InboxDir    string
	ProcessMode models.ProcessMode
}

// Scanner ingests new PDFs from the inbox directory. Each accepted file gets
// a Document row in status pending, a workspace directory, and its validated
// source copy moved out of the inbox.
type Scanner struct {
	store  store.Store
	ws     *workspace.Workspace
	config ScannerConfig
}

func NewScanner(st store.Store, ws *workspace.Workspace, cfg ScannerConfig) (*Scanner, error) {
	if cfg.InboxDir == "" {
		return nil, fmt.Errorf("%w: inbox directory must be set", ErrInvalidConfiguration)
	}
	if cfg.ProcessMode == "" {
		cfg.ProcessMode = models.ModeTextImage
	}
	return &Scanner{store: st, ws: ws, config: cfg}, nil
}

// Process scans the inbox once. Files already ingested under the same name
// are skipped; a file that fails validation stays in the inbox and does not
// block its siblings.
func (s *Scanner) Process(ctx context.Context) error {
	entries, err := os.ReadDir(s.config.InboxDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		logCtx := slog.With("fileName", entry.Name())
		if err := s.ingest(ctx, entry.Name()); err != nil {
			logCtx.Error("Failed to ingest file.", "error", err)
			continue
		}
	}
	return nil
}

func (s *Scanner) ingest(ctx context.Context, fileName string) error {
	existing, err := s.store.FindDocumentByFileName(ctx, fileName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to check for duplicate: %w", err)
	}
	if existing != nil {
		slog.Info("Duplicate file detected. Skipping.", "fileName", fileName, "existingDocId", existing.ID)
		return nil
	}

	sourcePath := filepath.Join(s.config.InboxDir, fileName)
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	dirName := uuid.NewString()
	if err := s.ws.InitDocument(dirName); err != nil {
		return err
	}

	// Optimizing also validates the PDF; a corrupt file fails here before
	// any row is created.
	destPath := s.ws.SourcePDFPath(dirName)
	if err := optimizePDF(sourcePath, destPath); err != nil {
		return fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(destPath)
	if err != nil {
		return fmt.Errorf("failed to get page count: %w", err)
	}

	doc := &models.Document{
		DirName:     dirName,
		FileName:    fileName,
		PageCount:   pageCount,
		SizeBytes:   info.Size(),
		ProcessMode: s.config.ProcessMode,
		Status:      models.DocumentPending,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	if err := os.Remove(sourcePath); err != nil {
		slog.Warn("Failed to remove ingested file from inbox.", "fileName", fileName, "error", err)
	}

	slog.Info("Ingested document.", "documentId", doc.ID, "fileName", fileName, "pageCount", pageCount)
	return nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
