package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// testEnv bundles a real store and workspace rooted in a temp directory.
type testEnv struct {
	store store.Store
	ws    *workspace.Workspace
	dir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s, err := store.OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &testEnv{store: s, ws: workspace.New(dir), dir: dir}
}

func (e *testEnv) createDocument(t *testing.T, fileName string, pageCount int, status models.DocumentStatus) *models.Document {
	t.Helper()
	doc := &models.Document{
		DirName:     fileName + "-dir",
		FileName:    fileName,
		PageCount:   pageCount,
		SizeBytes:   2048,
		ProcessMode: models.ModeTextImage,
		Status:      status,
	}
	require.NoError(t, e.store.CreateDocument(context.Background(), doc))
	require.NoError(t, e.ws.InitDocument(doc.DirName))
	return doc
}
