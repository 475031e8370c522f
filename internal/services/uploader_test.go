package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankchiu-tw/docpipe/internal/index"
	"github.com/hankchiu-tw/docpipe/internal/models"
)

type fakeIndex struct {
	uploads  [][]index.UploadItem
	deletes  [][]index.DeleteItem
	failNext bool
}

func (f *fakeIndex) Upload(ctx context.Context, items []index.UploadItem) error {
	if f.failNext {
		f.failNext = false
		return errors.New("index unavailable")
	}
	f.uploads = append(f.uploads, items)
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, items []index.DeleteItem) error {
	f.deletes = append(f.deletes, items)
	return nil
}

func TestUploaderPushesPendingChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.createDocument(t, "a.pdf", 5, models.DocumentProcessing)
	require.NoError(t, env.store.ReplaceChunks(ctx, doc.ID, []string{"one", "two"}))

	idx := &fakeIndex{}
	uploader := NewUploader(env.store, idx, UploaderConfig{})
	require.NoError(t, uploader.Process(ctx))

	require.Len(t, idx.uploads, 1)
	items := idx.uploads[0]
	require.Len(t, items, 2)
	assert.Equal(t, "a.pdf", items[0].FileName)
	assert.Equal(t, doc.ID, items[0].DocumentID)

	uploaded, err := env.store.ListChunksByStatus(ctx, models.ChunkUploaded, 10)
	require.NoError(t, err)
	assert.Len(t, uploaded, 2)
	pending, err := env.store.ListChunksByStatus(ctx, models.ChunkPendingUpload, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUploaderMarksFailedBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.createDocument(t, "b.pdf", 5, models.DocumentProcessing)
	require.NoError(t, env.store.ReplaceChunks(ctx, doc.ID, []string{"only"}))

	idx := &fakeIndex{failNext: true}
	uploader := NewUploader(env.store, idx, UploaderConfig{})
	require.NoError(t, uploader.Process(ctx), "an index failure is scoped to the batch, not the pass")

	failed, err := env.store.ListChunksByStatus(ctx, models.ChunkUploadFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestUploaderDeletesPendingDeleteChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.createDocument(t, "c.pdf", 5, models.DocumentChunked)
	require.NoError(t, env.store.ReplaceChunks(ctx, doc.ID, []string{"one", "two"}))
	n, err := env.store.MarkChunksForDelete(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n, "chunks still awaiting upload are delete-eligible")

	idx := &fakeIndex{}
	uploader := NewUploader(env.store, idx, UploaderConfig{})
	require.NoError(t, uploader.Process(ctx))

	// A document deleted before its chunks reached the index must not get
	// indexed by the same pass that removes them.
	assert.Empty(t, idx.uploads)
	require.Len(t, idx.deletes, 1)
	assert.Len(t, idx.deletes[0], 2)

	deleted, err := env.store.ListChunksByStatus(ctx, models.ChunkDeleted, 10)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentDeleted, got.Status, "last removed chunk tombstones the document")
}
