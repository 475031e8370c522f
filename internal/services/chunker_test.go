package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankchiu-tw/docpipe/internal/models"
)

// tokenBody builds a body of exactly n approximate tokens: every atom is a
// three-letter word plus its separator, four runes, one token each.
func tokenBody(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "abc"
	}
	return strings.Join(words, " ")
}

func TestChunkTextTwoChunkReconstruction(t *testing.T) {
	// 12,000 tokens, size 6,000, no overlap: exactly two chunks whose
	// concatenation is the original body byte for byte.
	body := tokenBody(12000)

	chunks := ChunkText(body, 6000, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, body, strings.Join(chunks, ""))
}

func TestChunkTextZeroOverlapPartitions(t *testing.T) {
	body := "alpha beta gamma delta epsilon zeta eta theta"
	chunks := ChunkText(body, 3, 0)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, body, strings.Join(chunks, ""))
}

func TestChunkTextIsStable(t *testing.T) {
	body := tokenBody(500)
	first := ChunkText(body, 64, 16)
	second := ChunkText(body, 64, 16)
	assert.Equal(t, first, second)
}

func TestChunkTextOverlapSharesContext(t *testing.T) {
	body := tokenBody(100)
	chunks := ChunkText(body, 20, 5)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		// The five overlap atoms (20 bytes) opening each chunk are the
		// tail of its predecessor.
		prefix := chunks[i][:20]
		assert.True(t, strings.HasSuffix(chunks[i-1], prefix),
			"chunk %d must open with overlap from chunk %d", i, i-1)
	}
}

func TestChunkTextSmallInputs(t *testing.T) {
	assert.Nil(t, ChunkText("", 100, 0))

	chunks := ChunkText("tiny", 100, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny", chunks[0])

	// A single oversized word still lands in one chunk; words are never
	// split.
	long := strings.Repeat("x", 400)
	chunks = ChunkText(long, 10, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, long, chunks[0])
}

func TestChunkerProcessesReadyDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.createDocument(t, "a.pdf", 2, models.DocumentProcessing)
	units := []*models.SplitUnit{{DocumentID: doc.ID, Seq: 0, StartPage: 1, PageCount: 2, Status: models.UnitPageSplitSucceeded}}
	require.NoError(t, env.store.CreateSplitUnits(ctx, units))
	seedPage(t, env, doc, units[0].ID, 1, "first page")
	seedPage(t, env, doc, units[0].ID, 2, "second page")

	// A sibling document still mid-analysis must be left alone.
	waiting := env.createDocument(t, "waiting.pdf", 10, models.DocumentProcessing)
	waitingUnits := []*models.SplitUnit{{DocumentID: waiting.ID, Seq: 0, StartPage: 1, PageCount: 10, Status: models.UnitAnalysisProcessing}}
	require.NoError(t, env.store.CreateSplitUnits(ctx, waitingUnits))

	chunker, err := NewChunker(env.store, NewBundler(env.store, env.ws), ChunkerConfig{ChunkSize: 512})
	require.NoError(t, err)
	require.NoError(t, chunker.Process(ctx))

	chunks, err := env.store.ListChunksByStatus(ctx, models.ChunkPendingUpload, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc.ID, chunks[0].DocumentID)
	assert.Equal(t, "first page\n\nsecond page", chunks[0].Content)

	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentChunked, got.Status, "a chunked document leaves the processing work set")

	stillWaiting, err := env.store.GetDocument(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentProcessing, stillWaiting.Status)

	// Re-running must not duplicate the chunk set.
	require.NoError(t, chunker.Process(ctx))
	chunks, err = env.store.ListChunksByStatus(ctx, models.ChunkPendingUpload, 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

// seedReadyDocument creates a processing document whose single unit is
// terminal and whose one page has content, so the chunker can pick it up.
func seedReadyDocument(t *testing.T, env *testEnv, name, text string) *models.Document {
	t.Helper()
	doc := env.createDocument(t, name, 1, models.DocumentProcessing)
	units := []*models.SplitUnit{{DocumentID: doc.ID, Seq: 0, StartPage: 1, PageCount: 1, Status: models.UnitPageSplitSucceeded}}
	require.NoError(t, env.store.CreateSplitUnits(context.Background(), units))
	seedPage(t, env, doc, units[0].ID, 1, text)
	return doc
}

func TestChunkerReachesNewerDocumentsPastFullBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Three older ready documents fill a whole batch; the newer fourth must
	// still get chunked by repeated passes.
	for i := 0; i < 3; i++ {
		seedReadyDocument(t, env, fmt.Sprintf("old-%d.pdf", i), "old content")
	}
	fresh := seedReadyDocument(t, env, "fresh.pdf", "fresh content")

	chunker, err := NewChunker(env.store, NewBundler(env.store, env.ws), ChunkerConfig{ChunkSize: 512, BatchSize: 3})
	require.NoError(t, err)

	require.NoError(t, chunker.Process(ctx))
	require.NoError(t, chunker.Process(ctx))

	has, err := env.store.HasChunks(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, has, "finished documents must not crowd newer ones out of the batch")

	got, err := env.store.GetDocument(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentChunked, got.Status)
}

func TestChunkerFailsDocumentWithNoContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// All units terminal but every one failed, so no pages exist.
	doc := env.createDocument(t, "b.pdf", 10, models.DocumentProcessing)
	units := []*models.SplitUnit{{DocumentID: doc.ID, Seq: 0, StartPage: 1, PageCount: 10, Status: models.UnitAnalysisFailed}}
	require.NoError(t, env.store.CreateSplitUnits(ctx, units))

	chunker, err := NewChunker(env.store, NewBundler(env.store, env.ws), ChunkerConfig{ChunkSize: 512})
	require.NoError(t, err)
	require.NoError(t, chunker.Process(ctx))

	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFailed, got.Status)
	assert.Contains(t, got.ErrorDetails, "no page content")
}

func TestNewChunkerRejectsBadConfig(t *testing.T) {
	_, err := NewChunker(nil, nil, ChunkerConfig{ChunkSize: 0})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewChunker(nil, nil, ChunkerConfig{ChunkSize: 100, ChunkOverlap: 100})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
