package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

func TestPlanUnitsCoversAllPages(t *testing.T) {
	cases := []struct {
		name         string
		pageCount    int
		pagesPerUnit int
		wantUnits    int
	}{
		{"exact multiple", 20, 10, 2},
		{"short tail", 25, 10, 3},
		{"single page", 1, 10, 1},
		{"budget of one", 5, 1, 5},
		{"budget larger than document", 3, 100, 1},
		{"zero pages", 0, 10, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			units := PlanUnits(tc.pageCount, tc.pagesPerUnit)
			require.Len(t, units, tc.wantUnits)

			covered := 0
			for i, u := range units {
				assert.Equal(t, i, u.Seq)
				assert.Equal(t, covered+1, u.StartPage, "ranges must be contiguous")
				assert.Equal(t, u.EndPage()-u.StartPage+1, u.PageCount)
				assert.Equal(t, models.UnitPendingSplit, u.Status)
				covered += u.PageCount
			}
			assert.Equal(t, tc.pageCount, covered, "ranges must cover every page exactly once")
		})
	}
}

func TestPlanUnits25PagesBudget10(t *testing.T) {
	units := PlanUnits(25, 10)
	require.Len(t, units, 3)

	assert.Equal(t, "1-10", units[0].PageRange())
	assert.Equal(t, 11, units[1].StartPage)
	assert.Equal(t, "11-20", units[1].PageRange())
	assert.Equal(t, 21, units[2].StartPage)
	assert.Equal(t, 5, units[2].PageCount)
	assert.Equal(t, "21-25", units[2].PageRange())
}

func TestNewSplitterRejectsInvalidBudget(t *testing.T) {
	_, err := NewSplitter(nil, nil, SplitterConfig{PagesPerUnit: 0})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewSplitter(nil, nil, SplitterConfig{PagesPerUnit: -3})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

// writeTestPDF writes a minimal PDF with one content-free page per media box,
// computing the cross-reference offsets as the objects are appended.
func writeTestPDF(t *testing.T, path string, mediaBoxes ...string) {
	t.Helper()
	var buf bytes.Buffer
	var offsets []int
	addObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	addObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	kids := make([]string, len(mediaBoxes))
	for i := range mediaBoxes {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	addObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), len(mediaBoxes)))
	for i, box := range mediaBoxes {
		addObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [%s] /Resources << >> >>\nendobj\n", 3+i, box))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	require.NoError(t, workspace.Save(path, buf.Bytes()))
}

func TestSplitterProcessExtractsAbsolutePageRanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two pages with distinct media boxes, so each split file reveals which
	// source page it carries.
	doc := env.createDocument(t, "two-pages.pdf", 2, models.DocumentPending)
	writeTestPDF(t, env.ws.SourcePDFPath(doc.DirName), "0 0 612 792", "0 0 300 300")

	splitter, err := NewSplitter(env.store, env.ws, SplitterConfig{PagesPerUnit: 1})
	require.NoError(t, err)
	require.NoError(t, splitter.Process(ctx))

	units, err := env.store.ListUnitsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, models.UnitPendingAnalysis, u.Status)
	}

	dims0, err := api.PageDimsFile(env.ws.SplitPDFPath(doc.DirName, 0))
	require.NoError(t, err)
	require.Len(t, dims0, 1)
	assert.InDelta(t, 612, dims0[0].Width, 0.1)

	dims1, err := api.PageDimsFile(env.ws.SplitPDFPath(doc.DirName, 1))
	require.NoError(t, err)
	require.Len(t, dims1, 1)
	assert.InDelta(t, 300, dims1[0].Width, 0.1, "the second unit must carry the second source page")

	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentProcessing, got.Status)
}

func TestSplitterRecordsExtractionErrorAsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No source file exists, so extraction fails with an I/O error.
	doc := env.createDocument(t, "missing.pdf", 2, models.DocumentPending)

	splitter, err := NewSplitter(env.store, env.ws, SplitterConfig{PagesPerUnit: 2})
	require.NoError(t, err)
	require.NoError(t, splitter.Process(ctx))

	units, err := env.store.ListUnitsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, models.UnitFailed, units[0].Status)
	assert.NotEqual(t, models.ReasonPageCountMismatch, units[0].Reason,
		"an I/O failure must not masquerade as a page count mismatch")
	assert.Contains(t, units[0].Reason, "failed to extract pages")
}

func TestExtractionFailureReason(t *testing.T) {
	mismatch := &PageCountMismatchError{UnitSeq: 1, Expected: 10, Actual: 9}
	assert.Equal(t, models.ReasonPageCountMismatch, extractionFailureReason(mismatch))
	assert.Equal(t, models.ReasonPageCountMismatch,
		extractionFailureReason(fmt.Errorf("verify 1.pdf: %w", mismatch)))

	ioErr := errors.New("read split/0.pdf: permission denied")
	assert.Equal(t, ioErr.Error(), extractionFailureReason(ioErr))
}
