package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankchiu-tw/docpipe/internal/analysis"
	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// fakeJob is a scripted analysis job handle.
type fakeJob struct {
	id             string
	doneAfterPolls int // 0 means never done
	finalStatus    string
	reason         string
	result         []byte
	resultErr      error

	polls int
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Refresh(ctx context.Context) error {
	j.polls++
	return nil
}

func (j *fakeJob) Done() bool {
	return j.doneAfterPolls > 0 && j.polls >= j.doneAfterPolls
}

func (j *fakeJob) Status() string {
	if j.Done() {
		return j.finalStatus
	}
	return analysis.StatusRunning
}

func (j *fakeJob) FailureReason() string { return j.reason }

func (j *fakeJob) Result(ctx context.Context) ([]byte, error) {
	if j.resultErr != nil {
		return nil, j.resultErr
	}
	return j.result, nil
}

// fakeAnalyzer hands out scripted jobs keyed by page range.
type fakeAnalyzer struct {
	jobs      map[string]*fakeJob
	submitErr map[string]error
	submitted []string
}

func (a *fakeAnalyzer) Submit(ctx context.Context, pdf []byte, pageRange string) (analysis.Job, error) {
	a.submitted = append(a.submitted, pageRange)
	if err := a.submitErr[pageRange]; err != nil {
		return nil, err
	}
	job, ok := a.jobs[pageRange]
	if !ok {
		return nil, errors.New("no scripted job for range " + pageRange)
	}
	return job, nil
}

func fastPollerConfig() PollerConfig {
	return PollerConfig{
		SubmitInterval: time.Millisecond,
		PollPeriod:     time.Millisecond,
		MaxWaitTime:    5 * time.Millisecond,
		BatchSize:      20,
	}
}

// seedUnits creates a document with split units in pending-analysis and
// writes a placeholder split file for each, unless its seq is listed in
// missingFiles.
func seedUnits(t *testing.T, env *testEnv, name string, unitPages [][2]int, missingFiles ...int) (*models.Document, []*models.SplitUnit) {
	t.Helper()
	ctx := context.Background()

	pageCount := 0
	for _, up := range unitPages {
		pageCount += up[1]
	}
	doc := env.createDocument(t, name, pageCount, models.DocumentProcessing)

	units := make([]*models.SplitUnit, 0, len(unitPages))
	for seq, up := range unitPages {
		units = append(units, &models.SplitUnit{
			DocumentID: doc.ID,
			Seq:        seq,
			StartPage:  up[0],
			PageCount:  up[1],
			Status:     models.UnitPendingAnalysis,
		})
	}
	require.NoError(t, env.store.CreateSplitUnits(ctx, units))

	missing := make(map[int]bool)
	for _, seq := range missingFiles {
		missing[seq] = true
	}
	for _, u := range units {
		if missing[u.Seq] {
			continue
		}
		require.NoError(t, workspace.Save(env.ws.SplitPDFPath(doc.DirName, u.Seq), []byte("%PDF-fake")))
	}
	return doc, units
}

func TestPollerDrainsToSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, units := seedUnits(t, env, "a.pdf", [][2]int{{1, 10}, {11, 10}})

	analyzer := &fakeAnalyzer{jobs: map[string]*fakeJob{
		"1-10":  {id: "j1", doneAfterPolls: 1, finalStatus: analysis.StatusSucceeded, result: []byte(`{"content":"one"}`)},
		"11-20": {id: "j2", doneAfterPolls: 2, finalStatus: analysis.StatusSucceeded, result: []byte(`{"content":"two"}`)},
	}}

	poller, err := NewPoller(env.store, env.ws, analyzer, fastPollerConfig())
	require.NoError(t, err)
	require.NoError(t, poller.Process(ctx))
	assert.Zero(t, poller.Outstanding())

	all, err := env.store.ListUnitsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	for _, u := range all {
		assert.Equal(t, models.UnitAnalysisSucceeded, u.Status)
	}

	raw, err := os.ReadFile(env.ws.RawResultPath(doc.DirName, units[0].Seq))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"one"}`, string(raw))
}

func TestPollerTimesOutStuckJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, _ := seedUnits(t, env, "b.pdf", [][2]int{{1, 10}})

	stuck := &fakeJob{id: "j1"} // never done
	analyzer := &fakeAnalyzer{jobs: map[string]*fakeJob{"1-10": stuck}}

	poller, err := NewPoller(env.store, env.ws, analyzer, fastPollerConfig())
	require.NoError(t, err)
	require.NoError(t, poller.Process(ctx))
	assert.Zero(t, poller.Outstanding())

	all, err := env.store.ListUnitsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.UnitAnalysisFailed, all[0].Status)
	assert.Equal(t, models.ReasonOverMaxWaitTime, all[0].Reason)
}

func TestPollerFailureIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Unit 1 fails analysis, unit 2 has no split file; units 0 and 2 of
	// three healthy siblings must still succeed.
	doc, _ := seedUnits(t, env, "c.pdf", [][2]int{{1, 10}, {11, 10}, {21, 5}}, 1)

	analyzer := &fakeAnalyzer{
		jobs: map[string]*fakeJob{
			"1-10":  {id: "j1", doneAfterPolls: 1, finalStatus: analysis.StatusSucceeded, result: []byte(`{}`)},
			"21-25": {id: "j3", doneAfterPolls: 1, finalStatus: analysis.StatusFailed, reason: "corrupt input"},
		},
	}

	poller, err := NewPoller(env.store, env.ws, analyzer, fastPollerConfig())
	require.NoError(t, err)
	require.NoError(t, poller.Process(ctx))

	all, err := env.store.ListUnitsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.UnitAnalysisSucceeded, all[0].Status)
	assert.Equal(t, models.UnitFailed, all[1].Status)
	assert.Equal(t, models.ReasonMissingSourceFile, all[1].Reason)
	assert.Equal(t, models.UnitAnalysisFailed, all[2].Status)
	assert.Equal(t, "corrupt input", all[2].Reason)

	// The missing-file unit must never have been submitted.
	assert.NotContains(t, analyzer.submitted, "11-20")
}

func TestPollerKeepsUnitProcessingOnResultFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, _ := seedUnits(t, env, "d.pdf", [][2]int{{1, 10}})

	analyzer := &fakeAnalyzer{jobs: map[string]*fakeJob{
		"1-10": {id: "j1", doneAfterPolls: 1, finalStatus: analysis.StatusSucceeded, resultErr: errors.New("connection reset")},
	}}

	poller, err := NewPoller(env.store, env.ws, analyzer, fastPollerConfig())
	require.NoError(t, err)
	require.NoError(t, poller.Process(ctx))
	assert.Zero(t, poller.Outstanding())

	all, err := env.store.ListUnitsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.UnitAnalysisProcessing, all[0].Status)

	// A later re-queue resets the stuck unit so it can be resubmitted.
	n, err := env.store.RequeueUnits(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
