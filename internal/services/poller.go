package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hankchiu-tw/docpipe/internal/analysis"
	"github.com/hankchiu-tw/docpipe/internal/models"
	"github.com/hankchiu-tw/docpipe/internal/store"
	"github.com/hankchiu-tw/docpipe/internal/workspace"
)

// PollerConfig paces job submission and polling.
type PollerConfig struct {
	SubmitInterval time.Duration
	PollPeriod     time.Duration
	MaxWaitTime    time.Duration
	BatchSize      int
}

// trackedJob is one outstanding analysis submission in the registry.
type trackedJob struct {
	unit        *models.SplitUnit
	job         analysis.Job
	waitingTime time.Duration
}

// Poller submits pending split units to the analysis service and polls the
// outstanding jobs until every one completes, fails, or exceeds the maximum
// wait time. The registry is the single source of truth for which units are
// still outstanding; it is only touched under the mutex, and never while a
// service call is in flight.
type Poller struct {
	store   store.Store
	ws      *workspace.Workspace
	service analysis.Service
	config  PollerConfig

	mu       sync.Mutex
	registry map[int64]*trackedJob
}

func NewPoller(st store.Store, ws *workspace.Workspace, svc analysis.Service, cfg PollerConfig) (*Poller, error) {
	if cfg.PollPeriod <= 0 || cfg.MaxWaitTime <= 0 {
		return nil, fmt.Errorf("%w: poll period and max wait time must be positive", ErrInvalidConfiguration)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Poller{
		store:    st,
		ws:       ws,
		service:  svc,
		config:   cfg,
		registry: make(map[int64]*trackedJob),
	}, nil
}

// Process runs one submit-then-drain cycle: submit a batch of pending units,
// then poll until the registry is empty.
func (p *Poller) Process(ctx context.Context) error {
	if err := p.submitPending(ctx); err != nil {
		return err
	}
	return p.pollUntilDrained(ctx)
}

// submitPending submits one batch of pending-analysis units. A unit whose
// split file is missing or whose submission fails is marked failed without
// affecting its siblings.
func (p *Poller) submitPending(ctx context.Context) error {
	units, err := p.store.ListUnitsByStatus(ctx, models.UnitPendingAnalysis, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending units: %w", err)
	}

	for i, unit := range units {
		logCtx := slog.With("documentId", unit.DocumentID, "unitId", unit.ID, "unitSeq", unit.Seq)
		if i > 0 {
			select {
			case <-time.After(p.config.SubmitInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.submitUnit(ctx, logCtx, unit); err != nil {
			logCtx.Error("Failed to submit unit for analysis.", "error", err)
		}
	}
	return nil
}

func (p *Poller) submitUnit(ctx context.Context, logCtx *slog.Logger, unit *models.SplitUnit) error {
	splitPath := p.ws.SplitPDFPath(unit.DocumentDir, unit.Seq)
	if !workspace.Exists(splitPath) {
		if err := p.store.UpdateUnitStatus(ctx, unit.ID, models.UnitFailed, models.ReasonMissingSourceFile); err != nil {
			return fmt.Errorf("failed to mark unit failed: %w", err)
		}
		return fmt.Errorf("split file %s does not exist", splitPath)
	}

	pdf, err := os.ReadFile(splitPath)
	if err != nil {
		return fmt.Errorf("failed to read split file: %w", err)
	}

	job, err := p.service.Submit(ctx, pdf, unit.PageRange())
	if err != nil {
		if uerr := p.store.UpdateUnitStatus(ctx, unit.ID, models.UnitAnalysisFailed, "submission failed"); uerr != nil {
			logCtx.Error("Failed to mark unit analysis-failed.", "error", uerr)
		}
		return fmt.Errorf("failed to submit to analysis service: %w", err)
	}

	if err := p.store.UpdateUnitStatus(ctx, unit.ID, models.UnitAnalysisProcessing, ""); err != nil {
		return fmt.Errorf("failed to advance unit to analysis-processing: %w", err)
	}

	p.mu.Lock()
	p.registry[unit.ID] = &trackedJob{unit: unit, job: job}
	p.mu.Unlock()

	logCtx.Info("Submitted unit for analysis.", "jobId", job.ID(), "pageRange", unit.PageRange())
	return nil
}

// pollUntilDrained sweeps the registry on a fixed period until it is empty.
// Each sweep iterates over a snapshot of the registry keys so entries can be
// removed without invalidating the iteration.
func (p *Poller) pollUntilDrained(ctx context.Context) error {
	for {
		p.mu.Lock()
		ids := make([]int64, 0, len(p.registry))
		for id := range p.registry {
			ids = append(ids, id)
		}
		p.mu.Unlock()

		if len(ids) == 0 {
			return nil
		}

		select {
		case <-time.After(p.config.PollPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}

		for _, id := range ids {
			p.mu.Lock()
			tracked, ok := p.registry[id]
			p.mu.Unlock()
			if !ok {
				continue
			}
			p.pollJob(ctx, tracked)
		}
	}
}

// pollJob refreshes one outstanding job and resolves it if it is done or has
// waited too long. Resolution removes the job from the registry, so a unit is
// never processed twice even if the sweep revisits it.
func (p *Poller) pollJob(ctx context.Context, tracked *trackedJob) {
	unit := tracked.unit
	logCtx := slog.With("documentId", unit.DocumentID, "unitId", unit.ID, "unitSeq", unit.Seq, "jobId", tracked.job.ID())

	if err := tracked.job.Refresh(ctx); err != nil {
		logCtx.Warn("Failed to poll analysis job; will retry next sweep.", "error", err)
	}

	if tracked.job.Done() {
		p.resolve(ctx, logCtx, tracked)
		return
	}

	tracked.waitingTime += p.config.PollPeriod
	if tracked.waitingTime > p.config.MaxWaitTime {
		logCtx.Error("Analysis job exceeded max wait time.", "waitingTime", tracked.waitingTime.String())
		p.remove(unit.ID)
		if err := p.store.UpdateUnitStatus(ctx, unit.ID, models.UnitAnalysisFailed, models.ReasonOverMaxWaitTime); err != nil {
			logCtx.Error("Failed to mark timed-out unit analysis-failed.", "error", err)
		}
	}
}

func (p *Poller) resolve(ctx context.Context, logCtx *slog.Logger, tracked *trackedJob) {
	unit := tracked.unit
	p.remove(unit.ID)

	if tracked.job.Status() != analysis.StatusSucceeded {
		reason := tracked.job.FailureReason()
		if reason == "" {
			reason = tracked.job.Status()
		}
		logCtx.Error("Analysis job failed.", "reason", reason)
		if err := p.store.UpdateUnitStatus(ctx, unit.ID, models.UnitAnalysisFailed, reason); err != nil {
			logCtx.Error("Failed to mark unit analysis-failed.", "error", err)
		}
		return
	}

	raw, err := tracked.job.Result(ctx)
	if err != nil {
		logCtx.Error("Failed to fetch analysis result; unit stays analysis-processing for re-queue.", "error", err)
		return
	}
	if err := workspace.Save(p.ws.RawResultPath(unit.DocumentDir, unit.Seq), raw); err != nil {
		logCtx.Error("Failed to persist analysis result; unit stays analysis-processing for re-queue.", "error", err)
		return
	}
	if err := p.store.UpdateUnitStatus(ctx, unit.ID, models.UnitAnalysisSucceeded, ""); err != nil {
		logCtx.Error("Failed to advance unit to analysis-succeeded.", "error", err)
		return
	}
	logCtx.Info("Analysis succeeded.")
}

func (p *Poller) remove(unitID int64) {
	p.mu.Lock()
	delete(p.registry, unitID)
	p.mu.Unlock()
}

// Outstanding reports how many jobs are still in the registry.
func (p *Poller) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registry)
}
