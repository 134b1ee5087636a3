// Package orchestrator drives pipeline jobs through their lifecycle:
// queued, running the discovery stage, running the classification stage,
// then a terminal status. It owns every job mutation.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/config"
	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/store"
)

const (
	defaultTailBytes    = 64 * 1024
	tailPersistInterval = time.Second
)

// ClassifyRunner runs the classification stage for a category.
type ClassifyRunner interface {
	Run(ctx context.Context, category string, limit int) (*model.ClassificationStats, error)
}

// Orchestrator submits and tracks pipeline jobs. Stages run sequentially;
// classification only starts after discovery succeeds.
type Orchestrator struct {
	store    store.Store
	discover DiscoverRunner
	classify ClassifyRunner
	cfg      config.JobsConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an orchestrator around the given stage runners.
func New(st store.Store, discover DiscoverRunner, classify ClassifyRunner, cfg config.JobsConfig) *Orchestrator {
	return &Orchestrator{
		store:    st,
		discover: discover,
		classify: classify,
		cfg:      cfg,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// NormalizeParams fills in the documented defaults for a run request.
func NormalizeParams(p model.JobParams) model.JobParams {
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.MaxPages < 1 {
		p.MaxPages = 20
	}
	if p.ClassifyBatchSize < 1 {
		p.ClassifyBatchSize = 15
	}
	return p
}

// Submit creates a job and starts running it in the background. The
// returned job is in the queued state; callers poll for progress.
func (o *Orchestrator) Submit(ctx context.Context, params model.JobParams) (*model.Job, error) {
	if params.Category == "" {
		return nil, eris.New("orchestrator: category is required")
	}
	params = NormalizeParams(params)

	job, err := o.store.CreateJob(ctx, "pipeline", params)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(runCtx, job)

	return job, nil
}

// Cancel moves a non-terminal job to cancelled and stops its stages.
// Cancellation is cooperative: in-flight work drains on its own time.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return eris.Errorf("orchestrator: job %s is already %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	status := model.JobStatusCancelled
	if err := o.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:     &status,
		FinishedAt: &now,
	}); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		return eris.Wrap(err, "orchestrator: mark cancelled")
	}

	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	delete(o.cancels, jobID)
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Wait blocks until all background job goroutines have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, job *model.Job) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.cancels[job.ID]; ok {
			delete(o.cancels, job.ID)
			cancel()
		}
		o.mu.Unlock()
	}()

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("category", job.Params.Category))

	now := time.Now().UTC()
	running := model.JobStatusRunning
	discover := model.JobStepDiscover
	if err := o.update(job.ID, store.JobUpdate{Status: &running, Step: &discover, StartedAt: &now}); err != nil {
		log.Warn("job vanished before start", zap.Error(err))
		return
	}
	log.Info("discovery stage started")

	tails := NewTailPair(o.tailCap(o.cfg.StdoutTailBytes), o.tailCap(o.cfg.StderrTailBytes))
	stopPersist := o.persistTails(job.ID, tails)
	err := o.discover.Run(ctx, job.Params, tails)
	stopPersist()
	o.flushTails(job.ID, tails)

	if err != nil {
		log.Warn("discovery stage failed", zap.Error(err))
		o.fail(job.ID, err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	classify := model.JobStepClassify
	if err := o.update(job.ID, store.JobUpdate{Status: &running, Step: &classify}); err != nil {
		return
	}
	log.Info("classification stage started")

	stats, err := o.classify.Run(ctx, job.Params.Category, job.Params.ClassifyLimit)
	if err != nil {
		log.Warn("classification stage failed", zap.Error(err))
		o.fail(job.ID, err)
		return
	}

	finished := time.Now().UTC()
	succeeded := model.JobStatusSucceeded
	done := model.JobStepDone
	if err := o.update(job.ID, store.JobUpdate{Status: &succeeded, Step: &done, FinishedAt: &finished}); err != nil {
		return
	}
	log.Info("job succeeded",
		zap.Int("classified", stats.Total),
		zap.Int("matched", stats.Matched))
}

// fail records a terminal failure with the stage error kept verbatim. A
// job already moved to a terminal state (a concurrent cancel) is left
// alone.
func (o *Orchestrator) fail(jobID string, cause error) {
	now := time.Now().UTC()
	failed := model.JobStatusFailed
	msg := cause.Error()
	if err := o.update(jobID, store.JobUpdate{
		Status:     &failed,
		Error:      &msg,
		FinishedAt: &now,
	}); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		zap.L().Error("recording job failure", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) update(jobID string, upd store.JobUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.store.UpdateJob(ctx, jobID, upd)
}

// persistTails copies the captured tails into the job row once a second
// while a stage runs, so callers polling the job see output as it arrives.
func (o *Orchestrator) persistTails(jobID string, tails *TailPair) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		t := time.NewTicker(tailPersistInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				o.flushTails(jobID, tails)
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (o *Orchestrator) flushTails(jobID string, tails *TailPair) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SetJobTails(ctx, jobID, tails.Stdout.String(), tails.Stderr.String()); err != nil {
		zap.L().Debug("persisting job tails", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) tailCap(configured int) int {
	if configured > 0 {
		return configured
	}
	return defaultTailBytes
}
