package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthtools/leadscout/internal/config"
	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/store"
)

type fakeDiscover struct {
	err   error
	lines []string
	ran   bool
}

func (f *fakeDiscover) Run(_ context.Context, _ model.JobParams, tails *TailPair) error {
	f.ran = true
	for _, l := range f.lines {
		tails.Stdout.WriteLine(l)
	}
	return f.err
}

type blockingDiscover struct {
	started chan struct{}
}

func (b *blockingDiscover) Run(ctx context.Context, _ model.JobParams, _ *TailPair) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

type fakeClassify struct {
	err      error
	stats    model.ClassificationStats
	ran      bool
	category string
	limit    int
}

func (f *fakeClassify) Run(_ context.Context, category string, limit int) (*model.ClassificationStats, error) {
	f.ran = true
	f.category = category
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return &f.stats, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func waitTerminal(t *testing.T, st store.Store, jobID string) *model.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestOrchestrator_SuccessfulRun(t *testing.T) {
	st := newTestStore(t)
	disc := &fakeDiscover{lines: []string{"crawl started", "crawl done"}}
	cls := &fakeClassify{stats: model.ClassificationStats{Total: 3, Matched: 2, Unmatched: 1}}
	o := New(st, disc, cls, config.JobsConfig{})

	job, err := o.Submit(context.Background(), model.JobParams{Category: "technology", ClassifyLimit: 7})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	got := waitTerminal(t, st, job.ID)
	o.Wait()

	assert.Equal(t, model.JobStatusSucceeded, got.Status)
	assert.Equal(t, model.JobStepDone, got.Step)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Error)
	assert.Contains(t, got.StdoutTail, "crawl done")
	assert.True(t, disc.ran)
	assert.True(t, cls.ran)
	assert.Equal(t, "technology", cls.category)
	assert.Equal(t, 7, cls.limit)
}

func TestOrchestrator_DiscoverFailureSkipsClassify(t *testing.T) {
	st := newTestStore(t)
	disc := &fakeDiscover{err: eris.New("orchestrator: discover exited with code 2")}
	cls := &fakeClassify{}
	o := New(st, disc, cls, config.JobsConfig{})

	job, err := o.Submit(context.Background(), model.JobParams{Category: "technology"})
	require.NoError(t, err)

	got := waitTerminal(t, st, job.ID)
	o.Wait()

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "orchestrator: discover exited with code 2", got.Error)
	assert.NotNil(t, got.FinishedAt)
	assert.False(t, cls.ran, "classification must not run after a failed discovery")
}

func TestOrchestrator_ClassifyFailure(t *testing.T) {
	st := newTestStore(t)
	disc := &fakeDiscover{}
	cls := &fakeClassify{err: eris.New("classify: list leads: disk gone")}
	o := New(st, disc, cls, config.JobsConfig{})

	job, err := o.Submit(context.Background(), model.JobParams{Category: "technology"})
	require.NoError(t, err)

	got := waitTerminal(t, st, job.ID)
	o.Wait()

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk gone")
}

func TestOrchestrator_CancelRunningJob(t *testing.T) {
	st := newTestStore(t)
	disc := &blockingDiscover{started: make(chan struct{})}
	cls := &fakeClassify{}
	o := New(st, disc, cls, config.JobsConfig{})

	job, err := o.Submit(context.Background(), model.JobParams{Category: "technology"})
	require.NoError(t, err)

	select {
	case <-disc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("discovery never started")
	}
	require.NoError(t, o.Cancel(context.Background(), job.ID))

	got := waitTerminal(t, st, job.ID)
	o.Wait()

	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.False(t, cls.ran)
}

func TestOrchestrator_CancelTerminalJobFails(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &fakeDiscover{}, &fakeClassify{}, config.JobsConfig{})

	job, err := o.Submit(context.Background(), model.JobParams{Category: "technology"})
	require.NoError(t, err)
	waitTerminal(t, st, job.ID)
	o.Wait()

	err = o.Cancel(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestOrchestrator_SubmitRequiresCategory(t *testing.T) {
	o := New(newTestStore(t), &fakeDiscover{}, &fakeClassify{}, config.JobsConfig{})
	_, err := o.Submit(context.Background(), model.JobParams{})
	assert.Error(t, err)
}

func TestNormalizeParams(t *testing.T) {
	p := NormalizeParams(model.JobParams{Category: "technology"})
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, 20, p.MaxPages)
	assert.Equal(t, 15, p.ClassifyBatchSize)

	p = NormalizeParams(model.JobParams{Category: "technology", Limit: 3, MaxPages: 2, ClassifyBatchSize: 40})
	assert.Equal(t, 3, p.Limit)
	assert.Equal(t, 2, p.MaxPages)
	assert.Equal(t, 40, p.ClassifyBatchSize)
}

func TestTail_TrimsOldestBytes(t *testing.T) {
	tail := NewTail(10)
	tail.WriteLine("aaaa")
	tail.WriteLine("bbbb")
	tail.WriteLine("cccc")

	s := tail.String()
	assert.LessOrEqual(t, len(s), 10)
	assert.Contains(t, s, "cccc")
	assert.NotContains(t, s, "aaaa")
}

func TestTail_ZeroCapDiscards(t *testing.T) {
	tail := NewTail(0)
	tail.WriteLine("anything")
	assert.Empty(t, tail.String())
}
