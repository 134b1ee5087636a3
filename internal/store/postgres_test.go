package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthtools/leadscout/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "pipeline", "queued", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), "pipeline", model.JobParams{Category: "Technology", Limit: 20})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, type, status, step, params, created_at, started_at, finished_at, stdout_tail, stderr_tail, error FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "type", "status", "step", "params", "created_at", "started_at", "finished_at", "stdout_tail", "stderr_tail", "error"}).
		AddRow("job-1", "pipeline", "running", "discover", []byte(`{"category":"tech","limit":20,"max_pages":20,"classify_batch_size":15}`),
			now, &now, (*time.Time)(nil), "", "", "")

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.Equal(t, model.JobStepDiscover, job.Step)
	assert.Equal(t, "tech", job.Params.Category)
	require.NotNil(t, job.StartedAt)
	assert.Nil(t, job.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_TerminalRowsUntouched(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET id = id, status = \$1 WHERE id = \$2 AND status NOT IN`).
		WithArgs("running", "job-9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	running := model.JobStatusRunning
	err := s.UpdateJob(context.Background(), "job-9", JobUpdate{Status: &running})
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_PartialFields(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET id = id, step = \$1, error = \$2 WHERE id = \$3`).
		WithArgs("classify", "", "job-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	step := model.JobStepClassify
	empty := ""
	err := s.UpdateJob(context.Background(), "job-2", JobUpdate{Step: &step, Error: &empty})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetJobTails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET stdout_tail = \$1, stderr_tail = \$2 WHERE id = \$3 AND status NOT IN`).
		WithArgs("out", "err", "job-3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetJobTails(context.Background(), "job-3", "out", "err"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureCategory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tech_leads`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tech_ai_filter`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureCategory(context.Background(), "Technology"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLead_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, phone, emails FROM tech_leads WHERE website = \$1`).
		WithArgs("https://acme.example.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO tech_leads`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertLead(context.Background(), model.Lead{
		Category:    "Technology",
		CompanyName: "Acme",
		Website:     "https://acme.example.com",
		Emails:      []string{"info@acme.example.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLead_LostInsertRaceMerges(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, phone, emails FROM tech_leads WHERE website = \$1`).
		WithArgs("https://acme.example.com").
		WillReturnError(pgx.ErrNoRows)
	// A concurrent writer wins the insert. ON CONFLICT DO NOTHING reports
	// zero rows and the upsert merges into the winner's row instead.
	mock.ExpectExec(`INSERT INTO tech_leads`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	winner := pgxmock.NewRows([]string{"id", "phone", "emails"}).
		AddRow("lead-9", "", []byte(`["info@acme.example.com"]`))
	mock.ExpectQuery(`SELECT id, phone, emails FROM tech_leads WHERE website = \$1`).
		WithArgs("https://acme.example.com").
		WillReturnRows(winner)
	mock.ExpectExec(`UPDATE tech_leads SET`).
		WithArgs("Acme", "", "",
			[]byte(`["info@acme.example.com","sales@acme.example.com"]`),
			"", "", pgxmock.AnyArg(), "lead-9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpsertLead(context.Background(), model.Lead{
		Category:    "Technology",
		CompanyName: "Acme",
		Website:     "https://acme.example.com",
		Emails:      []string{"sales@acme.example.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLead_MergeKeepsPhone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	existing := pgxmock.NewRows([]string{"id", "phone", "emails"}).
		AddRow("lead-1", "+90 212 123 45 67", []byte(`["info@acme.example.com"]`))
	mock.ExpectQuery(`SELECT id, phone, emails FROM tech_leads WHERE website = \$1`).
		WithArgs("https://acme.example.com").
		WillReturnRows(existing)
	mock.ExpectExec(`UPDATE tech_leads SET`).
		WithArgs("Acme", "", "+90 212 123 45 67",
			[]byte(`["info@acme.example.com","sales@acme.example.com"]`),
			"", "", pgxmock.AnyArg(), "lead-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpsertLead(context.Background(), model.Lead{
		Category:    "Technology",
		CompanyName: "Acme",
		Website:     "https://acme.example.com",
		Emails:      []string{"sales@acme.example.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClassificationCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"count", "count"}).AddRow(10, 4)
	mock.ExpectQuery(`SELECT count\(\*\), count\(\*\) FILTER \(WHERE belongs\) FROM tech_ai_filter`).
		WillReturnRows(rows)

	total, matched, err := s.ClassificationCounts(context.Background(), "Technology")
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Equal(t, 4, matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TopClassifications(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"company_name", "category", "belongs", "confidence", "reason", "about", "website", "region", "phone", "emails", "classified_at"}).
		AddRow("High", "Technology", true, 0.95, "clear match", "", "", "", "", []byte(`[]`), now).
		AddRow("Mid", "Technology", true, 0.8, "likely", "", "", "", "", []byte(`[]`), now)

	mock.ExpectQuery(`SELECT .+ FROM tech_ai_filter ORDER BY confidence DESC`).
		WithArgs(2).
		WillReturnRows(rows)

	top, err := s.TopClassifications(context.Background(), "Technology", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "High", top[0].CompanyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
