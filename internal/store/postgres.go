package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/slug"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL DEFAULT 'pipeline',
	status      TEXT NOT NULL DEFAULT 'queued',
	step        TEXT NOT NULL DEFAULT '',
	params      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	stdout_tail TEXT NOT NULL DEFAULT '',
	stderr_tail TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
`

// postgresLeadsDDL creates a per-category leads table. The table name comes
// from slug.LeadsTable and contains only [a-z0-9_], so interpolation is safe.
const postgresLeadsDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id           TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	region       TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL,
	phone        TEXT NOT NULL DEFAULT '',
	emails       JSONB NOT NULL DEFAULT '[]',
	website      TEXT NOT NULL DEFAULT '',
	about        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_website ON %[1]s(website) WHERE website <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_name_region ON %[1]s(company_name, region) WHERE website = '';
`

const postgresFilterDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	company_name  TEXT NOT NULL UNIQUE,
	category      TEXT NOT NULL,
	belongs       BOOLEAN NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	about         TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	emails        JSONB NOT NULL DEFAULT '[]',
	classified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_confidence ON %[1]s(confidence DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, jobType string, params model.JobParams) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, status, step, params, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, jobType, string(model.JobStatusQueued), "", paramsJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:        id,
		Type:      jobType,
		Status:    model.JobStatusQueued,
		Params:    params,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, status, step, params, created_at, started_at, finished_at, stdout_tail, stderr_tail, error FROM jobs WHERE id = $1`,
		jobID,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, status, step, params, created_at, started_at, finished_at, stdout_tail, stderr_tail, error FROM jobs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs")
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var paramsJSON []byte
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Step, &paramsJSON,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.StdoutTail, &j.StderrTail, &j.Error); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
		return nil, eris.Wrap(err, "unmarshal params")
	}
	return &j, nil
}

// ErrJobNotFound is returned when a job lookup or update matches no row.
var ErrJobNotFound = eris.New("job not found")

func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, upd JobUpdate) error {
	query := `UPDATE jobs SET id = id`
	args := []any{}
	argIdx := 1

	if upd.Status != nil {
		query += fmt.Sprintf(`, status = $%d`, argIdx)
		args = append(args, string(*upd.Status))
		argIdx++
	}
	if upd.Step != nil {
		query += fmt.Sprintf(`, step = $%d`, argIdx)
		args = append(args, string(*upd.Step))
		argIdx++
	}
	if upd.Error != nil {
		query += fmt.Sprintf(`, error = $%d`, argIdx)
		args = append(args, *upd.Error)
		argIdx++
	}
	if upd.StartedAt != nil {
		query += fmt.Sprintf(`, started_at = $%d`, argIdx)
		args = append(args, *upd.StartedAt)
		argIdx++
	}
	if upd.FinishedAt != nil {
		query += fmt.Sprintf(`, finished_at = $%d`, argIdx)
		args = append(args, *upd.FinishedAt)
		argIdx++
	}

	// Terminal jobs stay frozen.
	query += fmt.Sprintf(` WHERE id = $%d AND status NOT IN ('succeeded', 'failed', 'cancelled')`, argIdx)
	args = append(args, jobID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) SetJobTails(ctx context.Context, jobID, stdoutTail, stderrTail string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET stdout_tail = $1, stderr_tail = $2 WHERE id = $3 AND status NOT IN ('succeeded', 'failed', 'cancelled')`,
		stdoutTail, stderrTail, jobID,
	)
	// Zero rows means the job is gone or already terminal; tails are
	// best-effort while the job is live, so neither is an error.
	return eris.Wrapf(err, "postgres: set job tails %s", jobID)
}

func (s *PostgresStore) EnsureCategory(ctx context.Context, category string) error {
	for _, ddl := range []string{
		fmt.Sprintf(postgresLeadsDDL, slug.LeadsTable(category)),
		fmt.Sprintf(postgresFilterDDL, slug.FilterTable(category)),
	} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return eris.Wrapf(err, "postgres: ensure category %s", category)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertLead(ctx context.Context, lead model.Lead) error {
	table := slug.LeadsTable(lead.Category)
	now := time.Now().UTC()

	for {
		var (
			id         string
			phone      string
			emailsJSON []byte
			err        error
		)
		if lead.Website != "" {
			err = s.pool.QueryRow(ctx,
				fmt.Sprintf(`SELECT id, phone, emails FROM %s WHERE website = $1`, table),
				lead.Website,
			).Scan(&id, &phone, &emailsJSON)
		} else {
			err = s.pool.QueryRow(ctx,
				fmt.Sprintf(`SELECT id, phone, emails FROM %s WHERE company_name = $1 AND region = $2 AND website = ''`, table),
				lead.CompanyName, lead.Region,
			).Scan(&id, &phone, &emailsJSON)
		}

		if errors.Is(err, pgx.ErrNoRows) {
			emails, merr := json.Marshal(unionEmails(nil, lead.Emails))
			if merr != nil {
				return eris.Wrap(merr, "postgres: marshal emails")
			}
			tag, ierr := s.pool.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (id, category, region, company_name, phone, emails, website, about, source, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT DO NOTHING`, table),
				uuid.New().String(), lead.Category, lead.Region, lead.CompanyName,
				lead.Phone, emails, lead.Website, lead.About, lead.Source, now, now,
			)
			if ierr != nil {
				return eris.Wrapf(ierr, "postgres: insert lead %s", lead.CompanyName)
			}
			if tag.RowsAffected() == 0 {
				// A concurrent writer created the row first. Merge into it.
				continue
			}
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lookup lead %s", lead.CompanyName)
		}

		var existing []string
		if len(emailsJSON) > 0 {
			if uerr := json.Unmarshal(emailsJSON, &existing); uerr != nil {
				return eris.Wrap(uerr, "postgres: unmarshal emails")
			}
		}
		merged, merr := json.Marshal(unionEmails(existing, lead.Emails))
		if merr != nil {
			return eris.Wrap(merr, "postgres: marshal emails")
		}
		// Newer phone wins, an empty one never clobbers a known number.
		if lead.Phone == "" {
			lead.Phone = phone
		}

		_, err = s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET company_name = $1, region = $2, phone = $3, emails = $4, about = $5, source = $6, updated_at = $7 WHERE id = $8`, table),
			lead.CompanyName, lead.Region, lead.Phone, merged, lead.About, lead.Source, now, id,
		)
		return eris.Wrapf(err, "postgres: update lead %s", lead.CompanyName)
	}
}

func (s *PostgresStore) ListLeads(ctx context.Context, category string, filter LeadFilter) ([]model.Lead, error) {
	table := slug.LeadsTable(category)

	query := fmt.Sprintf(`SELECT category, region, company_name, phone, emails, website, about, source, created_at, updated_at FROM %s`, table)
	if filter.WithAboutOnly {
		query += ` WHERE about <> ''`
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list leads %s", category)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var emailsJSON []byte
		if err := rows.Scan(&l.Category, &l.Region, &l.CompanyName, &l.Phone,
			&emailsJSON, &l.Website, &l.About, &l.Source, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		if len(emailsJSON) > 0 {
			if err := json.Unmarshal(emailsJSON, &l.Emails); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal emails")
			}
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads")
}

func (s *PostgresStore) UpsertClassification(ctx context.Context, c model.Classification) error {
	table := slug.FilterTable(c.Category)

	emails, err := json.Marshal(unionEmails(nil, c.Emails))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal emails")
	}
	classifiedAt := c.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, company_name, category, belongs, confidence, reason, about, website, region, phone, emails, classified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (company_name) DO UPDATE SET
			belongs = EXCLUDED.belongs,
			confidence = EXCLUDED.confidence,
			reason = EXCLUDED.reason,
			about = EXCLUDED.about,
			website = EXCLUDED.website,
			region = EXCLUDED.region,
			phone = EXCLUDED.phone,
			emails = EXCLUDED.emails,
			classified_at = EXCLUDED.classified_at`, table),
		uuid.New().String(), c.CompanyName, c.Category, c.Belongs, c.Confidence,
		c.Reason, c.About, c.Website, c.Region, c.Phone, emails, classifiedAt,
	)
	return eris.Wrapf(err, "postgres: upsert classification %s", c.CompanyName)
}

func (s *PostgresStore) ClassificationCounts(ctx context.Context, category string) (int, int, error) {
	table := slug.FilterTable(category)

	var total, matched int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*), count(*) FILTER (WHERE belongs) FROM %s`, table),
	).Scan(&total, &matched)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: classification counts %s", category)
	}
	return total, matched, nil
}

func (s *PostgresStore) TopClassifications(ctx context.Context, category string, n int) ([]model.Classification, error) {
	table := slug.FilterTable(category)
	if n <= 0 {
		n = math.MaxInt32
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT company_name, category, belongs, confidence, reason, about, website, region, phone, emails, classified_at FROM %s ORDER BY confidence DESC, company_name ASC LIMIT $1`, table),
		n,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: top classifications %s", category)
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var emailsJSON []byte
		if err := rows.Scan(&c.CompanyName, &c.Category, &c.Belongs, &c.Confidence,
			&c.Reason, &c.About, &c.Website, &c.Region, &c.Phone, &emailsJSON, &c.ClassifiedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan classification")
		}
		if len(emailsJSON) > 0 {
			if err := json.Unmarshal(emailsJSON, &c.Emails); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal emails")
			}
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top classifications")
}
