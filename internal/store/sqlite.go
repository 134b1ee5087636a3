package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/slug"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL DEFAULT 'pipeline',
	status      TEXT NOT NULL DEFAULT 'queued',
	step        TEXT NOT NULL DEFAULT '',
	params      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	started_at  DATETIME,
	finished_at DATETIME,
	stdout_tail TEXT NOT NULL DEFAULT '',
	stderr_tail TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

const sqliteLeadsDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id           TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	region       TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL,
	phone        TEXT NOT NULL DEFAULT '',
	emails       TEXT NOT NULL DEFAULT '[]',
	website      TEXT NOT NULL DEFAULT '',
	about        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_website ON %[1]s(website) WHERE website <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_name_region ON %[1]s(company_name, region) WHERE website = '';
`

const sqliteFilterDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	company_name  TEXT NOT NULL UNIQUE,
	category      TEXT NOT NULL,
	belongs       INTEGER NOT NULL,
	confidence    REAL NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	about         TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	emails        TEXT NOT NULL DEFAULT '[]',
	classified_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_confidence ON %[1]s(confidence);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, jobType string, params model.JobParams) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, step, params, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, jobType, string(model.JobStatusQueued), "", string(paramsJSON), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:        id,
		Type:      jobType,
		Status:    model.JobStatusQueued,
		Params:    params,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, step, params, created_at, started_at, finished_at, stdout_tail, stderr_tail, error FROM jobs WHERE id = ?`,
		jobID,
	)
	j, err := scanJobSQL(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, status, step, params, created_at, started_at, finished_at, stdout_tail, stderr_tail, error FROM jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs")
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanJobSQL(row sqlScanner) (*model.Job, error) {
	var j model.Job
	var paramsJSON string
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Step, &paramsJSON,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.StdoutTail, &j.StderrTail, &j.Error); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &j.Params); err != nil {
		return nil, eris.Wrap(err, "unmarshal params")
	}
	return &j, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, upd JobUpdate) error {
	query := `UPDATE jobs SET id = id`
	args := []any{}

	if upd.Status != nil {
		query += `, status = ?`
		args = append(args, string(*upd.Status))
	}
	if upd.Step != nil {
		query += `, step = ?`
		args = append(args, string(*upd.Step))
	}
	if upd.Error != nil {
		query += `, error = ?`
		args = append(args, *upd.Error)
	}
	if upd.StartedAt != nil {
		query += `, started_at = ?`
		args = append(args, *upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		query += `, finished_at = ?`
		args = append(args, *upd.FinishedAt)
	}

	// Terminal jobs stay frozen.
	query += ` WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')`
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) SetJobTails(ctx context.Context, jobID, stdoutTail, stderrTail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET stdout_tail = ?, stderr_tail = ? WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')`,
		stdoutTail, stderrTail, jobID,
	)
	// Zero rows means the job is gone or already terminal; tails are
	// best-effort while the job is live, so neither is an error.
	return eris.Wrapf(err, "sqlite: set job tails %s", jobID)
}

func (s *SQLiteStore) EnsureCategory(ctx context.Context, category string) error {
	for _, ddl := range []string{
		fmt.Sprintf(sqliteLeadsDDL, slug.LeadsTable(category)),
		fmt.Sprintf(sqliteFilterDDL, slug.FilterTable(category)),
	} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return eris.Wrapf(err, "sqlite: ensure category %s", category)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertLead(ctx context.Context, lead model.Lead) error {
	table := slug.LeadsTable(lead.Category)
	now := time.Now().UTC()

	for {
		var (
			id         string
			phone      string
			emailsJSON string
			err        error
		)
		if lead.Website != "" {
			err = s.db.QueryRowContext(ctx,
				fmt.Sprintf(`SELECT id, phone, emails FROM %s WHERE website = ?`, table),
				lead.Website,
			).Scan(&id, &phone, &emailsJSON)
		} else {
			err = s.db.QueryRowContext(ctx,
				fmt.Sprintf(`SELECT id, phone, emails FROM %s WHERE company_name = ? AND region = ? AND website = ''`, table),
				lead.CompanyName, lead.Region,
			).Scan(&id, &phone, &emailsJSON)
		}

		if errors.Is(err, sql.ErrNoRows) {
			emails, merr := json.Marshal(unionEmails(nil, lead.Emails))
			if merr != nil {
				return eris.Wrap(merr, "sqlite: marshal emails")
			}
			res, ierr := s.db.ExecContext(ctx,
				fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, category, region, company_name, phone, emails, website, about, source, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
				uuid.New().String(), lead.Category, lead.Region, lead.CompanyName,
				lead.Phone, string(emails), lead.Website, lead.About, lead.Source, now, now,
			)
			if ierr != nil {
				return eris.Wrapf(ierr, "sqlite: insert lead %s", lead.CompanyName)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// A concurrent writer created the row first. Merge into it.
				continue
			}
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: lookup lead %s", lead.CompanyName)
		}

		var existing []string
		if emailsJSON != "" {
			if uerr := json.Unmarshal([]byte(emailsJSON), &existing); uerr != nil {
				return eris.Wrap(uerr, "sqlite: unmarshal emails")
			}
		}
		merged, merr := json.Marshal(unionEmails(existing, lead.Emails))
		if merr != nil {
			return eris.Wrap(merr, "sqlite: marshal emails")
		}
		if lead.Phone == "" {
			lead.Phone = phone
		}

		_, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET company_name = ?, region = ?, phone = ?, emails = ?, about = ?, source = ?, updated_at = ? WHERE id = ?`, table),
			lead.CompanyName, lead.Region, lead.Phone, string(merged), lead.About, lead.Source, now, id,
		)
		return eris.Wrapf(err, "sqlite: update lead %s", lead.CompanyName)
	}
}

func (s *SQLiteStore) ListLeads(ctx context.Context, category string, filter LeadFilter) ([]model.Lead, error) {
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
	query += ` LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list leads %s", category)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var emailsJSON string
		if err := rows.Scan(&l.Category, &l.Region, &l.CompanyName, &l.Phone,
			&emailsJSON, &l.Website, &l.About, &l.Source, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		if emailsJSON != "" {
			if err := json.Unmarshal([]byte(emailsJSON), &l.Emails); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal emails")
			}
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads")
}

func (s *SQLiteStore) UpsertClassification(ctx context.Context, c model.Classification) error {
	table := slug.FilterTable(c.Category)

	emails, err := json.Marshal(unionEmails(nil, c.Emails))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal emails")
	}
	classifiedAt := c.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, company_name, category, belongs, confidence, reason, about, website, region, phone, emails, classified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_name) DO UPDATE SET
			belongs = excluded.belongs,
			confidence = excluded.confidence,
			reason = excluded.reason,
			about = excluded.about,
			website = excluded.website,
			region = excluded.region,
			phone = excluded.phone,
			emails = excluded.emails,
			classified_at = excluded.classified_at`, table),
		uuid.New().String(), c.CompanyName, c.Category, c.Belongs, c.Confidence,
		c.Reason, c.About, c.Website, c.Region, c.Phone, string(emails), classifiedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert classification %s", c.CompanyName)
}

func (s *SQLiteStore) ClassificationCounts(ctx context.Context, category string) (int, int, error) {
	table := slug.FilterTable(category)

	var total, matched int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN belongs THEN 1 ELSE 0 END), 0) FROM %s`, table),
	).Scan(&total, &matched)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: classification counts %s", category)
	}
	return total, matched, nil
}

func (s *SQLiteStore) TopClassifications(ctx context.Context, category string, n int) ([]model.Classification, error) {
	table := slug.FilterTable(category)
	if n <= 0 {
		n = math.MaxInt32
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT company_name, category, belongs, confidence, reason, about, website, region, phone, emails, classified_at FROM %s ORDER BY confidence DESC, company_name ASC LIMIT ?`, table),
		n,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: top classifications %s", category)
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var emailsJSON string
		if err := rows.Scan(&c.CompanyName, &c.Category, &c.Belongs, &c.Confidence,
			&c.Reason, &c.About, &c.Website, &c.Region, &c.Phone, &emailsJSON, &c.ClassifiedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan classification")
		}
		if emailsJSON != "" {
			if err := json.Unmarshal([]byte(emailsJSON), &c.Emails); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal emails")
			}
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top classifications")
}
