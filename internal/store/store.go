package store

import (
	"context"
	"time"

	"github.com/growthtools/leadscout/internal/model"
)

// JobUpdate carries a partial update to a job row. Nil fields are left
// untouched.
type JobUpdate struct {
	Status     *model.JobStatus
	Step       *model.JobStep
	Error      *string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// LeadFilter specifies criteria for listing leads in a category.
type LeadFilter struct {
	WithAboutOnly bool `json:"with_about_only,omitempty"`
	Limit         int  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, jobType string, params model.JobParams) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
	UpdateJob(ctx context.Context, jobID string, upd JobUpdate) error
	SetJobTails(ctx context.Context, jobID, stdoutTail, stderrTail string) error

	// Leads, stored per category
	EnsureCategory(ctx context.Context, category string) error
	UpsertLead(ctx context.Context, lead model.Lead) error
	ListLeads(ctx context.Context, category string, filter LeadFilter) ([]model.Lead, error)

	// Classifications, stored per category
	UpsertClassification(ctx context.Context, c model.Classification) error
	ClassificationCounts(ctx context.Context, category string) (total, matched int, err error)
	// TopClassifications returns verdicts sorted by descending
	// confidence, regardless of outcome. An n of zero or less returns
	// all of them.
	TopClassifications(ctx context.Context, category string, n int) ([]model.Classification, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// unionEmails merges incoming emails into existing, preserving order and
// dropping duplicates case-insensitively.
func unionEmails(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, group := range [][]string{existing, incoming} {
		for _, e := range group {
			key := normEmail(e)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, e)
		}
	}
	return merged
}

func normEmail(e string) string {
	out := make([]byte, 0, len(e))
	for i := 0; i < len(e); i++ {
		c := e[i]
		if c == ' ' || c == '\t' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
