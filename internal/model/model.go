// Package model defines the shared domain types for the lead pipeline.
package model

import "time"

// JobStatus represents the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are never
// mutated again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// JobStep identifies which pipeline stage a running job is in.
type JobStep string

const (
	JobStepDiscover JobStep = "discover"
	JobStepClassify JobStep = "classify"
	JobStepDone     JobStep = "done"
)

// JobParams holds the submitted parameters for a pipeline run.
type JobParams struct {
	Category          string `json:"category"`
	Region            string `json:"region,omitempty"`
	RegionID          string `json:"region_id,omitempty"`
	Limit             int    `json:"limit"`
	MaxPages          int    `json:"max_pages"`
	ClassifyBatchSize int    `json:"classify_batch_size"`
	ClassifyLimit     int    `json:"classify_limit,omitempty"`
}

// Job is one pipeline run request tracked end to end.
type Job struct {
	ID         string     `json:"job_id"`
	Type       string     `json:"type"`
	Status     JobStatus  `json:"status"`
	Step       JobStep    `json:"step"`
	Params     JobParams  `json:"params"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	StdoutTail string     `json:"stdout_tail"`
	StderrTail string     `json:"stderr_tail"`
	Error      string     `json:"error,omitempty"`
}

// EntityCandidate is a profile URL discovered on a search page. It exists
// only in flight between the paginator and the enrichment fan-out.
type EntityCandidate struct {
	CanonicalURL string
	SourcePage   int
}

// Lead is a discovered company with whatever contact data enrichment found.
type Lead struct {
	Category    string    `json:"category"`
	Region      string    `json:"region,omitempty"`
	CompanyName string    `json:"company_name"`
	Phone       string    `json:"phone,omitempty"`
	Emails      []string  `json:"emails"`
	Website     string    `json:"website,omitempty"`
	About       string    `json:"about,omitempty"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DedupKey returns the storage identity of the lead: website when present,
// otherwise company name + region.
func (l Lead) DedupKey() string {
	if l.Website != "" {
		return l.Website
	}
	return l.CompanyName + "\x00" + l.Region
}

// Classification is the classifier's verdict for one lead in one category.
type Classification struct {
	CompanyName  string    `json:"company_name"`
	Category     string    `json:"category"`
	Belongs      bool      `json:"belongs_to_category"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason"`
	About        string    `json:"about,omitempty"`
	Website      string    `json:"website,omitempty"`
	Region       string    `json:"region,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// ClassificationStats summarizes a completed classification stage.
type ClassificationStats struct {
	Total          int     `json:"total"`
	Matched        int     `json:"matched"`
	Unmatched      int     `json:"unmatched"`
	MeanConfidence float64 `json:"mean_confidence"`
}
