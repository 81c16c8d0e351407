package domain

import "time"

type JobType string

const (
	JobTypeVideoDownload    JobType = "video_download"
	JobTypePlaylistDownload JobType = "playlist_download"
	JobTypeMetadataOnly     JobType = "metadata_only"
)

type JobStatus string

const (
	JobStatusCreated   JobStatus = "created"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobOptions holds user-supplied knobs for a job.
type JobOptions struct {
	URL          string `json:"url"`
	Quality      string `json:"quality,omitempty"`
	Format       string `json:"format,omitempty"`
	SkipExisting bool   `json:"skip_existing,omitempty"`

	// FailFast fails the whole job on the first permanently failed item
	// instead of completing with partial results.
	FailFast bool `json:"fail_fast,omitempty"`
}

// Job represents a user-requested unit of archival work.
type Job struct {
	ID        string      `json:"id"`
	Type      JobType     `json:"type"`
	Status    JobStatus   `json:"status"`
	Options   JobOptions  `json:"options"`
	Results   []JobResult `json:"results,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type ItemStatus string

const (
	ItemStatusSuccess ItemStatus = "success"
	ItemStatusFailed  ItemStatus = "failed"
	ItemStatusSkipped ItemStatus = "skipped"
)

// JobResult is the outcome of one item inside a job (e.g. one playlist
// video). Immutable once written.
type JobResult struct {
	ItemID    string        `json:"item_id"`
	Status    ItemStatus    `json:"status"`
	ErrorCode string        `json:"error_code,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Progress is a point-in-time snapshot of a running job, emitted in
// batches rather than per item.
type Progress struct {
	JobID     string    `json:"job_id"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	UpdatedAt time.Time `json:"updated_at"`
}
