package checkpoint

import (
	"time"
)

// TaskStatus is the persisted status of one object transfer.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusSkipped    TaskStatus = "skipped"
)

// JobRecord is the durable form of a migration job. State strings are owned
// by the engine; the store persists them opaquely.
type JobRecord struct {
	ID            string    `json:"id"`
	SourceProfile string    `json:"source_profile"`
	SourceBucket  string    `json:"source_bucket"`
	SourcePrefix  string    `json:"source_prefix"`
	TargetProfile string    `json:"target_profile"`
	TargetBucket  string    `json:"target_bucket"`
	TargetPrefix  string    `json:"target_prefix"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TaskRecord is one object's transfer progress within a job.
type TaskRecord struct {
	JobID       string     `json:"job_id"`
	Key         string     `json:"key"`
	Size        int64      `json:"size"`
	ETag        string     `json:"etag"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	BytesCopied int64      `json:"bytes_copied"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store is the durable record of in-flight migration progress. Within one
// job the completed-key set only grows; SaveTask never demotes a completed
// task.
type Store interface {
	SaveJob(record *JobRecord) error
	GetJob(id string) (*JobRecord, error)
	ListJobs() ([]*JobRecord, error)

	SaveTask(record *TaskRecord) error
	GetTask(jobID, key string) (*TaskRecord, error)

	// CompletedKeys returns the keys safely done for the job, read once at
	// resume so a restarted job skips them.
	CompletedKeys(jobID string) (map[string]struct{}, error)

	// InProgressOffsets returns byte offsets recorded for partially copied
	// keys, where the source supports range resume.
	InProgressOffsets(jobID string) (map[string]int64, error)

	ListFailedTasks(jobID string) ([]*TaskRecord, error)

	Close() error
}
