package worker

// Task is one object to copy from source to target. A task is owned by the
// worker processing it and never shared across workers.
type Task struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ETag        string            `json:"etag"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata"`
}

// OutcomeKind is the terminal result of processing one task.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome reports one task's terminal result back to the engine.
type Outcome struct {
	Key      string
	Kind     OutcomeKind
	Bytes    int64
	Attempts int
	Err      error
}

// Config bounds the copy behavior of every worker in a pool.
type Config struct {
	JobID          string
	SourceBucket   string
	SourcePrefix   string
	TargetBucket   string
	TargetPrefix   string
	Retries        int
	RetryBackoffMs int
	ChunkSize      int64
	SkipExisting   bool
}
