package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"bucketview/internal/checkpoint"
)

// State is a migration job's position in its lifecycle.
type State string

const (
	StatePending     State = "pending"
	StateDiscovering State = "discovering"
	StateCopying     State = "copying"
	StateVerifying   State = "verifying"
	StateCompleted   State = "completed"
	StatePaused      State = "paused"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// JobSpec is everything a caller supplies to start a migration. The wizard
// UI (or the CLI standing in for it) provides exactly these inputs.
type JobSpec struct {
	SourceProfile string
	SourceBucket  string
	SourcePrefix  string
	TargetProfile string
	TargetBucket  string
	TargetPrefix  string

	// SingleObject restricts the job to one key instead of a prefix walk.
	SingleObject string

	Concurrency    int
	BandwidthLimit int64 // aggregate bytes/sec across workers, 0 = unlimited
	Retries        int
	RetryBackoffMs int
	ChunkSize      int64

	// FailureTolerance is how many permanently failed objects the job
	// absorbs before it is marked failed instead of completing with a
	// per-object failure report.
	FailureTolerance int

	SkipExisting bool
	Verify       bool
	DryRun       bool
}

// Validate rejects malformed specs before any network call. Source and
// target must not resolve to the identical (profile, bucket, prefix) triple.
func (s JobSpec) Validate() error {
	if s.SourceProfile == "" || s.TargetProfile == "" {
		return fmt.Errorf("source and target profiles are required")
	}
	if s.SourceBucket == "" || s.TargetBucket == "" {
		return fmt.Errorf("source and target buckets are required")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if s.FailureTolerance < 0 {
		return fmt.Errorf("failure tolerance cannot be negative")
	}
	if s.SourceProfile == s.TargetProfile &&
		s.SourceBucket == s.TargetBucket &&
		s.SourcePrefix == s.TargetPrefix {
		return fmt.Errorf("source and target are identical (profile %q, bucket %q, prefix %q): self-copy is forbidden",
			s.SourceProfile, s.SourceBucket, s.SourcePrefix)
	}
	return nil
}

// Job is one submitted migration.
type Job struct {
	ID        string
	Spec      JobSpec
	State     State
	CreatedAt time.Time
}

func newJob(spec JobSpec) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Spec:      spec,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
}

func (j *Job) record() *checkpoint.JobRecord {
	return &checkpoint.JobRecord{
		ID:            j.ID,
		SourceProfile: j.Spec.SourceProfile,
		SourceBucket:  j.Spec.SourceBucket,
		SourcePrefix:  j.Spec.SourcePrefix,
		TargetProfile: j.Spec.TargetProfile,
		TargetBucket:  j.Spec.TargetBucket,
		TargetPrefix:  j.Spec.TargetPrefix,
		State:         string(j.State),
		CreatedAt:     j.CreatedAt,
	}
}

// ObjectOutcome is one row of the job's final manifest.
type ObjectOutcome struct {
	Key      string
	Status   string // success, failed, skipped, verify_failed
	Bytes    int64
	Attempts int
	Error    string
}

// Manifest is the per-object report a finished job always produces; no
// failure is silently dropped.
type Manifest struct {
	JobID    string
	State    State
	Outcomes []ObjectOutcome

	Succeeded    int
	Failed       int
	Skipped      int
	VerifyFailed int
}

func (m *Manifest) add(outcome ObjectOutcome) {
	m.Outcomes = append(m.Outcomes, outcome)
	switch outcome.Status {
	case "success":
		m.Succeeded++
	case "failed":
		m.Failed++
	case "skipped":
		m.Skipped++
	case "verify_failed":
		m.VerifyFailed++
	}
}
