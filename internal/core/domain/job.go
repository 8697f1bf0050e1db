// Package domain defines the core domain models for StreamVet: job
// identity and lifecycle, state replication semantics, and the error
// taxonomy shared across the engine, snapshot, and harness layers.
package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobIDPrefix prefixes every job identifier.
const JobIDPrefix = "svjb-"

// JobID identifies one submission of a job graph.
type JobID string

// NewJobID generates a new job ID using ULID.
// Format: svjb-{ulid_lowercase}, 31 characters total.
func NewJobID() (JobID, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return JobID(JobIDPrefix + strings.ToLower(id.String())), nil
}

// Valid reports whether the ID has the expected prefix and a parseable
// ULID part.
func (id JobID) Valid() bool {
	s := string(id)
	if !strings.HasPrefix(s, JobIDPrefix) {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(strings.TrimPrefix(s, JobIDPrefix)))
	return err == nil
}

func (id JobID) String() string { return string(id) }

// JobStatus is the lifecycle status of a job instance.
type JobStatus string

const (
	// StatusSubmitted means the graph was accepted but subtasks have not
	// all started yet.
	StatusSubmitted JobStatus = "submitted"

	// StatusRunning means all subtasks are executing.
	StatusRunning JobStatus = "running"

	// StatusFinished means the job completed on its own.
	StatusFinished JobStatus = "finished"

	// StatusCancelled means the job was cancelled on request.
	StatusCancelled JobStatus = "cancelled"

	// StatusFailed means a subtask or a snapshot flush failed.
	StatusFailed JobStatus = "failed"
)

// IsTerminal reports whether the status is a terminal condition.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Job describes one job instance as seen by status queries.
type Job struct {
	ID          JobID
	Name        string
	Parallelism int
	Status      JobStatus
	SubmittedAt int64 // Unix milliseconds
	Error       string
}
