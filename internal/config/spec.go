// Package config defines the harness configuration structure.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a verification run.
type Config struct {
	Job      JobSection      `koanf:"job"`
	Snapshot SnapshotSection `koanf:"snapshot"`
	Log      LogSection      `koanf:"log"`
}

// JobSection configures the job instance and the coordination deadlines.
type JobSection struct {
	// Parallelism is the operator parallelism (the source is always
	// single-subtask).
	Parallelism int `koanf:"parallelism"`

	// Elements is the reference sequence emitted by the source.
	Elements []int64 `koanf:"elements"`

	// Deadline is the single wall-clock budget for the whole
	// submit/await/snapshot/teardown sequence.
	Deadline time.Duration `koanf:"deadline"`

	// PollInterval paces status and completion-flag polling.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// SnapshotSection configures snapshot destination and read-back.
type SnapshotSection struct {
	// Dir is the destination directory for snapshots.
	Dir string `koanf:"dir"`

	// Format is the trigger format (canonical, native).
	Format string `koanf:"format"`

	// Backend selects the restore backend (memory, badger).
	Backend string `koanf:"backend"`

	// BackendDir is the working directory for durable restore backends.
	BackendDir string `koanf:"backend_dir"`

	// UnionReaders is the number of readers union state is redistributed
	// to on read-back.
	UnionReaders int `koanf:"union_readers"`

	// EncryptionKey enables at-rest encryption of partition bodies when
	// set (hex-encoded 32-byte key).
	EncryptionKey string `koanf:"encryption_key"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the default configuration: the classic three-element
// reference sequence at parallelism 4 with a five-minute budget.
func Default() Config {
	return Config{
		Job: JobSection{
			Parallelism:  4,
			Elements:     []int64{1, 2, 3},
			Deadline:     5 * time.Minute,
			PollInterval: 20 * time.Millisecond,
		},
		Snapshot: SnapshotSection{
			Format:       "canonical",
			Backend:      "memory",
			UnionReaders: 2,
		},
		Log: LogSection{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the harness cannot run with.
func (c Config) Validate() error {
	if c.Job.Parallelism < 1 {
		return fmt.Errorf("config: job.parallelism must be >= 1, got %d", c.Job.Parallelism)
	}
	if len(c.Job.Elements) == 0 {
		return fmt.Errorf("config: job.elements must not be empty")
	}
	if c.Job.Deadline <= 0 {
		return fmt.Errorf("config: job.deadline must be positive, got %s", c.Job.Deadline)
	}
	if c.Job.PollInterval <= 0 {
		return fmt.Errorf("config: job.poll_interval must be positive, got %s", c.Job.PollInterval)
	}
	if c.Job.PollInterval >= c.Job.Deadline {
		return fmt.Errorf("config: job.poll_interval %s must be shorter than job.deadline %s",
			c.Job.PollInterval, c.Job.Deadline)
	}
	switch c.Snapshot.Format {
	case "canonical", "native":
	default:
		return fmt.Errorf("config: snapshot.format must be canonical or native, got %q", c.Snapshot.Format)
	}
	switch c.Snapshot.Backend {
	case "memory":
	case "badger":
		if c.Snapshot.BackendDir == "" {
			return fmt.Errorf("config: snapshot.backend_dir is required for the badger backend")
		}
	default:
		return fmt.Errorf("config: snapshot.backend must be memory or badger, got %q", c.Snapshot.Backend)
	}
	if c.Snapshot.UnionReaders < 1 {
		return fmt.Errorf("config: snapshot.union_readers must be >= 1, got %d", c.Snapshot.UnionReaders)
	}
	return nil
}
