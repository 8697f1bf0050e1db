// Package snapshot implements the persisted snapshot format and its
// offline reader.
//
// A snapshot is a directory containing one partition file per operator
// subtask plus a _metadata marker written last. Partition files carry
// magic bytes, a length-prefixed JSON header, a length-prefixed
// (optionally encrypted) JSON body holding the subtask's state
// containers, and a sha256 trailer. A snapshot without _metadata was
// never materialized and must not be read.
package snapshot

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rburan/streamvet/internal/core/domain"
)

// Magic bytes identify partition files.
var magicBytes = []byte("SVETSNAP")

const (
	// MetadataFileName marks a materialized snapshot.
	MetadataFileName = "_metadata"

	dirPrefix     = "sv-"
	partPrefix    = "part-"
	partExtension = ".snap"
	checksumSize  = 32
	headerVersion = 1
)

// Errors for snapshot files.
var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrNotMaterialized  = errors.New("snapshot: missing _metadata, snapshot was never materialized")
)

// partitionHeader is the plaintext header of one partition file.
type partitionHeader struct {
	Version     int    `json:"version"`
	CreatedAt   int64  `json:"created_at"`
	JobID       string `json:"job_id"`
	Subtask     int    `json:"subtask"`
	Parallelism int    `json:"parallelism"`
	Encrypted   bool   `json:"encrypted"`
}

// StateInfo describes one state container in the metadata.
type StateInfo struct {
	Name           string                `json:"name"`
	Kind           domain.StateKind      `json:"kind"`
	Redistribution domain.Redistribution `json:"redistribution"`
}

// Metadata is the content of the _metadata marker.
type Metadata struct {
	Version     int                   `json:"version"`
	JobID       string                `json:"job_id"`
	Format      domain.SnapshotFormat `json:"format"`
	Parallelism int                   `json:"parallelism"`
	CreatedAt   int64                 `json:"created_at"`
	Encrypted   bool                  `json:"encrypted"`
	Partitions  []string              `json:"partitions"`
	States      []StateInfo           `json:"states"`
}

// State returns the StateInfo for a name, if present.
func (m *Metadata) State(name string) (StateInfo, bool) {
	for _, s := range m.States {
		if s.Name == name {
			return s, true
		}
	}
	return StateInfo{}, false
}

// newHandleID generates the snapshot directory name.
// Format: sv-{ulid_lowercase}.
func newHandleID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return dirPrefix + strings.ToLower(id.String()), nil
}

func partitionFileName(subtask int) string {
	return fmt.Sprintf("%s%05d%s", partPrefix, subtask, partExtension)
}
