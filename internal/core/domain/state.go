package domain

// Redistribution declares how a state container's per-subtask partitions
// are reassigned on restore. Write paths are identical for all policies;
// only the read-back differs.
type Redistribution string

const (
	// RedistributePartitioned keeps one private sequence per original
	// subtask; read-back concatenates them.
	RedistributePartitioned Redistribution = "partitioned"

	// RedistributeUnion merges all subtask sequences and hands the full
	// merge to every reader.
	RedistributeUnion Redistribution = "union"

	// RedistributeBroadcast replicates the full key space to every
	// subtask; read-back deduplicates by key identity.
	RedistributeBroadcast Redistribution = "broadcast"
)

// StateKind distinguishes the container shape.
type StateKind string

const (
	KindList      StateKind = "list"
	KindBroadcast StateKind = "broadcast"
)

// SnapshotFormat selects the trigger format. Both formats share the same
// byte layout here; the choice is recorded in the snapshot metadata.
type SnapshotFormat string

const (
	FormatCanonical SnapshotFormat = "canonical"
	FormatNative    SnapshotFormat = "native"
)

// Valid reports whether the format is a known value.
func (f SnapshotFormat) Valid() bool {
	return f == FormatCanonical || f == FormatNative
}

// BroadcastEntry is one key/value pair of a broadcast state container.
type BroadcastEntry struct {
	Key   int64  `json:"key"`
	Value string `json:"value"`
}

// StateSnapshot is the serialized content of one state container on one
// subtask, as captured at snapshot time.
type StateSnapshot struct {
	Name           string           `json:"name"`
	Kind           StateKind        `json:"kind"`
	Redistribution Redistribution   `json:"redistribution"`
	Elements       []int64          `json:"elements,omitempty"`
	Entries        []BroadcastEntry `json:"entries,omitempty"`
}
