package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/internal/storage"
	"github.com/rburan/streamvet/pkg/crypto/adaptive"
)

func subtaskStates(elements []int64, broadcast []domain.BroadcastEntry) []domain.StateSnapshot {
	return []domain.StateSnapshot{
		{Name: "list", Kind: domain.KindList, Redistribution: domain.RedistributePartitioned, Elements: elements},
		{Name: "union", Kind: domain.KindList, Redistribution: domain.RedistributeUnion, Elements: elements},
		{Name: "broadcast", Kind: domain.KindBroadcast, Redistribution: domain.RedistributeBroadcast, Entries: broadcast},
	}
}

// writeSnapshot writes a 4-partition snapshot mirroring a rebalanced
// {1,2,3} emission and returns its handle path.
func writeSnapshot(t *testing.T, dir string, cipher adaptive.Cipher) string {
	t.Helper()

	w, err := NewWriter(WriterConfig{
		Dir:         dir,
		JobID:       "svjb-test",
		Format:      domain.FormatCanonical,
		Parallelism: 4,
		Cipher:      cipher,
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	full := []domain.BroadcastEntry{{Key: 1, Value: "1"}, {Key: 2, Value: "2"}, {Key: 3, Value: "3"}}
	parts := [][]int64{{1}, {2}, {3}, nil}
	for i, elems := range parts {
		if err := w.WritePartition(i, subtaskStates(elems, full)); err != nil {
			t.Fatalf("WritePartition(%d): %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return w.Path()
}

func TestWriteOpenRoundTrip(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), nil)

	s, err := Open(path, OpenConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	list, err := s.ListState("list")
	if err != nil {
		t.Fatalf("ListState: %v", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	if !reflect.DeepEqual(list, []int64{1, 2, 3}) {
		t.Fatalf("list state = %v, want [1 2 3]", list)
	}

	union, err := s.UnionListState("union", 3)
	if err != nil {
		t.Fatalf("UnionListState: %v", err)
	}
	sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })
	if !reflect.DeepEqual(union, []int64{1, 2, 3}) {
		t.Fatalf("union state = %v, want [1 2 3]", union)
	}

	bc, err := s.BroadcastState("broadcast")
	if err != nil {
		t.Fatalf("BroadcastState: %v", err)
	}
	if len(bc) != 3 || bc[1] != "1" || bc[2] != "2" || bc[3] != "3" {
		t.Fatalf("broadcast state = %v", bc)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), nil)

	read := func() []int64 {
		s, err := Open(path, OpenConfig{})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()
		list, err := s.ListState("list")
		if err != nil {
			t.Fatalf("ListState: %v", err)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		return list
	}

	first := read()
	second := read()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("re-open differs: %v vs %v", first, second)
	}
}

func TestOpenWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterConfig{Dir: dir, JobID: "svjb-x", Format: domain.FormatCanonical, Parallelism: 1})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WritePartition(0, subtaskStates([]int64{1}, nil)); err != nil {
		t.Fatalf("WritePartition: %v", err)
	}
	// No Finalize: the snapshot was never materialized.

	if _, err := Open(w.Path(), OpenConfig{}); !errors.Is(err, ErrNotMaterialized) {
		t.Fatalf("Open = %v, want ErrNotMaterialized", err)
	}
}

func TestFinalizeRequiresAllPartitions(t *testing.T) {
	w, err := NewWriter(WriterConfig{Dir: t.TempDir(), JobID: "svjb-x", Format: domain.FormatCanonical, Parallelism: 2})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WritePartition(0, subtaskStates([]int64{1}, nil)); err != nil {
		t.Fatalf("WritePartition: %v", err)
	}
	if err := w.Finalize(); err == nil {
		t.Fatal("Finalize with a missing partition should fail")
	}
}

func TestDuplicatePartitionRejected(t *testing.T) {
	w, err := NewWriter(WriterConfig{Dir: t.TempDir(), JobID: "svjb-x", Format: domain.FormatCanonical, Parallelism: 2})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WritePartition(0, subtaskStates([]int64{1}, nil)); err != nil {
		t.Fatalf("WritePartition: %v", err)
	}
	if err := w.WritePartition(0, subtaskStates([]int64{1}, nil)); err == nil {
		t.Fatal("second write of partition 0 should fail")
	}
}

func TestCorruptPartitionRejected(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), nil)

	partPath := filepath.Join(path, "part-00001.snap")
	data, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(partPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(path, OpenConfig{}); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Open of corrupt snapshot = %v, want ErrChecksumMismatch", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	cipher, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}

	path := writeSnapshot(t, t.TempDir(), cipher)

	// Without the cipher the body cannot be read.
	if _, err := Open(path, OpenConfig{}); err == nil {
		t.Fatal("Open of encrypted snapshot without cipher should fail")
	}

	s, err := Open(path, OpenConfig{Cipher: cipher})
	if err != nil {
		t.Fatalf("Open with cipher: %v", err)
	}
	defer s.Close()

	list, err := s.ListState("list")
	if err != nil {
		t.Fatalf("ListState: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
}

func TestAccessorSemanticsEnforced(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), nil)

	s, err := Open(path, OpenConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.ListState("union"); !errors.Is(err, domain.ErrSnapshotInvalid) {
		t.Fatalf("ListState(union) = %v, want ErrSnapshotInvalid", err)
	}
	if _, err := s.UnionListState("list", 2); !errors.Is(err, domain.ErrSnapshotInvalid) {
		t.Fatalf("UnionListState(list) = %v, want ErrSnapshotInvalid", err)
	}
	if _, err := s.ListState("nope"); !errors.Is(err, domain.ErrStateNameUnknown) {
		t.Fatalf("ListState(nope) = %v, want ErrStateNameUnknown", err)
	}
}

func TestBadgerRestoreBackend(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), nil)

	s, err := Open(path, OpenConfig{Backend: storage.Config{Type: "badger", Dir: t.TempDir()}})
	if err != nil {
		t.Fatalf("Open with badger backend: %v", err)
	}
	defer s.Close()

	union, err := s.UnionListState("union", 2)
	if err != nil {
		t.Fatalf("UnionListState: %v", err)
	}
	sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })
	if !reflect.DeepEqual(union, []int64{1, 2, 3}) {
		t.Fatalf("union state = %v, want [1 2 3]", union)
	}
}

func TestBadgerDirReuseIsolatesSnapshots(t *testing.T) {
	backendDir := t.TempDir()
	backend := storage.Config{Type: "badger", Dir: backendDir}

	pathA := writeSnapshot(t, t.TempDir(), nil)

	w, err := NewWriter(WriterConfig{Dir: t.TempDir(), JobID: "svjb-b", Format: domain.FormatCanonical, Parallelism: 2})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	full := []domain.BroadcastEntry{{Key: 1, Value: "1"}, {Key: 2, Value: "2"}}
	for i, elems := range [][]int64{{1}, {2}} {
		if err := w.WritePartition(i, subtaskStates(elems, full)); err != nil {
			t.Fatalf("WritePartition(%d): %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	pathB := w.Path()

	sessA, err := Open(pathA, OpenConfig{Backend: backend})
	if err != nil {
		t.Fatalf("Open A: %v", err)
	}
	sessA.Close()

	// Reusing the same backend directory must not leak the first
	// snapshot's keys into the second's read-back.
	sessB, err := Open(pathB, OpenConfig{Backend: backend})
	if err != nil {
		t.Fatalf("Open B: %v", err)
	}
	defer sessB.Close()

	list, err := sessB.ListState("list")
	if err != nil {
		t.Fatalf("ListState: %v", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	if !reflect.DeepEqual(list, []int64{1, 2}) {
		t.Fatalf("list state = %v, want [1 2]", list)
	}

	bc, err := sessB.BroadcastState("broadcast")
	if err != nil {
		t.Fatalf("BroadcastState: %v", err)
	}
	if len(bc) != 2 {
		t.Fatalf("broadcast entries = %v, want 2", bc)
	}
}

func TestCipherConfiguredReadsPlaintextSnapshot(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), nil)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	cipher, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}

	// The header marks each partition plaintext; the configured cipher
	// stays unused.
	s, err := Open(path, OpenConfig{Cipher: cipher})
	if err != nil {
		t.Fatalf("Open plaintext with cipher: %v", err)
	}
	defer s.Close()

	list, err := s.ListState("list")
	if err != nil {
		t.Fatalf("ListState: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
}
