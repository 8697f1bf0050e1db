package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/internal/storage"
	"github.com/rburan/streamvet/pkg/crypto/adaptive"
)

// OpenConfig configures how a snapshot handle is opened for reading.
type OpenConfig struct {
	// Backend selects the restore backend the decoded state is
	// materialized into. Defaults to the in-memory backend.
	Backend storage.Config

	// Cipher decrypts partition bodies of encrypted snapshots.
	Cipher adaptive.Cipher
}

// Session is a read-only view over one opened snapshot handle.
//
// Opening is side-effect-free on the originating job; the same handle
// may be opened any number of times, concurrently with or after the
// job's cancellation.
type Session struct {
	path    string
	handle  string
	meta    Metadata
	backend storage.Backend
}

// Open reads the snapshot at path and materializes its partitions into
// the configured backend.
func Open(path string, cfg OpenConfig) (*Session, error) {
	metaBytes, err := os.ReadFile(filepath.Join(path, MetadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotMaterialized
		}
		return nil, fmt.Errorf("snapshot: read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal metadata: %w", err)
	}

	backend, err := storage.Open(cfg.Backend)
	if err != nil {
		return nil, err
	}

	// Restore keys are namespaced by the handle ID so a durable backend
	// directory can be reused across snapshots without one snapshot's
	// keys leaking into another's read-back.
	s := &Session{path: path, handle: filepath.Base(path), meta: meta, backend: backend}
	for subtask, name := range meta.Partitions {
		states, err := s.decodePartition(filepath.Join(path, name), name, cfg.Cipher)
		if err != nil {
			backend.Close()
			return nil, err
		}
		if err := s.materialize(subtask, states); err != nil {
			backend.Close()
			return nil, err
		}
	}
	return s, nil
}

// Metadata returns the snapshot metadata.
func (s *Session) Metadata() Metadata {
	return s.meta
}

// Close releases the restore backend.
func (s *Session) Close() error {
	return s.backend.Close()
}

func (s *Session) decodePartition(path, name string, cipher adaptive.Cipher) ([]domain.StateSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open partition: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, ErrChecksumMismatch
	}

	// Verify the sha256 trailer over everything before it.
	hashedLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, hashedLen, checksumSize), expected); err != nil {
		return nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, hashedLen), hashedLen); err != nil {
		return nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, hashedLen))

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, ErrInvalidMagic
	}

	var hdrLenBuf [4]byte
	if _, err := io.ReadFull(br, hdrLenBuf[:]); err != nil {
		return nil, err
	}
	hdrJSON := make([]byte, binary.BigEndian.Uint32(hdrLenBuf[:]))
	if _, err := io.ReadFull(br, hdrJSON); err != nil {
		return nil, err
	}

	var hdr partitionHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal header: %w", err)
	}

	var bodyLenBuf [4]byte
	if _, err := io.ReadFull(br, bodyLenBuf[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(bodyLenBuf[:]))
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}

	// A configured cipher is only exercised when the header says the
	// body is encrypted; older plaintext snapshots stay readable.
	if hdr.Encrypted {
		if cipher == nil {
			return nil, fmt.Errorf("snapshot: partition %s is encrypted, no cipher configured", name)
		}
		body, err = cipher.Decrypt(body, []byte(name))
		if err != nil {
			return nil, fmt.Errorf("snapshot: decrypt partition %s: %w", name, err)
		}
	}

	var states []domain.StateSnapshot
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal states: %w", err)
	}
	return states, nil
}

func (s *Session) materialize(subtask int, states []domain.StateSnapshot) error {
	for _, st := range states {
		switch st.Kind {
		case domain.KindList:
			for seq, v := range st.Elements {
				key := fmt.Sprintf("%s/ls/%s/%05d/%08d", s.handle, st.Name, subtask, seq)
				var buf [8]byte
				binary.BigEndian.PutUint64(buf[:], uint64(v))
				if err := s.backend.Set([]byte(key), buf[:]); err != nil {
					return err
				}
			}
		case domain.KindBroadcast:
			for _, e := range st.Entries {
				key := fmt.Sprintf("%s/bc/%s/%05d/%016x", s.handle, st.Name, subtask, uint64(e.Key))
				if err := s.backend.Set([]byte(key), []byte(e.Value)); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("snapshot: unknown state kind %q", st.Kind)
		}
	}
	return nil
}

func (s *Session) requireState(name string, kind domain.StateKind, redist domain.Redistribution) (StateInfo, error) {
	info, ok := s.meta.State(name)
	if !ok {
		return StateInfo{}, domain.ErrStateNameUnknown.WithDetails(name)
	}
	if info.Kind != kind || info.Redistribution != redist {
		return StateInfo{}, domain.ErrSnapshotInvalid.WithDetails(fmt.Sprintf(
			"state %q has kind=%s redistribution=%s, accessor expects kind=%s redistribution=%s",
			name, info.Kind, info.Redistribution, kind, redist))
	}
	return info, nil
}

// ListState reads a partitioned list state: one private sequence per
// original subtask, concatenated in subtask order.
func (s *Session) ListState(name string) ([]int64, error) {
	if _, err := s.requireState(name, domain.KindList, domain.RedistributePartitioned); err != nil {
		return nil, err
	}
	return s.scanList(name)
}

// UnionListState reads a union list state: the merged sequence from all
// subtasks is redistributed to `readers` readers, each seeing the full
// merge; exactly one logical copy is returned.
func (s *Session) UnionListState(name string, readers int) ([]int64, error) {
	if _, err := s.requireState(name, domain.KindList, domain.RedistributeUnion); err != nil {
		return nil, err
	}
	if readers < 1 {
		return nil, fmt.Errorf("snapshot: union readers must be >= 1, got %d", readers)
	}

	merged, err := s.scanList(name)
	if err != nil {
		return nil, err
	}

	// Every reader receives the full merge; reading them all would
	// duplicate each element `readers` times. Select one copy.
	replicas := make([][]int64, readers)
	for i := range replicas {
		replicas[i] = merged
	}
	return replicas[0], nil
}

// BroadcastState reads a broadcast map state: every subtask carries the
// full key space; entries are deduplicated by key identity.
func (s *Session) BroadcastState(name string) (map[int64]string, error) {
	if _, err := s.requireState(name, domain.KindBroadcast, domain.RedistributeBroadcast); err != nil {
		return nil, err
	}

	out := make(map[int64]string)
	prefix := fmt.Sprintf("%s/bc/%s/", s.handle, name)
	var scanErr error
	err := s.backend.Scan([]byte(prefix), func(k, v []byte) bool {
		var key uint64
		if _, err := fmt.Sscanf(string(k[len(k)-16:]), "%016x", &key); err != nil {
			scanErr = fmt.Errorf("snapshot: malformed broadcast key %q: %w", k, err)
			return false
		}
		ik := int64(key)
		if prev, ok := out[ik]; ok && prev != string(v) {
			scanErr = domain.ErrSnapshotInvalid.WithDetails(fmt.Sprintf(
				"broadcast state %q diverges across subtasks for key %d: %q vs %q",
				name, ik, prev, v))
			return false
		}
		out[ik] = string(v)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

func (s *Session) scanList(name string) ([]int64, error) {
	var out []int64
	prefix := fmt.Sprintf("%s/ls/%s/", s.handle, name)
	err := s.backend.Scan([]byte(prefix), func(k, v []byte) bool {
		out = append(out, int64(binary.BigEndian.Uint64(v)))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
