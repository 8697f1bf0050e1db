package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/pkg/crypto/adaptive"
)

// WriterConfig configures one snapshot write.
type WriterConfig struct {
	// Dir is the destination directory the snapshot handle is created in.
	Dir string

	// JobID is the originating job instance.
	JobID domain.JobID

	// Format is recorded in the metadata.
	Format domain.SnapshotFormat

	// Parallelism is the number of partitions the snapshot must contain
	// before it can be finalized.
	Parallelism int

	// Cipher optionally encrypts partition bodies.
	Cipher adaptive.Cipher
}

// Writer produces one snapshot handle. Partitions may be written
// concurrently by subtasks; Finalize materializes the snapshot by
// writing the _metadata marker last.
type Writer struct {
	cfg  WriterConfig
	path string

	mu      sync.Mutex
	written map[int]struct{}
	states  map[string]StateInfo
}

// NewWriter creates the snapshot directory and returns a writer for it.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if cfg.Parallelism < 1 {
		return nil, fmt.Errorf("snapshot: parallelism must be >= 1, got %d", cfg.Parallelism)
	}
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("snapshot: unknown format %q", cfg.Format)
	}

	id, err := newHandleID()
	if err != nil {
		return nil, fmt.Errorf("snapshot: generate handle id: %w", err)
	}

	path := filepath.Join(cfg.Dir, id)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	return &Writer{
		cfg:     cfg,
		path:    path,
		written: make(map[int]struct{}),
		states:  make(map[string]StateInfo),
	}, nil
}

// Path returns the snapshot handle path.
func (w *Writer) Path() string {
	return w.path
}

// WritePartition writes the state containers of one subtask. Each
// subtask must be written exactly once.
func (w *Writer) WritePartition(subtask int, states []domain.StateSnapshot) error {
	if subtask < 0 || subtask >= w.cfg.Parallelism {
		return fmt.Errorf("snapshot: subtask %d out of range [0,%d)", subtask, w.cfg.Parallelism)
	}

	w.mu.Lock()
	if _, dup := w.written[subtask]; dup {
		w.mu.Unlock()
		return fmt.Errorf("snapshot: partition %d already written", subtask)
	}
	for _, s := range states {
		info := StateInfo{Name: s.Name, Kind: s.Kind, Redistribution: s.Redistribution}
		if prev, ok := w.states[s.Name]; ok && prev != info {
			w.mu.Unlock()
			return fmt.Errorf("snapshot: state %q declared inconsistently across subtasks", s.Name)
		}
		w.states[s.Name] = info
	}
	w.mu.Unlock()

	if err := w.writePartitionFile(subtask, states); err != nil {
		return err
	}

	w.mu.Lock()
	w.written[subtask] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *Writer) writePartitionFile(subtask int, states []domain.StateSnapshot) error {
	name := partitionFileName(subtask)
	tempPath := filepath.Join(w.path, name+".tmp")

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	hash := sha256.New()
	writer := io.MultiWriter(file, hash)

	if _, err := writer.Write(magicBytes); err != nil {
		file.Close()
		return err
	}

	hdr := partitionHeader{
		Version:     headerVersion,
		CreatedAt:   time.Now().UnixMilli(),
		JobID:       string(w.cfg.JobID),
		Subtask:     subtask,
		Parallelism: w.cfg.Parallelism,
		Encrypted:   w.cfg.Cipher != nil,
	}
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		file.Close()
		return fmt.Errorf("snapshot: marshal header: %w", err)
	}

	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	if _, err := writer.Write(hdrLen[:]); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: write header length: %w", err)
	}
	if _, err := writer.Write(hdrJSON); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	body, err := json.Marshal(states)
	if err != nil {
		file.Close()
		return fmt.Errorf("snapshot: marshal states: %w", err)
	}
	if w.cfg.Cipher != nil {
		body, err = w.cfg.Cipher.Encrypt(body, []byte(name))
		if err != nil {
			file.Close()
			return fmt.Errorf("snapshot: encrypt: %w", err)
		}
	}

	var bodyLen [4]byte
	binary.BigEndian.PutUint32(bodyLen[:], uint32(len(body)))
	if _, err := writer.Write(bodyLen[:]); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: write body length: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: write body: %w", err)
	}

	// Checksum trailer is not part of the hashed range.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(w.path, name)); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Finalize writes the _metadata marker. It fails if any partition is
// missing; a partial snapshot must never look materialized.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.written) != w.cfg.Parallelism {
		return fmt.Errorf("snapshot: cannot finalize, %d of %d partitions written",
			len(w.written), w.cfg.Parallelism)
	}

	partitions := make([]string, 0, w.cfg.Parallelism)
	for i := 0; i < w.cfg.Parallelism; i++ {
		partitions = append(partitions, partitionFileName(i))
	}

	states := make([]StateInfo, 0, len(w.states))
	for _, info := range w.states {
		states = append(states, info)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	meta := Metadata{
		Version:     headerVersion,
		JobID:       string(w.cfg.JobID),
		Format:      w.cfg.Format,
		Parallelism: w.cfg.Parallelism,
		CreatedAt:   time.Now().UnixMilli(),
		Encrypted:   w.cfg.Cipher != nil,
		Partitions:  partitions,
		States:      states,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal metadata: %w", err)
	}

	tempPath := filepath.Join(w.path, MetadataFileName+".tmp")
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("snapshot: create metadata temp: %w", err)
	}
	defer os.Remove(tempPath)

	bw := bufio.NewWriter(file)
	if _, err := bw.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: write metadata: %w", err)
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: flush metadata: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: sync metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("snapshot: close metadata: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(w.path, MetadataFileName)); err != nil {
		return fmt.Errorf("snapshot: rename metadata: %w", err)
	}
	return nil
}

// Abort removes the snapshot directory. Used when a flush fails so the
// handle cannot be mistaken for a successful snapshot.
func (w *Writer) Abort() error {
	return os.RemoveAll(w.path)
}
