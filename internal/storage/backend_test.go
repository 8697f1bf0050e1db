package storage

import (
	"errors"
	"fmt"
	"testing"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	b, err := NewBadger(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	return map[string]Backend{
		"memory": NewMemory(),
		"badger": b,
	}
}

func TestBackendSetGet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()

			if err := b.Set([]byte("ls/list/00000/00000000"), []byte{0x01}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, err := b.Get([]byte("ls/list/00000/00000000"))
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(v) != 1 || v[0] != 0x01 {
				t.Fatalf("Get = %v, want [1]", v)
			}

			if _, err := b.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get(missing) = %v, want ErrKeyNotFound", err)
			}
		})
	}
}

func TestBackendScanOrderAndPrefix(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()

			// Insert out of order; scans must come back sorted.
			for _, i := range []int{3, 1, 0, 2} {
				key := fmt.Sprintf("ls/union/%05d/00000000", i)
				if err := b.Set([]byte(key), []byte{byte(i)}); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}
			if err := b.Set([]byte("bc/broadcast/00000/k"), []byte("x")); err != nil {
				t.Fatalf("Set: %v", err)
			}

			var got []byte
			err := b.Scan([]byte("ls/union/"), func(k, v []byte) bool {
				got = append(got, v[0])
				return true
			})
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if len(got) != 4 {
				t.Fatalf("scan visited %d keys, want 4", len(got))
			}
			for i, v := range got {
				if int(v) != i {
					t.Fatalf("scan order: got[%d] = %d, want %d", i, v, i)
				}
			}
		})
	}
}

func TestBackendScanEarlyStop(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()

			for i := 0; i < 5; i++ {
				if err := b.Set([]byte(fmt.Sprintf("k/%02d", i)), []byte{byte(i)}); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}

			visited := 0
			err := b.Scan([]byte("k/"), func(k, v []byte) bool {
				visited++
				return visited < 2
			})
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if visited != 2 {
				t.Fatalf("visited = %d, want 2", visited)
			}
		})
	}
}

func TestOpenByType(t *testing.T) {
	b, err := Open(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	b.Close()

	if _, err := Open(Config{Type: "rocksdb"}); err == nil {
		t.Fatal("Open with unknown type should fail")
	}

	if _, err := Open(Config{Type: "badger"}); err == nil {
		t.Fatal("Open(badger) without dir should fail")
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	m.Close()

	if err := m.Set([]byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close = %v, want ErrClosed", err)
	}
	if _, err := m.Get([]byte("k")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close = %v, want ErrClosed", err)
	}
}
