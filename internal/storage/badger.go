package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
)

// Badger is a durable backend built on Badger v3. It is useful when a
// restored snapshot should outlive the verifying process.
type Badger struct {
	db *badger.DB
}

// NewBadger opens a Badger-backed store under cfg.Dir.
func NewBadger(cfg Config) (*Badger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage: dir is required for the badger backend")
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = &badgerLogger{logger: slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *Badger) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Scan iterates over keys with a given prefix in ascending order.
func (b *Badger) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.Key(), value) {
				break
			}
		}
		return nil
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
