package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var errReadOnly = errors.New("write in read-only transaction")

// BadgerStore persists records in a badger key-value database. An empty
// data dir opens an in-memory database.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

func NewBadgerStore(dataDir string, logger zerolog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(dataDir, "records"))
	}
	opts = opts.
		WithLogger(&badgerLogger{logger: logger}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func (s *BadgerStore) Update(fn func(Txn) error) error {
	err := s.db.Update(func(tx *badger.Txn) error {
		return fn(&recordTxn{kv: &badgerKV{tx: tx, writable: true}})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *BadgerStore) View(fn func(Txn) error) error {
	return s.db.View(func(tx *badger.Txn) error {
		return fn(&recordTxn{kv: &badgerKV{tx: tx}})
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerKV struct {
	tx       *badger.Txn
	writable bool
}

func (b *badgerKV) get(key string) ([]byte, error) {
	item, err := b.tx.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *badgerKV) set(key string, val []byte) error {
	if !b.writable {
		return errReadOnly
	}
	return b.tx.Set([]byte(key), val)
}

func (b *badgerKV) iterate(prefix string, fn func(string, []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := b.tx.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(string(item.KeyCopy(nil)), val); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
