package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by BadgerDB v4.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir holds the data files. Required unless InMemory.
	Dir string

	// InMemory runs without disk persistence.
	InMemory bool

	// Logger receives badger's warnings and errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewBadger opens (or creates) the store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("jobstore: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(slogLogger{logger: logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Put(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("jobstore: record id is required")
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.ID), data)
	})
}

func (b *Badger) Get(_ context.Context, id string) (Record, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return decode(val)
}

func (b *Badger) List(_ context.Context, limit int) ([]Record, error) {
	prefix := []byte(keyPrefix)
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decode(val)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, limit), nil
}

func (b *Badger) Delete(_ context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// slogLogger routes badger output through slog, dropping info and debug.
type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error("badger: " + fmt.Sprintf(f, v...))
}

func (l slogLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Infof(string, ...interface{})  {}
func (slogLogger) Debugf(string, ...interface{}) {}
