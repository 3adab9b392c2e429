// Package badger provides a Badger-based implementation of the run store.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/goclaw/pumpcycle/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	InMemory          bool
}

// BadgerStorage implements storage.RunStore using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
}

// NewBadgerStorage opens a Badger database.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

const (
	runPrefix          = "run:"
	outcomeIndexPrefix = "index:outcome:"
)

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func outcomeIndexKey(outcome, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", outcomeIndexPrefix, outcome, id))
}

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

// SaveRun saves a run and keeps the outcome index in step with it.
func (b *BadgerStorage) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	if err := run.Validate(); err != nil {
		return err
	}
	data, err := serialize(run)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		prev, err := getRunInTxn(txn, run.ID)
		if err == nil && prev.Outcome != run.Outcome {
			if err := txn.Delete(outcomeIndexKey(prev.Outcome, run.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(runKey(run.ID), data); err != nil {
			return err
		}
		return txn.Set(outcomeIndexKey(run.Outcome, run.ID), []byte{})
	})
}

// GetRun retrieves a run by ID.
func (b *BadgerStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	var run *storage.RunRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = getRunInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func getRunInTxn(txn *badger.Txn, id string) (*storage.RunRecord, error) {
	item, err := txn.Get(runKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &storage.NotFoundError{EntityType: "run", ID: id}
		}
		return nil, err
	}

	var run storage.RunRecord
	if err := item.Value(func(val []byte) error {
		return deserialize(val, &run)
	}); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns lists runs with optional filtering and pagination. An outcome
// filter is served from the outcome index.
func (b *BadgerStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	var runs []*storage.RunRecord

	err := b.db.View(func(txn *badger.Txn) error {
		if filter != nil && len(filter.Outcome) > 0 {
			for _, outcome := range filter.Outcome {
				prefix := []byte(outcomeIndexPrefix + outcome + ":")
				ids := scanKeys(txn, prefix)
				for _, id := range ids {
					run, err := getRunInTxn(txn, id)
					if err != nil {
						continue
					}
					if filter.Matches(run) {
						runs = append(runs, run)
					}
				}
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var run storage.RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &run)
			}); err != nil {
				continue
			}
			if filter.Matches(&run) {
				runs = append(runs, &run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	page, total := storage.Paginate(runs, filter)
	return page, total, nil
}

// scanKeys returns the key suffixes after prefix.
func scanKeys(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}
	return ids
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	if !b.config.InMemory {
		// ErrNoRewrite is expected when there is nothing to collect.
		_ = b.db.RunValueLogGC(0.5)
	}
	return b.db.Close()
}
