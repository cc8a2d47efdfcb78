package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/animus-labs/analyses-go/internal/repo"
)

const maxTxnRetries = 8

// Store implements every repository interface on one BadgerDB instance.
// Documents are JSON; secondary indexes are plain keys pointing at ids.
type Store struct {
	db  *badger.DB
	gc  *gcRunner
	now func() time.Time
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Repositories exposes the store through the repo aggregate.
func (s *Store) Repositories() repo.Store {
	return repo.Store{
		Definitions:    s,
		Specifications: s,
		Analyses:       s,
		Runs:           s,
		Pipelines:      s,
		Ping:           s.Ping,
		Close:          s.Close,
	}
}

// update runs fn in a read-write transaction, retrying when a concurrent
// commit invalidated the keys fn read.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= maxTxnRetries {
			return repo.ErrConflict
		}
	}
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func key(parts ...string) []byte {
	var b bytes.Buffer
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(part)
	}
	return b.Bytes()
}

func prefix(parts ...string) []byte {
	return append(key(parts...), '/')
}

func getRaw(txn *badger.Txn, k []byte) ([]byte, error) {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, repo.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func getString(txn *badger.Txn, k []byte) (string, error) {
	raw, err := getRaw(txn, k)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func getJSON(txn *badger.Txn, k []byte, out any) error {
	raw, err := getRaw(txn, k)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func putJSON(txn *badger.Txn, k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	return txn.Set(k, raw)
}

func decode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

// scan calls fn for every key under p. Values are only valid inside fn.
func scan(txn *badger.Txn, p []byte, keysOnly bool, fn func(k, v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.PrefetchValues = !keysOnly
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		var v []byte
		if !keysOnly {
			var err error
			v, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		if err := fn(item.KeyCopy(nil), v); err != nil {
			return err
		}
	}
	return nil
}

func lastSegment(k []byte) string {
	if i := bytes.LastIndexByte(k, '/'); i >= 0 {
		return string(k[i+1:])
	}
	return string(k)
}
