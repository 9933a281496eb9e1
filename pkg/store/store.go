// Package store provides the BadgerDB-backed transactional row store the
// ledger engine runs on.
//
// Every engine mutation happens inside a Scope: an explicit transaction
// handle threaded through the call chain. The first entry opens the
// underlying transaction, the matching last exit commits it (or discards it
// when an error propagated out), and nested entries share the same handle.
// One root operation plus everything it recursively triggers is therefore a
// single all-or-nothing unit.
//
// Rows that participate in read-then-write sequences are serialized with
// row-level locks held until the root scope ends, the key/value analogue of
// SELECT ... FOR UPDATE.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrClosed is returned on any use after Close.
	ErrClosed = errors.New("store closed")

	// ErrStore wraps underlying persistence faults. Callers treat anything
	// carrying it as a transaction error, never as domain state.
	ErrStore = errors.New("store fault")
)

// Config contains configuration for the row store.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk before commit returns.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables logging.
	Logger badger.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		Logger:     nil,
	}
}

// Store is the BadgerDB-backed row store.
type Store struct {
	db *badger.DB

	// writeMu serializes root update scopes. Badger transactions are
	// optimistic; a concurrent writer would conflict-abort at commit, so
	// writes follow a single-writer discipline.
	writeMu sync.Mutex

	// lockMu guards lockTab; the per-row mutexes themselves are held for
	// the duration of a scope.
	lockMu  sync.Mutex
	lockTab map[string]*rowLock

	closed atomic.Bool
}

// rowLock is a refcounted per-key mutex so entries can be dropped from the
// table once nobody waits on them.
type rowLock struct {
	mu   sync.Mutex
	refs int
}

// Open opens the row store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", ErrStore, err)
	}
	return &Store{
		db:      db,
		lockTab: make(map[string]*rowLock),
	}, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*Store, error) {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	return Open(cfg)
}

// Close closes the store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

// Scope is one reentrant transactional scope. It is not safe for concurrent
// use; a scope lives on the goroutine that opened it.
type Scope struct {
	store *Store
	txn   *badger.Txn
	write bool
	held  []string
}

// Update runs fn inside a fresh read-write scope, committing on success and
// discarding on error. Row locks are released after the transaction settles.
func (s *Store) Update(fn func(*Scope) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	txn := s.db.NewTransaction(true)
	sc := &Scope{store: s, txn: txn, write: true}
	defer sc.releaseLocks()

	if err := fn(sc); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

// View runs fn inside a fresh read-only scope.
func (s *Store) View(fn func(*Scope) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	txn := s.db.NewTransaction(false)
	sc := &Scope{store: s, txn: txn}
	defer sc.releaseLocks()
	defer txn.Discard()

	return fn(sc)
}

// Enter is the reentrancy point: a nil scope opens a root scope and settles
// it on return; a live scope is reused so the nested work joins the caller's
// unit of work.
func (s *Store) Enter(sc *Scope, write bool, fn func(*Scope) error) error {
	if sc != nil {
		return fn(sc)
	}
	if write {
		return s.Update(fn)
	}
	return s.View(fn)
}

// Lock acquires row locks for the given keys, holding them until the root
// scope ends. Keys are acquired in sorted order so two scopes locking the
// same set cannot deadlock; already-held keys are skipped.
func (sc *Scope) Lock(keys ...string) {
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		if !sc.holds(k) {
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		sc.store.acquire(k)
		sc.held = append(sc.held, k)
	}
}

func (sc *Scope) holds(key string) bool {
	for _, k := range sc.held {
		if k == key {
			return true
		}
	}
	return false
}

// Get reads a row. The second return is false when the row does not exist.
func (sc *Scope) Get(key []byte) ([]byte, bool, error) {
	item, err := sc.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %q: %v", ErrStore, key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %q: %v", ErrStore, key, err)
	}
	return val, true, nil
}

// Set writes a row.
func (sc *Scope) Set(key, val []byte) error {
	if err := sc.txn.Set(key, val); err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrStore, key, err)
	}
	return nil
}

// Delete removes a row.
func (sc *Scope) Delete(key []byte) error {
	if err := sc.txn.Delete(key); err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStore, key, err)
	}
	return nil
}

// Iterate walks all rows under a prefix in key order. Returning an error
// from the callback stops iteration.
func (sc *Scope) Iterate(prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := sc.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of rows under a prefix.
func (sc *Scope) Count(prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := sc.txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}

// releaseLocks drops every row lock the scope holds.
func (sc *Scope) releaseLocks() {
	for _, k := range sc.held {
		sc.store.release(k)
	}
	sc.held = nil
}

// acquire takes the per-key mutex, creating the table entry on demand.
func (s *Store) acquire(key string) {
	s.lockMu.Lock()
	rl, ok := s.lockTab[key]
	if !ok {
		rl = &rowLock{}
		s.lockTab[key] = rl
	}
	rl.refs++
	s.lockMu.Unlock()

	rl.mu.Lock()
}

// release returns the per-key mutex, dropping the table entry when idle.
func (s *Store) release(key string) {
	s.lockMu.Lock()
	rl := s.lockTab[key]
	rl.refs--
	if rl.refs == 0 {
		delete(s.lockTab, key)
	}
	s.lockMu.Unlock()

	rl.mu.Unlock()
}
